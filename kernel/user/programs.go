package user

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"xyos-in-go/kernel/hart"
	"xyos-in-go/kernel/riscv"
)

// Programs are the user programs built into the kernel image. Each starts
// with its argument in a0.
var Programs = map[string]hart.Routine{
	// counter prints its pid and a digit per round for a0 rounds, yielding
	// in between, then exits with the round count.
	"counter": func(h *hart.Hart) {
		rounds := int(h.Reg(riscv.A0))
		pid := Getpid(h)
		for i := 0; i < rounds; i++ {
			Puts(h, fmt.Sprintf("[%d:%d]", pid, i))
			Yield(h)
		}
		Exit(h, rounds)
	},
	// hello prints a greeting and exits 0.
	"hello": func(h *hart.Hart) {
		Puts(h, "hello from user mode\n")
		Exit(h, 0)
	},
	// exitcode exits immediately with a0 as its status.
	"exitcode": func(h *hart.Hart) {
		Exit(h, int(int64(h.Reg(riscv.A0))))
	},
	// badcall issues an unknown system call and gets killed.
	"badcall": func(h *hart.Hart) {
		syscall(h, 0xff, 0)
		Exit(h, 0)
	},
	// illegal executes an instruction user mode may not and gets killed.
	"illegal": func(h *hart.Hart) {
		h.Trap(riscv.SCAUSE_ILLEGAL, 0x10200073) // sret
		Exit(h, 0)
	},
}

// Load places the named program in user text and returns its entry.
func Load(text *hart.Text, name string) (uint64, error) {
	fn, ok := Programs[name]
	if !ok {
		return 0, errors.Errorf("user: no program %q (have %v)", name, Names())
	}
	return text.Ensure("user:"+name, riscv.User, fn), nil
}

// Names lists the built-in programs.
func Names() []string {
	names := make([]string, 0, len(Programs))
	for name := range Programs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
