package context

import (
	"xyos-in-go/kernel/hart"
	"xyos-in-go/kernel/riscv"
)

// KernelEntry is the body of a kernel thread. It must not return: there is
// no caller to return to.
type KernelEntry func(arg uint64)

// DefineKernelEntry places fn in kernel text and returns its address, for
// use as the entry of NewKernelThread. On entry the prologue takes the
// argument from s0 into a0 and the status word from s1 into sstatus.
func DefineKernelEntry(text *hart.Text, name string, fn KernelEntry) uint64 {
	return text.Define(name, riscv.Supervisor, func(h *hart.Hart) {
		h.Sstatus = riscv.Sstatus(h.Reg(riscv.S1))
		h.SetReg(riscv.A0, h.Reg(riscv.S0))
		fn(h.Reg(riscv.A0))
	})
}
