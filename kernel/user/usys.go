// Package user holds the user-mode side of the kernel interface: system
// call stubs and the built-in user programs the boot command can start.
package user

import (
	"xyos-in-go/kernel/hart"
	"xyos-in-go/kernel/proc"
	"xyos-in-go/kernel/riscv"
)

// syscall loads a7 and a0, executes ecall, and returns a0.
func syscall(h *hart.Hart, num, arg uint64) uint64 {
	h.SetReg(riscv.A7, num)
	h.SetReg(riscv.A0, arg)
	h.Ecall()
	return h.Reg(riscv.A0)
}

func Putc(h *hart.Hart, c byte) { syscall(h, proc.SYS_putc, uint64(c)) }

func Puts(h *hart.Hart, s string) {
	for i := 0; i < len(s); i++ {
		Putc(h, s[i])
	}
}

func Yield(h *hart.Hart) { syscall(h, proc.SYS_yield, 0) }

func Getpid(h *hart.Hart) int { return int(syscall(h, proc.SYS_getpid, 0)) }

// Exit does not return.
func Exit(h *hart.Hart, status int) {
	syscall(h, proc.SYS_exit, uint64(status))
	panic("exit returned")
}
