package context

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"xyos-in-go/kernel/hart"
	"xyos-in-go/kernel/riscv"
)

var (
	ErrNullTarget        = errors.New("switch: null target context")
	ErrInterruptsEnabled = errors.New("switch: interrupts enabled")
)

const switchReturn = "__switch_return"

// returnPoint is the address right after the call to Switch. It is what a
// suspended thread has in ra, and the only address at which a parked stream
// can pick up again.
func returnPoint(h *hart.Hart) uint64 {
	return h.Text.Ensure(switchReturn, riscv.Supervisor, func(h *hart.Hart) {
		h.Fault("jump to %s outside of a switch", switchReturn)
	})
}

// Switch saves the running thread into *current and resumes the thread
// saved in *target.
//
// It pushes ra, satp and s0-s11 onto the current stack and stores sp in
// *current; then it loads sp from *target, installs its satp, restores ra
// and s0-s11, pops, clears *target, and returns to the restored ra. The
// call returns to its own caller only when a later Switch names *current as
// its target.
//
// Preconditions, checked only on a Debug hart: *target is not null and was
// produced by a constructor or by an earlier Switch; interrupts are off.
// Violating them is a kernel bug with no defined outcome.
func Switch(h *hart.Hart, current, target *Context) {
	if h.Debug() {
		// Switch(c, c) is a save immediately followed by its own restore.
		if target != current && target.IsNull() {
			panic(errors.WithStack(ErrNullTarget))
		}
		if h.IntrGet() {
			panic(errors.WithStack(ErrInterruptsEnabled))
		}
	}
	phys := h.Phys
	ret := returnPoint(h)
	h.SetReg(riscv.RA, ret)

	sp := h.Reg(riscv.SP) - SwitchFrameSize
	phys.Write64(sp+OffRa, h.Reg(riscv.RA))
	for i := 0; i < NCalleeSaved; i++ {
		phys.Write64(sp+OffS(i), h.Reg(riscv.SReg(i)))
	}
	phys.Write64(sp+OffSatp, h.Satp)
	current.contentAddr = sp
	self := h.Park(sp)

	from := sp
	sp = target.contentAddr
	h.Satp = phys.Read64(sp + OffSatp)
	h.SfenceVMA()
	ra := phys.Read64(sp + OffRa)
	h.SetReg(riscv.RA, ra)
	for i := 0; i < NCalleeSaved; i++ {
		h.SetReg(riscv.SReg(i), phys.Read64(sp+OffS(i)))
	}
	h.SetReg(riscv.SP, sp+SwitchFrameSize)
	target.contentAddr = 0
	h.PC = ra

	if h.Log.Logger.IsLevelEnabled(logrus.TraceLevel) {
		h.Log.Tracef("switch %#x -> %#x ra=%s satp=%#x", from, sp, h.Text.Name(ra), h.Satp)
	}

	if ra == ret {
		if !h.Resume(sp) {
			h.Fault("switch: no suspended thread at %#x", sp)
		}
	} else {
		h.Spawn()
	}
	self.Wait()
}
