package trap

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"xyos-in-go/kernel/hart"
	"xyos-in-go/kernel/riscv"
)

// Handler decides what a trap means. It runs in supervisor mode on the
// kernel stack, directly above the saved frame. Changes it makes to tf are
// written back before trapret. It may switch away and come back later, or
// never return at all.
type Handler interface {
	HandleTrap(h *hart.Hart, tf *TrapFrame)
}

type HandlerFunc func(h *hart.Hart, tf *TrapFrame)

func (f HandlerFunc) HandleTrap(h *hart.Hart, tf *TrapFrame) { f(h, tf) }

// Vector owns the trap entry and exit code of a hart.
type Vector struct {
	// AllTraps is the address installed in stvec.
	AllTraps uint64
	// TrapRet restores the frame at sp and srets. A context whose return
	// address is TrapRet enters user mode on its first switch.
	TrapRet uint64

	handler Handler
	log     *logrus.Entry
}

// Install defines the entry and exit symbols and points stvec at the entry.
func Install(h *hart.Hart, handler Handler) *Vector {
	v := &Vector{handler: handler, log: h.Log.WithField("subsys", "trap")}
	v.AllTraps = h.Text.Define("__alltraps", riscv.Supervisor, v.alltraps)
	v.TrapRet = h.Text.Define("__trapret", riscv.Supervisor, func(h *hart.Hart) {
		v.restore(h)
		h.Exec()
	})
	h.Stvec = v.AllTraps
	h.Sscratch = 0
	return v
}

// alltraps saves the interrupted state as a TrapFrame on the kernel stack,
// calls the handler, then returns through the same frame.
//
// When the trap came from user mode, sscratch holds the kernel stack top and
// is swapped with sp. In supervisor mode sscratch is 0 and the frame is
// pushed on the current stack.
func (v *Vector) alltraps(h *hart.Hart) {
	usp := h.Reg(riscv.SP)
	ksp := usp
	if h.Sstatus.SPP() == riscv.User {
		ksp = h.Sscratch
		if ksp == 0 {
			h.Fault("trap from user mode with sscratch=0")
		}
	}
	frame := ksp - TrapFrameSize

	tf := TrapFrame{
		X:       h.Regs(),
		Sstatus: h.Sstatus,
		Sepc:    h.Sepc,
		Stval:   h.Stval,
		Scause:  h.Scause,
	}
	tf.X[riscv.SP] = usp
	tf.Store(h.Phys, frame)
	h.SetReg(riscv.SP, frame)
	h.Sscratch = 0

	if v.log.Logger.IsLevelEnabled(logrus.TraceLevel) {
		v.log.Tracef("trap %s: %v", Cause(tf.Scause), &tf)
	}
	v.handler.HandleTrap(h, &tf)

	if sp := h.Reg(riscv.SP); sp != frame {
		h.Fault("trap handler returned with sp=%#x, frame at %#x", sp, frame)
	}
	tf.Store(h.Phys, frame)
	v.restore(h)
}

// restore pops the TrapFrame at sp into the hart and executes sret.
func (v *Vector) restore(h *hart.Hart) {
	sp := h.Reg(riscv.SP)
	tf := Load(h.Phys, sp)

	h.Sstatus = tf.Sstatus
	h.Sepc = tf.Sepc
	if tf.Sstatus.SPP() == riscv.User {
		// next trap from user mode lands on this kernel stack again
		h.Sscratch = sp + TrapFrameSize
	} else {
		h.Sscratch = 0
	}
	for i := 1; i < riscv.NREG; i++ {
		if i != riscv.SP {
			h.SetReg(i, tf.X[i])
		}
	}
	h.SetReg(riscv.SP, tf.X[riscv.SP])
	h.Sret()
}

// Cause names an scause value.
func Cause(scause uint64) string {
	switch scause {
	case riscv.SCAUSE_ECALL_U:
		return "ecall from U"
	case riscv.SCAUSE_ECALL_S:
		return "ecall from S"
	case riscv.SCAUSE_ILLEGAL:
		return "illegal instruction"
	case riscv.SCAUSE_BREAKPOINT:
		return "breakpoint"
	case riscv.SCAUSE_LOAD_PAGE:
		return "load page fault"
	case riscv.SCAUSE_STORE_PAGE:
		return "store page fault"
	case riscv.SCAUSE_S_SOFTWARE:
		return "supervisor software interrupt"
	case riscv.SCAUSE_S_TIMER:
		return "supervisor timer interrupt"
	}
	if riscv.IsInterrupt(scause) {
		return fmt.Sprintf("interrupt %d", scause&riscv.SCAUSE_CODE_MASK)
	}
	return fmt.Sprintf("exception %d", scause)
}
