package proc

import (
	"github.com/sirupsen/logrus"

	"xyos-in-go/kernel/hart"
	"xyos-in-go/kernel/riscv"
	"xyos-in-go/kernel/trap"
)

// System call numbers, passed in a7.
const (
	SYS_putc   = 1
	SYS_yield  = 2
	SYS_exit   = 3
	SYS_getpid = 4
)

var syscallNames = map[uint64]string{
	SYS_putc:   "putc",
	SYS_yield:  "yield",
	SYS_exit:   "exit",
	SYS_getpid: "getpid",
}

// HandleTrap is the trap dispatch of the kernel: system calls from user
// mode and the timer tick. Anything else from user mode kills the proc;
// anything else from the kernel is fatal.
func (t *Table) HandleTrap(h *hart.Hart, tf *trap.TrapFrame) {
	p := t.current
	fromUser := tf.Sstatus.SPP() == riscv.User

	switch {
	case tf.Scause == riscv.SCAUSE_ECALL_U && p != nil:
		// return to the instruction after ecall
		tf.IncreaseSepc()
		t.syscall(p, tf)
	case tf.Scause == riscv.SCAUSE_S_TIMER || tf.Scause == riscv.SCAUSE_S_SOFTWARE:
		if p != nil {
			p.lock.Acquire()
			running := p.state == RUNNING
			p.lock.Release()
			if running {
				t.Yield()
			}
		}
	case fromUser && p != nil:
		t.log.WithFields(logrus.Fields{
			"pid":   p.pid,
			"cause": trap.Cause(tf.Scause),
			"sepc":  tf.Sepc,
			"stval": tf.Stval,
		}).Warn("usertrap: unexpected trap, killing proc")
		p.killed = true
	default:
		h.Fault("kerneltrap: %s at %#x", trap.Cause(tf.Scause), tf.Sepc)
	}

	if p != nil && p.killed {
		t.Exit(-1)
	}
}

func (t *Table) syscall(p *Proc, tf *trap.TrapFrame) {
	num := tf.X[riscv.A7]
	if t.log.Logger.IsLevelEnabled(logrus.TraceLevel) {
		t.log.WithField("pid", p.pid).Tracef("syscall %s(%#x)", syscallNames[num], tf.X[riscv.A0])
	}

	switch num {
	case SYS_putc:
		if _, err := t.console.Write([]byte{byte(tf.X[riscv.A0])}); err != nil {
			tf.X[riscv.A0] = ^uint64(0)
			return
		}
		tf.X[riscv.A0] = 0
	case SYS_yield:
		tf.X[riscv.A0] = 0
		t.Yield()
	case SYS_exit:
		t.Exit(int(int64(tf.X[riscv.A0])))
	case SYS_getpid:
		tf.X[riscv.A0] = uint64(p.pid)
	default:
		t.log.WithFields(logrus.Fields{"pid": p.pid, "num": num}).Warn("unknown sys call")
		p.killed = true
	}
}
