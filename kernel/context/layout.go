package context

import (
	"fmt"

	"xyos-in-go/kernel/riscv"
	"xyos-in-go/kernel/trap"
)

// Field is one slot of the ContextContent layout.
type Field struct {
	Name   string
	Offset uint64
	Size   uint64
}

// Layout lists every slot of ContextContent, embedded TrapFrame included,
// in memory order. Hand-written switch and trap code must agree with it.
func Layout() []Field {
	fields := []Field{
		{"ra", OffRa, 8},
		{"satp", OffSatp, 8},
	}
	for i := 0; i < NCalleeSaved; i++ {
		fields = append(fields, Field{fmt.Sprintf("s%d", i), OffS(i), 8})
	}
	for i := 0; i < riscv.NREG; i++ {
		fields = append(fields, Field{"tf." + riscv.RegName(i), OffTF + trap.OffX(i), 8})
	}
	return append(fields,
		Field{"tf.sstatus", OffTF + trap.OffSstatus, 8},
		Field{"tf.sepc", OffTF + trap.OffSepc, 8},
		Field{"tf.stval", OffTF + trap.OffStval, 8},
		Field{"tf.scause", OffTF + trap.OffScause, 8},
	)
}
