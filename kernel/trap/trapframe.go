// Package trap defines the TrapFrame, the machine state saved at every trap
// boundary, together with the entry and exit sequences that store and load
// it. Those sequences and TrapFrameSize/Off* are one binary contract: a
// frame written by alltraps is read back by trapret field for field.
package trap

import (
	"fmt"

	"xyos-in-go/kernel/mem"
	"xyos-in-go/kernel/riscv"
)

// TrapFrame is laid out in memory in field order, one doubleword each:
//
//	x[0..31]   0..248
//	sstatus    256
//	sepc       264
//	stval      272
//	scause     280
type TrapFrame struct {
	X       [riscv.NREG]uint64 // General registers
	Sstatus riscv.Sstatus      // Supervisor Status Register
	Sepc    uint64             // Supervisor exception program counter
	Stval   uint64             // Supervisor trap value
	Scause  uint64             // cause of the exception/interrupt
}

const (
	xlenb = 8

	OffSstatus = riscv.NREG * xlenb
	OffSepc    = OffSstatus + xlenb
	OffStval   = OffSepc + xlenb
	OffScause  = OffStval + xlenb

	TrapFrameSize = OffScause + xlenb
)

// OffX is the offset of x<i>.
func OffX(i int) uint64 { return uint64(i) * xlenb }

// IncreaseSepc steps past the trapping instruction so sret does not
// re-execute it.
func (tf *TrapFrame) IncreaseSepc() {
	tf.Sepc += riscv.InstrSize
}

// Store writes tf at addr.
func (tf *TrapFrame) Store(phys *mem.Phys, addr uint64) {
	for i := 0; i < riscv.NREG; i++ {
		phys.Write64(addr+OffX(i), tf.X[i])
	}
	phys.Write64(addr+OffSstatus, uint64(tf.Sstatus))
	phys.Write64(addr+OffSepc, tf.Sepc)
	phys.Write64(addr+OffStval, tf.Stval)
	phys.Write64(addr+OffScause, tf.Scause)
}

// Load reads a frame from addr.
func Load(phys *mem.Phys, addr uint64) TrapFrame {
	var tf TrapFrame
	for i := 0; i < riscv.NREG; i++ {
		tf.X[i] = phys.Read64(addr + OffX(i))
	}
	tf.Sstatus = riscv.Sstatus(phys.Read64(addr + OffSstatus))
	tf.Sepc = phys.Read64(addr + OffSepc)
	tf.Stval = phys.Read64(addr + OffStval)
	tf.Scause = phys.Read64(addr + OffScause)
	return tf
}

func (tf *TrapFrame) String() string {
	return fmt.Sprintf("scause=%#x sepc=%#x stval=%#x sstatus=%v sp=%#x",
		tf.Scause, tf.Sepc, tf.Stval, tf.Sstatus, tf.X[riscv.SP])
}
