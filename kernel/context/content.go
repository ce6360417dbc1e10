package context

import (
	"xyos-in-go/kernel/mem"
	"xyos-in-go/kernel/riscv"
	"xyos-in-go/kernel/trap"
)

// NCalleeSaved is the number of s registers a switch preserves.
const NCalleeSaved = 12

// ContextContent is the state of a thread that gave up the hart by calling
// Switch. Only the registers the calling convention makes the callee
// preserve are kept; everything else is dead across the call.
//
// The layout is shared with the switch code:
//
//	ra      0
//	satp    8
//	s[0..11] 16..104
//	tf      112..400
//
// The first SwitchFrameSize bytes are the frame Switch pushes and pops. TF
// sits directly above it, so after a new user thread's first switch sp
// points at TF.
type ContextContent struct {
	Ra   uint64               // return address
	Satp uint64               // page table root
	S    [NCalleeSaved]uint64 // callee-saved registers
	TF   trap.TrapFrame
}

const (
	OffRa   = 0
	OffSatp = 8
	offS    = 16
	OffTF   = offS + NCalleeSaved*8

	SwitchFrameSize = OffTF
	ContentSize     = OffTF + trap.TrapFrameSize
)

// OffS is the offset of s<i>.
func OffS(i int) uint64 { return offS + uint64(i)*8 }

// NewKernelContent lays out a kernel thread that starts at entry with arg.
// The first switch into it returns straight into entry, with arg in s0 and
// status, forced to return to supervisor mode, in s1.
func NewKernelContent(status riscv.Sstatus, entry, arg, satp uint64) ContextContent {
	var content ContextContent
	content.Ra = entry
	content.Satp = satp
	content.S[0] = arg
	// sret after a trap in this thread stays in S
	content.S[1] = status.SetSPP(riscv.Supervisor).Bits()
	return content
}

// NewUserContent lays out a user thread. Its return address is trapret, and
// TF describes the first entry to user mode: pc = entry, sp = ustackTop,
// a0 = arg, previous mode U with interrupts enabled after sret and disabled
// until then.
func NewUserContent(status riscv.Sstatus, trapret, entry, arg, ustackTop, satp uint64) ContextContent {
	var content ContextContent
	content.Ra = trapret
	content.Satp = satp
	content.TF.X[riscv.SP] = ustackTop
	content.TF.X[riscv.A0] = arg
	content.TF.Sepc = entry // sepc becomes pc after sret
	content.TF.Sstatus = status.SetSPP(riscv.User).SetSPIE(true).SetSIE(false)
	return content
}

// PushAt copies content onto the stack that ends at stackTop and returns a
// Context for it. The caller owns [stackTop-ContentSize, stackTop).
func (c *ContextContent) PushAt(phys *mem.Phys, stackTop uint64) Context {
	addr := stackTop - ContentSize
	c.store(phys, addr)
	return Context{contentAddr: addr}
}

func (c *ContextContent) store(phys *mem.Phys, addr uint64) {
	phys.Write64(addr+OffRa, c.Ra)
	phys.Write64(addr+OffSatp, c.Satp)
	for i := range c.S {
		phys.Write64(addr+OffS(i), c.S[i])
	}
	c.TF.Store(phys, addr+OffTF)
}

// LoadContent reads the content a non-null Context addresses.
func LoadContent(phys *mem.Phys, ctx Context) ContextContent {
	addr := ctx.contentAddr
	var c ContextContent
	c.Ra = phys.Read64(addr + OffRa)
	c.Satp = phys.Read64(addr + OffSatp)
	for i := range c.S {
		c.S[i] = phys.Read64(addr + OffS(i))
	}
	c.TF = trap.Load(phys, addr+OffTF)
	return c
}
