// Package hart models one RISC-V hart for the hosted kernel: the register
// file, the supervisor CSRs, privilege transitions, and the hand-over of the
// hart between suspended streams of execution.
//
// Exactly one goroutine owns the hart at a time. Ownership only changes
// hands through Park/Resume/Spawn, which the switch primitive uses, so the
// register file needs no locking.
package hart

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"xyos-in-go/kernel/mem"
	"xyos-in-go/kernel/riscv"
)

// FatalError is the panic value of a hart fault: a condition real hardware
// would turn into an exception the kernel cannot recover from.
type FatalError struct {
	Hart int
	PC   uint64
	Mode riscv.Mode
	Msg  string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("hart %d: fatal at pc=%#x (%v): %s", e.Hart, e.PC, e.Mode, e.Msg)
}

type Config struct {
	ID int

	// Debug enables the precondition checks of the context layer (null
	// switch target, interrupts enabled across a switch).
	Debug bool

	// BootStack is the initial sp of the boot stream.
	BootStack uint64

	Log logrus.FieldLogger
}

type Hart struct {
	ID int

	x    [riscv.NREG]uint64
	PC   uint64
	Mode riscv.Mode

	Sstatus  riscv.Sstatus
	Sepc     uint64
	Stval    uint64
	Scause   uint64
	Satp     uint64
	Sscratch uint64
	Stvec    uint64

	Phys *mem.Phys
	Text *Text
	Log  *logrus.Entry

	debug   bool
	sfences uint64

	streams conts
}

// New resets a hart into supervisor mode with interrupts off and sp at the
// boot stack.
func New(phys *mem.Phys, text *Text, cfg Config) *Hart {
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	h := &Hart{
		ID:      cfg.ID,
		Mode:    riscv.Supervisor,
		Sstatus: riscv.Sstatus(0).SetSPP(riscv.Supervisor),
		Phys:    phys,
		Text:    text,
		Log:     log.WithField("hart", cfg.ID),
		debug:   cfg.Debug,
	}
	h.x[riscv.SP] = cfg.BootStack
	h.streams.init()
	return h
}

func (h *Hart) Debug() bool { return h.debug }

// Reg reads x<n>.
func (h *Hart) Reg(n int) uint64 { return h.x[n] }

// SetReg writes x<n>. Writes to x0 are discarded.
func (h *Hart) SetReg(n int, v uint64) {
	if n != riscv.ZERO {
		h.x[n] = v
	}
}

// Regs returns a copy of the register file.
func (h *Hart) Regs() [riscv.NREG]uint64 { return h.x }

// SfenceVMA flushes the (absent) TLB after a satp write.
func (h *Hart) SfenceVMA() { h.sfences++ }

// Sfences counts sfence.vma executions.
func (h *Hart) Sfences() uint64 { return h.sfences }

func (h *Hart) IntrOn()  { h.Sstatus = h.Sstatus.SetSIE(true) }
func (h *Hart) IntrOff() { h.Sstatus = h.Sstatus.SetSIE(false) }

// IntrGet reports whether device interrupts are enabled.
func (h *Hart) IntrGet() bool { return h.Sstatus.SIE() }

// Exec fetches the routine at pc and runs it on the calling goroutine.
func (h *Hart) Exec() {
	sym := h.Text.Lookup(h.PC)
	if sym == nil {
		h.Fault("instruction fetch: no text at %#x", h.PC)
	}
	if sym.Mode != h.Mode {
		h.Fault("instruction fetch: %s is %v code, hart in %v mode", sym.Name, sym.Mode, h.Mode)
	}
	sym.Fn(h)
	h.Fault("%s returned", sym.Name)
}

// Jump sets pc and executes there.
func (h *Hart) Jump(pc uint64) {
	h.PC = pc
	h.Exec()
}

// Sret returns from a supervisor trap: pc comes from sepc, the mode from
// SPP, and SIE from SPIE.
func (h *Hart) Sret() {
	if h.Mode != riscv.Supervisor {
		h.Fault("sret in %v mode", h.Mode)
	}
	s := h.Sstatus
	h.Mode = s.SPP()
	h.Sstatus = s.SetSIE(s.SPIE()).SetSPIE(true).SetSPP(riscv.User)
	h.PC = h.Sepc
}

// Trap takes a synchronous trap with the given cause. The vector at stvec
// runs on this goroutine and comes back here after its sret.
func (h *Hart) Trap(cause, tval uint64) {
	h.Sepc = h.PC
	h.Scause = cause
	h.Stval = tval
	h.Sstatus = h.Sstatus.SetSPP(h.Mode).SetSPIE(h.Sstatus.SIE()).SetSIE(false)
	h.Mode = riscv.Supervisor
	h.PC = h.Stvec

	sym := h.Text.Lookup(h.Stvec)
	if sym == nil {
		h.Fault("trap %#x with no vector at stvec=%#x", cause, h.Stvec)
	}
	sym.Fn(h)
}

// Ecall is the environment call instruction.
func (h *Hart) Ecall() {
	cause := uint64(riscv.SCAUSE_ECALL_U)
	if h.Mode == riscv.Supervisor {
		cause = riscv.SCAUSE_ECALL_S
	}
	h.Trap(cause, 0)
}

// Fault stops the hart. It logs the machine state and panics with a
// *FatalError.
func (h *Hart) Fault(format string, args ...interface{}) {
	err := &FatalError{Hart: h.ID, PC: h.PC, Mode: h.Mode, Msg: fmt.Sprintf(format, args...)}
	h.Log.WithFields(logrus.Fields{
		"pc":      h.Text.Name(h.PC),
		"sstatus": h.Sstatus.String(),
		"satp":    fmt.Sprintf("%#x", h.Satp),
	}).Error(err.Msg)
	h.Log.Debug(h.Dump())
	panic(err)
}

// Dump formats the register file.
func (h *Hart) Dump() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pc=%#x mode=%v sstatus=%v satp=%#x\n", h.PC, h.Mode, h.Sstatus, h.Satp)
	for i := 0; i < riscv.NREG; i++ {
		fmt.Fprintf(&b, "%4s=%#018x", riscv.RegName(i), h.x[i])
		if i%4 == 3 {
			b.WriteByte('\n')
		} else {
			b.WriteByte(' ')
		}
	}
	return b.String()
}

// conts tracks suspended streams by the address of their saved frame.
type conts struct {
	mu       sync.Mutex
	parked   map[uint64]*Continuation
	halted   chan struct{}
	haltOnce sync.Once
}

func (c *conts) init() {
	c.parked = make(map[uint64]*Continuation)
	c.halted = make(chan struct{})
}
