package riscv

import "fmt"

// Mode is a hart privilege level.
type Mode uint8

const (
	User       Mode = 0
	Supervisor Mode = 1
)

func (m Mode) String() string {
	switch m {
	case User:
		return "U"
	case Supervisor:
		return "S"
	}
	return fmt.Sprintf("Mode(%d)", uint8(m))
}

// Sstatus is the supervisor status register.
type Sstatus uint64

const (
	SSTATUS_SIE  = Sstatus(1) << 1 // Supervisor Interrupt Enable
	SSTATUS_SPIE = Sstatus(1) << 5 // Supervisor Previous Interrupt Enable
	SSTATUS_SPP  = Sstatus(1) << 8 // Previous mode, 1=Supervisor, 0=User
	SSTATUS_SUM  = Sstatus(1) << 18
)

func (s Sstatus) SIE() bool  { return s&SSTATUS_SIE != 0 }
func (s Sstatus) SPIE() bool { return s&SSTATUS_SPIE != 0 }

func (s Sstatus) SPP() Mode {
	if s&SSTATUS_SPP != 0 {
		return Supervisor
	}
	return User
}

func (s Sstatus) with(bit Sstatus, on bool) Sstatus {
	if on {
		return s | bit
	}
	return s &^ bit
}

func (s Sstatus) SetSIE(on bool) Sstatus  { return s.with(SSTATUS_SIE, on) }
func (s Sstatus) SetSPIE(on bool) Sstatus { return s.with(SSTATUS_SPIE, on) }
func (s Sstatus) SetSPP(m Mode) Sstatus   { return s.with(SSTATUS_SPP, m == Supervisor) }

func (s Sstatus) Bits() uint64 { return uint64(s) }

func (s Sstatus) String() string {
	return fmt.Sprintf("%#x(spp=%v spie=%t sie=%t)", uint64(s), s.SPP(), s.SPIE(), s.SIE())
}

// scause values.
const (
	SCAUSE_INTERRUPT  = uint64(1) << 63
	SCAUSE_CODE_MASK  = ^SCAUSE_INTERRUPT
	SCAUSE_ILLEGAL    = 2
	SCAUSE_BREAKPOINT = 3
	SCAUSE_ECALL_U    = 8
	SCAUSE_ECALL_S    = 9
	SCAUSE_LOAD_PAGE  = 13
	SCAUSE_STORE_PAGE = 15
	SCAUSE_S_SOFTWARE = SCAUSE_INTERRUPT | 1
	SCAUSE_S_TIMER    = SCAUSE_INTERRUPT | 5
)

// IsInterrupt reports whether scause describes an asynchronous interrupt.
func IsInterrupt(scause uint64) bool { return scause&SCAUSE_INTERRUPT != 0 }
