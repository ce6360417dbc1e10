package riscv

const (
	PGSIZE  = uint64(4096)
	PGSHIFT = 12
	MAXVA   = uint64(1) << (9 + 9 + 9 + 12 - 1)
)

const (
	PTE_V = 1 << 0 // Valid
	PTE_R = 1 << 1 // Readable
	PTE_W = 1 << 2 // Writable
	PTE_X = 1 << 3 // Executable
	PTE_U = 1 << 4 // User
	PTE_G = 1 << 5 // Global
	PTE_A = 1 << 6 // Accessed
	PTE_D = 1 << 7 // Dirty
)

type Pte uint64

func PX(level int, va uint64) uint64 { return (va >> (PGSHIFT + uint64(level)*9)) & 0x1FF }
func PTE2PA(pte Pte) uint64         { return (uint64(pte) >> 10) << 12 }
func PA2PTE(pa uint64) Pte          { return Pte((pa >> 12) << 10) }
func PTE_FLAGS(pte Pte) uint64      { return uint64(pte) & 0x3FF }

func PGROUNDDOWN(a uint64) uint64 { return a & ^(PGSIZE - 1) }
func PGROUNDUP(a uint64) uint64   { return (a + PGSIZE - 1) & ^(PGSIZE - 1) }

// Sv39 translation mode in satp.
const SATP_SV39 = uint64(8) << 60

// MakeSATP builds the address-space-root value for the page table at pa.
func MakeSATP(pa uint64) uint64 { return SATP_SV39 | (pa >> PGSHIFT) }

// SATP2PA is the inverse of MakeSATP.
func SATP2PA(satp uint64) uint64 { return (satp &^ SATP_SV39) << PGSHIFT }

// Instruction width used when stepping sepc past a trapping instruction.
const InstrSize = 4

// General purpose register numbers (x0..x31) by ABI name.
const (
	ZERO = iota
	RA
	SP
	GP
	TP
	T0
	T1
	T2
	S0
	S1
	A0
	A1
	A2
	A3
	A4
	A5
	A6
	A7
	S2
	S3
	S4
	S5
	S6
	S7
	S8
	S9
	S10
	S11
	T3
	T4
	T5
	T6

	NREG
)

// SReg maps callee-saved index i (s0..s11) to its register number.
func SReg(i int) int {
	switch {
	case i < 2:
		return S0 + i
	default:
		return S2 + i - 2
	}
}

var regNames = [NREG]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

// RegName returns the ABI name of register x<n>.
func RegName(n int) string {
	if n < 0 || n >= NREG {
		return "x?"
	}
	return regNames[n]
}
