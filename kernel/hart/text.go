package hart

import (
	"fmt"
	"sync"

	"xyos-in-go/kernel/mem"
	"xyos-in-go/kernel/riscv"
)

// Routine is the code found at a text address. It runs on the hart that
// jumped to it and never returns, except for trap vectors, which return
// after their sret.
type Routine func(h *Hart)

// Symbol is one entry of the text table.
type Symbol struct {
	Name string
	Addr uint64
	Mode riscv.Mode
	Fn   Routine
}

const symAlign = 16

// Text maps code addresses to routines. Kernel symbols are laid out from
// KERNBASE, user symbols from USERTEXT.
type Text struct {
	mu    sync.RWMutex
	syms  map[uint64]*Symbol
	names map[string]*Symbol
	next  [2]uint64
}

func NewText() *Text {
	t := &Text{
		syms:  make(map[uint64]*Symbol),
		names: make(map[string]*Symbol),
	}
	t.next[riscv.User] = mem.USERTEXT
	t.next[riscv.Supervisor] = mem.KERNBASE + symAlign
	return t
}

// Define places fn at the next free address for mode and returns that
// address. Defining the same name twice is a link error and panics.
func (t *Text) Define(name string, mode riscv.Mode, fn Routine) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, dup := t.names[name]; dup {
		panic(fmt.Sprintf("text: duplicate symbol %q", name))
	}
	addr := t.next[mode]
	if mode == riscv.Supervisor && addr >= mem.KERNBASE+mem.TEXTSIZE {
		panic("text: kernel text full")
	}
	t.next[mode] += symAlign
	sym := &Symbol{Name: name, Addr: addr, Mode: mode, Fn: fn}
	t.syms[addr] = sym
	t.names[name] = sym
	return addr
}

// Ensure returns the address of name, defining it with fn first if needed.
func (t *Text) Ensure(name string, mode riscv.Mode, fn Routine) uint64 {
	if addr, ok := t.Addr(name); ok {
		return addr
	}
	return t.Define(name, mode, fn)
}

// Lookup returns the symbol at pc, or nil.
func (t *Text) Lookup(pc uint64) *Symbol {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.syms[pc]
}

// Addr returns the address of a defined symbol.
func (t *Text) Addr(name string) (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if sym, ok := t.names[name]; ok {
		return sym.Addr, true
	}
	return 0, false
}

// Name symbolizes pc for log output.
func (t *Text) Name(pc uint64) string {
	if sym := t.Lookup(pc); sym != nil {
		return sym.Name
	}
	return fmt.Sprintf("%#x", pc)
}
