// Package mem holds the machine's physical memory arena and the page
// allocator that carves kernel stacks and page tables out of it.
package mem

import (
	"encoding/binary"
	"fmt"
)

// Fault is raised (as a panic value) on an access outside of RAM. On real
// hardware this would be a load/store access fault.
type Fault struct {
	Addr  uint64
	Size  uint64
	Write bool
}

func (f *Fault) Error() string {
	op := "load"
	if f.Write {
		op = "store"
	}
	return fmt.Sprintf("%s access fault at %#x (+%d)", op, f.Addr, f.Size)
}

// Phys is the RAM of the machine: size bytes starting at physical address
// base. Every address the kernel computes is turned into an index here.
type Phys struct {
	base uint64
	ram  []byte
}

func NewPhys(base, size uint64) *Phys {
	return &Phys{base: base, ram: make([]byte, size)}
}

func (p *Phys) Base() uint64 { return p.base }
func (p *Phys) Size() uint64 { return uint64(len(p.ram)) }
func (p *Phys) End() uint64  { return p.base + uint64(len(p.ram)) }

// Contains reports whether [addr, addr+n) is backed by RAM.
func (p *Phys) Contains(addr, n uint64) bool {
	return addr >= p.base && addr <= p.End() && n <= p.End()-addr
}

func (p *Phys) index(addr, n uint64, write bool) uint64 {
	if !p.Contains(addr, n) {
		panic(&Fault{Addr: addr, Size: n, Write: write})
	}
	return addr - p.base
}

// Read64 loads the little-endian doubleword at addr (ld).
func (p *Phys) Read64(addr uint64) uint64 {
	i := p.index(addr, 8, false)
	return binary.LittleEndian.Uint64(p.ram[i : i+8])
}

// Write64 stores v at addr (sd).
func (p *Phys) Write64(addr, v uint64) {
	i := p.index(addr, 8, true)
	binary.LittleEndian.PutUint64(p.ram[i:i+8], v)
}

func (p *Phys) Memset(dst uint64, c byte, n uint64) {
	i := p.index(dst, n, true)
	buf := p.ram[i : i+n]
	for j := range buf {
		buf[j] = c
	}
}

// Bytes returns a view of [addr, addr+n). The slice aliases RAM.
func (p *Phys) Bytes(addr, n uint64) []byte {
	i := p.index(addr, n, false)
	return p.ram[i : i+n : i+n]
}
