// Package vm builds Sv39 page tables in physical memory. The value a table
// hands out through SATP is what the context layer installs on a switch.
package vm

import (
	"github.com/pkg/errors"

	"xyos-in-go/kernel/mem"
	"xyos-in-go/kernel/riscv"
)

var (
	ErrRemap   = errors.New("mappages: remap")
	ErrBadAddr = errors.New("walk: virtual address out of range")
)

// PageTable is the physical address of a root page-table page.
type PageTable struct {
	root  uint64
	phys  *mem.Phys
	alloc *mem.Allocator
}

// Create allocates an empty root table.
func Create(alloc *mem.Allocator, phys *mem.Phys) (*PageTable, error) {
	root, err := alloc.Kalloc()
	if err != nil {
		return nil, errors.Wrap(err, "vm: root table")
	}
	return &PageTable{root: root, phys: phys, alloc: alloc}, nil
}

func (pt *PageTable) Root() uint64 { return pt.root }

// SATP is the address-space-root value selecting this table.
func (pt *PageTable) SATP() uint64 { return riscv.MakeSATP(pt.root) }

func (pt *PageTable) pteAt(table uint64, idx uint64) uint64 { return table + idx*8 }

// Walk returns the physical address of the PTE for va, creating the
// intermediate tables when alloc is set. It returns 0 if the entry does not
// exist and alloc is unset.
func (pt *PageTable) Walk(va uint64, alloc bool) (uint64, error) {
	if va >= riscv.MAXVA {
		return 0, errors.Wrapf(ErrBadAddr, "va %#x", va)
	}

	table := pt.root
	for level := 2; level > 0; level-- {
		ptep := pt.pteAt(table, riscv.PX(level, va))
		pte := riscv.Pte(pt.phys.Read64(ptep))

		if pte&riscv.PTE_V != 0 {
			table = riscv.PTE2PA(pte)
			continue
		}
		if !alloc {
			return 0, nil
		}
		page, err := pt.alloc.Kalloc()
		if err != nil {
			return 0, errors.Wrapf(err, "walk %#x", va)
		}
		pt.phys.Write64(ptep, uint64(riscv.PA2PTE(page)|riscv.PTE_V))
		table = page
	}
	return pt.pteAt(table, riscv.PX(0, va)), nil
}

// MapPages creates PTEs for virtual addresses starting at va that refer to
// physical addresses starting at pa. va and size need not be page-aligned.
func (pt *PageTable) MapPages(va, size, pa uint64, perm int) error {
	if size == 0 {
		return errors.New("mappages: size")
	}
	a := riscv.PGROUNDDOWN(va)
	last := riscv.PGROUNDDOWN(va + size - 1)
	for {
		ptep, err := pt.Walk(a, true)
		if err != nil {
			return err
		}
		if riscv.Pte(pt.phys.Read64(ptep))&riscv.PTE_V != 0 {
			return errors.Wrapf(ErrRemap, "va %#x", a)
		}
		pt.phys.Write64(ptep, uint64(riscv.PA2PTE(pa)|riscv.Pte(perm|riscv.PTE_V)))
		if a == last {
			break
		}
		a += riscv.PGSIZE
		pa += riscv.PGSIZE
	}
	return nil
}

// Lookup translates va to a physical address and the leaf PTE flags.
func (pt *PageTable) Lookup(va uint64) (pa uint64, flags uint64, ok bool) {
	ptep, err := pt.Walk(va, false)
	if err != nil || ptep == 0 {
		return 0, 0, false
	}
	pte := riscv.Pte(pt.phys.Read64(ptep))
	if pte&riscv.PTE_V == 0 {
		return 0, 0, false
	}
	return riscv.PTE2PA(pte) + va%riscv.PGSIZE, riscv.PTE_FLAGS(pte), true
}

// Free releases every table page. Leaf pages with PTE_U set are freed too
// when freeLeaves is true; kernel mappings always point at memory owned by
// someone else.
func (pt *PageTable) Free(freeLeaves bool) error {
	err := pt.freewalk(pt.root, 2, freeLeaves)
	pt.root = 0
	return err
}

func (pt *PageTable) freewalk(table uint64, level int, freeLeaves bool) error {
	for i := uint64(0); i < 512; i++ {
		pte := riscv.Pte(pt.phys.Read64(pt.pteAt(table, i)))
		if pte&riscv.PTE_V == 0 {
			continue
		}
		if level > 0 {
			if err := pt.freewalk(riscv.PTE2PA(pte), level-1, freeLeaves); err != nil {
				return err
			}
		} else if freeLeaves && pte&riscv.PTE_U != 0 {
			if err := pt.alloc.Kfree(riscv.PTE2PA(pte)); err != nil {
				return err
			}
		}
		pt.phys.Write64(pt.pteAt(table, i), 0)
	}
	return pt.alloc.Kfree(table)
}
