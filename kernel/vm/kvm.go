package vm

import (
	"github.com/sirupsen/logrus"

	"xyos-in-go/kernel/mem"
	"xyos-in-go/kernel/riscv"
)

// KvmInit makes a direct-map page table for the kernel: the UART, kernel
// text, and the rest of RAM at their physical addresses. RAM must start at
// KERNBASE.
func KvmInit(alloc *mem.Allocator, phys *mem.Phys, log logrus.FieldLogger) (*PageTable, error) {
	pt, err := Create(alloc, phys)
	if err != nil {
		return nil, err
	}
	log.Debugf("kernel_pagetable at %#x", pt.Root())

	etext := mem.KERNBASE + mem.TEXTSIZE
	maps := []struct {
		va, size uint64
		perm     int
	}{
		{mem.UART0, riscv.PGSIZE, riscv.PTE_R | riscv.PTE_W},
		{mem.KERNBASE, mem.TEXTSIZE, riscv.PTE_R | riscv.PTE_X},
		{etext, phys.End() - etext, riscv.PTE_R | riscv.PTE_W},
	}
	for _, m := range maps {
		if err := pt.MapPages(m.va, m.size, m.va, m.perm); err != nil {
			pt.Free(false)
			return nil, err
		}
	}
	return pt, nil
}

// UvmCreate makes a user address space with one stack page at
// mem.USERSTACK. It returns the table and the stack page.
func UvmCreate(alloc *mem.Allocator, phys *mem.Phys) (*PageTable, uint64, error) {
	pt, err := Create(alloc, phys)
	if err != nil {
		return nil, 0, err
	}
	stack, err := alloc.Kalloc()
	if err != nil {
		pt.Free(false)
		return nil, 0, err
	}
	if err := pt.MapPages(mem.USERSTACK, riscv.PGSIZE, stack, riscv.PTE_R|riscv.PTE_W|riscv.PTE_U); err != nil {
		alloc.Kfree(stack)
		pt.Free(false)
		return nil, 0, err
	}
	return pt, stack, nil
}
