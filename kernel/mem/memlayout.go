package mem

import "xyos-in-go/kernel/riscv"

// Physical memory layout
// a go version of memlayout.h

// qemu -machine virt is set up like this,
// based on qemu's hw/riscv/virt.c:
//
// 10000000 -- uart0
// 80000000 -- -kernel loads the kernel here
// unused RAM after 80000000.

// the simulated kernel uses physical memory thus:
// 80000000 -- kernel text symbols (never backed by the arena)
// KERNBASE+TEXTSIZE -- start of kernel page allocation area
// PHYSTOP -- end RAM used by the kernel

// qemu puts UART registers here in physical memory.
const (
	UART0     = uint64(0x10000000)
	UART0_IRQ = 10
)

// the kernel expects there to be RAM
// for use by the kernel and user pages
// from physical address 0x80000000 to PHYSTOP.
const (
	KERNBASE = uint64(0x80000000)
	TEXTSIZE = 16 * riscv.PGSIZE
)

func PHYSTOP(memsize uint64) uint64 { return KERNBASE + memsize }

// map the trampoline page to the highest address,
// in both user and kernel space.
const TRAMPOLINE = riscv.MAXVA - riscv.PGSIZE

// User memory layout.
// Address zero first:
//   text
//   ...
//   fixed-size stack
//   ...
//   TRAMPOLINE (not mapped in the simulation)
const (
	USERTEXT  = uint64(0x1000)
	USERSTACK = uint64(0x80000) // lowest address of the user stack page
)
