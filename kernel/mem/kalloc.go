package mem

import (
	"sync"

	"github.com/google/btree"
	"github.com/pkg/errors"

	"xyos-in-go/kernel/riscv"
)

const PGSIZE = riscv.PGSIZE

var (
	ErrOutOfMemory = errors.New("kalloc: out of memory")
	ErrBadFree     = errors.New("kfree: bad page")
	ErrLeaked      = errors.New("kalloc: pages still in use")
	ErrClosed      = errors.New("kalloc: allocator closed")
)

// Allocator hands out physical pages in [start, end). Free pages form a
// list threaded through their first doubleword; pages handed out are
// recorded in an ordered index so bad frees and leaks can be reported.
//
// An Allocator is created once at boot and closed at shutdown. Nothing in
// the kernel reaches it except through the instance it was given.
type Allocator struct {
	mu       sync.Mutex
	phys     *Phys
	start    uint64
	end      uint64
	freelist uint64 // 0 terminates
	nfree    int
	inuse    *btree.BTreeG[uint64]
	closed   bool
}

// NewAllocator is kinit: it frees every whole page in [start, end).
func NewAllocator(phys *Phys, start, end uint64) (*Allocator, error) {
	start = riscv.PGROUNDUP(start)
	if start < phys.Base() || end > phys.End() || start >= end {
		return nil, errors.Errorf("kinit: range [%#x, %#x) not inside RAM [%#x, %#x)",
			start, end, phys.Base(), phys.End())
	}
	a := &Allocator{
		phys:  phys,
		start: start,
		end:   end,
		inuse: btree.NewG(8, func(x, y uint64) bool { return x < y }),
	}
	a.freerange(start, end)
	return a, nil
}

func (a *Allocator) freerange(paStart, paEnd uint64) {
	// Push in descending order so the first kalloc returns the lowest page.
	for i := (paEnd - paStart) / PGSIZE; i > 0; i-- {
		a.push(paStart + (i-1)*PGSIZE)
	}
}

func (a *Allocator) push(pa uint64) {
	a.phys.Write64(pa, a.freelist)
	a.freelist = pa
	a.nfree++
}

// Kalloc allocates one zeroed page and returns its physical address.
func (a *Allocator) Kalloc() (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return 0, ErrClosed
	}

	r := a.freelist
	if r == 0 {
		return 0, ErrOutOfMemory
	}
	a.freelist = a.phys.Read64(r)
	a.nfree--
	a.inuse.ReplaceOrInsert(r)
	a.phys.Memset(r, 0, PGSIZE)
	return r, nil
}

// Kfree returns a page obtained from Kalloc.
func (a *Allocator) Kfree(pa uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if pa%PGSIZE != 0 || pa < a.start || pa >= a.end {
		return errors.Wrapf(ErrBadFree, "pa %#x outside [%#x, %#x)", pa, a.start, a.end)
	}
	if _, ok := a.inuse.Delete(pa); !ok {
		return errors.Wrapf(ErrBadFree, "pa %#x is not allocated", pa)
	}
	// Fill with junk to catch dangling refs.
	a.phys.Memset(pa, 1, PGSIZE)
	a.push(pa)
	return nil
}

// InUse reports the number of pages handed out and not yet freed.
func (a *Allocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inuse.Len()
}

// Free reports the number of pages on the freelist.
func (a *Allocator) Free() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nfree
}

// Allocated lists the pages currently handed out, lowest first.
func (a *Allocator) Allocated() []uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	pages := make([]uint64, 0, a.inuse.Len())
	a.inuse.Ascend(func(pa uint64) bool {
		pages = append(pages, pa)
		return true
	})
	return pages
}

// Close ends the allocator's lifetime. Later Kalloc calls fail. If pages
// are still outstanding the error wraps ErrLeaked.
func (a *Allocator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	a.closed = true
	if n := a.inuse.Len(); n != 0 {
		first, _ := a.inuse.Min()
		return errors.Wrapf(ErrLeaked, "%d pages, lowest %#x", n, first)
	}
	return nil
}
