package proc

import (
	"sync/atomic"

	"xyos-in-go/kernel/hart"
)

// Spinlock is the kernel's mutual-exclusion lock. Acquiring it turns
// interrupts off on the hart; releasing it restores the previous state.
//
// With a single hart a lock that is already held can never be released
// while we spin, so acquiring a held lock is a fatal fault.
type Spinlock struct {
	locked uint32
	name   string
	h      *hart.Hart
	intena bool
}

func initlock(lk *Spinlock, h *hart.Hart, name string) {
	lk.locked = 0
	lk.name = name
	lk.h = h
}

func (lk *Spinlock) Acquire() {
	intena := lk.h.IntrGet()
	lk.h.IntrOff()
	if !atomic.CompareAndSwapUint32(&lk.locked, 0, 1) {
		lk.h.Fault("acquire %s: already held", lk.name)
	}
	lk.intena = intena
}

func (lk *Spinlock) Release() {
	if !lk.Holding() {
		lk.h.Fault("release %s: not held", lk.name)
	}
	intena := lk.intena
	atomic.StoreUint32(&lk.locked, 0)
	if intena {
		lk.h.IntrOn()
	}
}

func (lk *Spinlock) Holding() bool {
	return atomic.LoadUint32(&lk.locked) == 1
}
