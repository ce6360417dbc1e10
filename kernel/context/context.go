// Package context holds the saved state of suspended threads and the switch
// primitive that moves the hart from one thread to another.
//
// A Context is the address of a ContextContent living just below the top of
// (or, once the thread has run, somewhere inside) that thread's kernel
// stack. Valid Contexts only come from NewKernelThread, NewUserThread, or a
// Switch that saved into them. Nothing here checks that; see Switch.
package context

import (
	"fmt"

	"xyos-in-go/kernel/hart"
	"xyos-in-go/kernel/trap"
)

// Context is a handle to a thread's saved state. The zero value is the null
// Context: no saved state. A running thread's Context is null.
type Context struct {
	contentAddr uint64
}

// Null is the "no thread" placeholder, e.g. the scheduler's own slot before
// its first switch.
func Null() Context { return Context{} }

func (c Context) IsNull() bool { return c.contentAddr == 0 }

// Addr is the physical address of the ContextContent.
func (c Context) Addr() uint64 { return c.contentAddr }

func (c Context) String() string {
	if c.IsNull() {
		return "context(null)"
	}
	return fmt.Sprintf("context(%#x)", c.contentAddr)
}

// NewKernelThread builds a kernel thread on the stack ending at kstackTop.
// entry is a text address, normally from DefineKernelEntry; it receives
// arg and never returns. satp is installed when the thread is switched in.
func NewKernelThread(h *hart.Hart, entry, arg, kstackTop, satp uint64) Context {
	content := NewKernelContent(h.Sstatus, entry, arg, satp)
	return content.PushAt(h.Phys, kstackTop)
}

// NewUserThread builds a thread that enters user mode at entry with sp at
// ustackTop and arg in a0. The content sits on the kernel stack ending at
// kstackTop, which also receives the thread's later traps.
func NewUserThread(h *hart.Hart, vec *trap.Vector, entry, arg, ustackTop, kstackTop, satp uint64) Context {
	content := NewUserContent(h.Sstatus, vec.TrapRet, entry, arg, ustackTop, satp)
	return content.PushAt(h.Phys, kstackTop)
}
