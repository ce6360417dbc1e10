// Package proc is the process table and round-robin scheduler. It owns
// every thread's Context and kernel stack and is the only caller of
// context.Switch.
package proc

import (
	gocontext "context"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"xyos-in-go/kernel/context"
	"xyos-in-go/kernel/hart"
	"xyos-in-go/kernel/mem"
	"xyos-in-go/kernel/riscv"
	"xyos-in-go/kernel/trap"
	"xyos-in-go/kernel/vm"
)

const NPROC = 8

var ErrNoProc = errors.New("allocproc: process table full")

type procstate int

const (
	UNUSED   procstate = iota // 0
	USED                      // 1
	RUNNABLE                  // 2
	RUNNING                   // 3
	ZOMBIE                    // 4
)

var stateNames = [...]string{"unused", "used", "runnable", "running", "zombie"}

func (s procstate) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("procstate(%d)", int(s))
}

// Task is the body of a kernel thread; arg is the value given to
// SpawnKernel. Returning from it exits the thread with status 0.
type Task func(t *Table, p *Proc, arg uint64)

type Proc struct {
	lock Spinlock

	// p.lock must be held when using these:
	state  procstate // Process state
	pid    int       // Process ID
	xstate int       // Exit status
	killed bool

	// private to the proc, or to the scheduler while the proc is not running
	kstack    uint64
	context   context.Context
	name      string
	task      Task
	arg       uint64
	pagetable *vm.PageTable // user threads only
}

func (p *Proc) Pid() int      { return p.pid }
func (p *Proc) Name() string  { return p.name }
func (p *Proc) Kstack() uint64 { return p.kstack }

// Context is the saved state of a proc that is not running.
func (p *Proc) Context() context.Context { return p.context }

// ExitStatus records a proc that has been reaped by the scheduler.
type ExitStatus struct {
	Pid    int
	Name   string
	Status int
}

type Options struct {
	// NProc is the number of slots; NPROC when zero.
	NProc int
	// Console receives SYS_putc output.
	Console io.Writer
}

// Table is the process table of one hart.
type Table struct {
	h       *hart.Hart
	alloc   *mem.Allocator
	kpt     *vm.PageTable
	vec     *trap.Vector
	console io.Writer
	log     *logrus.Entry

	procs      []Proc
	cpuContext context.Context // the scheduler's own slot
	current    *Proc
	nextpid    int
	exited     []ExitStatus

	kthread     uint64 // entry of every kernel thread
	freeKstacks func()
}

// NewTable is procinit: it gives every slot a kernel stack, installs the
// trap vector with the table as its handler, and defines the kernel thread
// entry.
func NewTable(h *hart.Hart, alloc *mem.Allocator, kpt *vm.PageTable, opts Options) (*Table, error) {
	n := opts.NProc
	if n == 0 {
		n = NPROC
	}
	console := opts.Console
	if console == nil {
		console = io.Discard
	}
	t := &Table{
		h:       h,
		alloc:   alloc,
		kpt:     kpt,
		console: console,
		log:     h.Log.WithField("subsys", "proc"),
		procs:   make([]Proc, n),
		nextpid: 1,
	}

	cu := makeCleanup(func() {})
	defer cu.Clean()
	for i := range t.procs {
		p := &t.procs[i]
		initlock(&p.lock, h, fmt.Sprintf("proc%d", i))

		kstack, err := alloc.Kalloc()
		if err != nil {
			return nil, errors.Wrap(err, "procinit: kstack")
		}
		cu.Add(func() { t.freeStack(kstack) })
		p.kstack = kstack
		p.state = UNUSED
	}

	t.vec = trap.Install(h, t)
	t.kthread = context.DefineKernelEntry(h.Text, "kthread_start", t.kthreadStart)
	t.freeKstacks = cu.Release()
	return t, nil
}

func (t *Table) freeStack(kstack uint64) {
	if n := t.h.ReleaseFrames(kstack, kstack+riscv.PGSIZE); n != 0 {
		t.log.Debugf("dropped %d suspended threads on kstack %#x", n, kstack)
	}
	if err := t.alloc.Kfree(kstack); err != nil {
		t.log.WithError(err).Warn("failed to free kernel stack")
	}
}

// Current is the running proc, nil in the scheduler.
func (t *Table) Current() *Proc { return t.current }

// Exited lists reaped procs in the order they exited.
func (t *Table) Exited() []ExitStatus { return append([]ExitStatus(nil), t.exited...) }

// allocProc finds an UNUSED slot and returns it USED with its lock held.
func (t *Table) allocProc(name string) (*Proc, error) {
	for i := range t.procs {
		p := &t.procs[i]
		p.lock.Acquire()
		if p.state == UNUSED {
			p.pid = t.nextpid
			t.nextpid++
			p.state = USED
			p.name = name
			p.killed = false
			p.xstate = 0
			return p, nil
		}
		p.lock.Release()
	}
	return nil, ErrNoProc
}

func (t *Table) index(p *Proc) uint64 {
	for i := range t.procs {
		if &t.procs[i] == p {
			return uint64(i)
		}
	}
	panic("proc not in table")
}

// SpawnKernel creates a runnable kernel thread running task in the kernel
// address space.
func (t *Table) SpawnKernel(name string, task Task, arg uint64) (*Proc, error) {
	p, err := t.allocProc(name)
	if err != nil {
		return nil, err
	}
	defer p.lock.Release()

	p.task = task
	p.arg = arg
	p.context = context.NewKernelThread(t.h, t.kthread, t.index(p), p.kstack+riscv.PGSIZE, t.kpt.SATP())
	p.state = RUNNABLE
	t.log.WithFields(logrus.Fields{"pid": p.pid, "name": name}).Debug("spawn kernel thread")
	return p, nil
}

// SpawnUser creates a runnable user thread with a fresh address space. It
// starts at the user text address entry with arg in a0 and sp at the top of
// its one stack page.
func (t *Table) SpawnUser(name string, entry, arg uint64) (*Proc, error) {
	p, err := t.allocProc(name)
	if err != nil {
		return nil, err
	}
	defer p.lock.Release()

	pt, _, err := vm.UvmCreate(t.alloc, t.h.Phys)
	if err != nil {
		p.state = UNUSED
		return nil, errors.Wrapf(err, "spawn %s", name)
	}
	p.pagetable = pt
	ustackTop := mem.USERSTACK + riscv.PGSIZE
	p.context = context.NewUserThread(t.h, t.vec, entry, arg, ustackTop, p.kstack+riscv.PGSIZE, pt.SATP())
	p.state = RUNNABLE
	t.log.WithFields(logrus.Fields{"pid": p.pid, "name": name, "entry": t.h.Text.Name(entry)}).Debug("spawn user thread")
	return p, nil
}

// kthreadStart is where every kernel thread begins; arg is its slot.
func (t *Table) kthreadStart(arg uint64) {
	p := &t.procs[arg]
	t.h.IntrOn()
	if p.task != nil {
		p.task(t, p, p.arg)
	}
	t.Exit(0)
}

// Scheduler runs RUNNABLE procs round-robin until none is left or ctx is
// done. Each pass switches into a proc and gets control back when it yields
// or exits. Procs still runnable when ctx ends stay suspended until Close.
func (t *Table) Scheduler(ctx gocontext.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		t.h.IntrOn()
		ran := false
		for i := range t.procs {
			p := &t.procs[i]
			p.lock.Acquire()
			if p.state != RUNNABLE {
				p.lock.Release()
				continue
			}
			p.state = RUNNING
			t.current = p
			p.lock.Release()

			t.h.IntrOff()
			context.Switch(t.h, &t.cpuContext, &p.context)
			t.current = nil
			ran = true

			p.lock.Acquire()
			if p.state == ZOMBIE {
				t.reap(p)
			}
			p.lock.Release()
		}
		if !ran {
			return nil
		}
	}
}

// sched switches from the current proc, whose state is already changed,
// back to the scheduler.
func (t *Table) sched(p *Proc) {
	if t.current != p {
		t.h.Fault("sched: %s is not current", p.name)
	}
	intena := t.h.IntrGet()
	t.h.IntrOff()
	context.Switch(t.h, &p.context, &t.cpuContext)
	if intena {
		t.h.IntrOn()
	}
}

// Yield gives up the hart for one scheduling round.
func (t *Table) Yield() {
	p := t.current
	p.lock.Acquire()
	p.state = RUNNABLE
	p.lock.Release()
	t.sched(p)
}

// Exit ends the current proc. It does not return.
func (t *Table) Exit(status int) {
	p := t.current
	p.lock.Acquire()
	p.xstate = status
	p.state = ZOMBIE
	p.lock.Release()
	t.log.WithFields(logrus.Fields{"pid": p.pid, "status": status}).Debug("exit")

	t.sched(p)
	t.h.Fault("zombie %s exit", p.name)
}

// reap returns a zombie's slot to UNUSED. Its kernel stack stays with the
// slot; the thread parked on it is dropped. Called with p.lock held.
func (t *Table) reap(p *Proc) {
	t.h.ReleaseFrames(p.kstack, p.kstack+riscv.PGSIZE)
	if p.pagetable != nil {
		if err := p.pagetable.Free(true); err != nil {
			t.log.WithError(err).Warn("failed to free user page table")
		}
		p.pagetable = nil
	}
	t.exited = append(t.exited, ExitStatus{Pid: p.pid, Name: p.name, Status: p.xstate})
	p.context = context.Null()
	p.task = nil
	p.arg = 0
	p.state = UNUSED
}

// Close tears the table down after the scheduler has returned. Suspended
// procs are dropped and every kernel stack goes back to the allocator.
func (t *Table) Close() error {
	if t.current != nil {
		return errors.Errorf("close: %s is running", t.current.name)
	}
	var first error
	for i := range t.procs {
		p := &t.procs[i]
		if p.state == UNUSED {
			continue
		}
		t.log.WithFields(logrus.Fields{"pid": p.pid, "state": p.state}).Warn("dropping unfinished proc")
		t.h.ReleaseFrames(p.kstack, p.kstack+riscv.PGSIZE)
		if p.pagetable != nil {
			if err := p.pagetable.Free(true); err != nil && first == nil {
				first = err
			}
			p.pagetable = nil
		}
		p.state = UNUSED
	}
	if t.freeKstacks != nil {
		t.freeKstacks()
		t.freeKstacks = nil
	}
	return first
}

// Procs summarizes the table for debugging.
func (t *Table) Procs() []string {
	var out []string
	for i := range t.procs {
		p := &t.procs[i]
		if p.state != UNUSED {
			out = append(out, fmt.Sprintf("%d %s %s %v", p.pid, p.state, p.name, p.context))
		}
	}
	return out
}
