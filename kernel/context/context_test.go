package context

import (
	"fmt"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"xyos-in-go/kernel/hart"
	"xyos-in-go/kernel/mem"
	"xyos-in-go/kernel/riscv"
	"xyos-in-go/kernel/trap"
)

type machine struct {
	h     *hart.Hart
	alloc *mem.Allocator
}

func newMachine(t *testing.T, debug bool) *machine {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	phys := mem.NewPhys(mem.KERNBASE, 64*riscv.PGSIZE)
	alloc, err := mem.NewAllocator(phys, mem.KERNBASE+mem.TEXTSIZE, phys.End())
	if err != nil {
		t.Fatal(err)
	}
	m := &machine{alloc: alloc}
	m.h = hart.New(phys, hart.NewText(), hart.Config{Debug: debug, Log: log})
	m.h.SetReg(riscv.SP, m.stack(t))
	t.Cleanup(m.h.Halt)
	return m
}

// stack allocates a one-page stack and returns its top.
func (m *machine) stack(t *testing.T) uint64 {
	t.Helper()
	pa, err := m.alloc.Kalloc()
	if err != nil {
		t.Fatal(err)
	}
	return pa + riscv.PGSIZE
}

func TestContentLayout(t *testing.T) {
	if ContentSize != 400 || SwitchFrameSize != 112 {
		t.Fatalf("ContentSize=%d SwitchFrameSize=%d, want 400 and 112", ContentSize, SwitchFrameSize)
	}
	fields := Layout()
	want := []string{"ra", "satp", "s0", "s1", "s2"}
	for i, name := range want {
		if fields[i].Name != name {
			t.Errorf("field %d = %q, want %q", i, fields[i].Name, name)
		}
	}
	var next uint64
	for _, f := range fields {
		if f.Offset != next {
			t.Fatalf("%s at %d, want %d (layout has a hole or overlap)", f.Name, f.Offset, next)
		}
		next = f.Offset + f.Size
	}
	if next != ContentSize {
		t.Errorf("layout ends at %d, want %d", next, ContentSize)
	}
}

func TestPushAt(t *testing.T) {
	m := newMachine(t, true)
	top := m.stack(t)

	content := NewKernelContent(riscv.SSTATUS_SIE, 0x80000040, 17, riscv.MakeSATP(0x80042000))
	ctx := content.PushAt(m.h.Phys, top)

	if ctx.Addr() != top-ContentSize {
		t.Fatalf("Addr() = %#x, want %#x", ctx.Addr(), top-ContentSize)
	}
	if ctx.IsNull() {
		t.Fatal("pushed context is null")
	}
	if got := m.h.Phys.Read64(ctx.Addr() + OffRa); got != 0x80000040 {
		t.Errorf("ra slot = %#x", got)
	}
	if diff := cmp.Diff(content, LoadContent(m.h.Phys, ctx)); diff != "" {
		t.Errorf("content in memory (-pushed +loaded):\n%s", diff)
	}
}

func TestNewKernelContent(t *testing.T) {
	status := riscv.SSTATUS_SIE | riscv.SSTATUS_SPIE // SPP = U
	c := NewKernelContent(status, 0x80000100, 42, 0x8000000000080123)

	if c.Ra != 0x80000100 || c.Satp != 0x8000000000080123 || c.S[0] != 42 {
		t.Errorf("ra=%#x satp=%#x s0=%d", c.Ra, c.Satp, c.S[0])
	}
	s1 := riscv.Sstatus(c.S[1])
	if s1.SPP() != riscv.Supervisor {
		t.Errorf("s1 = %v, want SPP=S", s1)
	}
	if !s1.SIE() || !s1.SPIE() {
		t.Errorf("s1 = %v lost the other status bits", s1)
	}
	if diff := cmp.Diff(trap.TrapFrame{}, c.TF); diff != "" {
		t.Errorf("kernel thread has a trap frame:\n%s", diff)
	}
}

func TestNewUserContent(t *testing.T) {
	status := riscv.SSTATUS_SIE | riscv.SSTATUS_SPP
	c := NewUserContent(status, 0x80000200, 0x1000, 5, 0x81000, 0x8000000000080456)

	if c.Ra != 0x80000200 {
		t.Errorf("ra = %#x, want trapret", c.Ra)
	}
	if c.TF.Sepc != 0x1000 || c.TF.X[riscv.SP] != 0x81000 || c.TF.X[riscv.A0] != 5 {
		t.Errorf("tf = %v a0=%d", &c.TF, c.TF.X[riscv.A0])
	}
	s := c.TF.Sstatus
	if s.SPP() != riscv.User || !s.SPIE() || s.SIE() {
		t.Errorf("tf.sstatus = %v, want spp=U spie sie=0", s)
	}
	if c.S != [NCalleeSaved]uint64{} {
		t.Errorf("user thread uses callee-saved slots: %v", c.S)
	}
}

type kernelEntry struct {
	pc, a0, satp uint64
	sstatus      riscv.Sstatus
	mode         riscv.Mode
	sp           uint64
}

func TestSwitchIntoKernelThread(t *testing.T) {
	tests := []struct {
		arg  uint64
		satp uint64
	}{
		{0, 0},
		{1, riscv.MakeSATP(mem.KERNBASE + 0x20000)},
		{0xffffffffffffffff, riscv.MakeSATP(mem.KERNBASE + 0x3f000)},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("arg=%#x", tt.arg), func(t *testing.T) {
			m := newMachine(t, true)
			h := m.h
			var boot, self Context
			var seen kernelEntry

			entry := DefineKernelEntry(h.Text, "kthread", func(arg uint64) {
				seen = kernelEntry{
					pc: h.PC, a0: arg, satp: h.Satp,
					sstatus: h.Sstatus, mode: h.Mode, sp: h.Reg(riscv.SP),
				}
				if h.Reg(riscv.A0) != arg {
					t.Errorf("a0 = %#x, arg = %#x", h.Reg(riscv.A0), arg)
				}
				Switch(h, &self, &boot)
			})

			kstackTop := m.stack(t)
			next := NewKernelThread(h, entry, tt.arg, kstackTop, tt.satp)
			bootSP := h.Reg(riscv.SP)
			bootSatp := h.Satp

			Switch(h, &boot, &next)

			want := kernelEntry{
				pc: entry, a0: tt.arg, satp: tt.satp,
				sstatus: h.Sstatus.SetSPP(riscv.Supervisor), mode: riscv.Supervisor,
				sp: kstackTop - ContentSize + SwitchFrameSize,
			}
			if diff := cmp.Diff(want, seen, cmp.AllowUnexported(kernelEntry{})); diff != "" {
				t.Errorf("state at kernel entry (-want +got):\n%s", diff)
			}
			if !next.IsNull() {
				t.Errorf("target %v not cleared after switch", next)
			}
			if self.IsNull() {
				t.Error("suspended thread has a null context")
			}
			if h.Reg(riscv.SP) != bootSP || h.Satp != bootSatp {
				t.Errorf("boot sp=%#x satp=%#x after switch back, want %#x %#x",
					h.Reg(riscv.SP), h.Satp, bootSP, bootSatp)
			}
		})
	}
}

type userEntry struct {
	pc, sp, a0, satp uint64
	mode             riscv.Mode
	sie              bool
}

func TestSwitchIntoUserThread(t *testing.T) {
	m := newMachine(t, true)
	h := m.h
	var boot, user Context

	vec := trap.Install(h, trap.HandlerFunc(func(h *hart.Hart, tf *trap.TrapFrame) {
		tf.IncreaseSepc()
		Switch(h, &user, &boot)
	}))

	var seen userEntry
	entry := h.Text.Define("user_main", riscv.User, func(h *hart.Hart) {
		seen = userEntry{
			pc: h.PC, sp: h.Reg(riscv.SP), a0: h.Reg(riscv.A0),
			satp: h.Satp, mode: h.Mode, sie: h.IntrGet(),
		}
		h.Ecall()
		t.Error("user thread resumed after its last ecall")
	})

	const ustackTop = mem.USERSTACK + riscv.PGSIZE
	satp := riscv.MakeSATP(mem.KERNBASE + 0x30000)
	kstackTop := m.stack(t)
	next := NewUserThread(h, vec, entry, 99, ustackTop, kstackTop, satp)

	Switch(h, &boot, &next)

	want := userEntry{pc: entry, sp: ustackTop, a0: 99, satp: satp, mode: riscv.User, sie: true}
	if diff := cmp.Diff(want, seen, cmp.AllowUnexported(userEntry{})); diff != "" {
		t.Errorf("state at user entry (-want +got):\n%s", diff)
	}
	if h.Mode != riscv.Supervisor {
		t.Errorf("boot resumed in %v mode", h.Mode)
	}

	// The trap frame of the ecall sits at the top of the kernel stack. The
	// handler switched away before writing its changes back.
	tf := trap.Load(h.Phys, kstackTop-trap.TrapFrameSize)
	if tf.Scause != riscv.SCAUSE_ECALL_U || tf.Sepc != entry || tf.X[riscv.SP] != ustackTop {
		t.Errorf("saved trap frame: %v", &tf)
	}
}

func TestRoundTripNoDrift(t *testing.T) {
	const rounds = 1000
	m := newMachine(t, true)
	h := m.h
	var boot, a Context

	entry := DefineKernelEntry(h.Text, "pingpong", func(arg uint64) {
		for i := 0; i < NCalleeSaved; i++ {
			h.SetReg(riscv.SReg(i), arg+uint64(i))
		}
		mine := h.Regs()
		for {
			Switch(h, &a, &boot)
			for i := 0; i < NCalleeSaved; i++ {
				if r := riscv.SReg(i); h.Reg(r) != mine[r] {
					t.Errorf("thread a: %s = %#x, want %#x", riscv.RegName(r), h.Reg(r), mine[r])
				}
			}
		}
	})
	a = NewKernelThread(h, entry, 0xa000, m.stack(t), 0)

	for i := 0; i < NCalleeSaved; i++ {
		h.SetReg(riscv.SReg(i), 0xb000+uint64(i))
	}
	h.Satp = riscv.MakeSATP(mem.KERNBASE + 0x10000)
	before := h.Regs()
	satp := h.Satp
	fences := h.Sfences()

	for n := 0; n < rounds; n++ {
		if a.IsNull() {
			t.Fatalf("round %d: thread a not suspended", n)
		}
		Switch(h, &boot, &a)

		after := h.Regs()
		if n == 0 {
			// ra is now the switch return point; everything else is as we left it.
			before[riscv.RA] = after[riscv.RA]
		}
		for i := 0; i < NCalleeSaved; i++ {
			r := riscv.SReg(i)
			if after[r] != before[r] {
				t.Fatalf("round %d: %s = %#x, want %#x", n, riscv.RegName(r), after[r], before[r])
			}
		}
		if after[riscv.RA] != before[riscv.RA] || after[riscv.SP] != before[riscv.SP] {
			t.Fatalf("round %d: ra=%#x sp=%#x, want %#x %#x", n,
				after[riscv.RA], after[riscv.SP], before[riscv.RA], before[riscv.SP])
		}
		if h.Satp != satp {
			t.Fatalf("round %d: satp = %#x, want %#x", n, h.Satp, satp)
		}
		if !boot.IsNull() {
			t.Fatalf("round %d: running thread has non-null context %v", n, boot)
		}
	}
	if ra, ok := h.Text.Addr(switchReturn); !ok || before[riscv.RA] != ra {
		t.Errorf("ra = %s, want %s", h.Text.Name(before[riscv.RA]), switchReturn)
	}
	if got := h.Sfences() - fences; got != 2*rounds {
		t.Errorf("sfence.vma executed %d times, want %d", got, 2*rounds)
	}
	if h.Parked() != 1 {
		t.Errorf("%d parked streams, want only thread a", h.Parked())
	}
}

func TestSelfSwitch(t *testing.T) {
	m := newMachine(t, true)
	h := m.h
	h.SetReg(riscv.S5, 55)
	sp := h.Reg(riscv.SP)

	var self Context
	Switch(h, &self, &self)

	if h.Reg(riscv.S5) != 55 || h.Reg(riscv.SP) != sp {
		t.Errorf("s5=%d sp=%#x after self switch", h.Reg(riscv.S5), h.Reg(riscv.SP))
	}
	if !self.IsNull() {
		t.Errorf("context %v not cleared", self)
	}
}

func recoverErr(f func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err, _ = r.(error)
		}
	}()
	f()
	return nil
}

func TestSwitchPreconditions(t *testing.T) {
	m := newMachine(t, true)
	h := m.h
	var cur Context
	null := Null()

	err := recoverErr(func() { Switch(h, &cur, &null) })
	if !errors.Is(err, ErrNullTarget) {
		t.Errorf("switch to null = %v, want ErrNullTarget", err)
	}
	if !cur.IsNull() {
		t.Errorf("rejected switch saved into current: %v", cur)
	}

	entry := DefineKernelEntry(h.Text, "never", func(uint64) { select {} })
	next := NewKernelThread(h, entry, 0, m.stack(t), 0)
	h.IntrOn()
	err = recoverErr(func() { Switch(h, &cur, &next) })
	if !errors.Is(err, ErrInterruptsEnabled) {
		t.Errorf("switch with interrupts on = %v, want ErrInterruptsEnabled", err)
	}
	if next.IsNull() {
		t.Error("rejected switch consumed the target")
	}
}

func TestNullContext(t *testing.T) {
	if !Null().IsNull() || Null().Addr() != 0 {
		t.Error("Null() is not null")
	}
	var zero Context
	if zero != Null() {
		t.Error("zero Context differs from Null()")
	}
	if got := Null().String(); got != "context(null)" {
		t.Errorf("String() = %q", got)
	}
}
