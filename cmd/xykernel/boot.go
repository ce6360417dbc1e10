package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"xyos-in-go/kernel/console"
	"xyos-in-go/kernel/hart"
	"xyos-in-go/kernel/mem"
	"xyos-in-go/kernel/proc"
	"xyos-in-go/kernel/riscv"
	"xyos-in-go/kernel/user"
	"xyos-in-go/kernel/vm"
)

// Boot implements subcommands.Command for the "boot" command.
type Boot struct {
	config string
	debug  bool
}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string {
	return "boot the kernel and run the configured threads"
}

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string {
	return `boot [-config kernel.toml] [-debug] - boot the kernel, run every configured
thread to exit, and print their exit statuses.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Boot) SetFlags(f *flag.FlagSet) {
	f.StringVar(&b.config, "config", "", "TOML boot configuration; boots a single hello thread if unset")
	f.BoolVar(&b.debug, "debug", false, "check switch preconditions, overriding the config")
}

// Execute implements subcommands.Command.Execute.
func (b *Boot) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf, err := loadConfig(b.config)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	if b.debug {
		conf.Debug = true
	}

	exited, err := bootKernel(ctx, conf, os.Stdout)
	printExited(os.Stdout, exited)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func printExited(w io.Writer, exited []proc.ExitStatus) {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "PID\tNAME\tSTATUS")
	for _, e := range exited {
		fmt.Fprintf(tw, "%d\t%s\t%d\n", e.Pid, e.Name, e.Status)
	}
	tw.Flush()
}

// bootKernel is kmain. It brings the machine up, runs the scheduler until
// every thread has exited or ctx is done, and takes the machine down again.
// The returned error reports leaked pages as well as boot failures.
func bootKernel(ctx context.Context, conf *config, out io.Writer) ([]proc.ExitStatus, error) {
	uart := console.NewUART(out)
	log, err := console.NewLogger(uart, conf.LogLevel)
	if err != nil {
		return nil, err
	}

	memsize := conf.memorySize()
	phys := mem.NewPhys(mem.KERNBASE, memsize)
	alloc, err := mem.NewAllocator(phys, mem.KERNBASE+mem.TEXTSIZE, mem.PHYSTOP(memsize))
	if err != nil {
		return nil, err
	}
	log.WithField("pages", alloc.Free()).Info("kinit")

	kpt, err := vm.KvmInit(alloc, phys, log)
	if err != nil {
		return nil, errors.Wrap(err, "kvminit")
	}
	bootStack, err := alloc.Kalloc()
	if err != nil {
		return nil, errors.Wrap(err, "boot stack")
	}

	h := hart.New(phys, hart.NewText(), hart.Config{
		Debug:     conf.Debug,
		BootStack: bootStack + riscv.PGSIZE,
		Log:       log,
	})
	defer h.Halt()
	// kvminithart
	h.Satp = kpt.SATP()
	h.SfenceVMA()

	tbl, err := proc.NewTable(h, alloc, kpt, proc.Options{NProc: conf.NProc, Console: uart})
	if err != nil {
		return nil, err
	}
	if err := spawnAll(tbl, h, conf, log); err != nil {
		tbl.Close()
		return nil, err
	}

	log.Info("scheduler")
	schedErr := tbl.Scheduler(ctx)
	exited := tbl.Exited()

	if err := tbl.Close(); err != nil {
		return exited, err
	}
	h.Halt()
	if err := kpt.Free(false); err != nil {
		return exited, err
	}
	if err := alloc.Kfree(bootStack); err != nil {
		return exited, err
	}
	if err := alloc.Close(); err != nil {
		return exited, err
	}
	log.WithField("bytes", uart.Transmitted()).Debug("shutdown")
	return exited, schedErr
}

func spawnAll(tbl *proc.Table, h *hart.Hart, conf *config, log logrus.FieldLogger) error {
	for _, kt := range conf.KernelThreads {
		if _, err := tbl.SpawnKernel(kt.Name, ticker(log), kt.Rounds); err != nil {
			return err
		}
	}
	for _, ut := range conf.UserThreads {
		entry, err := user.Load(h.Text, ut.Program)
		if err != nil {
			return err
		}
		if _, err := tbl.SpawnUser(ut.Name, entry, uint64(ut.Arg)); err != nil {
			return err
		}
	}
	return nil
}

// ticker is the body of a configured kernel thread.
func ticker(log logrus.FieldLogger) proc.Task {
	return func(t *proc.Table, p *proc.Proc, rounds uint64) {
		for i := uint64(0); i < rounds; i++ {
			log.WithFields(logrus.Fields{"pid": p.Pid(), "round": i}).Info(p.Name())
			t.Yield()
		}
	}
}
