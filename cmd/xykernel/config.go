package main

import (
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"xyos-in-go/kernel/mem"
	"xyos-in-go/kernel/proc"
	"xyos-in-go/kernel/user"
)

// config is the boot configuration, read from a TOML file.
type config struct {
	// MemoryMB is the size of RAM starting at KERNBASE.
	MemoryMB int `toml:"memory_mb"`
	// NProc is the number of process table slots.
	NProc int `toml:"nproc"`
	// Debug turns on the switch precondition checks.
	Debug    bool   `toml:"debug"`
	LogLevel string `toml:"log_level"`

	KernelThreads []kernelThread `toml:"kernel_thread"`
	UserThreads   []userThread   `toml:"user_thread"`
}

// kernelThread ticks Rounds times, yielding after each tick.
type kernelThread struct {
	Name   string `toml:"name"`
	Rounds uint64 `toml:"rounds"`
}

// userThread runs a built-in user program with Arg in a0.
type userThread struct {
	Name    string `toml:"name"`
	Program string `toml:"program"`
	Arg     int64  `toml:"arg"`
}

func defaultConfig() *config {
	return &config{
		MemoryMB: 2,
		NProc:    proc.NPROC,
		LogLevel: "info",
	}
}

// loadConfig reads path over the defaults. With no path, it boots one
// hello thread.
func loadConfig(path string) (*config, error) {
	c := defaultConfig()
	if path == "" {
		c.UserThreads = []userThread{{Name: "init", Program: "hello"}}
		return c, c.validate()
	}
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	if undec := md.Undecoded(); len(undec) != 0 {
		keys := make([]string, len(undec))
		for i, k := range undec {
			keys[i] = k.String()
		}
		return nil, errors.Errorf("config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return c, c.validate()
}

func (c *config) memorySize() uint64 { return uint64(c.MemoryMB) << 20 }

func (c *config) validate() error {
	if c.MemoryMB <= 0 || c.memorySize() <= mem.TEXTSIZE {
		return errors.Errorf("memory_mb = %d leaves no room after kernel text", c.MemoryMB)
	}
	if c.NProc <= 0 {
		return errors.Errorf("nproc = %d", c.NProc)
	}
	if n := len(c.KernelThreads) + len(c.UserThreads); n > c.NProc {
		return errors.Errorf("%d threads configured, only %d proc slots", n, c.NProc)
	}
	for i, kt := range c.KernelThreads {
		if kt.Name == "" {
			return errors.Errorf("kernel_thread %d has no name", i)
		}
	}
	for i, ut := range c.UserThreads {
		if _, ok := user.Programs[ut.Program]; !ok {
			return errors.Errorf("user_thread %d: no program %q (have %s)", i, ut.Program, strings.Join(user.Names(), ", "))
		}
		if ut.Name == "" {
			c.UserThreads[i].Name = ut.Program
		}
	}
	return nil
}
