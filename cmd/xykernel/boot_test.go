package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"xyos-in-go/kernel/proc"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kernel.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	conf, err := loadConfig("kernel.toml")
	if err != nil {
		t.Fatal(err)
	}
	want := &config{
		MemoryMB:      2,
		NProc:         8,
		Debug:         true,
		LogLevel:      "info",
		KernelThreads: []kernelThread{{Name: "ticker", Rounds: 3}},
		UserThreads: []userThread{
			{Name: "init", Program: "hello"},
			{Name: "count", Program: "counter", Arg: 4},
			{Name: "fail", Program: "exitcode", Arg: -2},
		},
	}
	if diff := cmp.Diff(want, conf); diff != "" {
		t.Errorf("config (-want +got):\n%s", diff)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	conf, err := loadConfig(writeConfig(t, `
[[user_thread]]
program = "counter"
arg = 1
`))
	if err != nil {
		t.Fatal(err)
	}
	if conf.MemoryMB != 2 || conf.NProc != proc.NPROC || conf.LogLevel != "info" {
		t.Errorf("defaults not applied: %+v", conf)
	}
	if conf.UserThreads[0].Name != "counter" {
		t.Errorf("unnamed thread got name %q", conf.UserThreads[0].Name)
	}

	conf, err = loadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if len(conf.UserThreads) != 1 || conf.UserThreads[0].Program != "hello" {
		t.Errorf("no-file config threads = %+v", conf.UserThreads)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	for _, tc := range []struct {
		name, body, msg string
	}{
		{"unknown key", "memory = 4\n", "unknown keys memory"},
		{"bad program", "[[user_thread]]\nprogram = \"nosuch\"\n", `no program "nosuch"`},
		{"no memory", "memory_mb = 0\n", "memory_mb = 0"},
		{"too many", "nproc = 1\n[[kernel_thread]]\nname = \"a\"\n[[kernel_thread]]\nname = \"b\"\n", "only 1 proc slots"},
		{"unnamed kernel thread", "[[kernel_thread]]\nrounds = 1\n", "no name"},
		{"syntax", "nproc = \n", "config"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadConfig(writeConfig(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.msg) {
				t.Errorf("err = %v, want it to mention %q", err, tc.msg)
			}
		})
	}
}

func TestBootKernel(t *testing.T) {
	conf, err := loadConfig("kernel.toml")
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	exited, err := bootKernel(context.Background(), conf, &out)
	if err != nil {
		t.Fatalf("boot: %v\n%s", err, out.String())
	}

	want := []proc.ExitStatus{
		{Pid: 2, Name: "init", Status: 0},
		{Pid: 4, Name: "fail", Status: -2},
		{Pid: 1, Name: "ticker", Status: 0},
		{Pid: 3, Name: "count", Status: 4},
	}
	if diff := cmp.Diff(want, exited); diff != "" {
		t.Errorf("exits (-want +got):\n%s", diff)
	}
	for _, s := range []string{"msg=kinit", "hello from user mode\n", "[3:0]", "[3:3]", "msg=ticker pid=1 round=2"} {
		if !strings.Contains(out.String(), s) {
			t.Errorf("console output lacks %q:\n%s", s, out.String())
		}
	}
}

func TestBootKernelCancelled(t *testing.T) {
	conf := defaultConfig()
	conf.KernelThreads = []kernelThread{{Name: "long", Rounds: 1000}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	exited, err := bootKernel(ctx, conf, &out)
	if err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(exited) != 0 {
		t.Errorf("exited = %v", exited)
	}
}

func TestWriteLayout(t *testing.T) {
	var out bytes.Buffer
	doc := layoutDoc{ContentSize: 400, SwitchFrameSize: 112, TrapFrameSize: 288}
	if err := writeLayout(&out, doc); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "context 400 bytes, switch frame 112, trap frame 288\n") {
		t.Errorf("header: %q", out.String())
	}
}
