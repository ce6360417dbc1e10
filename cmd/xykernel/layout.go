package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"

	kcontext "xyos-in-go/kernel/context"
	"xyos-in-go/kernel/trap"
)

// Layout implements subcommands.Command for the "layout" command.
type Layout struct {
	json bool
}

// Name implements subcommands.Command.Name.
func (*Layout) Name() string {
	return "layout"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Layout) Synopsis() string {
	return "print the saved-context and trap frame layout"
}

// Usage implements subcommands.Command.Usage.
func (*Layout) Usage() string {
	return `layout [-json] - print the offset of every slot of a saved context,
for checking hand-written switch and trap code against.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (l *Layout) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&l.json, "json", false, "print JSON instead of a table")
}

type layoutDoc struct {
	ContentSize     uint64           `json:"content_size"`
	SwitchFrameSize uint64           `json:"switch_frame_size"`
	TrapFrameSize   uint64           `json:"trap_frame_size"`
	Fields          []kcontext.Field `json:"fields"`
}

// Execute implements subcommands.Command.Execute.
func (l *Layout) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	doc := layoutDoc{
		ContentSize:     kcontext.ContentSize,
		SwitchFrameSize: kcontext.SwitchFrameSize,
		TrapFrameSize:   trap.TrapFrameSize,
		Fields:          kcontext.Layout(),
	}
	var err error
	if l.json {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		err = enc.Encode(doc)
	} else {
		err = writeLayout(os.Stdout, doc)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func writeLayout(w io.Writer, doc layoutDoc) error {
	fmt.Fprintf(w, "context %d bytes, switch frame %d, trap frame %d\n",
		doc.ContentSize, doc.SwitchFrameSize, doc.TrapFrameSize)
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "OFFSET\tSIZE\tSLOT")
	for _, f := range doc.Fields {
		fmt.Fprintf(tw, "%d\t%d\t%s\n", f.Offset, f.Size, f.Name)
	}
	return tw.Flush()
}
