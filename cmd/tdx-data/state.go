package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/subcommands"
)

type stateCmd struct {
	configFlags
	reset bool
}

func (*stateCmd) Name() string     { return "state" }
func (*stateCmd) Synopsis() string { return "Show or reset the ingestion state." }
func (*stateCmd) Usage() string {
	return `state [-cache-dir dir] [-reset]

Prints how many files are recorded as ingested. -reset forgets them all so
the next ingest reprocesses every file.
`
}

func (c *stateCmd) SetFlags(f *flag.FlagSet) {
	c.configFlags.register(f)
	f.BoolVar(&c.reset, "reset", false, "clear the ingestion state")
}

func (c *stateCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	r, err := setup(&c.configFlags, nil)
	if err != nil {
		slog.Error("failed to initialize", "error", err)
		return subcommands.ExitFailure
	}
	if c.reset {
		if err := r.Tracker.Reset(); err != nil {
			slog.Error("reset failed", "error", err)
			return subcommands.ExitFailure
		}
		fmt.Printf("state cleared: %s\n", r.Tracker.Path())
		return subcommands.ExitSuccess
	}

	st := r.Tracker.Snapshot()
	fmt.Printf("state file:      %s\n", r.Tracker.Path())
	fmt.Printf("files ingested:  %d\n", len(st.Files))
	fmt.Printf("last run total:  %d\n", st.TotalFiles)
	if !st.StartTime.IsZero() {
		fmt.Printf("started:         %s\n", st.StartTime.Local().Format("2006-01-02 15:04:05"))
	}
	if !st.EndTime.IsZero() {
		fmt.Printf("finished:        %s (%s)\n", st.EndTime.Local().Format("2006-01-02 15:04:05"), st.EndTime.Sub(st.StartTime).Round(time.Millisecond))
	} else if !st.StartTime.IsZero() {
		fmt.Println("finished:        no (interrupted or running)")
	}
	return subcommands.ExitSuccess
}
