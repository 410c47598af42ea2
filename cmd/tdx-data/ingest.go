package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/subcommands"

	"tdx-data/internal/app"
)

type ingestCmd struct {
	configFlags
	sourceDir string
	minDate   string
	workers   int
	auto      bool
	reset     bool
}

func (*ingestCmd) Name() string     { return "ingest" }
func (*ingestCmd) Synopsis() string { return "Ingest .day files into the series store." }
func (*ingestCmd) Usage() string {
	return `ingest [-config file] [-source-dir dir] [-store dir] [-cache-dir dir] [-min-date YYYYMMDD] [-workers n] [-auto] [-reset]

Decodes every quote file in the source directory and replaces the stored
series of each instrument. Files already ingested (same fingerprint) are
skipped, so an interrupted run can simply be restarted.
`
}

func (c *ingestCmd) SetFlags(f *flag.FlagSet) {
	c.configFlags.register(f)
	f.StringVar(&c.sourceDir, "source-dir", "", "directory of source quote files")
	f.StringVar(&c.minDate, "min-date", "", "drop records before this date (YYYYMMDD)")
	f.IntVar(&c.workers, "workers", 0, "worker count (default: planned from host resources)")
	f.BoolVar(&c.auto, "auto", false, "never prompt, take default answers")
	f.BoolVar(&c.reset, "reset", false, "forget previously ingested files before scanning")
}

func (c *ingestCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	r, err := setup(&c.configFlags, func(cfg *app.Config) {
		if c.sourceDir != "" {
			cfg.SourceDir = c.sourceDir
		}
		if c.minDate != "" {
			cfg.MinDateRaw = c.minDate
		}
		if c.workers > 0 {
			cfg.Workers = c.workers
		}
	})
	if err != nil {
		slog.Error("failed to initialize", "error", err)
		return subcommands.ExitFailure
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := r.Config
	slog.Info("ingest", "source", cfg.SourceDir, "store", cfg.StoreDir, "cache", cfg.CacheDir)
	sum, err := app.RunIngest(ctx, r, app.RunOptions{
		Auto:  c.auto,
		Reset: c.reset,
		In:    os.Stdin,
		Out:   os.Stdout,
	})
	if err != nil {
		slog.Error("ingest failed", "error", err)
		return subcommands.ExitFailure
	}
	if sum.Failed() {
		slog.Error("no file was ingested", "total", sum.Total, "errors", sum.Errors)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
