package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"tdx-data/internal/ingest"
	"tdx-data/internal/planner"
	"tdx-data/internal/slogx"
)

// RunOptions are the per-invocation switches of the ingest command.
type RunOptions struct {
	Auto  bool // take the default answer instead of prompting
	Reset bool // drop previous state before scanning
	In    io.Reader
	Out   io.Writer
	// Progress receives the live status line; nil means stderr.
	Progress io.Writer
}

// RunIngest scans the source directory, sizes the job and runs the pipeline.
// It prints the final summary to opts.Out.
func RunIngest(ctx context.Context, r *Runner, opts RunOptions) (ingest.Summary, error) {
	cfg, log := r.Config, r.Logger

	switch {
	case opts.Reset:
		log.Info("reset requested, clearing state", "path", r.Tracker.Path())
		if err := r.Tracker.Reset(); err != nil {
			return ingest.Summary{}, err
		}
	case r.Tracker.Len() > 0 && !r.Store.Exists():
		restart := true
		if !opts.Auto {
			restart = confirm(opts.In, opts.Out,
				fmt.Sprintf("found state for %d files but store %s is missing. Restart from scratch?", r.Tracker.Len(), r.Store.Dir()), true)
		}
		if restart {
			log.Info("store missing, restarting from scratch", "store", r.Store.Dir())
			if err := r.Tracker.Reset(); err != nil {
				return ingest.Summary{}, err
			}
		} else {
			log.Warn("store missing, keeping previous state; ingested files will be skipped", "store", r.Store.Dir())
		}
	}

	scanned, err := r.Scanner.Scan(cfg.SourceDir, r.Tracker.Has)
	if err != nil {
		return ingest.Summary{}, err
	}

	host, err := planner.Inspect(ctx)
	if err != nil {
		log.Warn("host inspection incomplete", "error", err)
	}
	plan := planner.Compute(host, len(scanned.Work), cfg.Planner)
	if cfg.Workers > 0 {
		plan.Workers = cfg.Workers
	}
	if cfg.BatchSize > 0 {
		plan.BatchSize = cfg.BatchSize
	}
	log.Info("plan", "workers", plan.Workers, "batch_size", plan.BatchSize, "cpus", host.CPUs,
		"mem_available_mb", host.AvailableMemory>>20, "files", len(scanned.Work))
	if !cfg.MinDate.IsZero() {
		log.Info("min date filter", "min_date", cfg.MinDate.String())
	}

	p := ingest.New(r.Store, r.Tracker, r.Sink, ingest.Options{
		Workers:   plan.Workers,
		BatchSize: plan.BatchSize,
		IdleFlush: cfg.IdleFlush,
		MinDate:   cfg.MinDate,
		ReportDir: cfg.CacheDir,
		Heartbeat: cfg.Heartbeat,
		LogLevel:  slogx.ParseLevel(cfg.LogLevel),
		Progress:  opts.Progress,
		Logger:    log,
	})
	sum, err := p.Run(ctx, scanned)
	log.Info("ingest done", "summary", sum)
	if opts.Out != nil {
		PrintSummary(opts.Out, sum)
	}
	return sum, err
}

// PrintSummary writes the human readable end-of-run report.
func PrintSummary(w io.Writer, s ingest.Summary) {
	fmt.Fprintln(w, "==== ingest summary ====")
	fmt.Fprintf(w, "files processed: %d of %d (skipped %d already ingested)\n", s.Processed(), s.Total, s.Skipped)
	fmt.Fprintf(w, "errors:          %d", s.Errors)
	if s.MergeLost > 0 {
		fmt.Fprintf(w, " (%d lost in merge)", s.MergeLost)
	}
	fmt.Fprintln(w)
	if s.NoData > 0 {
		fmt.Fprintf(w, "no data:         %d\n", s.NoData)
	}
	if s.LockMisses > 0 {
		fmt.Fprintf(w, "unlocked merges: %d of %d\n", s.LockMisses, s.Merges)
	}
	fmt.Fprintf(w, "records written: %d in %d series\n", s.Records, s.SeriesWritten)
	fmt.Fprintf(w, "total time:      %s\n", s.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "series in store: %d\n", s.SeriesCount)
	if s.Interrupted {
		fmt.Fprintln(w, "interrupted: rerun to resume")
	}
}

// confirm asks a yes/no question. Empty input or EOF returns def.
func confirm(in io.Reader, out io.Writer, question string, def bool) bool {
	if in == nil {
		return def
	}
	hint := "[y/N]"
	if def {
		hint = "[Y/n]"
	}
	if out != nil {
		fmt.Fprintf(out, "%s %s ", question, hint)
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	case "n", "no":
		return false
	default:
		return def
	}
}
