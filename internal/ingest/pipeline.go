// Package ingest runs the decode workers, the batch writer and the progress
// reporter over one scanned directory.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"tdx-data/internal/model"
	"tdx-data/internal/scan"
	"tdx-data/internal/slogx"
	"tdx-data/internal/state"
)

// Store is what the pipeline needs from the series store.
type Store interface {
	Merger
	Count() (int, error)
}

// Options tunes one run. Zero values take defaults.
type Options struct {
	Workers   int
	BatchSize int
	IdleFlush time.Duration
	QueueSize int
	MinDate   model.Date
	// ReportDir receives the .lastrun report files; empty disables them.
	ReportDir string
	Heartbeat time.Duration
	LogLevel  slog.Level
	// Progress is where the status line and worker logs go. Default stderr.
	Progress io.Writer
	Logger   *slog.Logger
}

// Summary is the outcome of one run.
type Summary struct {
	Discovered  int
	Skipped     int
	Total       int
	Ingested    int
	NoData      int
	Errors      int
	MergeLost   int
	LockMisses  int
	Merges      int
	// Records and SeriesWritten count what reached the store.
	Records       int
	SeriesWritten int
	SeriesCount   int
	Duration    time.Duration
	Interrupted bool
}

// Processed counts files that completed without error.
func (s Summary) Processed() int { return s.Ingested + s.NoData }

// Failed reports a run that had work and finished none of it while nothing
// from earlier runs was already ingested. A directory whose only leftovers
// are bad files is not a failure on rerun.
func (s Summary) Failed() bool { return s.Total > 0 && s.Processed() == 0 && s.Skipped == 0 }

// LogValue lets the summary be logged as one group.
func (s Summary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("processed", s.Processed()),
		slog.Int("total", s.Total),
		slog.Int("skipped", s.Skipped),
		slog.Int("errors", s.Errors),
		slog.Int("no_data", s.NoData),
		slog.Int("merge_lost", s.MergeLost),
		slog.Int("lock_misses", s.LockMisses),
		slog.Int("records", s.Records),
		slog.Int("series_written", s.SeriesWritten),
		slog.Int("series", s.SeriesCount),
		slog.Duration("took", s.Duration),
		slog.Bool("interrupted", s.Interrupted),
	)
}

// Pipeline wires the stages of one ingestion job.
type Pipeline struct {
	store   Store
	tracker *state.Tracker
	sink    *ErrorSink
	opts    Options
	logger  *slog.Logger
}

func New(st Store, tracker *state.Tracker, sink *ErrorSink, opts Options) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.IdleFlush <= 0 {
		opts.IdleFlush = DefaultIdleFlush
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = opts.Workers * 4
	}
	if opts.Progress == nil {
		opts.Progress = os.Stderr
	}
	return &Pipeline{store: st, tracker: tracker, sink: sink, opts: opts, logger: slogx.Or(opts.Logger)}
}

// Run ingests every file in scanned. Cancelling ctx stops new files from
// being picked up; files in hand are finished, the writer flushes what it
// holds and the state is persisted before Run returns.
func (p *Pipeline) Run(ctx context.Context, scanned scan.Result) (Summary, error) {
	start := time.Now()
	sum := Summary{
		Discovered: scanned.Discovered(),
		Skipped:    len(scanned.Skipped),
		Total:      len(scanned.Work) + len(scanned.Rejected),
	}
	p.tracker.BeginRun(sum.Total, start)
	if st := p.tracker.StartTime(); st.Before(start) {
		p.logger.Info("resuming interrupted run", "started", st.Local().Format(time.DateTime), "ingested", p.tracker.Len())
	}

	logs := make(chan string, 2048)
	logger := slogx.NewChanLogger(logs, p.opts.LogLevel)
	events := make(chan Event, sum.Total+1)
	reporter := NewReporter(p.opts.Progress, p.opts.Heartbeat, p.logger)
	reporterDone := make(chan struct{})
	go func() {
		defer close(reporterDone)
		reporter.Run(events, logs)
	}()

	col := &collector{
		tracker:    p.tracker,
		sink:       p.sink,
		events:     events,
		logger:     logger,
		total:      sum.Total,
		start:      start,
		successIDs: make(map[string]struct{}),
	}
	results := make(chan fileResult, sum.Total+64)
	colDone := make(chan struct{})
	go func() {
		defer close(colDone)
		col.run(results)
	}()

	for _, r := range scanned.Rejected {
		results <- rejectedResult(r)
	}

	writer := NewBatchWriter(p.store, p.opts.BatchSize, p.opts.IdleFlush, func(c Commit) {
		for _, r := range commitResults(c) {
			results <- r
		}
	}, logger)

	jobs := make(chan model.SourceFile)
	batches := make(chan Batch, p.opts.QueueSize)

	// The groups only bound the stage lifetimes. Per-file failures travel on
	// results and merge failures on commits, so no goroutine returns an error.
	var workers errgroup.Group
	workers.Go(func() error {
		defer close(jobs)
		for _, f := range scanned.Work {
			if ctx.Err() != nil {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case jobs <- f:
			}
		}
		return nil
	})
	for i := 0; i < p.opts.Workers; i++ {
		workers.Go(func() error {
			p.runWorker(ctx, jobs, batches, results, logger)
			return nil
		})
	}

	var writers errgroup.Group
	writers.Go(func() error {
		writer.Run(ctx, batches)
		return nil
	})

	_ = workers.Wait()
	close(batches)
	_ = writers.Wait()
	close(results)
	<-colDone

	stats := writer.Stats()
	sum.Ingested = col.ingested
	sum.NoData = col.noData
	sum.Errors = col.errors
	sum.MergeLost = col.mergeLost
	sum.Records = stats.Records
	sum.SeriesWritten = stats.Series
	sum.Merges = stats.Merges
	sum.LockMisses = stats.LockMisses
	sum.Interrupted = ctx.Err() != nil

	if len(col.failed) > 0 {
		logger.Info("summary failed", "count", len(col.failed), "reasons", joinFailedReasons(col.failed))
	}
	close(events)
	close(logs)
	<-reporterDone

	end := time.Now()
	var serr error
	if sum.Interrupted {
		serr = p.tracker.Flush()
	} else {
		serr = p.tracker.Finish(end)
	}

	if p.opts.ReportDir != "" && (len(col.successIDs) > 0 || len(col.failed) > 0) {
		if err := writeRunReport(p.opts.ReportDir, col.successList(), col.failed); err != nil {
			p.logger.Warn("could not write run report", "error", err)
		}
	}

	n, err := p.store.Count()
	if err != nil {
		p.logger.Warn("count series", "error", err)
	}
	sum.SeriesCount = n
	sum.Duration = end.Sub(start)

	if serr != nil {
		return sum, fmt.Errorf("persist state %s: %w", p.tracker.Path(), serr)
	}
	return sum, nil
}
