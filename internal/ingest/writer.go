package ingest

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"tdx-data/internal/model"
	"tdx-data/internal/store"
)

// DefaultIdleFlush is how long the writer waits without input before flushing.
const DefaultIdleFlush = 100 * time.Millisecond

// Batch is the sorted record set produced from one source file.
type Batch struct {
	Source  model.SourceFile
	Records []model.QuoteRecord
}

// Merger persists a set of complete series.
type Merger interface {
	Merge(ctx context.Context, batch map[string][]model.QuoteRecord) (store.MergeResult, error)
}

// Commit reports the fate of the sources behind one instrument after a merge.
type Commit struct {
	InstrumentID string
	Sources      []Batch
	Written      bool
	Err          error
}

// WriterStats counts merge level outcomes.
type WriterStats struct {
	Merges     int
	LockMisses int
	Series     int
	Records    int
}

type pendingSeries struct {
	records []model.QuoteRecord
	sources []Batch
}

// BatchWriter accumulates batches by instrument and merges them into the
// store when the queued record count reaches the batch size, when input has
// been idle for a while, and always when its input closes.
type BatchWriter struct {
	merger    Merger
	batchSize int
	idle      time.Duration
	onCommit  func(Commit)
	logger    *slog.Logger

	acc    map[string]*pendingSeries
	queued int
	stats  WriterStats
}

func NewBatchWriter(m Merger, batchSize int, idle time.Duration, onCommit func(Commit), logger *slog.Logger) *BatchWriter {
	if batchSize <= 0 {
		batchSize = 1
	}
	if idle <= 0 {
		idle = DefaultIdleFlush
	}
	if onCommit == nil {
		onCommit = func(Commit) {}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchWriter{
		merger:    m,
		batchSize: batchSize,
		idle:      idle,
		onCommit:  onCommit,
		logger:    logger,
		acc:       make(map[string]*pendingSeries),
	}
}

// Run drains in until it is closed. Merges use a context detached from ctx's
// cancellation so queued data is still written during shutdown. Merge failures
// are reported per instrument through the commit callback.
func (w *BatchWriter) Run(ctx context.Context, in <-chan Batch) {
	mctx := context.WithoutCancel(ctx)
	timer := time.NewTimer(w.idle)
	defer timer.Stop()
	for {
		select {
		case b, ok := <-in:
			if !ok {
				w.flush(mctx)
				return
			}
			w.add(b)
			if w.queued >= w.batchSize {
				w.flush(mctx)
			}
			timer.Reset(w.idle)
		case <-timer.C:
			if w.queued > 0 {
				w.flush(mctx)
			}
			timer.Reset(w.idle)
		}
	}
}

// Stats is valid once Run has returned.
func (w *BatchWriter) Stats() WriterStats { return w.stats }

// add queues b. A later batch for the same instrument replaces the queued
// records; both sources stay attached for commit reporting.
func (w *BatchWriter) add(b Batch) {
	id := b.Source.InstrumentID
	p, ok := w.acc[id]
	if !ok {
		p = &pendingSeries{}
		w.acc[id] = p
	} else {
		w.queued -= len(p.records)
		w.logger.Debug("batch replaces queued series", "instrument", id, "path", b.Source.Path)
	}
	p.records = b.Records
	p.sources = append(p.sources, b)
	w.queued += len(b.Records)
}

func (w *BatchWriter) flush(ctx context.Context) {
	if len(w.acc) == 0 {
		return
	}
	batch := make(map[string][]model.QuoteRecord, len(w.acc))
	for id, p := range w.acc {
		batch[id] = p.records
	}
	started := time.Now()
	res, err := w.merger.Merge(ctx, batch)
	w.stats.Merges++
	if err == nil && !res.Locked {
		w.stats.LockMisses++
	}

	written := make(map[string]bool, len(res.Written))
	for _, id := range res.Written {
		written[id] = true
		w.stats.Series++
		w.stats.Records += len(batch[id])
	}
	ids := make([]string, 0, len(w.acc))
	for id := range w.acc {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		c := Commit{InstrumentID: id, Sources: w.acc[id].sources, Written: written[id]}
		if !c.Written {
			c.Err = err
			if c.Err == nil {
				c.Err = errMergeLost
			}
		}
		w.onCommit(c)
	}

	lvl := slog.LevelInfo
	if len(res.Lost) > 0 || err != nil {
		lvl = slog.LevelWarn
	}
	w.logger.Log(ctx, lvl, "merged", "series", len(res.Written), "lost", len(res.Lost),
		"records", w.queued, "locked", res.Locked, "fallback", res.Fallback,
		"took", time.Since(started).Round(time.Millisecond), "error", err)

	clear(w.acc)
	w.queued = 0
}
