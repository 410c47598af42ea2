package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tdx-data/internal/model"
	"tdx-data/internal/store"
)

// recordingMerger remembers every merge it was asked to do.
type recordingMerger struct {
	mu     sync.Mutex
	merges []map[string][]model.QuoteRecord
	ctxErr []error
}

func (m *recordingMerger) Merge(ctx context.Context, batch map[string][]model.QuoteRecord) (store.MergeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.merges = append(m.merges, batch)
	m.ctxErr = append(m.ctxErr, ctx.Err())
	res := store.MergeResult{Locked: true}
	for id := range batch {
		res.Written = append(res.Written, id)
	}
	return res, nil
}

func (m *recordingMerger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.merges)
}

func batchOf(id string, n int) Batch {
	recs := make([]model.QuoteRecord, n)
	for i := range recs {
		recs[i] = model.QuoteRecord{Date: model.NewDate(2024, 1, 1+i), Close: 1}
	}
	return Batch{Source: model.SourceFile{Path: id + ".day", InstrumentID: id, Fingerprint: "fp-" + id}, Records: recs}
}

func TestWriterFlushesOnClose(t *testing.T) {
	m := &recordingMerger{}
	var commits []Commit
	w := NewBatchWriter(m, 1000, time.Hour, func(c Commit) { commits = append(commits, c) }, nil)

	in := make(chan Batch, 4)
	in <- batchOf("600000", 3)
	in <- batchOf("000001", 2)
	close(in)
	w.Run(context.Background(), in)

	require.Equal(t, 1, m.count())
	require.Len(t, m.merges[0], 2)
	require.Len(t, commits, 2)
	require.Equal(t, "000001", commits[0].InstrumentID)
	require.True(t, commits[0].Written)
	require.Equal(t, WriterStats{Merges: 1, Series: 2, Records: 5}, w.Stats())
}

func TestWriterFlushesAtBatchSize(t *testing.T) {
	m := &recordingMerger{}
	w := NewBatchWriter(m, 5, time.Hour, nil, nil)

	in := make(chan Batch)
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(context.Background(), in)
	}()

	in <- batchOf("600000", 3)
	in <- batchOf("600001", 3)
	require.Eventually(t, func() bool { return m.count() == 1 }, time.Second, time.Millisecond)
	in <- batchOf("600002", 1)
	close(in)
	<-done
	require.Equal(t, 2, m.count())
	require.Len(t, m.merges[1], 1)
}

func TestWriterIdleFlush(t *testing.T) {
	m := &recordingMerger{}
	w := NewBatchWriter(m, 1000, 10*time.Millisecond, nil, nil)

	in := make(chan Batch)
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(context.Background(), in)
	}()

	in <- batchOf("600000", 2)
	require.Eventually(t, func() bool { return m.count() == 1 }, time.Second, 5*time.Millisecond)
	close(in)
	<-done
	require.Equal(t, 1, m.count())
}

func TestWriterLaterBatchReplaces(t *testing.T) {
	m := &recordingMerger{}
	var commits []Commit
	w := NewBatchWriter(m, 1000, time.Hour, func(c Commit) { commits = append(commits, c) }, nil)

	in := make(chan Batch, 2)
	in <- batchOf("600000", 4)
	in <- batchOf("600000", 1)
	close(in)
	w.Run(context.Background(), in)

	require.Len(t, m.merges[0]["600000"], 1)
	require.Len(t, commits, 1)
	require.Len(t, commits[0].Sources, 2)
}

func TestWriterFlushIgnoresCancellation(t *testing.T) {
	m := &recordingMerger{}
	w := NewBatchWriter(m, 1000, time.Hour, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	in := make(chan Batch, 1)
	in <- batchOf("600000", 2)
	close(in)
	w.Run(ctx, in)
	require.Equal(t, 1, m.count())
	require.NoError(t, m.ctxErr[0])
}
