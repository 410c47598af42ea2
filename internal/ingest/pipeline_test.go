package ingest

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tdx-data/internal/model"
	"tdx-data/internal/scan"
	"tdx-data/internal/state"
	"tdx-data/internal/store"
)

type quote struct {
	date  uint32
	close float32
}

func encode(quotes ...quote) []byte {
	var out []byte
	for _, q := range quotes {
		buf := make([]byte, model.RecordSize)
		binary.LittleEndian.PutUint32(buf[0:], q.date)
		for i, v := range []float32{q.close, q.close, q.close, q.close, 1000, 100} {
			binary.LittleEndian.PutUint32(buf[4+4*i:], math.Float32bits(v))
		}
		out = append(out, buf...)
	}
	return out
}

func days(n int, from uint32) []quote {
	qs := make([]quote, n)
	for i := range qs {
		qs[i] = quote{date: from + uint32(i), close: float32(10 + i)}
	}
	return qs
}

type env struct {
	src, cache string
	store      *store.Store
	tracker    *state.Tracker
	sink       *ErrorSink
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	e := &env{src: filepath.Join(root, "src"), cache: filepath.Join(root, "cache")}
	require.NoError(t, os.MkdirAll(e.src, 0o755))
	st, err := store.Open(filepath.Join(root, "funds"), store.Options{
		Lock: store.LockOptions{Retries: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
	})
	require.NoError(t, err)
	e.store = st
	e.tracker = state.Load(filepath.Join(e.cache, state.FileName), 0, nil)
	e.sink = NewErrorSink(filepath.Join(e.cache, "errors"))
	return e
}

func (e *env) write(t *testing.T, name string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(e.src, name), data, 0o644))
}

func (e *env) run(t *testing.T, ctx context.Context, opts Options) Summary {
	t.Helper()
	return e.runWith(t, ctx, e.store, opts)
}

func (e *env) runWith(t *testing.T, ctx context.Context, st Store, opts Options) Summary {
	t.Helper()
	sc := scan.Scanner{Ext: "day", SampleSize: scan.DefaultSampleSize}
	res, err := sc.Scan(e.src, e.tracker.Has)
	require.NoError(t, err)
	if opts.Workers == 0 {
		opts.Workers = 3
	}
	opts.Progress = io.Discard
	opts.ReportDir = e.cache
	sum, err := New(st, e.tracker, e.sink, opts).Run(ctx, res)
	require.NoError(t, err)
	return sum
}

func (e *env) sinkFiles(t *testing.T) []string {
	t.Helper()
	m, err := filepath.Glob(filepath.Join(e.sink.Dir(), "error_*.json"))
	require.NoError(t, err)
	return m
}

func TestRunCorruptionIsolation(t *testing.T) {
	e := newEnv(t)
	e.write(t, "sh#AAAAAA.day", encode(days(10, 20240101)...))
	e.write(t, "sh#BBBBBB.day", encode(days(3, 20240101)...))
	e.write(t, "sh#CCCCCC.day", make([]byte, 33))

	sum := e.run(t, context.Background(), Options{})
	require.Equal(t, 3, sum.Total)
	require.Equal(t, 2, sum.Processed())
	require.Equal(t, 2, sum.Ingested)
	require.Equal(t, 1, sum.Errors)
	require.Equal(t, 13, sum.Records)
	require.Equal(t, 2, sum.SeriesWritten)
	require.Equal(t, 2, sum.SeriesCount)
	require.False(t, sum.Failed())
	require.Len(t, e.sinkFiles(t), 1)
	require.Equal(t, 2, e.tracker.Len())

	a, err := e.store.Read("AAAAAA")
	require.NoError(t, err)
	require.Len(t, a.Records, 10)
	b, err := e.store.Read("BBBBBB")
	require.NoError(t, err)
	require.Len(t, b.Records, 3)

	require.FileExists(t, filepath.Join(e.cache, ".lastrun.success.json"))
	require.FileExists(t, filepath.Join(e.cache, ".lastrun.failed.json"))

	rerun := e.run(t, context.Background(), Options{})
	require.Equal(t, 1, rerun.Total)
	require.Equal(t, 2, rerun.Skipped)
	require.Equal(t, 0, rerun.Processed())
	require.Equal(t, 1, rerun.Errors)
	require.False(t, rerun.Failed())
	require.Equal(t, 2, rerun.SeriesCount)
}

// undecodable builds n records with a valid date and 0xFF in every other byte.
func undecodable(n int) []byte {
	var out []byte
	for i := 0; i < n; i++ {
		buf := make([]byte, model.RecordSize)
		binary.LittleEndian.PutUint32(buf, uint32(20240101+i))
		for j := 4; j < len(buf); j++ {
			buf[j] = 0xFF
		}
		out = append(out, buf...)
	}
	return out
}

func TestRunUndecodableFileFails(t *testing.T) {
	e := newEnv(t)
	e.write(t, "sh#AAAAAA.day", encode(days(4, 20240101)...))
	e.write(t, "sh#BBBBBB.day", undecodable(3))

	sum := e.run(t, context.Background(), Options{})
	require.Equal(t, 2, sum.Total)
	require.Equal(t, 1, sum.Ingested)
	require.Equal(t, 0, sum.NoData)
	require.Equal(t, 1, sum.Errors)
	require.Len(t, e.sinkFiles(t), 1)
	require.Equal(t, 1, e.tracker.Len())

	data, err := os.ReadFile(e.sinkFiles(t)[0])
	require.NoError(t, err)
	require.Contains(t, string(data), `"stage": "decode"`)
	require.Contains(t, string(data), ErrCorrupt.Error())

	_, err = e.store.Read("BBBBBB")
	require.ErrorIs(t, err, store.ErrNotFound)

	again := e.run(t, context.Background(), Options{})
	require.Equal(t, 1, again.Total)
	require.Equal(t, 1, again.Errors)
}

func TestRunEmptyFileHasNoData(t *testing.T) {
	e := newEnv(t)
	e.write(t, "sh#600000.day", nil)

	sum := e.run(t, context.Background(), Options{})
	require.Equal(t, 1, sum.NoData)
	require.Equal(t, 0, sum.Errors)
	require.False(t, sum.Failed())
	require.Equal(t, 1, e.tracker.Len())
}

func TestRunIdempotent(t *testing.T) {
	e := newEnv(t)
	e.write(t, "sh#600000.day", encode(days(5, 20240101)...))
	e.write(t, "sz#000001.day", encode(days(4, 20240101)...))

	first := e.run(t, context.Background(), Options{})
	require.Equal(t, 2, first.Ingested)
	before, err := e.store.List()
	require.NoError(t, err)

	second := e.run(t, context.Background(), Options{})
	require.Equal(t, 0, second.Total)
	require.Equal(t, 2, second.Skipped)
	require.Equal(t, 0, second.Merges)
	require.False(t, second.Failed())

	after, err := e.store.List()
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestRunReplacesSeries(t *testing.T) {
	e := newEnv(t)
	e.write(t, "sh#600000.day", encode(days(3, 20240101)...))
	e.run(t, context.Background(), Options{})

	e.write(t, "sh#600000.day", encode(quote{date: 20240301, close: 42}))
	sum := e.run(t, context.Background(), Options{})
	require.Equal(t, 1, sum.Ingested)

	got, err := e.store.Read("600000")
	require.NoError(t, err)
	require.Len(t, got.Records, 1)
	require.Equal(t, "2024-03-01", got.Records[0].Date.String())
	require.Equal(t, 42.0, got.Records[0].Close)
}

func TestRunSortsAndDedupes(t *testing.T) {
	e := newEnv(t)
	e.write(t, "sh#600000.day", encode(
		quote{date: 20240105, close: 5},
		quote{date: 20240102, close: 2},
		quote{date: 20240103, close: 3},
		quote{date: 20240102, close: 7},
	))
	e.run(t, context.Background(), Options{})

	got, err := e.store.Read("600000")
	require.NoError(t, err)
	require.Len(t, got.Records, 3)
	for i := 1; i < len(got.Records); i++ {
		require.True(t, got.Records[i-1].Date.Before(got.Records[i].Date))
	}
	require.Equal(t, 7.0, got.Records[0].Close)
}

func TestRunMinDate(t *testing.T) {
	e := newEnv(t)
	e.write(t, "sh#600000.day", encode(days(5, 20240101)...))
	e.write(t, "sh#600001.day", encode(days(3, 20230101)...))

	sum := e.run(t, context.Background(), Options{MinDate: model.MustParseDate("20240103")})
	require.Equal(t, 1, sum.Ingested)
	require.Equal(t, 1, sum.NoData)
	require.Equal(t, 2, sum.Processed())
	require.Equal(t, 2, e.tracker.Len())

	got, err := e.store.Read("600000")
	require.NoError(t, err)
	require.Len(t, got.Records, 3)
	require.Equal(t, "2024-01-03", got.Records[0].Date.String())

	_, err = e.store.Read("600001")
	require.ErrorIs(t, err, store.ErrNotFound)
}

// cancellingStore cancels the run once its first merge has landed.
type cancellingStore struct {
	*store.Store
	cancel context.CancelFunc
}

func (c cancellingStore) Merge(ctx context.Context, batch map[string][]model.QuoteRecord) (store.MergeResult, error) {
	res, err := c.Store.Merge(ctx, batch)
	c.cancel()
	return res, err
}

func TestRunResumesAfterCancel(t *testing.T) {
	const files = 20
	e := newEnv(t)
	fresh := newEnv(t)
	var ids []string
	for i := 0; i < files; i++ {
		id := fmt.Sprintf("6000%02d", i)
		ids = append(ids, id)
		data := encode(days(2+i%3, 20240101)...)
		e.write(t, "sh#"+id+".day", data)
		fresh.write(t, "sh#"+id+".day", data)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	opts := Options{Workers: 1, BatchSize: 1, QueueSize: 1}
	sum := e.runWith(t, ctx, cancellingStore{Store: e.store, cancel: cancel}, opts)
	require.True(t, sum.Interrupted)
	require.Equal(t, 0, sum.Errors)
	require.GreaterOrEqual(t, sum.Ingested, 1)
	require.Less(t, sum.Ingested, files)
	require.Equal(t, sum.Ingested, e.tracker.Len())
	persisted := state.Load(e.tracker.Path(), 0, nil)
	require.Equal(t, sum.Ingested, persisted.Len())
	startedAt := e.tracker.StartTime()

	resumed := e.run(t, context.Background(), Options{})
	require.False(t, resumed.Interrupted)
	require.Equal(t, sum.Ingested, resumed.Skipped)
	require.Equal(t, files, sum.Ingested+resumed.Ingested)
	require.Equal(t, files, e.tracker.Len())
	require.True(t, startedAt.Equal(e.tracker.StartTime()))

	whole := fresh.run(t, context.Background(), Options{})
	require.Equal(t, files, whole.Ingested)
	for _, id := range ids {
		want, err := fresh.store.Read(id)
		require.NoError(t, err)
		got, err := e.store.Read(id)
		require.NoError(t, err)
		require.Equal(t, want, got, id)
	}
}

// lossyStore accepts merges but never writes anything.
type lossyStore struct{}

func (lossyStore) Merge(_ context.Context, batch map[string][]model.QuoteRecord) (store.MergeResult, error) {
	res := store.MergeResult{Locked: true}
	for id := range batch {
		res.Lost = append(res.Lost, id)
	}
	return res, errors.New("disk full")
}

func (lossyStore) Count() (int, error) { return 0, nil }

func TestRunMergeLossIsNotCommitted(t *testing.T) {
	e := newEnv(t)
	e.write(t, "sh#600000.day", encode(days(2, 20240101)...))
	e.write(t, "sh#600001.day", encode(days(2, 20240101)...))

	sc := scan.Scanner{Ext: "day"}
	res, err := sc.Scan(e.src, e.tracker.Has)
	require.NoError(t, err)
	sum, err := New(lossyStore{}, e.tracker, e.sink, Options{Workers: 2, Progress: io.Discard}).Run(context.Background(), res)
	require.NoError(t, err)

	require.Equal(t, 2, sum.Errors)
	require.Equal(t, 2, sum.MergeLost)
	require.True(t, sum.Failed())
	require.Equal(t, 0, e.tracker.Len())
	require.Len(t, e.sinkFiles(t), 2)
}

func TestRunNothingToDo(t *testing.T) {
	e := newEnv(t)
	sum := e.run(t, context.Background(), Options{})
	require.Equal(t, 0, sum.Total)
	require.False(t, sum.Failed())
	require.Equal(t, 0, sum.SeriesCount)
}
