package app

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"tdx-data/internal/model"
	"tdx-data/internal/state"
)

func dayFile(n int) []byte {
	var out []byte
	for i := 0; i < n; i++ {
		buf := make([]byte, model.RecordSize)
		binary.LittleEndian.PutUint32(buf[0:], uint32(20240101+i))
		for j := 0; j < 4; j++ {
			binary.LittleEndian.PutUint32(buf[4+4*j:], math.Float32bits(1.5))
		}
		out = append(out, buf...)
	}
	return out
}

func newRunner(t *testing.T) *Runner {
	t.Helper()
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.SourceDir = filepath.Join(root, "lday")
	cfg.StoreDir = filepath.Join(root, "data", "funds")
	cfg.CacheDir = filepath.Join(root, "cache")
	cfg.Workers = 2
	cfg.LockRetries = 1
	cfg.LockWaitRaw = "1ms"
	require.NoError(t, cfg.Finalize())
	require.NoError(t, os.MkdirAll(cfg.SourceDir, 0o755))

	logger := ProvideLogger(cfg)
	sv, err := ProvideSeriesSaver(cfg)
	require.NoError(t, err)
	st, err := ProvideStore(cfg, sv, logger)
	require.NoError(t, err)
	return &Runner{
		Config:  cfg,
		Logger:  logger,
		Store:   st,
		Tracker: ProvideTracker(cfg, logger),
		Sink:    ProvideErrorSink(cfg),
		Scanner: ProvideScanner(cfg, logger),
	}
}

func TestRunIngestExample(t *testing.T) {
	r := newRunner(t)
	src := r.Config.SourceDir
	require.NoError(t, os.WriteFile(filepath.Join(src, "sh#AAAAAA.day"), dayFile(10), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sh#BBBBBB.day"), dayFile(3), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sh#CCCCCC.day"), make([]byte, 33), 0o644))

	var out bytes.Buffer
	sum, err := RunIngest(context.Background(), r, RunOptions{Auto: true, Out: &out, Progress: io.Discard})
	require.NoError(t, err)
	require.Equal(t, 2, sum.Processed())
	require.Equal(t, 1, sum.Errors)
	require.Contains(t, out.String(), "files processed: 2 of 3")
	require.Contains(t, out.String(), "series in store: 2")
}

func TestRunIngestRestartPrompt(t *testing.T) {
	tests := []struct {
		name     string
		auto     bool
		answer   string
		wantKept bool
	}{
		{"auto takes default", true, "", false},
		{"enter takes default", false, "\n", false},
		{"explicit no", false, "n\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRunner(t)
			r.Tracker.Record("stale", state.Entry{Path: "gone.day"})
			var out bytes.Buffer
			_, err := RunIngest(context.Background(), r, RunOptions{
				Auto: tt.auto, In: strings.NewReader(tt.answer), Out: &out, Progress: io.Discard,
			})
			require.NoError(t, err)
			require.Equal(t, tt.wantKept, r.Tracker.Has("stale"))
			if !tt.auto {
				require.Contains(t, out.String(), "Restart from scratch? [Y/n]")
			}
		})
	}
}

func TestRunIngestReset(t *testing.T) {
	r := newRunner(t)
	require.NoError(t, os.WriteFile(filepath.Join(r.Config.SourceDir, "sz#000001.day"), dayFile(2), 0o644))

	first, err := RunIngest(context.Background(), r, RunOptions{Auto: true, Progress: io.Discard})
	require.NoError(t, err)
	require.Equal(t, 1, first.Ingested)

	again, err := RunIngest(context.Background(), r, RunOptions{Auto: true, Progress: io.Discard})
	require.NoError(t, err)
	require.Equal(t, 1, again.Skipped)

	reset, err := RunIngest(context.Background(), r, RunOptions{Auto: true, Reset: true, Progress: io.Discard})
	require.NoError(t, err)
	require.Equal(t, 1, reset.Ingested)
}

func TestRunIngestMissingSource(t *testing.T) {
	r := newRunner(t)
	r.Config.SourceDir = filepath.Join(t.TempDir(), "nope")
	_, err := RunIngest(context.Background(), r, RunOptions{Auto: true, Progress: io.Discard})
	require.Error(t, err)
}

func TestConfirm(t *testing.T) {
	require.True(t, confirm(strings.NewReader("yes\n"), nil, "q", false))
	require.False(t, confirm(strings.NewReader("N"), nil, "q", true))
	require.True(t, confirm(strings.NewReader(""), nil, "q", true))
	require.False(t, confirm(nil, nil, "q", false))
}
