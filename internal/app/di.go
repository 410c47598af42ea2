package app

import (
	"fmt"
	"log/slog"

	"tdx-data/internal/ingest"
	"tdx-data/internal/saver"
	"tdx-data/internal/scan"
	"tdx-data/internal/slogx"
	"tdx-data/internal/state"
	"tdx-data/internal/store"
)

// Runner holds the dependencies of one ingestion job (built by Wire).
type Runner struct {
	Config  *Config
	Logger  *slog.Logger
	Store   *store.Store
	Tracker *state.Tracker
	Sink    *ingest.ErrorSink
	Scanner *scan.Scanner
}

// ProvideLogger creates the process logger from config (for Wire).
func ProvideLogger(cfg *Config) *slog.Logger {
	return slogx.New(cfg.LogLevel, cfg.LogFormat)
}

// ProvideSeriesSaver creates SeriesSaver from config (for Wire).
// Returns error if StoreFormat is not supported.
func ProvideSeriesSaver(cfg *Config) (saver.SeriesSaver, error) {
	s := saver.NewSeriesSaver(cfg.StoreFormat, cfg.StoreCompression)
	if s == nil {
		return nil, fmt.Errorf("unsupported store format %q / compression %q (use: parquet; zstd, snappy, gzip, lz4, brotli, none)", cfg.StoreFormat, cfg.StoreCompression)
	}
	return s, nil
}

// ProvideStore opens the series store (for Wire).
func ProvideStore(cfg *Config, s saver.SeriesSaver, logger *slog.Logger) (*store.Store, error) {
	lock := store.DefaultLockOptions()
	lock.Retries = cfg.LockRetries
	lock.InitialInterval = cfg.LockWait
	return store.Open(cfg.StoreDir, store.Options{Saver: s, Lock: lock, Logger: logger})
}

// ProvideTracker loads the ingestion state (for Wire).
func ProvideTracker(cfg *Config, logger *slog.Logger) *state.Tracker {
	return state.Load(cfg.StatePath(), cfg.StateFlushEvery, logger)
}

// ProvideErrorSink (for Wire).
func ProvideErrorSink(cfg *Config) *ingest.ErrorSink {
	return ingest.NewErrorSink(cfg.ErrorDir())
}

// ProvideScanner (for Wire).
func ProvideScanner(cfg *Config, logger *slog.Logger) *scan.Scanner {
	return &scan.Scanner{Ext: cfg.FileExt, SampleSize: cfg.FingerprintSample, Logger: logger}
}
