// Package store keeps one file per instrument in a directory and replaces
// series atomically under a cross-process lock.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"tdx-data/internal/model"
	"tdx-data/internal/saver"
)

// ErrNotFound is returned by Read for an instrument with no stored series.
var ErrNotFound = errors.New("series not found")

const tempPrefix = ".tmp-"

// Options configures a Store. Zero values take defaults.
type Options struct {
	Saver  saver.SeriesSaver
	Lock   LockOptions
	Logger *slog.Logger
}

// Store is the series container rooted at a directory.
type Store struct {
	dir      string
	lockPath string
	saver    saver.SeriesSaver
	lockOpts LockOptions
	logger   *slog.Logger
}

// Open returns a Store for dir. The directory is created on first merge.
func Open(dir string, opts Options) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("store: empty directory")
	}
	dir = filepath.Clean(dir)
	sv := opts.Saver
	if sv == nil {
		sv = saver.ParquetSaver{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:      dir,
		lockPath: dir + ".lock",
		saver:    sv,
		lockOpts: opts.Lock,
		logger:   logger,
	}, nil
}

func (s *Store) Dir() string      { return s.dir }
func (s *Store) LockPath() string { return s.lockPath }

// Exists reports whether the store directory is present.
func (s *Store) Exists() bool {
	st, err := os.Stat(s.dir)
	return err == nil && st.IsDir()
}

func (s *Store) seriesPath(id string) string {
	return filepath.Join(s.dir, id+"."+s.saver.Extension())
}

func (s *Store) isSeriesFile(name string) (string, bool) {
	if strings.HasPrefix(name, ".") {
		return "", false
	}
	ext := "." + s.saver.Extension()
	if !strings.HasSuffix(name, ext) {
		return "", false
	}
	return strings.TrimSuffix(name, ext), true
}

// List describes every stored series, sorted by instrument id. Unreadable
// files are logged and skipped. A missing directory is an empty store.
func (s *Store) List() ([]model.SeriesInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list store: %w", err)
	}
	var out []model.SeriesInfo
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if _, ok := s.isSeriesFile(e.Name()); !ok {
			continue
		}
		info, err := s.saver.Info(filepath.Join(s.dir, e.Name()))
		if err != nil {
			s.logger.Warn("unreadable series file", "file", e.Name(), "error", err)
			continue
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstrumentID < out[j].InstrumentID })
	return out, nil
}

// Count is the number of stored series.
func (s *Store) Count() (int, error) {
	list, err := s.List()
	return len(list), err
}

// Read loads the full series of one instrument.
func (s *Store) Read(id string) (model.Series, error) {
	p := s.seriesPath(id)
	if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
		return model.Series{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.saver.Load(p)
}

// Info reads the summary of one instrument's series.
func (s *Store) Info(id string) (model.SeriesInfo, error) {
	p := s.seriesPath(id)
	if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
		return model.SeriesInfo{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.saver.Info(p)
}
