// Package scan discovers source files and filters out the ones already
// ingested.
package scan

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"tdx-data/internal/model"
)

var instrumentPattern = regexp.MustCompile(`^.*#([0-9A-Za-z]{6,})\.[^.]+$`)

// InstrumentID extracts the identifier from names like "sh#510050.day".
func InstrumentID(name string) (string, bool) {
	m := instrumentPattern.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Reason explains why a candidate file was rejected.
type Reason string

const (
	ReasonNoInstrument Reason = "no instrument id in file name"
	ReasonBadSize      Reason = "size is not a multiple of the record size"
	ReasonUnreadable   Reason = "unreadable"
)

// Rejected is a candidate that will not be processed.
type Rejected struct {
	Path         string
	InstrumentID string
	Reason       Reason
	Err          error
}

func (r Rejected) Error() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %s: %v", r.Path, r.Reason, r.Err)
	}
	return fmt.Sprintf("%s: %s", r.Path, r.Reason)
}

// Result is the outcome of one Scan.
type Result struct {
	Work     []model.SourceFile // to ingest, in name order
	Skipped  []model.SourceFile // fingerprint already ingested
	Rejected []Rejected
}

// Discovered is the number of candidate files seen.
func (r Result) Discovered() int { return len(r.Work) + len(r.Skipped) + len(r.Rejected) }

// Scanner enumerates candidate files in one directory.
type Scanner struct {
	Ext        string // without dot; empty accepts any extension
	SampleSize int64  // fingerprint sample per end; 0 = full file
	Logger     *slog.Logger
}

func (s *Scanner) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Scanner) matchExt(name string) bool {
	if s.Ext == "" {
		return true
	}
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	return strings.EqualFold(ext, strings.TrimPrefix(s.Ext, "."))
}

// Scan lists dir (non-recursively). isDone reports whether a fingerprint is
// already ingested; nil treats every file as new.
func (s *Scanner) Scan(dir string, isDone func(fingerprint string) bool) (Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Result{}, fmt.Errorf("read source dir %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	log := s.logger()
	var res Result
	for _, e := range entries {
		if !e.Type().IsRegular() || !s.matchExt(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())

		id, ok := InstrumentID(e.Name())
		if !ok {
			log.Warn("skip file without instrument id", "path", path)
			res.Rejected = append(res.Rejected, Rejected{Path: path, Reason: ReasonNoInstrument})
			continue
		}
		info, err := e.Info()
		if err != nil {
			res.Rejected = append(res.Rejected, Rejected{Path: path, InstrumentID: id, Reason: ReasonUnreadable, Err: err})
			continue
		}
		if info.Size()%model.RecordSize != 0 {
			log.Warn("skip corrupt file", "path", path, "size", info.Size(), "record_size", model.RecordSize)
			res.Rejected = append(res.Rejected, Rejected{Path: path, InstrumentID: id, Reason: ReasonBadSize})
			continue
		}
		fp, err := Fingerprint(path, s.SampleSize)
		if err != nil {
			log.Warn("skip unreadable file", "path", path, "error", err)
			res.Rejected = append(res.Rejected, Rejected{Path: path, InstrumentID: id, Reason: ReasonUnreadable, Err: err})
			continue
		}
		sf := model.SourceFile{Path: path, InstrumentID: id, Size: info.Size(), Fingerprint: fp}
		if isDone != nil && isDone(fp) {
			res.Skipped = append(res.Skipped, sf)
			continue
		}
		res.Work = append(res.Work, sf)
	}
	log.Info("scan done", "dir", dir, "work", len(res.Work), "skipped", len(res.Skipped), "rejected", len(res.Rejected))
	return res, nil
}
