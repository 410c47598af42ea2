package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Stages a file can fail in.
const (
	StageScan   = "scan"
	StageRead   = "read"
	StageDecode = "decode"
	StageMerge  = "merge"
)

// ErrorRecord is one unrecoverable per-file failure.
type ErrorRecord struct {
	Time         time.Time `json:"time"`
	SourcePath   string    `json:"source_path"`
	InstrumentID string    `json:"instrument_id,omitempty"`
	Stage        string    `json:"stage"`
	Message      string    `json:"message"`
}

// ErrorSink writes each failure to its own JSON file under dir.
type ErrorSink struct {
	dir string
	now func() time.Time
}

func NewErrorSink(dir string) *ErrorSink {
	return &ErrorSink{dir: dir, now: time.Now}
}

func (s *ErrorSink) Dir() string { return s.dir }

// Write stores rec and returns the file it went to.
func (s *ErrorSink) Write(rec ErrorRecord) (string, error) {
	if rec.Time.IsZero() {
		rec.Time = s.now()
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("error_%s_%s.json", rec.Time.Format("20060102T150405"), uuid.NewString())
	p := filepath.Join(s.dir, name)
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(p, data, 0644); err != nil {
		return "", err
	}
	return p, nil
}
