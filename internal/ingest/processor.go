package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"tdx-data/internal/model"
	"tdx-data/internal/tdx"
)

// ErrCorrupt marks a source file none of whose records could be decoded.
var ErrCorrupt = errors.New("corrupt source file")

// fileResult is sent to the collector once per source file.
type fileResult struct {
	Source  model.SourceFile
	OK      bool
	NoData  bool
	Records int
	Stage   string
	Err     error
}

// runWorker processes files from jobs until it closes or ctx is cancelled.
// The file in hand when ctx is cancelled is still finished.
func (p *Pipeline) runWorker(ctx context.Context, jobs <-chan model.SourceFile, batches chan<- Batch, results chan<- fileResult, logger *slog.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case f, ok := <-jobs:
			if !ok {
				return
			}
			recs, stage, err := p.processFile(f, logger)
			switch {
			case err != nil:
				logger.Error("file fail", "path", f.Path, "stage", stage, "error", err)
				results <- fileResult{Source: f, Stage: stage, Err: err}
			case len(recs) == 0:
				logger.Info("file has no data", "path", f.Path, "instrument", f.InstrumentID)
				results <- fileResult{Source: f, OK: true, NoData: true}
			default:
				batches <- Batch{Source: f, Records: recs}
			}
		}
	}
}

// processFile decodes one file, drops records before the cutoff and sorts the
// rest. A file with records of which none decode is an ErrCorrupt failure; an
// empty file or one emptied by the cutoff returns no records and no error.
// Panics are turned into errors so one file cannot stop a worker.
func (p *Pipeline) processFile(f model.SourceFile, logger *slog.Logger) (recs []model.QuoteRecord, stage string, err error) {
	stage = StageRead
	defer func() {
		if r := recover(); r != nil {
			recs = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, stage, err
	}
	stage = StageDecode
	dec, err := tdx.DecodeFile(data)
	if err != nil {
		return nil, stage, err
	}
	if dec.Total > 0 && len(dec.Records) == 0 {
		return nil, stage, fmt.Errorf("%w: all %d records undecodable (unknown_layout=%d malformed=%d)", ErrCorrupt, dec.Total, dec.Unknown, dec.Malformed)
	}
	if n := dec.Anomalies(); n > 0 {
		logger.Warn("records skipped", "path", f.Path, "skipped", n, "unknown_layout", dec.Unknown, "malformed", dec.Malformed, "total", dec.Total)
	}
	logger.Debug("file decoded", "path", f.Path, "instrument", f.InstrumentID, "records", len(dec.Records), "layouts", dec.Layouts)

	recs = dec.Records
	if !p.opts.MinDate.IsZero() {
		kept := recs[:0]
		for _, r := range recs {
			if !r.Date.Before(p.opts.MinDate) {
				kept = append(kept, r)
			}
		}
		recs = kept
	}
	return model.SortAndDedupe(recs), stage, nil
}
