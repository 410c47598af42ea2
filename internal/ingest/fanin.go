package ingest

import (
	"errors"
	"log/slog"
	"sort"
	"time"

	"tdx-data/internal/model"
	"tdx-data/internal/scan"
	"tdx-data/internal/state"
)

var errMergeLost = errors.New("series lost in merge")

// collector is the single consumer of file results. It owns the counters,
// commits fingerprints to the state and writes the error sink.
type collector struct {
	tracker *state.Tracker
	sink    *ErrorSink
	events  chan<- Event
	logger  *slog.Logger
	total   int
	start   time.Time

	index      int
	ingested   int
	noData     int
	errors     int
	mergeLost  int
	successIDs map[string]struct{}
	failed     []failedEntry
}

func (c *collector) run(results <-chan fileResult) {
	for r := range results {
		c.handle(r)
	}
}

func (c *collector) handle(r fileResult) {
	c.index++
	switch {
	case r.OK:
		if r.NoData {
			c.noData++
		} else {
			c.ingested++
			c.successIDs[r.Source.InstrumentID] = struct{}{}
		}
		if r.Source.Fingerprint != "" {
			c.tracker.Record(r.Source.Fingerprint, state.Entry{
				Path:         r.Source.Path,
				InstrumentID: r.Source.InstrumentID,
				IngestedAt:   time.Now().UTC(),
				RecordCount:  r.Records,
			})
		}
	default:
		c.errors++
		if r.Stage == StageMerge {
			c.mergeLost++
		}
		msg := "unknown error"
		if r.Err != nil {
			msg = r.Err.Error()
		}
		c.failed = append(c.failed, failedEntry{Path: r.Source.Path, Stage: r.Stage, Reason: msg})
		if c.sink != nil {
			if _, err := c.sink.Write(ErrorRecord{
				SourcePath:   r.Source.Path,
				InstrumentID: r.Source.InstrumentID,
				Stage:        r.Stage,
				Message:      msg,
			}); err != nil {
				c.logger.Warn("error sink write failed", "path", r.Source.Path, "error", err)
			}
		}
	}

	select {
	case c.events <- Event{Index: c.index, Total: c.total, Start: c.start, Success: r.OK}:
	default:
	}
}

func (c *collector) successList() []string {
	ids := make([]string, 0, len(c.successIDs))
	for id := range c.successIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// commitResults turns one writer commit into per-file results.
func commitResults(cm Commit) []fileResult {
	out := make([]fileResult, 0, len(cm.Sources))
	for _, b := range cm.Sources {
		if cm.Written {
			out = append(out, fileResult{Source: b.Source, OK: true, Records: len(b.Records)})
			continue
		}
		out = append(out, fileResult{Source: b.Source, Stage: StageMerge, Err: cm.Err})
	}
	return out
}

func rejectedResult(r scan.Rejected) fileResult {
	return fileResult{Source: model.SourceFile{Path: r.Path, InstrumentID: r.InstrumentID}, Stage: StageScan, Err: r}
}
