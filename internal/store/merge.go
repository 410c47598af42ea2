package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"tdx-data/internal/model"
)

// MergeResult reports what one Merge did.
type MergeResult struct {
	Written  []string
	Lost     []string
	Locked   bool
	Fallback bool
}

// Merge replaces the stored series of every instrument in batch. The previous
// series of an id is dropped entirely, never combined.
//
// All series are staged to temp files first and renamed into place only when
// every one staged. If staging fails, only the first instrument (in sorted
// order) is written and the rest are reported lost. Without the lock the merge
// still runs; Locked is false in that case.
func (s *Store) Merge(ctx context.Context, batch map[string][]model.QuoteRecord) (MergeResult, error) {
	ids := make([]string, 0, len(batch))
	for id, recs := range batch {
		if len(recs) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	var res MergeResult
	if len(ids) == 0 {
		return res, nil
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		res.Lost = ids
		return res, fmt.Errorf("create store: %w", err)
	}

	lock, err := AcquireLock(ctx, s.lockPath, s.lockOpts)
	switch {
	case err == nil:
		res.Locked = true
		defer func() {
			if err := lock.Release(); err != nil {
				s.logger.Warn("release lock", "path", s.lockPath, "error", err)
			}
		}()
		s.sweepTemps()
	case errors.Is(err, ErrLockHeld):
		owner, _ := LockOwner(s.lockPath)
		s.logger.Warn("store lock not acquired, merging without it", "path", s.lockPath, "owner_pid", owner, "series", len(ids))
	default:
		res.Lost = ids
		return res, err
	}

	staged, err := s.stageAll(ids, batch)
	if err != nil {
		s.logger.Warn("staging failed, falling back to first series", "error", err)
		res.Fallback = true
		first := ids[0]
		res.Lost = append(res.Lost, ids[1:]...)
		tmp, err := s.stage(first, batch[first])
		if err != nil {
			res.Lost = ids
			return res, fmt.Errorf("fallback write %s: %w", first, err)
		}
		staged = map[string]string{first: tmp}
		ids = ids[:1]
	}

	for i, id := range ids {
		if err := os.Rename(staged[id], s.seriesPath(id)); err != nil {
			for _, rest := range ids[i:] {
				os.Remove(staged[rest])
			}
			res.Lost = append(res.Lost, ids[i:]...)
			sort.Strings(res.Lost)
			syncDir(s.dir)
			if len(res.Written) == 0 {
				return res, fmt.Errorf("replace %s: %w", id, err)
			}
			s.logger.Error("replace series", "instrument", id, "error", err)
			return res, nil
		}
		res.Written = append(res.Written, id)
	}
	if err := syncDir(s.dir); err != nil {
		s.logger.Warn("sync store dir", "error", err)
	}
	return res, nil
}

func (s *Store) stageAll(ids []string, batch map[string][]model.QuoteRecord) (map[string]string, error) {
	staged := make(map[string]string, len(ids))
	for _, id := range ids {
		tmp, err := s.stage(id, batch[id])
		if err != nil {
			for _, p := range staged {
				os.Remove(p)
			}
			return nil, fmt.Errorf("stage %s: %w", id, err)
		}
		staged[id] = tmp
	}
	return staged, nil
}

func (s *Store) stage(id string, records []model.QuoteRecord) (string, error) {
	tmp := filepath.Join(s.dir, tempPrefix+id+"-"+uuid.NewString()+"."+s.saver.Extension())
	series := model.Series{InstrumentID: id, Records: model.SortAndDedupe(records)}
	if err := s.saver.Save(series, tmp); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}

// sweepTemps removes temp files left by an interrupted writer. Only called
// while holding the lock.
func (s *Store) sweepTemps() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), tempPrefix) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err == nil {
			s.logger.Debug("removed stale temp", "file", e.Name())
		}
	}
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
