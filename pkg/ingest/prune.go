package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/Zerofisher/pcapcatalog/pkg/model"
	"github.com/Zerofisher/pcapcatalog/pkg/status"
	"github.com/Zerofisher/pcapcatalog/pkg/store"
)

// StartPrune runs Prune in the background.
func (s *Scanner) StartPrune(ctx context.Context) (status.Snapshot, error) {
	runCtx, snap, err := s.tracker.Begin(ctx)
	if err != nil {
		return snap, err
	}
	s.wg.Go(func() {
		if _, err := s.prune(ctx, runCtx); err != nil {
			s.logger.Error("prune failed", "error", err)
		}
	})
	return snap, nil
}

// Prune removes records whose file no longer exists, or whose file changed
// size since it was indexed, together with their protocol memberships.
// It holds the scan tracker so it never races a scan. Autocomplete names
// are left alone.
func (s *Scanner) Prune(ctx context.Context) (*model.PruneResult, error) {
	runCtx, _, err := s.tracker.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return s.prune(ctx, runCtx)
}

func (s *Scanner) prune(ctx, runCtx context.Context) (*model.PruneResult, error) {
	res := &model.PruneResult{}
	s.tracker.SetMessage("Reconciling index with the filesystem...")

	fail := func(err error) (*model.PruneResult, error) {
		s.tracker.Finish(status.StateFailed, err.Error())
		return nil, err
	}

	ids, err := s.deps.Store.RecordIDs(ctx)
	if err != nil {
		return fail(fmt.Errorf("list records: %w", err))
	}

	for start := 0; start < len(ids); start += recordBatchSize {
		end := min(start+recordBatchSize, len(ids))
		recs, err := s.deps.Store.GetRecords(ctx, ids[start:end])
		if err != nil {
			return fail(fmt.Errorf("load records: %w", err))
		}

		for _, rec := range recs {
			if runCtx.Err() != nil {
				res.Cancelled = true
				msg := fmt.Sprintf("Reconciliation cancelled. Removed %d records.", res.Removed)
				s.tracker.Finish(status.StateCancelled, msg)
				return res, nil
			}
			if rec == nil {
				continue
			}
			res.Checked++

			gone, err := vanished(rec)
			if err != nil {
				res.Failed++
				s.tracker.Progress(func(c *status.Counters) {
					c.Processed++
					c.Failed++
				})
				s.logger.Warn("cannot check capture", "id", rec.ID, "path", rec.Path, "error", err)
				continue
			}
			if !gone {
				s.tracker.Progress(func(c *status.Counters) { c.Processed++ })
				continue
			}

			if err := s.deps.Store.Update(ctx, func(b store.Batch) error {
				b.DeleteRecord(rec.ID)
				for _, p := range rec.Protocols {
					b.UnindexProtocol(p, rec.ID)
				}
				return nil
			}); err != nil {
				return fail(fmt.Errorf("remove %s: %w", rec.ID, err))
			}
			res.Removed++
			s.tracker.Progress(func(c *status.Counters) {
				c.Processed++
				c.Removed++
			})
			s.logger.Info("removed record of vanished capture", "id", rec.ID, "path", rec.Path)
		}
	}

	msg := fmt.Sprintf("Reconciliation completed. Checked %d records, removed %d.", res.Checked, res.Removed)
	s.tracker.Finish(status.StateCompleted, msg)
	s.logger.Info("prune completed", "checked", res.Checked, "removed", res.Removed)
	return res, nil
}

// vanished reports whether the file behind rec disappeared or changed size.
func vanished(rec *model.CaptureRecord) (bool, error) {
	info, err := os.Stat(rec.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return info.Size() != rec.SizeBytes, nil
}
