package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/Zerofisher/pcapcatalog/capture"
	"github.com/Zerofisher/pcapcatalog/pkg/model"
	"github.com/Zerofisher/pcapcatalog/pkg/status"
	"github.com/Zerofisher/pcapcatalog/pkg/store"
)

// Backfiller computes total_packet_count for every record in the catalog.
type Backfiller struct {
	deps    Deps
	tracker *status.Tracker
	logger  *slog.Logger
	now     func() time.Time

	wg sync.WaitGroup
}

// NewBackfiller creates a backfiller with its own single-flight tracker.
func NewBackfiller(deps Deps) (*Backfiller, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	return &Backfiller{
		deps:    deps,
		tracker: status.NewTracker("backfill"),
		logger:  deps.Logger.With("component", "backfill"),
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Status returns a snapshot of the current or most recent backfill.
func (b *Backfiller) Status() status.Snapshot {
	return b.tracker.Snapshot()
}

// Cancel asks the running backfill to stop before its next record.
func (b *Backfiller) Cancel() error {
	return b.tracker.Cancel()
}

// Start launches a backfill in the background.
func (b *Backfiller) Start(ctx context.Context) (status.Snapshot, error) {
	runCtx, snap, err := b.tracker.Begin(ctx)
	if err != nil {
		return snap, err
	}
	b.wg.Go(func() {
		if _, err := b.run(ctx, runCtx); err != nil {
			b.logger.Error("backfill failed", "error", err)
		}
	})
	return snap, nil
}

// Wait blocks until a backfill started with Start has returned, or ctx is done.
func (b *Backfiller) Wait(ctx context.Context) error {
	return waitGroup(ctx, &b.wg)
}

// Run backfills synchronously.
func (b *Backfiller) Run(ctx context.Context) (*model.BackfillResult, error) {
	runCtx, _, err := b.tracker.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return b.run(ctx, runCtx)
}

func (b *Backfiller) run(ctx, runCtx context.Context) (*model.BackfillResult, error) {
	res := &model.BackfillResult{}
	b.tracker.SetMessage("Backfilling total packet counts...")

	fail := func(err error) (*model.BackfillResult, error) {
		b.tracker.Finish(status.StateFailed, err.Error())
		return nil, err
	}

	ids, err := b.deps.Store.RecordIDs(ctx)
	if err != nil {
		return fail(fmt.Errorf("list records: %w", err))
	}
	b.logger.Info("backfill started", "records", len(ids))

	for _, id := range ids {
		if runCtx.Err() != nil {
			res.Cancelled = true
			msg := fmt.Sprintf("Backfill cancelled. Updated %d records.", res.Updated)
			b.tracker.Finish(status.StateCancelled, msg)
			return res, nil
		}

		rec, err := b.deps.Store.GetRecord(ctx, id)
		if err != nil {
			return fail(fmt.Errorf("load %s: %w", id, err))
		}
		if rec == nil {
			continue
		}
		res.Processed++

		out, err := b.backfillRecord(ctx, rec)
		if err != nil {
			return fail(err)
		}
		if out.updated {
			res.Updated++
		}
		if out.reextracted {
			res.Reextracted++
		}
		if out.fallback {
			res.Failed++
		}
		b.tracker.Progress(func(c *status.Counters) {
			c.Processed++
			if out.updated {
				c.Updated++
			} else {
				c.Skipped++
			}
			if out.reextracted {
				c.Reextracted++
			}
			if out.fallback {
				c.Failed++
			}
		})
	}

	msg := fmt.Sprintf("Backfill completed. Updated %d of %d records.", res.Updated, res.Processed)
	b.tracker.Finish(status.StateCompleted, msg)
	b.logger.Info("backfill completed", "processed", res.Processed, "updated", res.Updated,
		"reextracted", res.Reextracted, "failed", res.Failed)
	return res, nil
}

type backfillOutcome struct {
	updated     bool
	reextracted bool
	// fallback is set when a truncated record could not be re-extracted
	// and its total was summed from the quick counts instead.
	fallback bool
}

// backfillRecord writes the total of one record. Truncated quick extractions
// are redone in full when the file is still there with the same content;
// everything else sums the stored counts. A record a scan re-indexed after
// rec was read is left to the scan. Only store errors are returned.
func (b *Backfiller) backfillRecord(ctx context.Context, rec *model.CaptureRecord) (backfillOutcome, error) {
	var out backfillOutcome
	if rec.ExtractionMode == model.ModeQuick && rec.Truncated {
		full, err := b.reextract(ctx, rec)
		if err == nil {
			current, err := b.deps.Store.GetRecord(ctx, rec.ID)
			if err != nil {
				return out, fmt.Errorf("load %s: %w", rec.ID, err)
			}
			if current == nil || !current.IndexedAt.Equal(rec.IndexedAt) {
				b.logger.Debug("record re-indexed during backfill", "id", rec.ID, "path", rec.Path)
				return out, nil
			}
			if err := b.deps.Store.Update(ctx, func(batch store.Batch) error {
				indexBatch(batch, full, current)
				return nil
			}); err != nil {
				return out, fmt.Errorf("write %s: %w", rec.ID, err)
			}
			return backfillOutcome{updated: true, reextracted: true}, nil
		}
		out.fallback = true
		b.logger.Warn("full re-extraction failed, summing quick counts", "id", rec.ID, "path", rec.Path, "error", err)
	}

	total := rec.SumCounts()
	if rec.TotalPacketCount != nil && *rec.TotalPacketCount == total {
		return out, nil
	}
	if err := b.deps.Store.Update(ctx, func(batch store.Batch) error {
		batch.SetTotalPacketCount(rec.ID, total, rec.IndexedAt)
		return nil
	}); err != nil {
		return out, fmt.Errorf("write %s: %w", rec.ID, err)
	}
	out.updated = true
	return out, nil
}

func (b *Backfiller) reextract(ctx context.Context, rec *model.CaptureRecord) (*model.CaptureRecord, error) {
	info, err := os.Stat(rec.Path)
	if err != nil {
		return nil, err
	}
	id, err := b.deps.Identifier.Identify(rec.Path)
	if err != nil {
		return nil, err
	}
	if id != rec.ID {
		return nil, fmt.Errorf("content changed since indexing")
	}

	ext, err := b.deps.Extractor.Extract(ctx, rec.Path, capture.ExtractOptions{Mode: model.ModeFull})
	if err != nil {
		return nil, err
	}

	full := rec.Clone()
	full.SizeBytes = info.Size()
	full.ExtractionMode = model.ModeFull
	full.Truncated = false
	full.IndexedAt = b.now()
	full.SetCounts(ext.Protocols, ext.Counts)
	total := full.SumCounts()
	full.TotalPacketCount = &total
	return full, nil
}
