// Package scheduler triggers catalog scans: once at startup when the index
// is empty, then periodically.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Zerofisher/pcapcatalog/pkg/ingest"
	"github.com/Zerofisher/pcapcatalog/pkg/status"
	"github.com/Zerofisher/pcapcatalog/pkg/store"
)

// ScanStarter is the part of ingest.Scanner the scheduler drives.
type ScanStarter interface {
	Running() bool
	Start(ctx context.Context, opts ingest.ScanOptions) (status.Snapshot, error)
}

// Config controls scheduling.
type Config struct {
	// Interval between periodic scans. <= 0 disables them.
	Interval time.Duration
	// InitialScan starts a scan at startup when the index holds no records.
	InitialScan bool
	// Options are passed to every scheduled scan.
	Options ingest.ScanOptions
}

// Scheduler starts scans on a timer. It never queues a scan behind a running
// one and never interrupts one.
type Scheduler struct {
	scanner ScanStarter
	store   store.Store
	cfg     Config
	logger  *slog.Logger
}

// New creates a scheduler.
func New(scanner ScanStarter, st store.Store, cfg Config, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		scanner: scanner,
		store:   st,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "scan-scheduler")),
	}
}

// Start blocks until ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	if s.cfg.InitialScan {
		s.initialScan(ctx)
	}

	if s.cfg.Interval <= 0 {
		s.logger.Info("periodic scans disabled")
		<-ctx.Done()
		return
	}

	s.logger.Info("scan scheduler started", "interval", s.cfg.Interval.String())
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scan scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) initialScan(ctx context.Context) {
	ids, err := s.store.RecordIDs(ctx)
	if err != nil {
		s.logger.Error("initial scan check failed", "error", err)
		return
	}
	if len(ids) > 0 {
		s.logger.Info("index populated, skipping initial scan", "records", len(ids))
		return
	}
	s.logger.Info("index empty, starting initial scan")
	s.start(ctx)
}

// tick starts a scan unless one is already running.
func (s *Scheduler) tick(ctx context.Context) bool {
	if s.scanner.Running() {
		s.logger.Debug("scan already running, skipping scheduled scan")
		return false
	}
	return s.start(ctx)
}

func (s *Scheduler) start(ctx context.Context) bool {
	snap, err := s.scanner.Start(ctx, s.cfg.Options)
	switch {
	case errors.Is(err, status.ErrBusy):
		s.logger.Debug("scan already running, skipping scheduled scan")
		return false
	case err != nil:
		s.logger.Error("scheduled scan failed to start", "error", err)
		return false
	}
	s.logger.Info("scheduled scan started", "scan_id", snap.ID)
	return true
}
