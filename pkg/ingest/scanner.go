package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Zerofisher/pcapcatalog/capture"
	"github.com/Zerofisher/pcapcatalog/pkg/model"
	"github.com/Zerofisher/pcapcatalog/pkg/status"
	"github.com/Zerofisher/pcapcatalog/pkg/store"
)

// errStopWalk ends a walk early after the run context was cancelled.
var errStopWalk = errors.New("walk stopped")

// ScanOptions scopes one scan.
type ScanOptions struct {
	// TargetFolder restricts the scan to files below a directory with this name.
	TargetFolder string
	// Exclude lists file names (exact match) to skip.
	Exclude []string
	// BaseURL prefixes download links when Config.BaseURL is empty,
	// e.g. the address an API request came in on.
	BaseURL string
}

// Scanner indexes capture files found under the configured root.
type Scanner struct {
	cfg     Config
	deps    Deps
	exts    map[string]bool
	tracker *status.Tracker
	logger  *slog.Logger
	now     func() time.Time

	// wg tracks passes started in the background.
	wg sync.WaitGroup
}

// NewScanner creates a scanner with its own single-flight tracker.
func NewScanner(cfg Config, deps Deps) (*Scanner, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	return &Scanner{
		cfg:     cfg,
		deps:    deps,
		exts:    extensionSet(cfg.Extensions),
		tracker: status.NewTracker("scan"),
		logger:  deps.Logger.With("component", "scanner"),
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Config returns the scanner configuration.
func (s *Scanner) Config() Config {
	return s.cfg
}

// Status returns a snapshot of the current or most recent scan.
func (s *Scanner) Status() status.Snapshot {
	return s.tracker.Snapshot()
}

// Running reports whether a scan or prune pass is in progress.
func (s *Scanner) Running() bool {
	return s.tracker.Running()
}

// Cancel asks the running scan to stop before its next file.
func (s *Scanner) Cancel() error {
	if err := s.tracker.Cancel(); err != nil {
		return err
	}
	s.logger.Info("scan cancellation requested")
	return nil
}

// Start launches a scan in the background and returns its initial snapshot.
// ctx must outlive the scan; it is not a request context.
func (s *Scanner) Start(ctx context.Context, opts ScanOptions) (status.Snapshot, error) {
	runCtx, snap, err := s.begin(ctx)
	if err != nil {
		return snap, err
	}
	s.wg.Go(func() {
		if _, err := s.scan(ctx, runCtx, opts); err != nil {
			s.logger.Error("scan failed", "error", err)
		}
	})
	return snap, nil
}

// Run scans synchronously. It returns status.ErrBusy when another scan or
// prune pass holds the tracker.
func (s *Scanner) Run(ctx context.Context, opts ScanOptions) (*model.ScanResult, error) {
	runCtx, _, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	return s.scan(ctx, runCtx, opts)
}

// begin admits a scan. A missing root fails the admitted run, so the
// failure shows up in Status as well as in the returned error.
func (s *Scanner) begin(ctx context.Context) (context.Context, status.Snapshot, error) {
	runCtx, snap, err := s.tracker.Begin(ctx)
	if err != nil {
		return nil, snap, err
	}
	if err := checkRoot(s.cfg.Root); err != nil {
		snap = s.tracker.Finish(status.StateFailed, err.Error())
		s.logger.Error("scan failed", "root", s.cfg.Root, "error", err)
		return nil, snap, err
	}
	return runCtx, snap, nil
}

// Wait blocks until passes started with Start or StartPrune have returned,
// or ctx is done.
func (s *Scanner) Wait(ctx context.Context) error {
	return waitGroup(ctx, &s.wg)
}

// scan walks the tree. runCtx is polled before each file; extraction and
// store calls run under ctx.
func (s *Scanner) scan(ctx, runCtx context.Context, opts ScanOptions) (*model.ScanResult, error) {
	root := s.cfg.Root
	res := &model.ScanResult{}
	seen := make(map[string]bool)
	base := s.cfg.BaseURL
	if base == "" {
		base = strings.TrimRight(opts.BaseURL, "/")
	}
	matched := opts.TargetFolder == ""

	exclude := make(map[string]bool, len(opts.Exclude))
	for _, name := range opts.Exclude {
		exclude[name] = true
	}

	s.tracker.SetMessage("Scanning in progress...")
	s.logger.Info("scan started", "root", root, "target_folder", opts.TargetFolder,
		"mode", s.cfg.Scan.Mode, "config_version", s.cfg.Scan.ConfigVersion)

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return errors.Join(ErrDirectoryNotFound, err)
			}
			s.logger.Warn("skipping unreadable entry", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if opts.TargetFolder != "" && path != root && d.Name() == opts.TargetFolder {
				matched = true
			}
			return nil
		}
		if !d.Type().IsRegular() || !s.exts[extLower(d.Name())] || exclude[d.Name()] {
			return nil
		}
		if opts.TargetFolder != "" && !inFolder(root, filepath.Dir(path), opts.TargetFolder) {
			return nil
		}

		if runCtx.Err() != nil {
			return errStopWalk
		}
		return s.indexFile(ctx, path, base, seen, res)
	})

	switch {
	case errors.Is(walkErr, errStopWalk):
		res.Status = model.ScanCancelled
		res.Message = fmt.Sprintf("Scan cancelled by user. Indexed %d files.", res.IndexedFiles)
		s.tracker.Finish(status.StateCancelled, res.Message)
		s.logger.Info("scan cancelled", "indexed_files", res.IndexedFiles)
		return res, nil

	case walkErr != nil:
		s.tracker.Finish(status.StateFailed, walkErr.Error())
		return nil, walkErr

	case !matched:
		res.Status = model.ScanNoMatchingFolder
		res.Message = fmt.Sprintf("No folder named '%s' found.", opts.TargetFolder)
		s.tracker.Finish(status.StateCompleted, res.Message)
		s.logger.Warn("no matching folder", "target_folder", opts.TargetFolder, "root", root)
		return res, nil
	}

	res.Status = model.ScanCompleted
	res.Message = fmt.Sprintf("Completed successfully. Indexed %d files.", res.IndexedFiles)
	s.tracker.Finish(status.StateCompleted, res.Message)
	s.logger.Info("scan completed", "indexed_files", res.IndexedFiles, "relocated", res.Relocated,
		"skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}

// indexFile handles one capture. Per-file problems are counted and logged;
// only store errors and cancellation are returned.
func (s *Scanner) indexFile(ctx context.Context, path, base string, seen map[string]bool, res *model.ScanResult) error {
	info, err := os.Stat(path)
	if err != nil {
		s.fail(res, "stat failed", path, "", err)
		return nil
	}

	id, err := s.deps.Identifier.Identify(path)
	if err != nil {
		s.fail(res, "hash failed", path, "", err)
		return nil
	}
	if seen[id] {
		s.logger.Debug("duplicate content in this run", "path", path, "id", id)
		s.count(func(c *status.Counters) { c.Skipped++ })
		res.Skipped++
		return nil
	}
	seen[id] = true

	existing, err := s.deps.Store.GetRecord(ctx, id)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", id, err)
	}

	size := info.Size()
	if existing != nil && existing.SizeBytes == size && !s.cfg.Scan.IsStale(existing) {
		return s.relocate(ctx, existing, path, base, res)
	}

	mode := s.cfg.Scan.ModeFor(size)
	ext, err := s.deps.Extractor.Extract(ctx, path, capture.ExtractOptions{
		Mode:         mode,
		PacketBudget: s.cfg.Scan.PacketBudget,
	})
	if err != nil {
		if ctx.Err() != nil {
			return errStopWalk
		}
		s.fail(res, "extraction failed", path, id, err)
		return nil
	}

	rec := &model.CaptureRecord{
		ID:                 id,
		Filename:           filepath.Base(path),
		Path:               path,
		SizeBytes:          size,
		DownloadURL:        model.DownloadURL(base, id),
		ExtractionMode:     mode,
		IndexConfigVersion: s.cfg.Scan.ConfigVersion,
		Truncated:          ext.Truncated,
		IndexedAt:          s.now(),
	}
	rec.SetCounts(ext.Protocols, ext.Counts)

	if err := s.deps.Store.Update(ctx, func(b store.Batch) error {
		indexBatch(b, rec, existing)
		return nil
	}); err != nil {
		return fmt.Errorf("write %s: %w", id, err)
	}

	res.IndexedFiles++
	s.count(func(c *status.Counters) { c.Indexed++ })
	s.logger.Debug("indexed", "path", path, "id", id, "mode", mode,
		"protocols", len(rec.Protocols), "truncated", rec.Truncated)
	return nil
}

// relocate handles an up-to-date record. When the recorded path is gone the
// record follows the file to its new location; otherwise nothing is written.
func (s *Scanner) relocate(ctx context.Context, existing *model.CaptureRecord, path, base string, res *model.ScanResult) error {
	if existing.Path == path || fileExists(existing.Path) {
		res.Skipped++
		s.count(func(c *status.Counters) { c.Skipped++ })
		return nil
	}

	rec := existing.Clone()
	rec.Path = path
	rec.Filename = filepath.Base(path)
	rec.DownloadURL = model.DownloadURL(base, rec.ID)
	if err := s.deps.Store.Update(ctx, func(b store.Batch) error {
		b.PutRecord(rec)
		return nil
	}); err != nil {
		return fmt.Errorf("relocate %s: %w", rec.ID, err)
	}

	res.Relocated++
	s.count(func(c *status.Counters) { c.Relocated++ })
	s.logger.Info("record relocated", "id", rec.ID, "from", existing.Path, "to", path)
	return nil
}

func (s *Scanner) fail(res *model.ScanResult, msg, path, id string, err error) {
	res.Failed++
	s.count(func(c *status.Counters) { c.Failed++ })
	if id != "" {
		s.logger.Warn(msg, "path", path, "id", id, "error", err)
		return
	}
	s.logger.Warn(msg, "path", path, "error", err)
}

func (s *Scanner) count(fn func(c *status.Counters)) {
	s.tracker.Progress(func(c *status.Counters) {
		c.Processed++
		fn(c)
	})
}

func extLower(name string) string {
	return strings.ToLower(filepath.Ext(name))
}
