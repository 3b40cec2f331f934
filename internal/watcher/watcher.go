// Package watcher re-indexes folders of the capture tree as new captures
// land in them.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Zerofisher/pcapcatalog/pkg/ingest"
	"github.com/Zerofisher/pcapcatalog/pkg/model"
	"github.com/Zerofisher/pcapcatalog/pkg/status"
)

// ScanRunner is the part of ingest.Scanner the watcher drives.
type ScanRunner interface {
	Run(ctx context.Context, opts ingest.ScanOptions) (*model.ScanResult, error)
}

// Config controls the watcher.
type Config struct {
	Root string
	// Debounce coalesces bursts of events. Defaults to 2s.
	Debounce time.Duration
	// Extensions of files that trigger a scan. Defaults to ingest.DefaultExtensions.
	Extensions []string
	// Exclude is passed to every scan.
	Exclude []string
}

// Service watches the capture tree and runs targeted scans.
type Service struct {
	runner ScanRunner
	cfg    Config
	logger *slog.Logger

	watcher *fsnotify.Watcher

	// pending folder names; full marks a pending scan of the whole tree.
	pending map[string]struct{}
	full    bool
}

// New creates a watcher service.
func New(runner ScanRunner, cfg Config, logger *slog.Logger) *Service {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 2 * time.Second
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = ingest.DefaultExtensions
	}
	exts := make([]string, len(cfg.Extensions))
	for i, ext := range cfg.Extensions {
		exts[i] = strings.ToLower(ext)
	}
	cfg.Extensions = exts

	return &Service{
		runner:  runner,
		cfg:     cfg,
		logger:  logger.With("component", "fs-watcher"),
		pending: make(map[string]struct{}),
	}
}

// Start blocks until ctx is canceled.
func (s *Service) Start(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close() //nolint:errcheck
	s.watcher = w

	if err := s.addTree(s.cfg.Root); err != nil {
		return err
	}
	s.logger.Info("filesystem watcher starting", "root", s.cfg.Root)

	// Starts stopped; reset on each relevant event.
	debounceTimer := time.NewTimer(0)
	if !debounceTimer.Stop() {
		<-debounceTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("filesystem watcher stopping")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if s.handleEvent(ev) {
				resetTimer(debounceTimer, s.cfg.Debounce)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("fsnotify error", "error", err)

		case <-debounceTimer.C:
			if !s.flush(ctx) {
				resetTimer(debounceTimer, s.cfg.Debounce)
			}
		}
	}
}

// handleEvent records the folder an event touches. It reports whether a
// scan became pending.
func (s *Service) handleEvent(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return false
	}

	info, err := os.Stat(ev.Name)
	if err != nil {
		return false
	}

	if info.IsDir() {
		if !ev.Has(fsnotify.Create) {
			return false
		}
		// Files copied in with the directory produce no events of their own.
		if err := s.addTree(ev.Name); err != nil {
			s.logger.Warn("failed to watch new directory", "path", ev.Name, "error", err)
		}
		s.queue(ev.Name)
		return true
	}

	if !slices.Contains(s.cfg.Extensions, strings.ToLower(filepath.Ext(ev.Name))) {
		return false
	}
	s.queue(filepath.Dir(ev.Name))
	return true
}

func (s *Service) queue(dir string) {
	if filepath.Clean(dir) == filepath.Clean(s.cfg.Root) {
		s.full = true
		return
	}
	s.pending[filepath.Base(dir)] = struct{}{}
}

// flush runs the pending scans. It returns false when the scanner was busy
// and work is left for the next tick.
func (s *Service) flush(ctx context.Context) bool {
	if s.full {
		if !s.run(ctx, "") {
			return false
		}
		s.full = false
		clear(s.pending)
		return true
	}

	folders := make([]string, 0, len(s.pending))
	for f := range s.pending {
		folders = append(folders, f)
	}
	sort.Strings(folders)

	for _, folder := range folders {
		if !s.run(ctx, folder) {
			return false
		}
		delete(s.pending, folder)
	}
	return true
}

func (s *Service) run(ctx context.Context, folder string) bool {
	res, err := s.runner.Run(ctx, ingest.ScanOptions{TargetFolder: folder, Exclude: s.cfg.Exclude})
	switch {
	case errors.Is(err, status.ErrBusy):
		s.logger.Debug("scanner busy, keeping folder pending", "folder", folder)
		return false
	case err != nil:
		// Dropped: a retry would hit the same error until the tree changes again.
		s.logger.Error("watch-triggered scan failed", "folder", folder, "error", err)
		return true
	}
	s.logger.Info("watch-triggered scan finished",
		"folder", folder,
		"status", res.Status,
		"indexed", res.IndexedFiles)
	return true
}

// addTree watches dir and every directory below it.
func (s *Service) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			s.logger.Warn("skipping unreadable directory", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := s.watcher.Add(path); err != nil {
			s.logger.Warn("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
