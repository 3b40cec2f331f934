// Package app provides application-level orchestration for pcapcatalog.
// It turns a loaded configuration into a ready-to-use set of engines that the
// CLI commands and the HTTP server share.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Zerofisher/pcapcatalog/capture"
	"github.com/Zerofisher/pcapcatalog/internal/config"
	"github.com/Zerofisher/pcapcatalog/internal/logging"
	"github.com/Zerofisher/pcapcatalog/pkg/hashing"
	"github.com/Zerofisher/pcapcatalog/pkg/ingest"
	"github.com/Zerofisher/pcapcatalog/pkg/query"
	"github.com/Zerofisher/pcapcatalog/pkg/store"
	"github.com/Zerofisher/pcapcatalog/pkg/store/memory"
	"github.com/Zerofisher/pcapcatalog/pkg/store/redis"
	"github.com/Zerofisher/pcapcatalog/pkg/store/sqlite"
)

// CloseTimeout bounds how long Close waits for background passes.
var CloseTimeout = 10 * time.Second

// App holds the wired engines of one catalog process.
type App struct {
	Config *config.Config
	Logger *slog.Logger
	Store  store.Store

	Scanner    *ingest.Scanner
	Backfiller *ingest.Backfiller
	Search     *query.SearchEngine
	Suggest    *query.Suggester

	// Logs is nil when Options.Logger was supplied.
	Logs *logging.Manager
}

// Options overrides collaborators, mainly for tests.
type Options struct {
	// Store replaces the configured backend when set. App.Close closes it.
	Store store.Store
	// Extractor replaces the gopacket file extractor when set.
	Extractor capture.Extractor
	// Logger replaces the configured logger when set.
	Logger *slog.Logger
}

// OpenStore opens the index store selected by cfg.Store.Backend.
func OpenStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendRedis:
		st, err := redis.New(redis.Config{
			URL:      cfg.Store.Redis.URL,
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		return st, nil
	case config.BackendSQLite:
		st, err := sqlite.New(sqlite.Config{
			DBPath: cfg.Store.SQLite.Path,
			WAL:    cfg.Store.SQLite.WAL,
		})
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return st, nil
	case config.BackendMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// New wires an App from cfg.
func New(cfg *config.Config, opts Options) (*App, error) {
	a := &App{Config: cfg, Logger: opts.Logger}
	if a.Logger == nil {
		a.Logs, a.Logger = logging.NewManager(cfg.Logging)
	}

	st := opts.Store
	if st == nil {
		var err error
		if st, err = OpenStore(cfg); err != nil {
			a.closeLogs()
			return nil, err
		}
	}
	a.Store = st

	if err := a.build(opts.Extractor); err != nil {
		a.Close()
		return nil, err
	}

	a.Logger.Info("catalog ready",
		"backend", cfg.Store.Backend,
		"root", cfg.PcapDirectory,
		"scan_mode", cfg.Scan.Mode)
	return a, nil
}

func (a *App) build(extractor capture.Extractor) error {
	cfg := a.Config

	identifier, err := hashing.New(cfg.Scan.Hash)
	if err != nil {
		return err
	}

	deps := ingest.Deps{
		Store:      a.Store,
		Identifier: identifier,
		Extractor:  extractor,
		Logger:     a.Logger,
	}

	a.Scanner, err = ingest.NewScanner(ingest.Config{
		Root:       cfg.PcapDirectory,
		BaseURL:    cfg.PublicBaseURL,
		Extensions: cfg.Scan.Extensions,
		Scan:       cfg.ScanPolicy(),
	}, deps)
	if err != nil {
		return fmt.Errorf("create scanner: %w", err)
	}

	a.Backfiller, err = ingest.NewBackfiller(deps)
	if err != nil {
		return fmt.Errorf("create backfiller: %w", err)
	}

	a.Search = query.NewSearchEngine(a.Store, query.Config{
		PcapDirectory:     cfg.PcapDirectory,
		HostPcapDirectory: cfg.HostPcapDirectory,
		MaxLimit:          cfg.Search.MaxLimit,
	}, a.Logger)
	a.Suggest = query.NewSuggester(a.Store, cfg.Search.SuggestLimit)
	return nil
}

// ScanOptions merges the configured exclusions with per-request ones.
func (a *App) ScanOptions(folder string, exclude []string) ingest.ScanOptions {
	merged := make([]string, 0, len(a.Config.Scan.Exclude)+len(exclude))
	merged = append(merged, a.Config.Scan.Exclude...)
	merged = append(merged, exclude...)
	return ingest.ScanOptions{TargetFolder: folder, Exclude: merged}
}

// IsEmpty reports whether the index holds no records.
func (a *App) IsEmpty(ctx context.Context) (bool, error) {
	ids, err := a.Store.RecordIDs(ctx)
	if err != nil {
		return false, err
	}
	return len(ids) == 0, nil
}

// Close cancels running passes, waits up to CloseTimeout for them to stop
// and releases the store and log files.
func (a *App) Close() error {
	if a.Scanner != nil {
		_ = a.Scanner.Cancel()
	}
	if a.Backfiller != nil {
		_ = a.Backfiller.Cancel()
	}
	a.waitPasses()
	var err error
	if a.Store != nil {
		err = a.Store.Close()
	}
	a.closeLogs()
	return err
}

// waitPasses lets background passes finish their current file or record.
func (a *App) waitPasses() {
	ctx, cancel := context.WithTimeout(context.Background(), CloseTimeout)
	defer cancel()
	if a.Scanner != nil {
		if err := a.Scanner.Wait(ctx); err != nil {
			a.Logger.Warn("scan still running at close", "error", err)
		}
	}
	if a.Backfiller != nil {
		if err := a.Backfiller.Wait(ctx); err != nil {
			a.Logger.Warn("backfill still running at close", "error", err)
		}
	}
}

func (a *App) closeLogs() {
	if a.Logs != nil {
		_ = a.Logs.Close()
	}
}
