// Package ingest walks the capture directory and keeps the index store in
// step with it: scanning new and changed captures, backfilling total packet
// counts and pruning records whose files are gone.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Zerofisher/pcapcatalog/capture"
	"github.com/Zerofisher/pcapcatalog/pkg/hashing"
	"github.com/Zerofisher/pcapcatalog/pkg/model"
	"github.com/Zerofisher/pcapcatalog/pkg/store"
)

// ErrDirectoryNotFound is returned when the capture root is not a readable directory.
var ErrDirectoryNotFound = errors.New("capture directory not found")

// DefaultExtensions are the capture file suffixes picked up by a scan.
var DefaultExtensions = []string{".pcap", ".pcapng", ".cap"}

// Records fetched per GetRecords call when walking the whole catalog.
const recordBatchSize = 200

// Config holds configuration shared by the scan, backfill and prune passes.
type Config struct {
	// Root is the capture directory.
	Root string

	// BaseURL prefixes download links. When empty, ScanOptions.BaseURL is
	// used, and download_url stays blank if that is empty too.
	BaseURL string

	// Extensions recognized as captures, case-insensitive.
	// Defaults to DefaultExtensions if empty.
	Extensions []string

	// Scan is the quick/full extraction policy.
	Scan model.ScanConfig
}

// Deps are the collaborators of the ingest engines.
type Deps struct {
	Store      store.Store
	Identifier *hashing.Identifier
	Extractor  capture.Extractor
	Logger     *slog.Logger
}

func (d Deps) withDefaults() (Deps, error) {
	if d.Store == nil {
		return d, errors.New("ingest: nil store")
	}
	if d.Identifier == nil {
		id, err := hashing.New(hashing.SHA256)
		if err != nil {
			return d, err
		}
		d.Identifier = id
	}
	if d.Extractor == nil {
		d.Extractor = capture.NewFileExtractor()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return d, nil
}

func checkRoot(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return errors.Join(ErrDirectoryNotFound, err)
	}
	if !info.IsDir() {
		return errors.Join(ErrDirectoryNotFound, errors.New(root+" is not a directory"))
	}
	return nil
}

func extensionSet(exts []string) map[string]bool {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		set[e] = true
	}
	return set
}

// inFolder reports whether dir, relative to root, has a path component named folder.
func inFolder(root, dir, folder string) bool {
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == folder {
			return true
		}
	}
	return false
}

// indexBatch queues the writes of a freshly extracted record. Protocols the
// previous version of the record had but rec lacks are unindexed first.
func indexBatch(b store.Batch, rec, previous *model.CaptureRecord) {
	b.PutRecord(rec)
	if previous != nil {
		for _, p := range previous.Protocols {
			if !rec.HasProtocol(p) {
				b.UnindexProtocol(p, rec.ID)
			}
		}
	}
	for _, p := range rec.Protocols {
		b.IndexProtocol(p, rec.ID)
	}
	b.AddProtocolNames(rec.Protocols...)
}

// waitGroup waits for wg or gives up when ctx is done.
func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
