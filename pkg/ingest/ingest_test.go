package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zerofisher/pcapcatalog/capture"
	"github.com/Zerofisher/pcapcatalog/pkg/model"
	"github.com/Zerofisher/pcapcatalog/pkg/status"
	"github.com/Zerofisher/pcapcatalog/pkg/store"
	"github.com/Zerofisher/pcapcatalog/pkg/store/memory"
)

// fakeExtractor reads fixtures of the form "tcp:10 http:5". A "#big" token
// marks a capture that a quick extraction only half reads.
type fakeExtractor struct {
	mu      sync.Mutex
	calls   []string
	started chan string
	gate    chan struct{}
}

func (f *fakeExtractor) Extract(ctx context.Context, path string, opts capture.ExtractOptions) (*capture.Extraction, error) {
	f.mu.Lock()
	f.calls = append(f.calls, filepath.Base(path)+"/"+string(opts.Mode))
	f.mu.Unlock()
	if f.started != nil {
		f.started <- path
	}
	if f.gate != nil {
		<-f.gate
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, capture.ErrUnreadable
	}
	fields := strings.Fields(string(data))
	big := false
	ext := &capture.Extraction{Counts: make(map[string]int64)}
	for _, tok := range fields {
		if tok == "#big" {
			big = true
			continue
		}
		name, count, ok := strings.Cut(tok, ":")
		n, err := strconv.ParseInt(count, 10, 64)
		if !ok || err != nil {
			return nil, capture.ErrUnreadable
		}
		ext.Protocols = append(ext.Protocols, name)
		ext.Counts[name] = n
	}
	if len(ext.Protocols) == 0 {
		return nil, capture.ErrUnreadable
	}
	if big && opts.Mode == model.ModeQuick {
		for name := range ext.Counts {
			ext.Counts[name] /= 2
		}
		ext.Truncated = true
	}
	return ext, nil
}

func (f *fakeExtractor) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func writeCapture(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

type fixture struct {
	root  string
	store *memory.Store
	ex    *fakeExtractor
}

func newFixture(t *testing.T) *fixture {
	return &fixture{root: t.TempDir(), store: memory.New(), ex: &fakeExtractor{}}
}

func (f *fixture) scanner(t *testing.T, scanCfg model.ScanConfig) *Scanner {
	t.Helper()
	s, err := NewScanner(Config{Root: f.root, BaseURL: "http://catalog:8000", Scan: scanCfg},
		Deps{Store: f.store, Extractor: f.ex})
	require.NoError(t, err)
	return s
}

func (f *fixture) record(t *testing.T, path string) *model.CaptureRecord {
	t.Helper()
	ids, err := f.store.RecordIDs(context.Background())
	require.NoError(t, err)
	recs, err := f.store.GetRecords(context.Background(), ids)
	require.NoError(t, err)
	for _, rec := range recs {
		if rec.Path == path {
			return rec
		}
	}
	return nil
}

func (f *fixture) members(t *testing.T, protocol string) []string {
	t.Helper()
	ids, err := f.store.ProtocolMembers(context.Background(), protocol)
	require.NoError(t, err)
	sort.Strings(ids)
	return ids
}

func fullConfig() model.ScanConfig {
	return model.ScanConfig{Mode: model.ModeFull, ConfigVersion: "v1"}
}

func quickConfig(version string) model.ScanConfig {
	return model.ScanConfig{Mode: model.ModeQuick, MinFileSizeForQuick: 0, PacketBudget: 100, ConfigVersion: version}
}

func TestScanDeduplicatesIdenticalContent(t *testing.T) {
	f := newFixture(t)
	a := writeCapture(t, f.root, "a.pcap", "http:5 tcp:10")
	b := writeCapture(t, f.root, "b.pcap", "tcp:3")
	writeCapture(t, f.root, "c.pcap", "tcp:3")

	res, err := f.scanner(t, fullConfig()).Run(context.Background(), ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.ScanCompleted, res.Status)
	assert.Equal(t, 2, res.IndexedFiles)
	assert.Equal(t, 1, res.Skipped)

	ids, err := f.store.RecordIDs(context.Background())
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Len(t, f.members(t, "tcp"), 2)
	assert.Len(t, f.members(t, "http"), 1)

	recA := f.record(t, a)
	require.NotNil(t, recA)
	assert.Equal(t, []string{"http", "tcp"}, recA.Protocols)
	assert.Equal(t, "a.pcap", recA.Filename)
	assert.Equal(t, "http://catalog:8000/pcaps/download/"+recA.ID, recA.DownloadURL)
	assert.Equal(t, model.ModeFull, recA.ExtractionMode)
	assert.NotNil(t, f.record(t, b), "first file of a duplicate group owns the record")

	names, err := f.store.ProtocolNames(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"http", "tcp"}, names)
}

func TestRescanIsIdempotent(t *testing.T) {
	f := newFixture(t)
	writeCapture(t, f.root, "a.pcap", "http:5 tcp:10")
	writeCapture(t, f.root, "sub/b.pcap", "udp:1")

	s := f.scanner(t, quickConfig("v1"))
	_, err := s.Run(context.Background(), ScanOptions{})
	require.NoError(t, err)
	calls := len(f.ex.callList())

	res, err := s.Run(context.Background(), ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.IndexedFiles)
	assert.Equal(t, 2, res.Skipped)
	assert.Len(t, f.ex.callList(), calls, "no extraction on an unchanged tree")
}

func TestQuickRecordsGoStaleOnConfigChange(t *testing.T) {
	f := newFixture(t)
	quick := writeCapture(t, f.root, "big.pcap", "#big tcp:10")

	_, err := f.scanner(t, quickConfig("v1")).Run(context.Background(), ScanOptions{})
	require.NoError(t, err)
	rec := f.record(t, quick)
	require.NotNil(t, rec)
	assert.Equal(t, model.ModeQuick, rec.ExtractionMode)
	assert.True(t, rec.Truncated)
	assert.Equal(t, int64(5), rec.ProtocolCounts["tcp"])

	res, err := f.scanner(t, quickConfig("v2")).Run(context.Background(), ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.IndexedFiles)
	assert.Equal(t, "v2", f.record(t, quick).IndexConfigVersion)
}

func TestFullRecordsNeverGoStale(t *testing.T) {
	f := newFixture(t)
	writeCapture(t, f.root, "a.pcap", "tcp:1")

	_, err := f.scanner(t, model.ScanConfig{Mode: model.ModeFull, ConfigVersion: "v1"}).Run(context.Background(), ScanOptions{})
	require.NoError(t, err)

	res, err := f.scanner(t, quickConfig("v9")).Run(context.Background(), ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.IndexedFiles)
}

func TestQuickModeRespectsMinimumSize(t *testing.T) {
	f := newFixture(t)
	small := writeCapture(t, f.root, "small.pcap", "#big tcp:10")

	cfg := quickConfig("v1")
	cfg.MinFileSizeForQuick = 1 << 20
	_, err := f.scanner(t, cfg).Run(context.Background(), ScanOptions{})
	require.NoError(t, err)

	rec := f.record(t, small)
	require.NotNil(t, rec)
	assert.Equal(t, model.ModeFull, rec.ExtractionMode)
	assert.False(t, rec.Truncated)
	assert.Equal(t, int64(10), rec.ProtocolCounts["tcp"])
}

func TestSizeChangeForcesReextraction(t *testing.T) {
	f := newFixture(t)
	path := writeCapture(t, f.root, "a.pcap", "tcp:1")
	s := f.scanner(t, fullConfig())
	_, err := s.Run(context.Background(), ScanOptions{})
	require.NoError(t, err)

	rec := f.record(t, path)
	rec.SizeBytes = 1
	require.NoError(t, f.store.Update(context.Background(), func(b store.Batch) error {
		b.PutRecord(rec)
		return nil
	}))

	res, err := s.Run(context.Background(), ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.IndexedFiles)
	assert.Equal(t, int64(len("tcp:1")), f.record(t, path).SizeBytes)
}

func TestReextractionDropsVanishedProtocols(t *testing.T) {
	f := newFixture(t)
	path := writeCapture(t, f.root, "a.pcap", "tcp:4")
	s := f.scanner(t, quickConfig("v2"))

	id, err := s.deps.Identifier.Identify(path)
	require.NoError(t, err)
	old := &model.CaptureRecord{
		ID: id, Filename: "a.pcap", Path: path, SizeBytes: int64(len("tcp:4")),
		ExtractionMode: model.ModeQuick, IndexConfigVersion: "v1",
	}
	old.SetCounts([]string{"tcp", "dns"}, map[string]int64{"tcp": 2, "dns": 1})
	require.NoError(t, f.store.Update(context.Background(), func(b store.Batch) error {
		indexBatch(b, old, nil)
		return nil
	}))
	assert.Equal(t, []string{id}, f.members(t, "dns"))

	res, err := s.Run(context.Background(), ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.IndexedFiles)
	assert.Empty(t, f.members(t, "dns"))
	assert.Equal(t, []string{id}, f.members(t, "tcp"))

	// Autocomplete is monotonic.
	names, err := f.store.ProtocolNames(context.Background(), "d", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"dns"}, names)
}

func TestMovedFileIsRelocated(t *testing.T) {
	f := newFixture(t)
	old := writeCapture(t, f.root, "a.pcap", "tcp:1")
	s := f.scanner(t, fullConfig())
	_, err := s.Run(context.Background(), ScanOptions{})
	require.NoError(t, err)

	moved := filepath.Join(f.root, "archive", "renamed.pcap")
	require.NoError(t, os.MkdirAll(filepath.Dir(moved), 0o755))
	require.NoError(t, os.Rename(old, moved))

	res, err := s.Run(context.Background(), ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.IndexedFiles)
	assert.Equal(t, 1, res.Relocated)

	rec := f.record(t, moved)
	require.NotNil(t, rec)
	assert.Equal(t, "renamed.pcap", rec.Filename)
	assert.Len(t, f.ex.callList(), 1)
}

func TestTargetFolder(t *testing.T) {
	f := newFixture(t)
	in := writeCapture(t, f.root, "east/site1/day1/a.pcap", "tcp:1")
	writeCapture(t, f.root, "west/b.pcap", "udp:1")
	s := f.scanner(t, fullConfig())

	res, err := s.Run(context.Background(), ScanOptions{TargetFolder: "site1"})
	require.NoError(t, err)
	assert.Equal(t, model.ScanCompleted, res.Status)
	assert.Equal(t, 1, res.IndexedFiles)
	assert.NotNil(t, f.record(t, in))

	res, err = s.Run(context.Background(), ScanOptions{TargetFolder: "nowhere"})
	require.NoError(t, err)
	assert.Equal(t, model.ScanNoMatchingFolder, res.Status)
	assert.Equal(t, 0, res.IndexedFiles)
	assert.Contains(t, res.Message, "nowhere")
	assert.Equal(t, status.StateCompleted, s.Status().State)
}

func TestExclusionsAndExtensions(t *testing.T) {
	f := newFixture(t)
	writeCapture(t, f.root, "a.pcap", "tcp:1")
	upper := writeCapture(t, f.root, "B.PCAPNG", "udp:1")
	writeCapture(t, f.root, "c.cap", "sctp:1")
	writeCapture(t, f.root, "notes.txt", "tcp:9")

	res, err := f.scanner(t, fullConfig()).Run(context.Background(), ScanOptions{Exclude: []string{"a.pcap"}})
	require.NoError(t, err)
	assert.Equal(t, 2, res.IndexedFiles)
	assert.NotNil(t, f.record(t, upper))
	assert.Empty(t, f.members(t, "tcp"))
}

func TestUnreadableCaptureIsSkipped(t *testing.T) {
	f := newFixture(t)
	writeCapture(t, f.root, "bad.pcap", "garbage")
	writeCapture(t, f.root, "good.pcap", "tcp:1")

	s := f.scanner(t, fullConfig())
	res, err := s.Run(context.Background(), ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.ScanCompleted, res.Status)
	assert.Equal(t, 1, res.IndexedFiles)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, s.Status().Failed)
}

func TestMissingRoot(t *testing.T) {
	f := newFixture(t)
	f.root = filepath.Join(f.root, "missing")
	s := f.scanner(t, fullConfig())

	_, err := s.Run(context.Background(), ScanOptions{})
	assert.ErrorIs(t, err, ErrDirectoryNotFound)
	snap := s.Status()
	assert.Equal(t, status.StateFailed, snap.State)
	assert.Contains(t, snap.Message, "capture directory not found")
	assert.False(t, s.Running())

	snap, err = s.Start(context.Background(), ScanOptions{})
	assert.ErrorIs(t, err, ErrDirectoryNotFound)
	assert.Equal(t, status.StateFailed, snap.State)
	require.NoError(t, s.Wait(context.Background()))
	assert.Equal(t, status.StateFailed, s.Status().State)

	// The root showing up again makes the next scan succeed.
	require.NoError(t, os.MkdirAll(f.root, 0o755))
	res, err := s.Run(context.Background(), ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.ScanCompleted, res.Status)
	assert.Equal(t, status.StateCompleted, s.Status().State)
}

func TestRequestBaseURLFillsDownloadLinks(t *testing.T) {
	f := newFixture(t)
	path := writeCapture(t, f.root, "a.pcap", "tcp:1")

	s, err := NewScanner(Config{Root: f.root, Scan: fullConfig()}, Deps{Store: f.store, Extractor: f.ex})
	require.NoError(t, err)
	_, err = s.Run(context.Background(), ScanOptions{BaseURL: "https://files.example/"})
	require.NoError(t, err)
	rec := f.record(t, path)
	assert.Equal(t, "https://files.example/pcaps/download/"+rec.ID, rec.DownloadURL)

	// A configured base URL wins over the request's.
	writeCapture(t, f.root, "b.pcap", "udp:1")
	_, err = f.scanner(t, fullConfig()).Run(context.Background(), ScanOptions{BaseURL: "https://files.example"})
	require.NoError(t, err)
	rec = f.record(t, filepath.Join(f.root, "b.pcap"))
	assert.Equal(t, "http://catalog:8000/pcaps/download/"+rec.ID, rec.DownloadURL)
}

func TestSecondScanIsRejectedWhileRunning(t *testing.T) {
	f := newFixture(t)
	writeCapture(t, f.root, "a.pcap", "tcp:1")
	f.ex.started = make(chan string, 16)
	f.ex.gate = make(chan struct{})
	s := f.scanner(t, fullConfig())

	snap, err := s.Start(context.Background(), ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, status.StateRunning, snap.State)
	<-f.ex.started

	_, err = s.Start(context.Background(), ScanOptions{})
	assert.ErrorIs(t, err, status.ErrBusy)
	_, err = s.Run(context.Background(), ScanOptions{})
	assert.ErrorIs(t, err, status.ErrBusy)
	_, err = s.Prune(context.Background())
	assert.ErrorIs(t, err, status.ErrBusy)

	close(f.ex.gate)
	require.Eventually(t, func() bool { return !s.Running() }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, status.StateCompleted, s.Status().State)
	assert.Equal(t, 1, s.Status().Indexed)
	assert.Len(t, f.ex.callList(), 1, "only one worker ran")
}

func TestCancelStopsBeforeNextFile(t *testing.T) {
	f := newFixture(t)
	writeCapture(t, f.root, "a.pcap", "tcp:1")
	writeCapture(t, f.root, "b.pcap", "udp:1")
	writeCapture(t, f.root, "c.pcap", "dns:1")
	f.ex.started = make(chan string, 16)
	f.ex.gate = make(chan struct{})
	s := f.scanner(t, fullConfig())

	assert.ErrorIs(t, s.Cancel(), status.ErrNotRunning)

	_, err := s.Start(context.Background(), ScanOptions{})
	require.NoError(t, err)
	<-f.ex.started
	require.NoError(t, s.Cancel())
	close(f.ex.gate)

	require.Eventually(t, func() bool { return !s.Running() }, 2*time.Second, 5*time.Millisecond)
	snap := s.Status()
	assert.Equal(t, status.StateCancelled, snap.State)
	assert.Equal(t, 1, snap.Indexed)
	assert.Contains(t, snap.Message, "cancelled")

	// The file in flight was written completely.
	rec := f.record(t, filepath.Join(f.root, "a.pcap"))
	require.NotNil(t, rec)
	assert.Equal(t, []string{rec.ID}, f.members(t, "tcp"))

	// A new scan starts fresh and picks up the rest.
	f.ex.started = nil
	f.ex.gate = nil
	res, err := s.Run(context.Background(), ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.IndexedFiles)
}

func TestProtocolsMatchCountKeys(t *testing.T) {
	f := newFixture(t)
	writeCapture(t, f.root, "a.pcap", "eth:5 ip:5 tcp:3 http:3 udp:2")
	writeCapture(t, f.root, "b.pcap", "#big eth:4 arp:4")
	_, err := f.scanner(t, quickConfig("v1")).Run(context.Background(), ScanOptions{})
	require.NoError(t, err)

	ids, err := f.store.RecordIDs(context.Background())
	require.NoError(t, err)
	recs, err := f.store.GetRecords(context.Background(), ids)
	require.NoError(t, err)
	for _, rec := range recs {
		require.Len(t, rec.ProtocolCounts, len(rec.Protocols))
		for _, p := range rec.Protocols {
			assert.True(t, rec.HasProtocol(p))
			assert.Contains(t, f.members(t, p), rec.ID)
		}
	}
}

func TestPruneRemovesVanishedCaptures(t *testing.T) {
	f := newFixture(t)
	gone := writeCapture(t, f.root, "gone.pcap", "tcp:1 dns:2")
	kept := writeCapture(t, f.root, "kept.pcap", "tcp:2")
	s := f.scanner(t, fullConfig())
	_, err := s.Run(context.Background(), ScanOptions{})
	require.NoError(t, err)
	goneID := f.record(t, gone).ID

	require.NoError(t, os.Remove(gone))
	res, err := s.Prune(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Checked)
	assert.Equal(t, 1, res.Removed)

	rec, err := f.store.GetRecord(context.Background(), goneID)
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Empty(t, f.members(t, "dns"))
	assert.Equal(t, []string{f.record(t, kept).ID}, f.members(t, "tcp"))

	names, err := f.store.ProtocolNames(context.Background(), "dns", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"dns"}, names)
	assert.Equal(t, status.StateCompleted, s.Status().State)
}

func TestBackfill(t *testing.T) {
	f := newFixture(t)
	big := writeCapture(t, f.root, "big.pcap", "#big tcp:10 http:4")
	small := writeCapture(t, f.root, "small.pcap", "udp:3 dns:3")
	lost := writeCapture(t, f.root, "lost.pcap", "#big sctp:8")
	_, err := f.scanner(t, quickConfig("v1")).Run(context.Background(), ScanOptions{})
	require.NoError(t, err)
	lostID := f.record(t, lost).ID
	require.NoError(t, os.Remove(lost))

	b, err := NewBackfiller(Deps{Store: f.store, Extractor: f.ex})
	require.NoError(t, err)
	res, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 3, res.Updated)
	assert.Equal(t, 1, res.Reextracted)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, status.StateCompleted, b.Status().State)

	rec := f.record(t, big)
	assert.Equal(t, model.ModeFull, rec.ExtractionMode)
	assert.False(t, rec.Truncated)
	assert.Equal(t, int64(10), rec.ProtocolCounts["tcp"])
	require.NotNil(t, rec.TotalPacketCount)
	assert.Equal(t, int64(14), *rec.TotalPacketCount)

	rec = f.record(t, small)
	require.NotNil(t, rec.TotalPacketCount)
	assert.Equal(t, int64(6), *rec.TotalPacketCount)

	lostRec, err := f.store.GetRecord(context.Background(), lostID)
	require.NoError(t, err)
	require.NotNil(t, lostRec.TotalPacketCount)
	assert.Equal(t, int64(4), *lostRec.TotalPacketCount)

	// Second pass writes nothing new except the record that still cannot be re-extracted.
	res, err = b.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 1, res.Failed)
}

func TestBackfillIsSingleFlight(t *testing.T) {
	f := newFixture(t)
	writeCapture(t, f.root, "big.pcap", "#big tcp:10")
	_, err := f.scanner(t, quickConfig("v1")).Run(context.Background(), ScanOptions{})
	require.NoError(t, err)

	f.ex.started = make(chan string, 16)
	f.ex.gate = make(chan struct{})
	b, err := NewBackfiller(Deps{Store: f.store, Extractor: f.ex})
	require.NoError(t, err)

	_, err = b.Start(context.Background())
	require.NoError(t, err)
	<-f.ex.started
	_, err = b.Start(context.Background())
	assert.ErrorIs(t, err, status.ErrBusy)

	close(f.ex.gate)
	require.Eventually(t, func() bool { return b.Status().State == status.StateCompleted }, 2*time.Second, 5*time.Millisecond)
}

// interleavingStore runs hook once, right after the first GetRecord call
// has read its record.
type interleavingStore struct {
	*memory.Store
	once sync.Once
	hook func()
}

func (s *interleavingStore) GetRecord(ctx context.Context, id string) (*model.CaptureRecord, error) {
	rec, err := s.Store.GetRecord(ctx, id)
	s.once.Do(s.hook)
	return rec, err
}

// rescanDuringBackfill indexes the tree in quick mode, then backfills while
// a full scan re-indexes the capture between backfill's read and write.
func rescanDuringBackfill(t *testing.T, content string) (*fixture, string, *model.BackfillResult) {
	t.Helper()
	f := newFixture(t)
	path := writeCapture(t, f.root, "a.pcap", content)
	_, err := f.scanner(t, quickConfig("v1")).Run(context.Background(), ScanOptions{})
	require.NoError(t, err)

	rescanner := f.scanner(t, model.ScanConfig{Mode: model.ModeFull, ConfigVersion: "v2"})
	rescanner.now = func() time.Time { return time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC) }
	st := &interleavingStore{Store: f.store, hook: func() {
		res, err := rescanner.Run(context.Background(), ScanOptions{})
		require.NoError(t, err)
		require.Equal(t, 1, res.IndexedFiles)
	}}

	b, err := NewBackfiller(Deps{Store: st, Extractor: f.ex})
	require.NoError(t, err)
	res, err := b.Run(context.Background())
	require.NoError(t, err)
	return f, path, res
}

func TestBackfillKeepsConcurrentRescan(t *testing.T) {
	f, path, res := rescanDuringBackfill(t, "tcp:10 dns:2")
	assert.Equal(t, 1, res.Processed)

	rec := f.record(t, path)
	assert.Equal(t, model.ModeFull, rec.ExtractionMode)
	assert.Equal(t, "v2", rec.IndexConfigVersion)
	assert.Nil(t, rec.TotalPacketCount, "total of the replaced version must not land on the new one")
}

func TestBackfillReextractionKeepsConcurrentRescan(t *testing.T) {
	f, path, res := rescanDuringBackfill(t, "#big tcp:10 http:4")
	assert.Equal(t, 0, res.Reextracted)
	assert.Equal(t, 0, res.Updated)

	rec := f.record(t, path)
	assert.Equal(t, model.ModeFull, rec.ExtractionMode)
	assert.Equal(t, "v2", rec.IndexConfigVersion)
	assert.Equal(t, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), rec.IndexedAt)
	assert.Nil(t, rec.TotalPacketCount)
	assert.ElementsMatch(t, []string{"tcp", "http"}, rec.Protocols)
}
