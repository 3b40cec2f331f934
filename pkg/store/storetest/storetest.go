// Package storetest holds the behavioural suite every store.Store backend runs.
package storetest

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zerofisher/pcapcatalog/pkg/model"
	"github.com/Zerofisher/pcapcatalog/pkg/store"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// Record builds a record with the given protocol counts.
func Record(id, path string, counts map[string]int64, order ...string) *model.CaptureRecord {
	rec := &model.CaptureRecord{
		ID:             id,
		Filename:       path[lastSlash(path)+1:],
		Path:           path,
		SizeBytes:      int64(len(id)) * 100,
		ExtractionMode: model.ModeFull,
		IndexedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	rec.SetCounts(order, counts)
	return rec
}

func lastSlash(p string) int {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return i
		}
	}
	return -1
}

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("RecordRoundTrip", func(t *testing.T) { testRecordRoundTrip(t, newStore(t)) })
	t.Run("PutReplacesRecord", func(t *testing.T) { testPutReplaces(t, newStore(t)) })
	t.Run("GetRecordsKeepsOrder", func(t *testing.T) { testGetRecords(t, newStore(t)) })
	t.Run("ProtocolMembership", func(t *testing.T) { testMembership(t, newStore(t)) })
	t.Run("ProtocolNames", func(t *testing.T) { testNames(t, newStore(t)) })
	t.Run("DeleteRecord", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("SetTotalPacketCount", func(t *testing.T) { testSetTotal(t, newStore(t)) })
	t.Run("FailedBatchWritesNothing", func(t *testing.T) { testFailedBatch(t, newStore(t)) })
	t.Run("Closed", func(t *testing.T) { testClosed(t, newStore(t)) })
}

func testRecordRoundTrip(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))

	total := int64(15)
	rec := Record("h1", "/pcaps/a.pcap", map[string]int64{"tcp": 10, "http": 5}, "tcp", "http")
	rec.TotalPacketCount = &total
	rec.ExtractionMode = model.ModeQuick
	rec.IndexConfigVersion = "q-abc"
	rec.Truncated = true
	rec.DownloadURL = "http://h/pcaps/download/h1"

	require.NoError(t, s.Update(ctx, func(b store.Batch) error {
		b.PutRecord(rec)
		return nil
	}))

	got, err := s.GetRecord(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	missing, err := s.GetRecord(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func testPutReplaces(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	total := int64(3)
	first := Record("h1", "/pcaps/a.pcap", map[string]int64{"udp": 3}, "udp")
	first.TotalPacketCount = &total
	second := Record("h1", "/pcaps/moved/a.pcap", map[string]int64{"tcp": 1}, "tcp")

	for _, rec := range []*model.CaptureRecord{first, second} {
		rec := rec
		require.NoError(t, s.Update(ctx, func(b store.Batch) error {
			b.PutRecord(rec)
			return nil
		}))
	}

	got, err := s.GetRecord(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, second, got)
	assert.Nil(t, got.TotalPacketCount)
}

func testGetRecords(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, func(b store.Batch) error {
		b.PutRecord(Record("a", "/p/a.pcap", map[string]int64{"tcp": 1}))
		b.PutRecord(Record("c", "/p/c.pcap", map[string]int64{"tcp": 2}))
		return nil
	}))

	recs, err := s.GetRecords(ctx, []string{"c", "b", "a"})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "c", recs[0].ID)
	assert.Nil(t, recs[1])
	assert.Equal(t, "a", recs[2].ID)

	empty, err := s.GetRecords(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	ids, err := s.RecordIDs(ctx)
	require.NoError(t, err)
	sort.Strings(ids)
	assert.Equal(t, []string{"a", "c"}, ids)
}

func testMembership(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, func(b store.Batch) error {
		b.IndexProtocol("TCP", "a")
		b.IndexProtocol("tcp", "b")
		b.IndexProtocol("tcp", "b")
		b.IndexProtocol("udp", "a")
		return nil
	}))

	ids, err := s.ProtocolMembers(ctx, "Tcp")
	require.NoError(t, err)
	sort.Strings(ids)
	assert.Equal(t, []string{"a", "b"}, ids)

	require.NoError(t, s.Update(ctx, func(b store.Batch) error {
		b.UnindexProtocol("tcp", "a")
		b.UnindexProtocol("udp", "a")
		return nil
	}))

	ids, err = s.ProtocolMembers(ctx, "tcp")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)

	ids, err = s.ProtocolMembers(ctx, "udp")
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = s.ProtocolMembers(ctx, "never-seen")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func testNames(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, func(b store.Batch) error {
		b.AddProtocolNames("http", "https", "HTTP2", "tcp")
		b.AddProtocolNames("http", "dns")
		return nil
	}))

	names, err := s.ProtocolNames(ctx, "ht", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"http", "http2", "https"}, names)

	names, err = s.ProtocolNames(ctx, "ht", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"http", "http2"}, names)

	names, err = s.ProtocolNames(ctx, "x", 10)
	require.NoError(t, err)
	assert.Empty(t, names)

	names, err = s.ProtocolNames(ctx, "", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"dns", "http", "http2", "https", "tcp"}, names)
}

func testSetTotal(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	rec := Record("h1", "/pcaps/a.pcap", map[string]int64{"tcp": 4, "dns": 2}, "tcp", "dns")
	rec.IndexConfigVersion = "q-1"
	require.NoError(t, s.Update(ctx, func(b store.Batch) error {
		b.PutRecord(rec)
		return nil
	}))

	set := func(id string, total int64, indexedAt time.Time) {
		t.Helper()
		require.NoError(t, s.Update(ctx, func(b store.Batch) error {
			b.SetTotalPacketCount(id, total, indexedAt)
			return nil
		}))
	}

	set("h1", 6, rec.IndexedAt)
	got, err := s.GetRecord(ctx, "h1")
	require.NoError(t, err)
	require.NotNil(t, got.TotalPacketCount)
	assert.Equal(t, int64(6), *got.TotalPacketCount)
	want := rec.Clone()
	want.TotalPacketCount = got.TotalPacketCount
	assert.Equal(t, want, got, "only the total changes")

	// A record re-indexed since it was read keeps its own data.
	set("h1", 99, rec.IndexedAt.Add(-time.Hour))
	got, err = s.GetRecord(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, int64(6), *got.TotalPacketCount)

	// No partial record appears for a missing identity.
	set("gone", 5, rec.IndexedAt)
	missing, err := s.GetRecord(ctx, "gone")
	require.NoError(t, err)
	assert.Nil(t, missing)
	ids, err := s.RecordIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"h1"}, ids)
}

func testDelete(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, func(b store.Batch) error {
		b.PutRecord(Record("a", "/p/a.pcap", map[string]int64{"tcp": 1}))
		b.IndexProtocol("tcp", "a")
		return nil
	}))
	require.NoError(t, s.Update(ctx, func(b store.Batch) error {
		b.DeleteRecord("a")
		b.UnindexProtocol("tcp", "a")
		return nil
	}))

	rec, err := s.GetRecord(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, rec)

	ids, err := s.RecordIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func testFailedBatch(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.Update(ctx, func(b store.Batch) error {
		b.PutRecord(Record("a", "/p/a.pcap", map[string]int64{"tcp": 1}))
		b.IndexProtocol("tcp", "a")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	rec, err := s.GetRecord(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, rec)
	ids, err := s.ProtocolMembers(ctx, "tcp")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func testClosed(t *testing.T, s store.Store) {
	require.NoError(t, s.Close())
	assert.Error(t, s.Ping(context.Background()))
}
