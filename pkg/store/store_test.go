package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zerofisher/pcapcatalog/pkg/model"
)

func sampleRecord() *model.CaptureRecord {
	total := int64(15)
	rec := &model.CaptureRecord{
		ID:                 "abc",
		Filename:           "a.pcap",
		Path:               "/data/pcaps/a.pcap",
		SizeBytes:          2048,
		TotalPacketCount:   &total,
		DownloadURL:        "http://h/pcaps/download/abc",
		ExtractionMode:     model.ModeQuick,
		IndexConfigVersion: "q-1",
		Truncated:          true,
		IndexedAt:          time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	rec.SetCounts([]string{"tcp", "http"}, map[string]int64{"tcp": 10, "http": 5})
	return rec
}

func TestRecordCodecPreservesAllFields(t *testing.T) {
	rec := sampleRecord()
	got := DecodeRecord(rec.ID, EncodeRecord(rec))
	require.NotNil(t, got)
	assert.Equal(t, rec, got)
}

func TestDecodeRecordEmpty(t *testing.T) {
	assert.Nil(t, DecodeRecord("x", nil))
	assert.Nil(t, DecodeRecord("x", map[string]string{}))
}

func TestDecodeLegacyRecord(t *testing.T) {
	// Shape written by the first version of the service: no mode, version or total.
	rec := DecodeRecord("h1", map[string]string{
		"filename":        "a.pcap",
		"path":            "/pcaps/a.pcap",
		"size_bytes":      "123",
		"protocols":       "http,tcp",
		"protocol_counts": `{"http": 5, "tcp": 10}`,
		"download_url":    "",
	})
	require.NotNil(t, rec)
	assert.Equal(t, model.ModeFull, rec.ExtractionMode)
	assert.Nil(t, rec.TotalPacketCount)
	assert.Equal(t, []string{"http", "tcp"}, rec.Protocols)
	assert.Equal(t, int64(10), rec.ProtocolCounts["tcp"])
	assert.Equal(t, int64(123), rec.SizeBytes)
}

func TestDecodeRepairsProtocolList(t *testing.T) {
	rec := DecodeRecord("h1", map[string]string{
		"protocols":       "udp,tcp",
		"protocol_counts": `{"tcp": 1, "dns": 2}`,
	})
	assert.Equal(t, []string{"tcp", "dns"}, rec.Protocols)

	rec = DecodeRecord("h2", map[string]string{
		"protocols":       "udp,tcp",
		"protocol_counts": `{not json`,
	})
	assert.Equal(t, []string{"udp", "tcp"}, rec.Protocols)
	assert.Equal(t, map[string]int64{"udp": 0, "tcp": 0}, rec.ProtocolCounts)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "pcap:file:abc", RecordKey("abc"))
	id, ok := IDFromRecordKey("pcap:file:abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", id)
	_, ok = IDFromRecordKey("pcap:index:protocol:tcp")
	assert.False(t, ok)

	assert.Equal(t, "pcap:index:protocol:http", ProtocolKey(" HTTP "))
}

func TestPrefixEnd(t *testing.T) {
	assert.Equal(t, "hu", PrefixEnd("ht"))
	assert.Equal(t, "b", PrefixEnd("a\xff"))
	assert.Equal(t, "", PrefixEnd(""))
	assert.Equal(t, "", PrefixEnd("\xff\xff"))
}

func TestOpsCopiesRecords(t *testing.T) {
	rec := sampleRecord()
	ops, err := Collect(func(b Batch) error {
		b.PutRecord(rec)
		b.IndexProtocol("TCP", rec.ID)
		b.AddProtocolNames()
		b.AddProtocolNames("tcp", "http")
		return nil
	})
	require.NoError(t, err)
	rec.Filename = "changed"

	list := ops.List()
	require.Len(t, list, 3)
	assert.Equal(t, "a.pcap", list[0].Record.Filename)
	assert.Equal(t, "tcp", list[1].Protocol)
	assert.Equal(t, []string{"tcp", "http"}, list[2].Names)
}
