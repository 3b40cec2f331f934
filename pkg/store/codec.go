package store

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/Zerofisher/pcapcatalog/pkg/model"
)

// Record field names.
const (
	FieldFilename           = "filename"
	FieldPath               = "path"
	FieldSizeBytes          = "size_bytes"
	FieldProtocols          = "protocols"
	FieldProtocolCounts     = "protocol_counts"
	FieldTotalPacketCount   = "total_packet_count"
	FieldDownloadURL        = "download_url"
	FieldExtractionMode     = "extraction_mode"
	FieldIndexConfigVersion = "index_config_version"
	FieldTruncated          = "truncated"
	FieldIndexedAt          = "indexed_at"
)

// EncodeRecord flattens a record into string fields. Optional fields that
// are unset are omitted, so writers must replace the whole field map.
func EncodeRecord(rec *model.CaptureRecord) map[string]string {
	counts, _ := json.Marshal(rec.ProtocolCounts) // map[string]int64 always marshals

	fields := map[string]string{
		FieldFilename:           rec.Filename,
		FieldPath:               rec.Path,
		FieldSizeBytes:          strconv.FormatInt(rec.SizeBytes, 10),
		FieldProtocols:          strings.Join(rec.Protocols, ","),
		FieldProtocolCounts:     string(counts),
		FieldDownloadURL:        rec.DownloadURL,
		FieldExtractionMode:     string(rec.ExtractionMode),
		FieldIndexConfigVersion: rec.IndexConfigVersion,
		FieldTruncated:          strconv.FormatBool(rec.Truncated),
	}
	if rec.TotalPacketCount != nil {
		fields[FieldTotalPacketCount] = strconv.FormatInt(*rec.TotalPacketCount, 10)
	}
	if stamp := EncodeTime(rec.IndexedAt); stamp != "" {
		fields[FieldIndexedAt] = stamp
	}
	return fields
}

// EncodeTime formats a record timestamp as stored. The zero time encodes as "".
func EncodeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// DecodeRecord rebuilds a record from its fields. It returns nil for an
// empty field map. Decoding is lenient: records written by older versions
// lack the mode and version fields and decode as full extractions, and a
// corrupt protocol_counts value yields zero counts for the listed protocols.
func DecodeRecord(id string, fields map[string]string) *model.CaptureRecord {
	if len(fields) == 0 {
		return nil
	}

	rec := &model.CaptureRecord{
		ID:                 id,
		Filename:           fields[FieldFilename],
		Path:               fields[FieldPath],
		DownloadURL:        fields[FieldDownloadURL],
		IndexConfigVersion: fields[FieldIndexConfigVersion],
		ExtractionMode:     model.ModeFull,
	}
	rec.SizeBytes, _ = strconv.ParseInt(fields[FieldSizeBytes], 10, 64)
	if fields[FieldExtractionMode] == string(model.ModeQuick) {
		rec.ExtractionMode = model.ModeQuick
	}
	rec.Truncated, _ = strconv.ParseBool(fields[FieldTruncated])
	if v, ok := fields[FieldTotalPacketCount]; ok {
		if total, err := strconv.ParseInt(v, 10, 64); err == nil {
			rec.TotalPacketCount = &total
		}
	}
	if v := fields[FieldIndexedAt]; v != "" {
		rec.IndexedAt, _ = time.Parse(time.RFC3339Nano, v)
	}

	var order []string
	if v := fields[FieldProtocols]; v != "" {
		order = strings.Split(v, ",")
	}
	counts := make(map[string]int64)
	if err := json.Unmarshal([]byte(fields[FieldProtocolCounts]), &counts); err != nil {
		counts = make(map[string]int64, len(order))
		for _, name := range order {
			counts[name] = 0
		}
	}
	rec.SetCounts(order, counts)
	return rec
}
