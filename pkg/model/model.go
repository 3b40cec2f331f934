// Package model defines the core data models of the capture catalog.
// Records are keyed by content identity, so a capture keeps its identity
// across moves and renames.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"
)

// ────────────────────────────────────────────────────────────────────────────────
// ExtractionMode - 提取模式（完整 / 快速）
// ────────────────────────────────────────────────────────────────────────────────

// ExtractionMode selects how much of a capture the extractor reads.
type ExtractionMode string

const (
	// ModeFull reads every packet.
	ModeFull ExtractionMode = "full"
	// ModeQuick stops after a packet budget.
	ModeQuick ExtractionMode = "quick"
)

// ParseMode converts a config string into an ExtractionMode.
func ParseMode(s string) (ExtractionMode, error) {
	switch ExtractionMode(s) {
	case ModeFull, "":
		return ModeFull, nil
	case ModeQuick:
		return ModeQuick, nil
	default:
		return "", fmt.Errorf("unknown scan mode %q", s)
	}
}

// ────────────────────────────────────────────────────────────────────────────────
// CaptureRecord - 抓包文件索引记录
// ────────────────────────────────────────────────────────────────────────────────

// CaptureRecord describes one indexed capture file.
type CaptureRecord struct {
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`

	// Protocols lists the keys of ProtocolCounts in first-seen order.
	Protocols      []string         `json:"protocols"`
	ProtocolCounts map[string]int64 `json:"protocol_counts"`

	// TotalPacketCount is nil until a backfill pass has run for the record.
	TotalPacketCount *int64 `json:"total_packet_count,omitempty"`

	DownloadURL        string         `json:"download_url"`
	ExtractionMode     ExtractionMode `json:"extraction_mode"`
	IndexConfigVersion string         `json:"index_config_version,omitempty"`

	// Truncated is set when a quick extraction stopped with packets left unread.
	Truncated bool      `json:"truncated,omitempty"`
	IndexedAt time.Time `json:"indexed_at,omitempty"`
}

// SetCounts replaces the protocol data of the record. Protocols keeps the
// order given in order; names in order without a count are dropped and
// counted names missing from order are appended sorted.
func (r *CaptureRecord) SetCounts(order []string, counts map[string]int64) {
	r.ProtocolCounts = make(map[string]int64, len(counts))
	for name, n := range counts {
		r.ProtocolCounts[name] = n
	}

	r.Protocols = make([]string, 0, len(counts))
	seen := make(map[string]bool, len(counts))
	for _, name := range order {
		if _, ok := counts[name]; ok && !seen[name] {
			r.Protocols = append(r.Protocols, name)
			seen[name] = true
		}
	}
	var rest []string
	for name := range counts {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	r.Protocols = append(r.Protocols, rest...)
}

// SumCounts returns the sum of all protocol counts.
func (r *CaptureRecord) SumCounts() int64 {
	var total int64
	for _, n := range r.ProtocolCounts {
		total += n
	}
	return total
}

// HasProtocol reports whether the record contains the protocol.
func (r *CaptureRecord) HasProtocol(name string) bool {
	_, ok := r.ProtocolCounts[name]
	return ok
}

// Clone returns a deep copy of the record.
func (r *CaptureRecord) Clone() *CaptureRecord {
	c := *r
	c.Protocols = append([]string(nil), r.Protocols...)
	c.ProtocolCounts = make(map[string]int64, len(r.ProtocolCounts))
	for k, v := range r.ProtocolCounts {
		c.ProtocolCounts[k] = v
	}
	if r.TotalPacketCount != nil {
		total := *r.TotalPacketCount
		c.TotalPacketCount = &total
	}
	return &c
}

// DownloadURL builds the download link for a content identity.
// It returns "" when no base URL is configured.
func DownloadURL(baseURL, id string) string {
	if baseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/pcaps/download/%s", baseURL, id)
}

// ────────────────────────────────────────────────────────────────────────────────
// ScanConfig - 扫描配置与过期判定
// ────────────────────────────────────────────────────────────────────────────────

// ScanConfig controls the quick-vs-full extraction policy.
type ScanConfig struct {
	Mode                ExtractionMode `json:"scan_mode"`
	MinFileSizeForQuick int64          `json:"min_file_size"`
	PacketBudget        int            `json:"pebc"`
	ConfigVersion       string         `json:"config_version"`
}

// ModeFor returns the extraction mode for a file of the given size.
func (c ScanConfig) ModeFor(size int64) ExtractionMode {
	if c.Mode == ModeQuick && size >= c.MinFileSizeForQuick {
		return ModeQuick
	}
	return ModeFull
}

// IsStale reports whether rec was quick-extracted under another config version.
// Full extractions never go stale.
func (c ScanConfig) IsStale(rec *CaptureRecord) bool {
	return rec.ExtractionMode == ModeQuick && rec.IndexConfigVersion != c.ConfigVersion
}

// DeriveConfigVersion computes a version token from the quick-scan parameters.
func DeriveConfigVersion(minFileSize int64, packetBudget int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d/%d", minFileSize, packetBudget)))
	return "q-" + hex.EncodeToString(sum[:4])
}

// ────────────────────────────────────────────────────────────────────────────────
// Results - 扫描 / 回填结果
// ────────────────────────────────────────────────────────────────────────────────

// ScanStatus is the outcome of a scan call that did not fail.
type ScanStatus string

const (
	ScanCompleted        ScanStatus = "completed"
	ScanCancelled        ScanStatus = "cancelled"
	ScanNoMatchingFolder ScanStatus = "no_matching_folder"
)

// ScanResult summarizes a scan run.
type ScanResult struct {
	Status       ScanStatus `json:"status"`
	IndexedFiles int        `json:"indexed_files"`
	Relocated    int        `json:"relocated"`
	Skipped      int        `json:"skipped"`
	Failed       int        `json:"failed"`
	Message      string     `json:"message,omitempty"`
}

// BackfillResult summarizes a backfill run.
type BackfillResult struct {
	Processed   int  `json:"processed"`
	Updated     int  `json:"updated"`
	Reextracted int  `json:"reextracted"`
	Failed      int  `json:"failed"`
	Cancelled   bool `json:"cancelled,omitempty"`
}

// PruneResult summarizes a reconciliation run.
type PruneResult struct {
	Checked   int  `json:"checked"`
	Removed   int  `json:"removed"`
	Failed    int  `json:"failed"`
	Cancelled bool `json:"cancelled,omitempty"`
}
