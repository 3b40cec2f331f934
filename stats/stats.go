// Package stats aggregates catalog-wide statistics over capture records,
// similar in spirit to tshark -z protocol hierarchy output.
package stats

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/Zerofisher/pcapcatalog/pkg/model"
)

// Manager collects and reports catalog statistics
type Manager struct {
	protocols map[string]*Protocol
	modes     map[model.ExtractionMode]int

	totalFiles    int
	totalBytes    int64
	truncated     int
	missingTotals int
	oldest        time.Time
	newest        time.Time

	largest         []*model.CaptureRecord
	largestCapacity int
}

// Protocol holds catalog-wide numbers for one protocol
type Protocol struct {
	Name    string `json:"name"`
	Files   int    `json:"files"`
	Packets int64  `json:"packets"`
	// Bytes is the size of the files containing the protocol.
	Bytes int64 `json:"bytes"`
}

// Summary is the catalog-wide overview
type Summary struct {
	Files         int       `json:"files"`
	Bytes         int64     `json:"bytes"`
	Protocols     int       `json:"protocols"`
	FullRecords   int       `json:"full_records"`
	QuickRecords  int       `json:"quick_records"`
	Truncated     int       `json:"truncated"`
	MissingTotals int       `json:"missing_totals"`
	OldestIndexed time.Time `json:"oldest_indexed"`
	NewestIndexed time.Time `json:"newest_indexed"`
}

// NewManager creates a new statistics manager that keeps the top
// largest captures.
func NewManager(largest int) *Manager {
	return &Manager{
		protocols:       make(map[string]*Protocol),
		modes:           make(map[model.ExtractionMode]int),
		largestCapacity: largest,
	}
}

// ProcessRecord updates statistics with one record
func (m *Manager) ProcessRecord(rec *model.CaptureRecord) {
	m.totalFiles++
	m.totalBytes += rec.SizeBytes
	m.modes[rec.ExtractionMode]++
	if rec.Truncated {
		m.truncated++
	}
	if rec.TotalPacketCount == nil {
		m.missingTotals++
	}
	if !rec.IndexedAt.IsZero() {
		if m.oldest.IsZero() || rec.IndexedAt.Before(m.oldest) {
			m.oldest = rec.IndexedAt
		}
		if rec.IndexedAt.After(m.newest) {
			m.newest = rec.IndexedAt
		}
	}

	for name, n := range rec.ProtocolCounts {
		p, ok := m.protocols[name]
		if !ok {
			p = &Protocol{Name: name}
			m.protocols[name] = p
		}
		p.Files++
		p.Packets += n
		p.Bytes += rec.SizeBytes
	}

	m.updateLargest(rec)
}

func (m *Manager) updateLargest(rec *model.CaptureRecord) {
	if m.largestCapacity <= 0 {
		return
	}
	i := sort.Search(len(m.largest), func(i int) bool {
		return m.largest[i].SizeBytes < rec.SizeBytes
	})
	if i >= m.largestCapacity {
		return
	}
	m.largest = append(m.largest, nil)
	copy(m.largest[i+1:], m.largest[i:])
	m.largest[i] = rec
	if len(m.largest) > m.largestCapacity {
		m.largest = m.largest[:m.largestCapacity]
	}
}

// Summary returns the overview numbers
func (m *Manager) Summary() Summary {
	return Summary{
		Files:         m.totalFiles,
		Bytes:         m.totalBytes,
		Protocols:     len(m.protocols),
		FullRecords:   m.modes[model.ModeFull],
		QuickRecords:  m.modes[model.ModeQuick],
		Truncated:     m.truncated,
		MissingTotals: m.missingTotals,
		OldestIndexed: m.oldest,
		NewestIndexed: m.newest,
	}
}

// Protocols returns per-protocol statistics, most widespread first.
// Ties are broken by packet count, then name.
func (m *Manager) Protocols() []*Protocol {
	out := make([]*Protocol, 0, len(m.protocols))
	for _, p := range m.protocols {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Files != out[j].Files {
			return out[i].Files > out[j].Files
		}
		if out[i].Packets != out[j].Packets {
			return out[i].Packets > out[j].Packets
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Largest returns the biggest captures seen, largest first
func (m *Manager) Largest() []*model.CaptureRecord {
	return m.largest
}

// PrintSummary writes the overview to the writer
func (m *Manager) PrintSummary(w io.Writer) {
	s := m.Summary()
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintln(w, "Catalog Summary")
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintf(w, "%-24s %d\n", "Captures", s.Files)
	fmt.Fprintf(w, "%-24s %s\n", "Total size", FormatBytes(s.Bytes))
	fmt.Fprintf(w, "%-24s %d\n", "Distinct protocols", s.Protocols)
	fmt.Fprintf(w, "%-24s %d full / %d quick (%d truncated)\n", "Extraction", s.FullRecords, s.QuickRecords, s.Truncated)
	fmt.Fprintf(w, "%-24s %d\n", "Awaiting backfill", s.MissingTotals)
	if !s.NewestIndexed.IsZero() {
		fmt.Fprintf(w, "%-24s %s\n", "Last indexed", s.NewestIndexed.Format(time.RFC3339))
	}
	fmt.Fprintln(w, "================================================================================")
}

// PrintProtocols writes the top protocol statistics to the writer.
// top <= 0 prints all protocols.
func (m *Manager) PrintProtocols(w io.Writer, top int) {
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintln(w, "Protocol Distribution")
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintf(w, "%-24s %10s %15s %12s %10s\n", "Protocol", "Files", "Packets", "Bytes", "Share")

	protocols := m.Protocols()
	if top > 0 && len(protocols) > top {
		protocols = protocols[:top]
	}
	for _, p := range protocols {
		fmt.Fprintf(w, "%-24s %10d %15d %12s %9.1f%%\n",
			Truncate(p.Name, 24),
			p.Files,
			p.Packets,
			FormatBytes(p.Bytes),
			share(p.Files, m.totalFiles),
		)
	}
	fmt.Fprintln(w, "================================================================================")
}

// PrintLargest writes the largest captures to the writer
func (m *Manager) PrintLargest(w io.Writer) {
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintln(w, "Largest Captures")
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintf(w, "%-32s %12s %10s  %s\n", "Filename", "Size", "Protocols", "Path")
	for _, rec := range m.largest {
		fmt.Fprintf(w, "%-32s %12s %10d  %s\n",
			Truncate(rec.Filename, 32),
			FormatBytes(rec.SizeBytes),
			len(rec.Protocols),
			rec.Path,
		)
	}
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

func share(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return 100 * float64(n) / float64(total)
}

// FormatBytes renders a byte count with a binary unit suffix
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

// Truncate shortens s to maxLen runes with a trailing ellipsis
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
