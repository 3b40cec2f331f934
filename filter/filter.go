// Package filter provides record filter functionality using expr-lang/expr
package filter

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/Zerofisher/pcapcatalog/pkg/model"
)

// RecordEnv is the environment for expression evaluation.
// It exposes the stored fields of a capture record.
type RecordEnv struct {
	Filename       string           `expr:"filename"`
	Path           string           `expr:"path"`
	SizeBytes      int64            `expr:"size_bytes"`
	Protocols      []string         `expr:"protocols"`
	ProtocolCounts map[string]int64 `expr:"protocol_counts"`
	ExtractionMode string           `expr:"extraction_mode"`
	Truncated      bool             `expr:"truncated"`

	// TotalPacketCount is 0 until backfilled.
	TotalPacketCount int64 `expr:"total_packet_count"`

	// PacketCount is the count of the protocol being searched for.
	PacketCount int64 `expr:"packet_count"`

	// Has reports whether the record contains a protocol (case-insensitive).
	Has func(name string) bool `expr:"has"`
	// Count returns the packet count of a protocol, 0 if absent.
	Count func(name string) int64 `expr:"count"`
}

// NewRecordEnv builds the evaluation environment of rec. packetCount is the
// count of the searched protocol.
func NewRecordEnv(rec *model.CaptureRecord, packetCount int64) RecordEnv {
	env := RecordEnv{
		Filename:       rec.Filename,
		Path:           rec.Path,
		SizeBytes:      rec.SizeBytes,
		Protocols:      rec.Protocols,
		ProtocolCounts: rec.ProtocolCounts,
		ExtractionMode: string(rec.ExtractionMode),
		Truncated:      rec.Truncated,
		PacketCount:    packetCount,
	}
	if rec.TotalPacketCount != nil {
		env.TotalPacketCount = *rec.TotalPacketCount
	}
	env.Count = func(name string) int64 {
		return CountOf(rec.ProtocolCounts, name)
	}
	env.Has = func(name string) bool {
		if _, ok := rec.ProtocolCounts[name]; ok {
			return true
		}
		for p := range rec.ProtocolCounts {
			if strings.EqualFold(p, name) {
				return true
			}
		}
		return false
	}
	return env
}

// CountOf looks up a protocol count: exact key first, then a
// case-insensitive match, else 0.
func CountOf(counts map[string]int64, name string) int64 {
	if n, ok := counts[name]; ok {
		return n
	}
	for p, n := range counts {
		if strings.EqualFold(p, name) {
			return n
		}
	}
	return 0
}

// Filter is a compiled record filter expression.
type Filter struct {
	source  string
	program *vm.Program
}

// Compile compiles a filter expression such as
// `size_bytes > 1000000 && has("dns")` or `extraction_mode in {"quick"}`.
func Compile(filterStr string) (*Filter, error) {
	processed := preprocessFilter(filterStr)

	program, err := expr.Compile(processed, expr.Env(RecordEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("failed to compile filter '%s': %w", filterStr, err)
	}
	return &Filter{source: filterStr, program: program}, nil
}

// String returns the expression as written.
func (f *Filter) String() string {
	return f.source
}

// Match evaluates the filter against env.
func (f *Filter) Match(env RecordEnv) (bool, error) {
	result, err := expr.Run(f.program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate filter '%s': %w", f.source, err)
	}
	b, ok := result.(bool)
	return ok && b, nil
}

// preprocessFilter converts Wireshark-style syntax to expr syntax:
// `and`/`or`/`not` keywords are native, set literals `{a, b}` become arrays.
func preprocessFilter(filter string) string {
	filter = strings.TrimSpace(filter)
	filter = strings.ReplaceAll(filter, "{", "[")
	filter = strings.ReplaceAll(filter, "}", "]")
	return filter
}
