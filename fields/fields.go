// Package fields describes the record fields that can be printed by the CLI
// and referenced in search filter expressions.
package fields

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Zerofisher/pcapcatalog/pkg/model"
)

// FieldType represents the type of a field
type FieldType int

const (
	TypeString FieldType = iota
	TypeInt
	TypeBool
	TypeList
	TypeMap
	TypeTime
	TypeFunc
)

// FieldDef defines a record field
type FieldDef struct {
	Name        string                         // Field name (e.g., "size_bytes")
	Description string                         // Human-readable description
	Type        FieldType                      // Value type
	Filterable  bool                           // Usable in where expressions
	Extractor   func(*model.CaptureRecord) any // Field value extractor, nil for filter-only names
}

// Registry holds all registered fields
type Registry struct {
	fields map[string]*FieldDef
}

// NewRegistry creates a new field registry with standard fields
func NewRegistry() *Registry {
	r := &Registry{
		fields: make(map[string]*FieldDef),
	}
	r.registerStandardFields()
	return r
}

// Get returns a field definition by name
func (r *Registry) Get(name string) *FieldDef {
	return r.fields[name]
}

// List returns all registered field names, sorted
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.fields))
	for name := range r.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Extract extracts a field value from a record
func (r *Registry) Extract(name string, rec *model.CaptureRecord) (any, bool) {
	field := r.fields[name]
	if field == nil || field.Extractor == nil {
		return nil, false
	}
	value := field.Extractor(rec)
	return value, value != nil
}

// ExtractString extracts a field value formatted for tabular output
func (r *Registry) ExtractString(name string, rec *model.CaptureRecord) string {
	value, ok := r.Extract(name, rec)
	if !ok {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		if v {
			return "1"
		}
		return "0"
	case []string:
		return strings.Join(v, ",")
	case map[string]int64:
		parts := make([]string, 0, len(v))
		for _, name := range rec.Protocols {
			if n, ok := v[name]; ok {
				parts = append(parts, name+"="+strconv.FormatInt(n, 10))
			}
		}
		return strings.Join(parts, ",")
	case time.Time:
		return v.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Validate returns an error naming the first unknown or non-extractable field
func (r *Registry) Validate(names []string) error {
	for _, name := range names {
		field := r.fields[name]
		if field == nil || field.Extractor == nil {
			return fmt.Errorf("unknown field %q", name)
		}
	}
	return nil
}

// Register adds a new field to the registry
func (r *Registry) Register(field *FieldDef) {
	r.fields[field.Name] = field
}

// registerStandardFields registers the stored record fields and the
// filter helper functions
func (r *Registry) registerStandardFields() {
	r.Register(&FieldDef{
		Name:        "id",
		Description: "Content identity (hex digest)",
		Type:        TypeString,
		Extractor:   func(rec *model.CaptureRecord) any { return rec.ID },
	})
	r.Register(&FieldDef{
		Name:        "filename",
		Description: "Base name of the capture file",
		Type:        TypeString,
		Filterable:  true,
		Extractor:   func(rec *model.CaptureRecord) any { return rec.Filename },
	})
	r.Register(&FieldDef{
		Name:        "path",
		Description: "Absolute path of the capture file",
		Type:        TypeString,
		Filterable:  true,
		Extractor:   func(rec *model.CaptureRecord) any { return rec.Path },
	})
	r.Register(&FieldDef{
		Name:        "size_bytes",
		Description: "File size in bytes",
		Type:        TypeInt,
		Filterable:  true,
		Extractor:   func(rec *model.CaptureRecord) any { return rec.SizeBytes },
	})
	r.Register(&FieldDef{
		Name:        "protocols",
		Description: "Protocols present, in first-seen order",
		Type:        TypeList,
		Filterable:  true,
		Extractor:   func(rec *model.CaptureRecord) any { return rec.Protocols },
	})
	r.Register(&FieldDef{
		Name:        "protocol_counts",
		Description: "Packets per protocol",
		Type:        TypeMap,
		Filterable:  true,
		Extractor:   func(rec *model.CaptureRecord) any { return rec.ProtocolCounts },
	})
	r.Register(&FieldDef{
		Name:        "total_packet_count",
		Description: "Total packets, set by backfill (0 in filters until then)",
		Type:        TypeInt,
		Filterable:  true,
		Extractor: func(rec *model.CaptureRecord) any {
			if rec.TotalPacketCount == nil {
				return nil
			}
			return *rec.TotalPacketCount
		},
	})
	r.Register(&FieldDef{
		Name:        "download_url",
		Description: "Download link",
		Type:        TypeString,
		Extractor:   func(rec *model.CaptureRecord) any { return rec.DownloadURL },
	})
	r.Register(&FieldDef{
		Name:        "extraction_mode",
		Description: "full or quick",
		Type:        TypeString,
		Filterable:  true,
		Extractor:   func(rec *model.CaptureRecord) any { return string(rec.ExtractionMode) },
	})
	r.Register(&FieldDef{
		Name:        "index_config_version",
		Description: "Quick scan configuration version of the extraction",
		Type:        TypeString,
		Extractor:   func(rec *model.CaptureRecord) any { return rec.IndexConfigVersion },
	})
	r.Register(&FieldDef{
		Name:        "truncated",
		Description: "Quick extraction stopped with packets left",
		Type:        TypeBool,
		Filterable:  true,
		Extractor:   func(rec *model.CaptureRecord) any { return rec.Truncated },
	})
	r.Register(&FieldDef{
		Name:        "indexed_at",
		Description: "Time of the last extraction",
		Type:        TypeTime,
		Extractor: func(rec *model.CaptureRecord) any {
			if rec.IndexedAt.IsZero() {
				return nil
			}
			return rec.IndexedAt
		},
	})

	// Filter-only names
	r.Register(&FieldDef{
		Name:        "packet_count",
		Description: "Packets of the searched protocol",
		Type:        TypeInt,
		Filterable:  true,
	})
	r.Register(&FieldDef{
		Name:        "has",
		Description: "has(name): record contains the protocol",
		Type:        TypeFunc,
		Filterable:  true,
	})
	r.Register(&FieldDef{
		Name:        "count",
		Description: "count(name): packets of the protocol, 0 if absent",
		Type:        TypeFunc,
		Filterable:  true,
	})
}

// GetFieldInfo returns a formatted string describing a field
func (r *Registry) GetFieldInfo(name string) string {
	field := r.fields[name]
	if field == nil {
		return ""
	}
	return fmt.Sprintf("%s\t%s\t%s", field.Name, getTypeName(field.Type), field.Description)
}

func getTypeName(t FieldType) string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeBool:
		return "bool"
	case TypeList:
		return "list"
	case TypeMap:
		return "map"
	case TypeTime:
		return "time"
	case TypeFunc:
		return "func"
	default:
		return "unknown"
	}
}
