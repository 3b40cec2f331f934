// Package report provides report generation for the capture catalog.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/template"
	"time"

	"github.com/Zerofisher/pcapcatalog/pkg/store"
	"github.com/Zerofisher/pcapcatalog/stats"
)

// Records fetched per GetRecords call.
const batchSize = 500

// Data holds all data for report generation.
type Data struct {
	// Meta
	GeneratedAt time.Time `json:"generated_at"`
	Root        string    `json:"root"`

	// Overview
	Summary stats.Summary `json:"summary"`

	// Protocol distribution
	Protocols []*stats.Protocol `json:"protocols"`

	// Largest captures
	Largest []*CaptureSummary `json:"largest"`

	stats *stats.Manager
	top   int
}

// CaptureSummary is a simplified record for display.
type CaptureSummary struct {
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	SizeStr   string `json:"-"`
	Protocols int    `json:"protocols"`
	Mode      string `json:"extraction_mode"`
}

// Options controls report contents.
type Options struct {
	Root string
	// TopProtocols caps the protocol table. <= 0 keeps all.
	TopProtocols int
	// Largest is the number of largest captures listed.
	Largest int
}

// Generate creates a report from every record in the store.
func Generate(ctx context.Context, st store.Store, opts Options) (*Data, error) {
	ids, err := st.RecordIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	m := stats.NewManager(opts.Largest)
	for start := 0; start < len(ids); start += batchSize {
		end := min(start+batchSize, len(ids))
		recs, err := st.GetRecords(ctx, ids[start:end])
		if err != nil {
			return nil, fmt.Errorf("load records: %w", err)
		}
		for _, rec := range recs {
			if rec != nil {
				m.ProcessRecord(rec)
			}
		}
	}

	report := &Data{
		GeneratedAt: time.Now().UTC(),
		Root:        opts.Root,
		Summary:     m.Summary(),
		Protocols:   m.Protocols(),
		stats:       m,
		top:         opts.TopProtocols,
	}
	if opts.TopProtocols > 0 && len(report.Protocols) > opts.TopProtocols {
		report.Protocols = report.Protocols[:opts.TopProtocols]
	}
	for _, rec := range m.Largest() {
		report.Largest = append(report.Largest, &CaptureSummary{
			ID:        rec.ID,
			Filename:  rec.Filename,
			Path:      rec.Path,
			SizeBytes: rec.SizeBytes,
			SizeStr:   stats.FormatBytes(rec.SizeBytes),
			Protocols: len(rec.Protocols),
			Mode:      string(rec.ExtractionMode),
		})
	}
	return report, nil
}

var markdownTmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"bytes": stats.FormatBytes,
	"time":  func(t time.Time) string { return t.Format(time.RFC3339) },
}).Parse(`# Capture Catalog Report

Generated {{time .GeneratedAt}}{{if .Root}} for ` + "`{{.Root}}`" + `{{end}}

## Overview

| Metric | Value |
|---|---|
| Captures | {{.Summary.Files}} |
| Total size | {{bytes .Summary.Bytes}} |
| Distinct protocols | {{.Summary.Protocols}} |
| Full extractions | {{.Summary.FullRecords}} |
| Quick extractions | {{.Summary.QuickRecords}} ({{.Summary.Truncated}} truncated) |
| Awaiting backfill | {{.Summary.MissingTotals}} |
{{- if not .Summary.NewestIndexed.IsZero}}
| Last indexed | {{time .Summary.NewestIndexed}} |
{{- end}}

## Protocols
{{if .Protocols}}
| Protocol | Files | Packets | Bytes |
|---|---:|---:|---:|
{{- range .Protocols}}
| {{.Name}} | {{.Files}} | {{.Packets}} | {{bytes .Bytes}} |
{{- end}}
{{else}}
No protocols indexed.
{{end}}
## Largest Captures
{{if .Largest}}
| Filename | Size | Protocols | Mode | Path |
|---|---:|---:|---|---|
{{- range .Largest}}
| {{.Filename}} | {{.SizeStr}} | {{.Protocols}} | {{.Mode}} | ` + "`{{.Path}}`" + ` |
{{- end}}
{{else}}
No captures indexed.
{{end}}`))

// WriteMarkdown renders the report as Markdown.
func WriteMarkdown(w io.Writer, data *Data) error {
	return markdownTmpl.Execute(w, data)
}

// WriteText renders the report as plain-text tables.
func WriteText(w io.Writer, data *Data) error {
	if data.stats == nil {
		return fmt.Errorf("report has no statistics")
	}
	data.stats.PrintSummary(w)
	fmt.Fprintln(w)
	data.stats.PrintProtocols(w, data.top)
	if len(data.Largest) > 0 {
		fmt.Fprintln(w)
		data.stats.PrintLargest(w)
	}
	return nil
}

// WriteJSON renders the report as indented JSON.
func WriteJSON(w io.Writer, data *Data) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}
