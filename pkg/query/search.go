package query

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/Zerofisher/pcapcatalog/filter"
	"github.com/Zerofisher/pcapcatalog/pkg/model"
	"github.com/Zerofisher/pcapcatalog/pkg/store"
)

// Pagination defaults.
const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// SortField names a sortable hit attribute.
type SortField string

const (
	SortFilename            SortField = "filename"
	SortSizeBytes           SortField = "size_bytes"
	SortProtocolPacketCount SortField = "protocol_packet_count"
	SortTotalPacketCount    SortField = "total_packet_count"
	SortPath                SortField = "path"
)

// ParseSortField validates a sort field name. Empty selects filename.
func ParseSortField(s string) (SortField, error) {
	switch f := SortField(s); f {
	case "":
		return SortFilename, nil
	case SortFilename, SortSizeBytes, SortProtocolPacketCount, SortTotalPacketCount, SortPath:
		return f, nil
	default:
		return "", fmt.Errorf("%w: unknown sort field %q", ErrInvalidRequest, s)
	}
}

func (f SortField) numeric() bool {
	return f == SortSizeBytes || f == SortProtocolPacketCount || f == SortTotalPacketCount
}

// SearchRequest holds the parameters of a protocol search.
type SearchRequest struct {
	Protocol   string `schema:"protocol"`
	Page       int    `schema:"page"`
	Limit      int    `schema:"limit"`
	SortBy     string `schema:"sort_by"`
	Descending bool   `schema:"descending"`
	// Where is an optional filter expression, see package filter.
	Where string `schema:"where"`
}

// Hit is one search result: the stored record plus per-search fields.
type Hit struct {
	model.CaptureRecord
	SearchedProtocol    string `json:"searched_protocol"`
	ProtocolPacketCount int64  `json:"protocol_packet_count"`
}

// SearchResult is one page of hits.
type SearchResult struct {
	Results    []Hit `json:"results"`
	TotalItems int   `json:"total_items"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"total_pages"`
}

// Config holds search presentation settings.
type Config struct {
	// PcapDirectory and HostPcapDirectory rewrite stored path prefixes for
	// display. Both must be set for the rewrite to apply.
	PcapDirectory     string
	HostPcapDirectory string

	// MaxLimit caps the page size. Defaults to MaxLimit if <= 0.
	MaxLimit int
}

// SearchEngine serves protocol searches.
type SearchEngine struct {
	store  store.Store
	cfg    Config
	logger *slog.Logger
}

// NewSearchEngine creates a search engine. A nil store is allowed and makes
// every search fail with ErrServiceUnavailable.
func NewSearchEngine(st store.Store, cfg Config, logger *slog.Logger) *SearchEngine {
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = MaxLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchEngine{store: st, cfg: cfg, logger: logger.With("component", "search")}
}

// Search returns one page of records containing req.Protocol.
func (e *SearchEngine) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	protocol := strings.TrimSpace(req.Protocol)
	if protocol == "" {
		return nil, fmt.Errorf("%w: protocol is required", ErrInvalidRequest)
	}
	sortBy, err := ParseSortField(req.SortBy)
	if err != nil {
		return nil, err
	}
	page, limit := e.normalizePage(req.Page, req.Limit)

	var where *filter.Filter
	if req.Where != "" {
		where, err = filter.Compile(req.Where)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
		}
	}

	if e.store == nil {
		return nil, ErrServiceUnavailable
	}
	if err := e.store.Ping(ctx); err != nil {
		e.logger.Warn("index store unreachable", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}

	ids, err := e.store.ProtocolMembers(ctx, protocol)
	if err != nil {
		return nil, fmt.Errorf("%w: members of %s: %v", ErrQueryFailed, protocol, err)
	}
	result := &SearchResult{Results: []Hit{}, Page: page, Limit: limit}
	if len(ids) == 0 {
		return result, nil
	}
	sort.Strings(ids)

	recs, err := e.store.GetRecords(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: load records: %v", ErrQueryFailed, err)
	}

	hits := make([]Hit, 0, len(recs))
	for i, rec := range recs {
		if rec == nil {
			e.logger.Debug("dangling protocol membership", "protocol", protocol, "id", ids[i])
			continue
		}
		count := filter.CountOf(rec.ProtocolCounts, protocol)
		if where != nil {
			ok, err := where.Match(filter.NewRecordEnv(rec, count))
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
			}
			if !ok {
				continue
			}
		}
		hit := Hit{CaptureRecord: *rec, SearchedProtocol: protocol, ProtocolPacketCount: count}
		hit.Path = e.hostPath(rec.Path)
		hits = append(hits, hit)
	}

	sortHits(hits, sortBy, req.Descending)

	result.TotalItems = len(hits)
	result.TotalPages = (len(hits) + limit - 1) / limit
	// Compare pages before multiplying: (page-1)*limit overflows for huge pages.
	if page <= result.TotalPages {
		start := (page - 1) * limit
		end := min(start+limit, len(hits))
		result.Results = hits[start:end]
	}
	return result, nil
}

func (e *SearchEngine) normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > e.cfg.MaxLimit {
		limit = e.cfg.MaxLimit
	}
	return page, limit
}

// hostPath rewrites the stored directory prefix to the host-visible one.
func (e *SearchEngine) hostPath(path string) string {
	if e.cfg.PcapDirectory == "" || e.cfg.HostPcapDirectory == "" {
		return path
	}
	if rest, ok := strings.CutPrefix(path, e.cfg.PcapDirectory); ok {
		return e.cfg.HostPcapDirectory + rest
	}
	return path
}

func sortHits(hits []Hit, field SortField, descending bool) {
	less := func(a, b *Hit) bool {
		if field.numeric() {
			return numericKey(a, field) < numericKey(b, field)
		}
		return textKey(a, field) < textKey(b, field)
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if descending {
			return less(&hits[j], &hits[i])
		}
		return less(&hits[i], &hits[j])
	})
}

func numericKey(h *Hit, field SortField) int64 {
	switch field {
	case SortSizeBytes:
		return h.SizeBytes
	case SortProtocolPacketCount:
		return h.ProtocolPacketCount
	case SortTotalPacketCount:
		if h.TotalPacketCount != nil {
			return *h.TotalPacketCount
		}
	}
	return 0
}

func textKey(h *Hit, field SortField) string {
	if field == SortPath {
		return strings.ToLower(h.Path)
	}
	return strings.ToLower(h.Filename)
}
