package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zerofisher/pcapcatalog/capture"
	"github.com/Zerofisher/pcapcatalog/internal/app"
	"github.com/Zerofisher/pcapcatalog/internal/config"
	"github.com/Zerofisher/pcapcatalog/pkg/model"
	"github.com/Zerofisher/pcapcatalog/pkg/status"
	"github.com/Zerofisher/pcapcatalog/pkg/store/memory"
)

// tokenExtractor reads fixtures of the form "tcp:10 http:5". When gate is
// set each extraction announces itself on started and waits for gate.
type tokenExtractor struct {
	started chan string
	gate    chan struct{}
}

func (e *tokenExtractor) Extract(ctx context.Context, path string, opts capture.ExtractOptions) (*capture.Extraction, error) {
	if e.gate != nil {
		e.started <- path
		<-e.gate
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, capture.ErrUnreadable
	}
	ext := &capture.Extraction{Counts: make(map[string]int64)}
	for _, tok := range strings.Fields(string(data)) {
		name, count, _ := strings.Cut(tok, ":")
		n, err := strconv.ParseInt(count, 10, 64)
		if err != nil {
			return nil, capture.ErrUnreadable
		}
		ext.Protocols = append(ext.Protocols, name)
		ext.Counts[name] = n
	}
	return ext, nil
}

type testServer struct {
	root    string
	app     *app.App
	handler http.Handler
}

func newTestServer(t *testing.T, ext *tokenExtractor, mutate ...func(*config.Config)) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.PcapDirectory = t.TempDir()
	cfg.PublicBaseURL = "http://catalog:8000"
	cfg.Server.AllowedOrigins = []string{"http://ui.local"}
	for _, m := range mutate {
		m(cfg)
	}
	if ext == nil {
		ext = &tokenExtractor{}
	}

	a, err := app.New(cfg, app.Options{
		Store:     memory.New(),
		Extractor: ext,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &testServer{root: cfg.PcapDirectory, app: a, handler: NewServer(ctx, a).Handler()}
}

func (ts *testServer) write(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(ts.root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func (ts *testServer) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = "203.0.113.1:1234"
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestReindexRunsInBackground(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.write(t, "a.pcap", "tcp:10 http:5")
	ts.write(t, "b.pcap", "udp:3")

	w := ts.do(t, http.MethodPost, "/reindex")
	require.Equal(t, http.StatusOK, w.Code)
	started := decode[startResponse](t, w)
	assert.Equal(t, "started", started.Status)
	assert.NotEmpty(t, started.ID)

	var snap status.Snapshot
	require.Eventually(t, func() bool {
		snap = decode[status.Snapshot](t, ts.do(t, http.MethodGet, "/scan-status"))
		return snap.State.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, status.StateCompleted, snap.State)
	assert.Equal(t, started.ID, snap.ID)
	assert.Equal(t, 2, snap.Indexed)
	assert.Equal(t, "Completed successfully. Indexed 2 files.", snap.Message)
}

func TestReindexBusyAndCancel(t *testing.T) {
	ext := &tokenExtractor{started: make(chan string, 4), gate: make(chan struct{})}
	ts := newTestServer(t, ext)
	ts.write(t, "a.pcap", "tcp:1")
	ts.write(t, "b.pcap", "tcp:2")

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/reindex").Code)
	<-ext.started

	w := ts.do(t, http.MethodPost, "/reindex")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "busy", decode[startResponse](t, w).Status)
	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/reindex/site").Code)
	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/reconcile").Code)

	w = ts.do(t, http.MethodPost, "/scan-cancel")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cancelling", decode[startResponse](t, w).Status)
	close(ext.gate)

	require.Eventually(t, func() bool {
		return ts.app.Scanner.Status().State == status.StateCancelled
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, ts.app.Scanner.Status().Indexed)

	w = ts.do(t, http.MethodPost, "/scan-cancel")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "no_scan", decode[startResponse](t, w).Status)
}

func TestReindexFolderIsSynchronous(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.write(t, "site-a/a.pcap", "tcp:10")
	ts.write(t, "site-b/b.pcap", "udp:3")

	w := ts.do(t, http.MethodPost, "/reindex/site-a")
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[model.ScanResult](t, w)
	assert.Equal(t, model.ScanCompleted, res.Status)
	assert.Equal(t, 1, res.IndexedFiles)

	w = ts.do(t, http.MethodPost, "/reindex/nowhere")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.ScanNoMatchingFolder, decode[model.ScanResult](t, w).Status)
}

func TestMissingRootIsServerError(t *testing.T) {
	ts := newTestServer(t, nil, func(c *config.Config) {
		c.PcapDirectory = filepath.Join(os.TempDir(), "pcapcatalog-does-not-exist")
	})

	assert.Equal(t, http.StatusInternalServerError, ts.do(t, http.MethodPost, "/reindex").Code)
	assert.Equal(t, http.StatusInternalServerError, ts.do(t, http.MethodPost, "/reindex/x").Code)

	snap := decode[status.Snapshot](t, ts.do(t, http.MethodGet, "/scan-status"))
	assert.Equal(t, status.StateFailed, snap.State)
	assert.Contains(t, snap.Message, "capture directory not found")
}

func TestDownloadLinksFollowRequestHost(t *testing.T) {
	ts := newTestServer(t, nil, func(c *config.Config) { c.PublicBaseURL = "" })
	ts.write(t, "site/a.pcap", "tcp:1")

	w := ts.do(t, http.MethodPost, "http://files.example:8080/reindex/site")
	require.Equal(t, http.StatusOK, w.Code)

	ids, err := ts.app.Store.RecordIDs(context.Background())
	require.NoError(t, err)
	require.Len(t, ids, 1)
	rec, err := ts.app.Store.GetRecord(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, "http://files.example:8080/pcaps/download/"+ids[0], rec.DownloadURL)
}

func TestRequestBaseURL(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "http://internal:8000/reindex", nil)
	assert.Equal(t, "http://internal:8000", requestBaseURL(req))

	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "catalog.example, proxy.local")
	assert.Equal(t, "https://catalog.example", requestBaseURL(req))
}

func TestScanConfig(t *testing.T) {
	ts := newTestServer(t, nil)
	body := decode[map[string]any](t, ts.do(t, http.MethodGet, "/scan-config"))
	assert.Equal(t, "full", body["scan_mode"])
	assert.Nil(t, body["pebc"])
	assert.Nil(t, body["min_file_size"])

	ts = newTestServer(t, nil, func(c *config.Config) {
		c.Scan.Mode = "quick"
		c.Scan.Quick.ConfigVersion = "v7"
	})
	body = decode[map[string]any](t, ts.do(t, http.MethodGet, "/scan-config"))
	assert.Equal(t, "quick", body["scan_mode"])
	assert.Equal(t, float64(10000), body["pebc"])
	assert.Equal(t, "v7", body["config_version"])
}

func TestBackfillEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.write(t, "a.pcap", "tcp:10 http:5")
	_, err := ts.app.Scanner.Run(context.Background(), ts.app.ScanOptions("", nil))
	require.NoError(t, err)

	w := ts.do(t, http.MethodPost, "/backfill/total-packets")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "started", decode[startResponse](t, w).Status)

	require.Eventually(t, func() bool {
		snap := decode[status.Snapshot](t, ts.do(t, http.MethodGet, "/backfill-status"))
		return snap.State == status.StateCompleted
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/backfill-cancel").Code)
}

func TestSearchEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.write(t, "a.pcap", "tcp:10 http:5")
	ts.write(t, "b.pcap", "tcp:3")
	_, err := ts.app.Scanner.Run(context.Background(), ts.app.ScanOptions("", nil))
	require.NoError(t, err)

	w := ts.do(t, http.MethodGet, "/search?protocol=TCP&sort_by=protocol_packet_count&descending=true&limit=1")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, float64(2), body["total_items"])
	assert.Equal(t, float64(2), body["total_pages"])
	results := body["results"].([]any)
	require.Len(t, results, 1)
	hit := results[0].(map[string]any)
	assert.Equal(t, "a.pcap", hit["filename"])
	assert.Equal(t, float64(10), hit["protocol_packet_count"])

	w = ts.do(t, http.MethodGet, "/search?protocol=tcp&where=size_bytes+%3E+1000")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode[map[string]any](t, w)["total_items"])

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/search").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/search?protocol=tcp&sort_by=color").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/search?protocol=tcp&where=size_bytes+%3E").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/search?protocol=tcp&page=abc").Code)
}

func TestSearchHugePageIsEmpty(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.write(t, "a.pcap", "tcp:10")
	_, err := ts.app.Scanner.Run(context.Background(), ts.app.ScanOptions("", nil))
	require.NoError(t, err)

	w := ts.do(t, http.MethodGet, "/search?protocol=tcp&page=9223372036854775807")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Empty(t, body["results"])
	assert.Equal(t, float64(1), body["total_items"])
}

func TestSuggestEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.write(t, "a.pcap", "tcp:10 http:5 http2:1")
	_, err := ts.app.Scanner.Run(context.Background(), ts.app.ScanOptions("", nil))
	require.NoError(t, err)

	w := ts.do(t, http.MethodGet, "/protocols/suggest?q=HT")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"http", "http2"}, decode[[]string](t, w))

	w = ts.do(t, http.MethodGet, "/protocols/suggest?q=zz")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]\n", w.Body.String())

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/protocols/suggest?q=").Code)
}

func TestDownload(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.write(t, "dir/a.pcap", "tcp:10")
	_, err := ts.app.Scanner.Run(context.Background(), ts.app.ScanOptions("", nil))
	require.NoError(t, err)

	ids, err := ts.app.Store.RecordIDs(context.Background())
	require.NoError(t, err)
	require.Len(t, ids, 1)

	w := ts.do(t, http.MethodGet, "/pcaps/download/"+ids[0])
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tcp:10", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), `filename=a.pcap`)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/pcaps/download/unknown").Code)

	require.NoError(t, os.Remove(filepath.Join(ts.root, "dir/a.pcap")))
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/pcaps/download/"+ids[0]).Code)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(t, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, ts.app.Store.Close())
	w = ts.do(t, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://ui.local")
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	assert.Equal(t, "http://ui.local", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.local")
	w = httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/search", nil)
	req.Header.Set("Origin", "http://ui.local")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w = httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	call := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/search", nil)
		req.RemoteAddr = ip + ":5555"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, call("203.0.113.1"))
	assert.Equal(t, http.StatusOK, call("203.0.113.1"))
	assert.Equal(t, http.StatusTooManyRequests, call("203.0.113.1"))
	assert.Equal(t, http.StatusOK, call("203.0.113.2"), "limits are per client")
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	h := rl.Middleware(next)
	for range 100 {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}
