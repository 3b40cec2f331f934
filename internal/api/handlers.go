package api

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"os"
	"strings"

	"github.com/Zerofisher/pcapcatalog/pkg/ingest"
	"github.com/Zerofisher/pcapcatalog/pkg/model"
	"github.com/Zerofisher/pcapcatalog/pkg/query"
	"github.com/Zerofisher/pcapcatalog/pkg/status"
)

// startResponse answers requests that launch or stop a background pass.
type startResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	ID      string `json:"id,omitempty"`
}

// ────────────────────────────────────────────────────────────────────────────────
// Scan
// ────────────────────────────────────────────────────────────────────────────────

// handleReindex starts a full background scan.
// POST /reindex?exclude=a.pcap&exclude=b.pcap
func (s *Server) handleReindex(w http.ResponseWriter, req *http.Request) {
	opts := s.app.ScanOptions("", req.URL.Query()["exclude"])
	opts.BaseURL = requestBaseURL(req)
	snap, err := s.app.Scanner.Start(s.baseCtx, opts)
	s.writeStarted(w, snap, err, "A scan is already running.")
}

// requestBaseURL returns the scheme and host the client addressed. Download
// links fall back to it when public_base_url is not configured.
func requestBaseURL(req *http.Request) string {
	scheme := "http"
	if req.TLS != nil {
		scheme = "https"
	}
	if p := req.Header.Get("X-Forwarded-Proto"); p == "http" || p == "https" {
		scheme = p
	}
	host := req.Host
	if h := req.Header.Get("X-Forwarded-Host"); h != "" {
		host, _, _ = strings.Cut(h, ",")
		host = strings.TrimSpace(host)
	}
	if host == "" {
		return ""
	}
	return scheme + "://" + host
}

// handleReindexFolder scans one folder synchronously and returns the result.
// POST /reindex/{folder}
func (s *Server) handleReindexFolder(w http.ResponseWriter, req *http.Request) {
	opts := s.app.ScanOptions(req.PathValue("folder"), req.URL.Query()["exclude"])
	opts.BaseURL = requestBaseURL(req)
	res, err := s.app.Scanner.Run(req.Context(), opts)
	switch {
	case errors.Is(err, status.ErrBusy):
		writeJSON(w, http.StatusConflict, startResponse{Status: "busy", Message: "A scan is already running."})
	case err != nil:
		s.logger.Error("targeted scan failed", "folder", opts.TargetFolder, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

// GET /scan-status
func (s *Server) handleScanStatus(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Scanner.Status())
}

// POST /scan-cancel
func (s *Server) handleScanCancel(w http.ResponseWriter, req *http.Request) {
	if err := s.app.Scanner.Cancel(); err != nil {
		writeJSON(w, http.StatusBadRequest, startResponse{Status: "no_scan", Message: "No scan is currently running."})
		return
	}
	s.logger.Info("scan cancellation requested")
	writeJSON(w, http.StatusOK, startResponse{Status: "cancelling", Message: "Scan cancellation has been triggered."})
}

// scanConfigResponse reports the active extraction policy. The quick
// parameters are null in full mode.
type scanConfigResponse struct {
	ScanMode      model.ExtractionMode `json:"scan_mode"`
	PacketBudget  *int                 `json:"pebc"`
	MinFileSize   *int64               `json:"min_file_size"`
	ConfigVersion string               `json:"config_version"`
}

// GET /scan-config
func (s *Server) handleScanConfig(w http.ResponseWriter, req *http.Request) {
	policy := s.app.Scanner.Config().Scan
	resp := scanConfigResponse{ScanMode: policy.Mode, ConfigVersion: policy.ConfigVersion}
	if policy.Mode == model.ModeQuick {
		resp.PacketBudget = &policy.PacketBudget
		resp.MinFileSize = &policy.MinFileSizeForQuick
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleReconcile starts a background prune of records whose files are gone.
// POST /reconcile
func (s *Server) handleReconcile(w http.ResponseWriter, req *http.Request) {
	snap, err := s.app.Scanner.StartPrune(s.baseCtx)
	s.writeStarted(w, snap, err, "A scan is already running.")
}

// ────────────────────────────────────────────────────────────────────────────────
// Backfill
// ────────────────────────────────────────────────────────────────────────────────

// POST /backfill/total-packets
func (s *Server) handleBackfill(w http.ResponseWriter, req *http.Request) {
	snap, err := s.app.Backfiller.Start(s.baseCtx)
	s.writeStarted(w, snap, err, "A backfill is already running.")
}

// GET /backfill-status
func (s *Server) handleBackfillStatus(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Backfiller.Status())
}

// POST /backfill-cancel
func (s *Server) handleBackfillCancel(w http.ResponseWriter, req *http.Request) {
	if err := s.app.Backfiller.Cancel(); err != nil {
		writeJSON(w, http.StatusBadRequest, startResponse{Status: "no_backfill", Message: "No backfill is currently running."})
		return
	}
	writeJSON(w, http.StatusOK, startResponse{Status: "cancelling", Message: "Backfill cancellation has been triggered."})
}

func (s *Server) writeStarted(w http.ResponseWriter, snap status.Snapshot, err error, busyMsg string) {
	switch {
	case errors.Is(err, status.ErrBusy):
		writeJSON(w, http.StatusConflict, startResponse{Status: "busy", Message: busyMsg})
	case errors.Is(err, ingest.ErrDirectoryNotFound):
		writeError(w, http.StatusInternalServerError, err.Error())
	case err != nil:
		s.logger.Error("start failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, startResponse{Status: "started", ID: snap.ID})
	}
}

// ────────────────────────────────────────────────────────────────────────────────
// Queries
// ────────────────────────────────────────────────────────────────────────────────

// GET /search?protocol=tcp&page=1&limit=10&sort_by=filename&descending=false&where=...
func (s *Server) handleSearch(w http.ResponseWriter, req *http.Request) {
	var sr query.SearchRequest
	if err := s.decoder.Decode(&sr, req.URL.Query()); err != nil {
		writeError(w, http.StatusBadRequest, "invalid query parameters: "+err.Error())
		return
	}

	res, err := s.app.Search.Search(req.Context(), sr)
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /protocols/suggest?q=ht
func (s *Server) handleSuggest(w http.ResponseWriter, req *http.Request) {
	names, err := s.app.Suggest.Suggest(req.Context(), req.URL.Query().Get("q"))
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) writeQueryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, query.ErrInvalidRequest),
		errors.Is(err, query.ErrInvalidFilter),
		errors.Is(err, query.ErrEmptyPrefix):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, query.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("query failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleDownload streams the capture file of a record.
// GET /pcaps/download/{id}
func (s *Server) handleDownload(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	rec, err := s.app.Store.GetRecord(req.Context(), id)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "capture not found")
		return
	}

	f, err := os.Open(rec.Path)
	if err != nil {
		s.logger.Warn("download source missing", "id", id, "path", rec.Path, "error", err)
		writeError(w, http.StatusNotFound, "capture file not found on disk")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/vnd.tcpdump.pcap")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": rec.Filename}))
	http.ServeContent(w, req, rec.Filename, info.ModTime(), f)
}

// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, req *http.Request) {
	if err := s.app.Store.Ping(req.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "store": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
	}
}
