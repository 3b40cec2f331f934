// Package api exposes the catalog over HTTP: scan and backfill control,
// status polling, search, suggestions and downloads.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/schema"

	"github.com/Zerofisher/pcapcatalog/internal/app"
)

// Server is the HTTP front of one App.
type Server struct {
	app     *app.App
	logger  *slog.Logger
	decoder *schema.Decoder
	limiter *RateLimiter

	// baseCtx outlives requests; background passes started over HTTP run under it.
	baseCtx context.Context
}

// NewServer creates a Server. Background passes started by requests stop
// when ctx is cancelled.
func NewServer(ctx context.Context, a *app.App) *Server {
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)

	return &Server{
		app:     a,
		logger:  a.Logger.With("component", "api"),
		decoder: decoder,
		limiter: NewRateLimiter(a.Config.Search.RateLimit, a.Config.Search.RateBurst),
		baseCtx: ctx,
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Scan control
	mux.HandleFunc("POST /reindex", s.handleReindex)
	mux.HandleFunc("POST /reindex/{folder}", s.handleReindexFolder)
	mux.HandleFunc("GET /scan-status", s.handleScanStatus)
	mux.HandleFunc("POST /scan-cancel", s.handleScanCancel)
	mux.HandleFunc("GET /scan-config", s.handleScanConfig)
	mux.HandleFunc("POST /reconcile", s.handleReconcile)

	// Backfill
	mux.HandleFunc("POST /backfill/total-packets", s.handleBackfill)
	mux.HandleFunc("GET /backfill-status", s.handleBackfillStatus)
	mux.HandleFunc("POST /backfill-cancel", s.handleBackfillCancel)

	// Queries
	mux.Handle("GET /search", s.limiter.Middleware(http.HandlerFunc(s.handleSearch)))
	mux.Handle("GET /protocols/suggest", s.limiter.Middleware(http.HandlerFunc(s.handleSuggest)))
	mux.HandleFunc("GET /pcaps/download/{id}", s.handleDownload)

	mux.HandleFunc("GET /health", s.handleHealth)

	var h http.Handler = mux
	h = CORS(s.app.Config.Server.AllowedOrigins)(h)
	h = Logging(s.logger)(h)
	return h
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	cfg := s.app.Config.Server
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down", "timeout", cfg.ShutdownTimeout)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
