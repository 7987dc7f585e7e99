package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/signac-index/internal/crawler"
	"github.com/JakeFAU/signac-index/internal/document"
	"github.com/JakeFAU/signac-index/internal/grid"
	"github.com/JakeFAU/signac-index/internal/metrics"
)

// Indexer produces the index of the configured data space.
type Indexer interface {
	Crawl(ctx context.Context, depth int) iter.Seq2[document.Entry, error]
}

// PayloadFetcher resolves the payload of an index document.
type PayloadFetcher interface {
	FetchOne(ctx context.Context, doc document.Document, opts ...crawler.FetchOption) (any, error)
}

// Server wires HTTP handlers to the indexer and fetcher.
type Server struct {
	router  chi.Router
	indexer Indexer
	fetcher PayloadFetcher
	logger  *zap.Logger
}

// Option configures a Server.
type Option func(*serverOptions)

type serverOptions struct {
	fetchRPS   float64
	fetchBurst int
}

// WithFetchRateLimit limits POST /v1/fetch to rps requests per second per
// client, with bursts of up to burst. rps <= 0 disables the limit.
func WithFetchRateLimit(rps float64, burst int) Option {
	return func(o *serverOptions) {
		o.fetchRPS = rps
		o.fetchBurst = burst
	}
}

// NewServer constructs a Server with middleware and routes.
func NewServer(indexer Indexer, fetcher PayloadFetcher, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := serverOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	metrics.Init()
	s := &Server{
		indexer: indexer,
		fetcher: fetcher,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/index", s.streamIndex)
		r.With(
			rateLimitMiddleware(newClientLimiter(o.fetchRPS, o.fetchBurst), logger),
			timeoutMiddleware(60*time.Second),
		).Post("/fetch", s.fetch)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// streamIndex writes one JSON document per line. Errors after the first
// document cannot change the status code and are reported as a final
// {"error": ...} line.
func (s *Server) streamIndex(w http.ResponseWriter, r *http.Request) {
	depth := 0
	if raw := r.URL.Query().Get("depth"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "depth must be a non-negative integer")
			return
		}
		depth = d
	}

	enc := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)
	started := false
	n := 0
	for entry, err := range s.indexer.Crawl(r.Context(), depth) {
		if err != nil {
			s.logger.Error("index crawl failed", zap.Int("documents", n), zap.Error(err))
			if !started {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			_ = enc.Encode(map[string]string{"error": err.Error()})
			return
		}
		if !started {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if err := enc.Encode(entry.Doc); err != nil {
			s.logger.Warn("write index document failed", zap.Error(err))
			return
		}
		n++
		if flusher != nil && n%100 == 0 {
			flusher.Flush()
		}
	}
	if !started {
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
	}
	if flusher != nil {
		flusher.Flush()
	}
}

func (s *Server) fetch(w http.ResponseWriter, r *http.Request) {
	var doc document.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil || doc == nil {
		writeError(w, http.StatusBadRequest, "invalid JSON document")
		return
	}
	var opts []crawler.FetchOption
	if r.URL.Query().Get("mode") == string(grid.ModeBinary) {
		opts = append(opts, crawler.WithMode(grid.ModeBinary))
	}
	payload, err := s.fetcher.FetchOne(r.Context(), doc, opts...)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, crawler.ErrNoPayload), errors.Is(err, crawler.ErrFetchExhausted):
			status = http.StatusNotFound
		case errors.Is(err, crawler.ErrOutsideRoot):
			status = http.StatusForbidden
		case errors.Is(err, crawler.ErrUnknownCrawler), errors.Is(err, crawler.ErrNoEntryPoint):
			status = http.StatusUnprocessableEntity
		}
		s.logger.Warn("fetch failed", zap.String("id", doc.ID()), zap.Error(err))
		writeError(w, status, err.Error())
		return
	}
	writePayload(w, s.logger, payload)
}

func writePayload(w http.ResponseWriter, logger *zap.Logger, payload any) {
	switch p := payload.(type) {
	case io.ReadCloser:
		defer p.Close() //nolint:errcheck // read-only
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, p); err != nil {
			logger.Warn("write payload failed", zap.Error(err))
		}
	case []byte:
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(p); err != nil {
			logger.Warn("write payload failed", zap.Error(err))
		}
	case string:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if _, err := io.WriteString(w, p); err != nil {
			logger.Warn("write payload failed", zap.Error(err))
		}
	default:
		writeJSON(w, http.StatusOK, p)
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("request_id", reqID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
