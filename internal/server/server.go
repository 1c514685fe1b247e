// Package server exposes the processing pipeline over HTTP.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/andresmejia3/spectra/internal/errors"
	"github.com/andresmejia3/spectra/internal/feature"
	"github.com/andresmejia3/spectra/internal/gateway"
	"github.com/andresmejia3/spectra/internal/logtail"
	"github.com/andresmejia3/spectra/internal/metrics"
	"github.com/andresmejia3/spectra/internal/pipeline"
	"github.com/andresmejia3/spectra/internal/types"
)

// DefaultMaxUpload bounds the size of one multipart request body.
const DefaultMaxUpload = 1 << 30

// RegionService reads and saves the region of interest. *config.RegionStore implements it.
type RegionService interface {
	Get(ctx context.Context) (types.Region, error)
	Save(ctx context.Context, r types.Region) error
}

// Options configure a Server. Pipeline may be nil when the engine failed to load;
// Unavailable then explains why processing routes answer 503.
type Options struct {
	Pipeline    *pipeline.Pipeline
	Unavailable error
	Regions     RegionService
	Logs        *logtail.Broadcaster
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	MaxUpload   int64
}

// Server routes HTTP requests to the pipeline and configuration.
type Server struct {
	opts     Options
	logger   *slog.Logger
	upgrader websocket.Upgrader
	handler  http.Handler
}

// New creates a server and builds its routes.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxUpload <= 0 {
		opts.MaxUpload = DefaultMaxUpload
	}
	if opts.Pipeline == nil && opts.Unavailable == nil {
		opts.Unavailable = errors.New("engine is not loaded")
	}
	s := &Server{
		opts:   opts,
		logger: opts.Logger.With("component", "http"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/infer_multi_frame", s.handleInferMultiFrame)
	mux.HandleFunc("GET /api/get_feature_data", s.handleFeatureData)
	mux.HandleFunc("GET /api/get_image", s.handleImage)
	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.HandleFunc("POST /api/config", s.handleSaveConfig)
	mux.HandleFunc("GET /ws/logs", s.handleLogs)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics.Handler())
	}
	s.handler = s.instrument(mux)
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.WrapFatal(err, "Server", "ListenAndServe", "listen on "+addr)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "Server", "ListenAndServe", "shutdown")
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack hands the connection to the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// instrument adds a request id, panic recovery, access logging and metrics.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("handler panicked", "request_id", id, "path", r.URL.Path, "panic", p)
				s.writeError(rec, r, http.StatusInternalServerError, errors.New("internal error"))
			}
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			elapsed := time.Since(start)
			s.opts.Metrics.RecordRequest(route, strconv.Itoa(rec.status), elapsed)
			s.logger.Debug("request", "request_id", id, "method", r.Method, "path", r.URL.Path,
				"status", rec.status, "elapsed", elapsed)
		}()
		next.ServeHTTP(rec, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	writeJSON(w, status, types.ErrorResult{
		Timestamp: time.Now().UTC(),
		Status:    status,
		Error:     http.StatusText(status),
		Message:   err.Error(),
		Path:      r.URL.Path,
	})
}

// fail maps err to a status code and writes the error body.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.logger.Error("request failed", "path", r.URL.Path, "status", status, "error", err)
	} else {
		s.logger.Warn("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	if pe := (*gateway.ProcessError)(nil); errors.As(err, &pe) {
		writeJSON(w, status, types.ErrorResult{
			Timestamp: time.Now().UTC(),
			Status:    status,
			Error:     "Core Processing Error",
			Message:   pe.Error(),
			Path:      r.URL.Path,
		})
		return
	}
	s.writeError(w, r, status, err)
}

func statusFor(err error) int {
	var pe *gateway.ProcessError
	var fe *feature.FormatError
	switch {
	case errors.As(err, &pe):
		return http.StatusInternalServerError
	case errors.Is(err, pipeline.ErrWatchdog):
		return http.StatusGatewayTimeout
	case errors.Is(err, pipeline.ErrNotFound), errors.Is(err, errors.ErrConfigNotFound):
		return http.StatusNotFound
	case errors.As(err, &fe):
		return http.StatusUnprocessableEntity
	case errors.IsInvalid(err):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
