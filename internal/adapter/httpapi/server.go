package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"threatfeed/internal/adapter/aggregator"
	"threatfeed/internal/adapter/retriever"
	"threatfeed/internal/domain"
	"threatfeed/internal/logger"
	"threatfeed/internal/usecase"
)

const (
	maxBodyBytes    = 1 << 20
	defaultAlertTop = 20
	requestIDHeader = "X-Request-ID"
)

// Retriever answers similarity queries.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]domain.RetrievalResult, error)
}

// StatsSource exposes live pipeline state.
type StatsSource interface {
	Stats() domain.PipelineStats
	Snapshot() domain.Snapshot
}

// Server is the retrieval HTTP server.
type Server struct {
	addr            string
	retriever       Retriever
	stats           StatsSource
	shutdownTimeout time.Duration

	server   *http.Server
	listener net.Listener
}

// NewServer creates a server. stats may be nil, which disables the
// statistics and alerts endpoints.
func NewServer(addr string, r Retriever, stats StatsSource, shutdownTimeout time.Duration) *Server {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 5 * time.Second
	}
	return &Server{
		addr:            addr,
		retriever:       r,
		stats:           stats,
		shutdownTimeout: shutdownTimeout,
	}
}

// Handler returns the routed handler with request-id and access logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/retrieve", s.handleRetrieve)
	mux.HandleFunc("GET /v1/statistics", s.handleStatistics)
	mux.HandleFunc("GET /v1/alerts", s.handleAlerts)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})
	return withRequestID(mux)
}

// Listen binds the configured address. Addr reports the bound address
// afterwards, which matters when the port is 0.
func (s *Server) Listen() error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = l
	return nil
}

// Addr returns the listening address, or the configured one before Listen.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Info("retrieval server listening on %s", s.Addr())

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req RetrieveRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	results, err := s.retriever.Retrieve(r.Context(), req.Query, req.K)
	switch {
	case errors.Is(err, usecase.ErrEmptyQuery):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, retriever.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		logger.Error("retrieve %q: %v", req.Query, err)
		writeError(w, http.StatusInternalServerError, "retrieval failed")
		return
	}

	writeJSON(w, http.StatusOK, toItems(results))
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeError(w, http.StatusNotFound, "statistics not available")
		return
	}
	writeJSON(w, http.StatusOK, s.stats.Stats())
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeError(w, http.StatusNotFound, "alerts not available")
		return
	}
	top := defaultAlertTop
	if v := r.URL.Query().Get("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "top must be a non-negative integer")
			return
		}
		top = n
	}
	writeJSON(w, http.StatusOK, aggregator.Totals(s.stats.Snapshot().Rows, top))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("http: failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withRequestID tags each request with an id (kept from the client when
// present) and logs one access line per request.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		logger.Info("http: %s %s %d %s id=%s", r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Microsecond), id)
	})
}
