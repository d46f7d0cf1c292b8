package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"servermonitor/scheduler"
	"servermonitor/storage"
)

// StatusSource reports the monitoring loop state.
type StatusSource interface {
	Status() scheduler.Status
}

// Config holds configuration for the exposition server.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Server serves the scrape endpoint and a few operator endpoints. It runs
// independently of the monitoring loop and never waits on it.
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	status          StatusSource
	store           storage.Querier // nil when no queryable store is configured
	hub             *Hub
	log             *zap.Logger
}

// New creates a server. store and hub may be nil.
func New(cfg Config, metrics http.Handler, status StatusSource, store storage.Querier, hub *Hub, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{
		shutdownTimeout: cfg.ShutdownTimeout,
		status:          status,
		store:           store,
		hub:             hub,
		log:             log,
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics)
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /observations", s.observationsHandler)
	if hub != nil {
		mux.Handle("GET /ws", hub)
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the routing handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Listen binds the configured address. Binding before the loop starts means
// scrapes are accepted from the very first cycle.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
	}
	return ln, nil
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully. It returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.log.Info("Starting metrics server", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("Stopping metrics server")
	if s.hub != nil {
		s.hub.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}
	return nil
}

type healthResponse struct {
	Status      string     `json:"status"`
	State       string     `json:"state"`
	Cycles      uint64     `json:"cycles"`
	LastCycleAt *time.Time `json:"last_cycle_at,omitempty"`
	Timestamp   string     `json:"timestamp"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "healthy",
		State:     scheduler.Stopped.String(),
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if s.status != nil {
		st := s.status.Status()
		resp.State = st.State
		resp.Cycles = st.Cycles
		resp.LastCycleAt = st.LastCycleAt
	}
	writeJSON(w, http.StatusOK, resp)
}

type observationJSON struct {
	Timestamp   time.Time `json:"timestamp"`
	CPUPercent  float64   `json:"cpu_percent"`
	MemPercent  float64   `json:"ram_percent"`
	DiskPercent float64   `json:"disk_percent"`
	BytesSent   uint64    `json:"bytes_sent"`
	BytesRecv   uint64    `json:"bytes_recv"`
	Endpoint    string    `json:"endpoint"`
	Available   bool      `json:"available"`
	Latency     *float64  `json:"latency_seconds"`
}

func (s *Server) observationsHandler(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "observation store not enabled"})
		return
	}

	query := r.URL.Query()
	limit := 100
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 10000 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be between 1 and 10000"})
			return
		}
		limit = n
	}

	rows, err := s.store.Query(r.Context(), query.Get("endpoint"), limit)
	if err != nil {
		s.log.Error("query observations failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	out := make([]observationJSON, 0, len(rows))
	for _, o := range rows {
		out = append(out, observationJSON{
			Timestamp:   o.Timestamp,
			CPUPercent:  o.CPUPercent,
			MemPercent:  o.MemPercent,
			DiskPercent: o.DiskPercent,
			BytesSent:   o.NetBytesSent,
			BytesRecv:   o.NetBytesRecv,
			Endpoint:    o.Endpoint,
			Available:   o.Available,
			Latency:     o.Latency,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
