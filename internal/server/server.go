// Package server exposes the read-only HTTP introspection endpoint of the
// oracle node.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/LeJamon/goOracled/internal/metrics"
	"github.com/LeJamon/goOracled/internal/oracle"
)

const shutdownTimeout = 5 * time.Second

// Source reports the state of the oracle service. Registry is nil until
// bootstrap is done.
type Source interface {
	Registry() *oracle.Registry
	Listening() bool
}

// Server serves /api, /health, /oracles and /metrics.
type Server struct {
	source  Source
	metrics *metrics.Metrics
	logger  hclog.Logger
	started time.Time
}

// OracleView is one entry of GET /oracles.
type OracleView struct {
	Account    string `json:"account"`
	Indexes    []int  `json:"indexes"`
	StatusCode uint8  `json:"status_code"`
	Status     string `json:"status"`
}

// OraclesResponse is the body of GET /oracles.
type OraclesResponse struct {
	Ready   bool         `json:"ready"`
	Count   int          `json:"count"`
	Oracles []OracleView `json:"oracles"`
}

// New returns a Server. m and logger may be nil.
func New(source Source, m *metrics.Metrics, logger hclog.Logger) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Server{source: source, metrics: m, logger: logger, started: time.Now()}
}

// Handler returns the routes wrapped with CORS handling.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api", s.handleAPI)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/oracles", s.handleOracles)
	mux.Handle("/metrics", s.metrics.Handler())
	return cors(mux)
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readHeaderTimeout time.Duration) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln, readHeaderTimeout)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener, readHeaderTimeout time.Duration) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.logger.Info("introspection endpoint listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "An API for use with your Dapp!"})
}

// handleHealth answers 200 only while requests are being received: before
// bootstrap the node is starting, and a lost subscription degrades it until
// the dispatcher resubscribes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	listening := s.source.Listening()
	switch {
	case s.source.Registry() == nil:
		status, code = "starting", http.StatusServiceUnavailable
	case !listening:
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"service":   "oracled",
		"listening": listening,
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleOracles(w http.ResponseWriter, r *http.Request) {
	reg := s.source.Registry()
	resp := OraclesResponse{
		Ready:   reg != nil,
		Count:   reg.Len(),
		Oracles: make([]OracleView, 0, reg.Len()),
	}
	for _, a := range reg.Actors() {
		idx := make([]int, len(a.Indexes))
		for i, v := range a.Indexes {
			idx[i] = int(v)
		}
		resp.Oracles = append(resp.Oracles, OracleView{
			Account:    a.Identity,
			Indexes:    idx,
			StatusCode: uint8(a.Status),
			Status:     a.Status.String(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// cors sets the CORS headers, answers preflight requests and refuses
// anything but GET.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
