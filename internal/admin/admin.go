// Package admin serves the operator API: the merged routing config, its
// version, the REST provider, listeners and Prometheus metrics.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/wudi/verkehr/internal/config"
	"github.com/wudi/verkehr/internal/listener"
	"github.com/wudi/verkehr/internal/logging"
	"github.com/wudi/verkehr/internal/metrics"
	"github.com/wudi/verkehr/internal/provider"
)

// maxFragmentBytes bounds a REST provider request body.
const maxFragmentBytes = 4 << 20

// Store is the part of the routing store the API reads and writes.
type Store interface {
	provider.Merger
	Version() uint64
	Config() *config.RoutingConfig
}

// Listeners lists running entrypoint listeners.
type Listeners interface {
	List() []string
	Get(id string) (listener.Listener, bool)
}

type Options struct {
	Address string
	// REST enables PUT /api/providers/rest.
	REST      bool
	Metrics   *metrics.Collector
	Listeners Listeners
}

// Server is the admin HTTP server.
type Server struct {
	store     Store
	rest      bool
	metrics   *metrics.Collector
	listeners Listeners
	srv       *http.Server
	addr      string
}

func New(st Store, opts Options) *Server {
	s := &Server{
		store:     st,
		rest:      opts.REST,
		metrics:   opts.Metrics,
		listeners: opts.Listeners,
		addr:      opts.Address,
	}
	s.srv = &http.Server{
		Addr:              opts.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		ErrorLog:          zap.NewStdLog(logging.Global().Named("admin")),
	}
	return s
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	r := httprouter.New()
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false

	r.HandlerFunc(http.MethodGet, "/ping", s.handlePing)
	r.HandlerFunc(http.MethodHead, "/ping", s.handlePing)
	r.HandlerFunc(http.MethodGet, "/api/version", s.handleVersion)
	r.HandlerFunc(http.MethodGet, "/api/rawdata", s.handleRawData)
	r.HandlerFunc(http.MethodGet, "/api/listeners", s.handleListeners)
	if s.rest {
		r.HandlerFunc(http.MethodPut, "/api/providers/rest", s.handleREST)
	}
	if s.metrics != nil {
		r.Handler(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return r
}

// Serve binds the admin address and serves until ctx ends, then shuts
// the server down.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("admin listen %s: %w", s.addr, err)
	}
	logging.Info("admin server started", zap.String("address", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("admin server shutdown error", zap.Error(err))
		return err
	}
	return nil
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "OK")
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]uint64{"version": s.store.Version()})
}

func (s *Server) handleRawData(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Config())
}

func (s *Server) handleListeners(w http.ResponseWriter, r *http.Request) {
	type listenerInfo struct {
		ID       string `json:"id"`
		Protocol string `json:"protocol"`
		Address  string `json:"address"`
	}

	result := []listenerInfo{}
	if s.listeners != nil {
		for _, id := range s.listeners.List() {
			if l, ok := s.listeners.Get(id); ok {
				result = append(result, listenerInfo{
					ID:       l.ID(),
					Protocol: l.Protocol(),
					Address:  l.Addr(),
				})
			}
		}
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleREST(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFragmentBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	version, err := provider.Apply(s.store, "rest", r.RemoteAddr, body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"version": version})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("admin response encode failed", zap.Error(err))
	}
}
