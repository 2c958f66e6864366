// Package api implements the read-only debug inspector: a small HTTP
// surface for poking at namespaces, keys, and metrics while the emulator
// runs.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/edgesim/internal/logger"
	"github.com/marmos91/edgesim/pkg/kv"
	"github.com/marmos91/edgesim/pkg/storage/factory"
)

// Config holds inspector server configuration.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Server is the inspector HTTP server.
type Server struct {
	cfg     Config
	factory *factory.Factory
	gather  prometheus.Gatherer
	http    *http.Server
}

// New creates an inspector over a storage factory. gather may be nil to
// disable the /metrics endpoint.
func New(cfg Config, f *factory.Factory, gather prometheus.Gatherer) *Server {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	s := &Server{cfg: cfg, factory: f, gather: gather}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/namespaces", s.handleNamespaces)
		r.Get("/kv/{namespace}/keys", s.handleKVKeys)
	})
	if s.gather != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{}))
	}
	return r
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	logger.Info("inspector listening", "addr", s.cfg.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNamespaces(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.factory.Namespaces())
}

func (s *Server) handleKVKeys(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")
	persist, err := factory.ParsePersist(r.URL.Query().Get("persist"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	backend, err := s.factory.Storage(namespace, persist)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	ns := kv.New(backend, kv.Options{})
	res, err := ns.List(r.Context(), kv.ListOptions{
		Prefix: r.URL.Query().Get("prefix"),
		Cursor: r.URL.Query().Get("cursor"),
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
