// Package statusapi serves read-only health, state and metrics endpoints
// for the agent.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/signalsfoundry/ntn-orchestrator/internal/logging"
	"github.com/signalsfoundry/ntn-orchestrator/internal/orchestrator"
)

// StateSource provides the device view served on /state.
type StateSource interface {
	Snapshot() orchestrator.Snapshot
}

// NewRouter builds the status routes. metrics may be nil, in which case
// /metrics is not mounted.
func NewRouter(src StateSource, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, http.StatusOK, map[string]string{"status": "ok", "service": "ntn-agent"})
	})
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	r.Route("/state", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			jsonResponse(w, http.StatusOK, src.Snapshot())
		})
		r.Get("/device", func(w http.ResponseWriter, r *http.Request) {
			jsonResponse(w, http.StatusOK, src.Snapshot().Device)
		})
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		errorResponse(w, http.StatusNotFound, "not found")
	})
	return r
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]any{"error": message, "code": status})
}

// Server runs the status router on its own listener.
type Server struct {
	srv *http.Server
	log logging.Logger
}

// NewServer returns a Server bound to addr once Start is called.
func NewServer(addr string, handler http.Handler, log logging.Logger) *Server {
	if log == nil {
		log = logging.Noop()
	}
	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		log: log.With(logging.String("component", "statusapi")),
	}
}

// Start listens on the configured address and serves in the background. It
// returns the bound address.
func (s *Server) Start() (string, error) {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return "", err
	}
	addr := ln.Addr().String()
	s.log.Info(context.Background(), "status API listening", logging.String("addr", addr))
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error(context.Background(), "status API stopped", logging.Err(err))
		}
	}()
	return addr, nil
}

// Shutdown stops the server, waiting at most until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
