// Package api is the dashboard-facing HTTP surface: schedule CRUD,
// next-run previews, the trusted time endpoint, brokerage
// passthrough, and the websocket event stream.
//
// Previews call the exact calculator the trigger fires with; the two
// paths cannot disagree on the same inputs because there is only one
// implementation.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/foliokit/rebalancer/internal/brokerage"
	"github.com/foliokit/rebalancer/internal/schedule"
	"github.com/foliokit/rebalancer/internal/timesource"
)

// Clock yields the trusted reference instant for previews and writes.
type Clock interface {
	Now(ctx context.Context) timesource.Stamp
}

// Server hosts the dashboard API.
type Server struct {
	store   *schedule.Store
	clock   Clock
	broker  *brokerage.Client
	hub     *Hub
	healthy func() bool
	logger  *slog.Logger
	http    *http.Server
}

// Options configures the server.
type Options struct {
	ListenAddr string
	Store      *schedule.Store
	Clock      Clock
	Brokerage  *brokerage.Client
	Hub        *Hub
	// Healthy reports trigger-loop health for the health endpoint.
	// Optional; nil means always healthy.
	Healthy func() bool
	Logger  *slog.Logger
}

// NewServer builds the server and its routes.
func NewServer(opts Options) *Server {
	s := &Server{
		store:   opts.Store,
		clock:   opts.Clock,
		broker:  opts.Brokerage,
		hub:     opts.Hub,
		healthy: opts.Healthy,
		logger:  opts.Logger.With(slog.String("component", "api")),
	}
	if s.healthy == nil {
		s.healthy = func() bool { return true }
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/schedules", s.handleCreateSchedule)
	mux.HandleFunc("GET /v1/schedules", s.handleListSchedules)
	mux.HandleFunc("GET /v1/schedules/{id}", s.handleGetSchedule)
	mux.HandleFunc("PUT /v1/schedules/{id}", s.handleUpdateSchedule)
	mux.HandleFunc("DELETE /v1/schedules/{id}", s.handleDeleteSchedule)
	mux.HandleFunc("GET /v1/schedules/{id}/next-run", s.handleNextRun)
	mux.HandleFunc("GET /v1/time", s.handleTime)
	mux.HandleFunc("GET /v1/healthz", s.handleHealthz)
	mux.HandleFunc("GET /v1/brokerage/accounts/{accountID}", s.handleBrokerageAccount)
	mux.HandleFunc("POST /v1/brokerage/orders/preview", s.handleBrokeragePreview)
	mux.HandleFunc("GET /v1/ws", s.hub.handleWS)

	s.http = &http.Server{
		Addr:              opts.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("api listening", slog.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
