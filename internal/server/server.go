// package server provides the broker status server. It exposes the
// broker state and the relay statistics over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/davseby/logrelay/internal/broker"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/xid"
	"golang.org/x/exp/slog"
)

const (
	// _closeTimeout is the timeout for closing the server.
	_closeTimeout = 5 * time.Second

	// _readHeaderTimeout is the timeout for reading the header.
	_readHeaderTimeout = 5 * time.Second
)

// Config holds the settings for the status server.
type Config struct {
	// Addr is the address to listen on. An empty address disables the
	// server.
	Addr string `default:":5561" usage:"status server address, empty disables it"`
}

// Broker is the broker whose status is served.
type Broker interface {
	// ID should return the broker instance identifier.
	ID() xid.ID

	// State should return the broker state.
	State() broker.State

	// Stats should return the relay statistics.
	Stats() broker.Stats
}

// Server is a status server.
type Server struct {
	log *slog.Logger

	srv *http.Server
	brk Broker

	startedAt time.Time
}

// NewServer creates a new status server.
func NewServer(log *slog.Logger, brk Broker, cfg Config) *Server {
	s := &Server{
		log:       log.With("job", "status-server"),
		brk:       brk,
		startedAt: time.Now(),
	}

	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router(),
		ReadHeaderTimeout: _readHeaderTimeout,
	}

	return s
}

// router builds the status routes.
func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/status", s.handleStatus)

	return r
}

// ListenAndServe listens for and serves connections. It blocks until the
// context is done or the server stops on its own.
func (s *Server) ListenAndServe(ctx context.Context) {
	s.log.Info("starting serving", slog.String("addr", s.srv.Addr))

	stopCh := make(chan struct{})

	go func() {
		defer close(stopCh)

		err := s.srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("listening and serving", slog.String("error", err.Error()))
		}
	}()

	select {
	case <-stopCh:
	case <-ctx.Done():
		closureCtx, closureCancel := context.WithTimeout(context.Background(), _closeTimeout)
		defer closureCancel()

		err := s.srv.Shutdown(closureCtx) //nolint: contextcheck // the base context is already cancelled.
		if err != nil {
			s.log.Error("shutting server down", slog.String("error", err.Error()))
		}

		<-stopCh
	}
}

// Status is the status response.
type Status struct {
	Status   string `json:"status"`
	BrokerID string `json:"broker_id"`
	State    string `json:"state"`
	Uptime   string `json:"uptime"`

	broker.Stats
}

// handleStatus responds with the broker status.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	state := s.brk.State()

	status := "ok"
	if state != broker.StateRelaying {
		status = "degraded"
	}

	resp := Status{
		Status:   status,
		BrokerID: s.brk.ID().String(),
		State:    state.String(),
		Uptime:   time.Since(s.startedAt).Truncate(time.Second).String(),
		Stats:    s.brk.Stats(),
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Debug("writing status response", slog.String("error", err.Error()))
	}
}
