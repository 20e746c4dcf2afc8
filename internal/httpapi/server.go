package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/MimeLyc/subvert/internal/persistence"
	"github.com/MimeLyc/subvert/internal/service"
)

// StatusSource reports the current or last walk.
type StatusSource interface {
	Status() service.Status
}

// Launcher starts walks on demand. service.Scheduler implements it.
type Launcher interface {
	TriggerAsync(ctx context.Context, trigger string) bool
	Running() bool
	NextRun() time.Time
}

// History reads the run ledger. persistence.SQLiteStore implements it.
type History interface {
	ListRuns(ctx context.Context, limit int) ([]persistence.Run, error)
	GetRun(ctx context.Context, id string) (persistence.Run, bool, error)
	ListOutcomes(ctx context.Context, runID string) ([]persistence.Outcome, error)
}

type Server struct {
	status   StatusSource
	launcher Launcher
	history  History

	// walks started over HTTP outlive the request that started them
	runCtx         context.Context
	streamInterval time.Duration

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

func WithHistory(h History) Option {
	return func(s *Server) {
		s.history = h
	}
}

// WithRunContext sets the context walks triggered over HTTP run under.
func WithRunContext(ctx context.Context) Option {
	return func(s *Server) {
		if ctx != nil {
			s.runCtx = ctx
		}
	}
}

func WithStreamInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.streamInterval = d
		}
	}
}

func NewServer(status StatusSource, launcher Launcher, opts ...Option) *Server {
	s := &Server{
		status:         status,
		launcher:       launcher,
		runCtx:         context.Background(),
		streamInterval: time.Second,
		mux:            http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/status/stream", s.handleStatusStream)
	s.mux.HandleFunc("/api/runs", s.handleRuns)
	s.mux.HandleFunc("/api/runs/", s.handleRunDetails)
}
