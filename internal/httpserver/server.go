package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"acc_linker/internal/domain"
	"acc_linker/internal/httpserver/mw"
)

// Links is the read side of the link registry.
type Links interface {
	Loaded() bool
	Snapshot() []domain.Link
	ByUpstream(upstreamKind string) []domain.Link
}

// Server exposes health checks and a read-only view of the registry.
type Server struct {
	http   *http.Server
	logger *slog.Logger
}

func New(addr string, links Links, started time.Time, logger *slog.Logger) *Server {
	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(links, started, logger),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
		logger: logger,
	}
}

func NewRouter(links Links, started time.Time, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.GetHead)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Second))
	r.Use(mw.Log(logger))

	r.Get("/healthz", healthz(started))
	r.Get("/readyz", readyz(links))
	r.Route("/api", func(r chi.Router) {
		r.Get("/links", listLinks(links))
	})

	return r
}

// Start blocks until the server fails or is stopped.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.http.Shutdown(ctx)
}
