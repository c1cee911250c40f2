package status

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/genricoloni/ethist/internal/config"
	"github.com/genricoloni/ethist/internal/domain"
	"github.com/genricoloni/ethist/internal/playback"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// NowPlaying is the read side of the playback state
type NowPlaying interface {
	Current() (domain.Song, bool)
	Screen() playback.Screen
	Version() uint64
}

// BackdropRenderer composes the full-screen background for a cover
type BackdropRenderer interface {
	Backdrop(ctx context.Context, path string, accent *domain.RGB) ([]byte, error)
}

// Server exposes the playback state over HTTP
type Server struct {
	http    *http.Server
	logger  *zap.Logger
	started time.Time
}

// New builds the HTTP server (router, middlewares, routes).
// An empty StatusAddr yields a server whose Start is a no-op.
func New(cfg *config.AppConfig, logger *zap.Logger, state NowPlaying, renderer BackdropRenderer) *Server {
	started := time.Now()

	r := chi.NewRouter()
	r.Use(middleware.GetHead)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Second))
	r.Use(accessLog(logger))

	h := &handlers{
		logger:   logger,
		state:    state,
		renderer: renderer,
		started:  started,
	}
	r.Get("/healthz", h.healthz)
	r.Route("/api", func(r chi.Router) {
		r.Get("/now-playing", h.nowPlaying)
		r.Get("/cover", h.cover)
		r.Get("/backdrop", h.backdrop)
	})

	return &Server{
		http: &http.Server{
			Addr:              cfg.StatusAddr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
		logger:  logger,
		started: started,
	}
}

// Handler returns the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Enabled reports whether an address is configured
func (s *Server) Enabled() bool {
	return s.http.Addr != ""
}

// Start binds the listen address and serves in the background.
// Bind errors are returned; later serve errors are logged.
func (s *Server) Start() error {
	if !s.Enabled() {
		s.logger.Info("Status server disabled")
		return nil
	}

	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("status server listen: %w", err)
	}

	s.logger.Info("Status server listening", zap.String("addr", ln.Addr().String()))
	go func() {
		// http.ErrServerClosed is expected on graceful shutdown
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Status server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts down the server with the provided context deadline
func (s *Server) Stop(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	s.logger.Info("Status server shutting down")
	return s.http.Shutdown(ctx)
}
