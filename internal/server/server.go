// Package server exposes the admin API over HTTP.
package server

import (
	"context"
	"net"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"

	"github.com/watzon/vine/internal/auth"
	"github.com/watzon/vine/internal/config"
	"github.com/watzon/vine/internal/events"
	"github.com/watzon/vine/internal/server/handlers"
)

type Server struct {
	cfg         *config.Config
	db          handlers.Pinger
	scheduler   handlers.Scheduler
	bus         *events.EventBus
	jwt         *auth.JWTService
	limiter     *RateLimiter
	version     string
	httpServer  *http.Server
	router      *Router
	dbStatsFunc func()
}

type Option func(*Server)

// WithVersion sets the version reported by /health.
func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// WithEventBus enables the WebSocket event stream.
func WithEventBus(bus *events.EventBus) Option {
	return func(s *Server) {
		s.bus = bus
	}
}

// WithDBStats registers a callback that refreshes database gauges before
// each /metrics scrape.
func WithDBStats(fn func()) Option {
	return func(s *Server) {
		s.dbStatsFunc = fn
	}
}

func New(cfg *config.Config, db handlers.Pinger, sched handlers.Scheduler, opts ...Option) *Server {
	srv := &Server{
		cfg:       cfg,
		db:        db,
		scheduler: sched,
		version:   "dev",
	}

	for _, opt := range opts {
		opt(srv)
	}

	if cfg.Auth.AuthEnabled() {
		srv.jwt = auth.NewJWTService(cfg.Auth)
	}
	if cfg.Server.RateLimit.Enabled {
		srv.limiter = NewRateLimiter(cfg.Server.RateLimit)
	}

	srv.router = NewRouter(srv)
	srv.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      srv.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return srv
}

// Start serves until Shutdown is called. The listener is bound before Start
// returns an error, so a busy port is reported immediately.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", s.httpServer.Addr)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer.BaseContext = func(net.Listener) context.Context { return ctx }

	log.Info().
		Str("addr", ln.Addr().String()).
		Bool("auth", s.jwt != nil).
		Bool("rate_limit", s.limiter != nil).
		Msg("Starting admin API")

	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down admin API")

	if s.limiter != nil {
		s.limiter.Stop()
	}

	return s.httpServer.Shutdown(ctx)
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Config() *config.Config {
	return s.cfg
}
