package server

import (
	"net/http"

	"github.com/watzon/vine/internal/auth"
	"github.com/watzon/vine/internal/metrics"
	"github.com/watzon/vine/internal/server/handlers"
)

const apiPrefix = "/api/v1/scheduler"

type Router struct {
	server      *Server
	mux         *http.ServeMux
	middlewares []Middleware
	handler     http.Handler
}

type Middleware func(http.Handler) http.Handler

func NewRouter(srv *Server) *Router {
	r := &Router{
		server: srv,
		mux:    http.NewServeMux(),
	}

	r.setupMiddleware()
	r.setupRoutes()
	r.handler = r.build()

	return r
}

func (r *Router) setupMiddleware() {
	r.Use(RecoveryMiddleware)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	if r.server.cfg.Server.CORS.Enabled {
		r.Use(CORSMiddleware(r.server.cfg.Server.CORS))
	}
	if r.server.cfg.Server.MaxBodySize > 0 {
		r.Use(MaxBodySizeMiddleware(r.server.cfg.Server.MaxBodySize))
	}

	r.Use(MetricsMiddleware)
}

func (r *Router) Use(mw Middleware) {
	r.middlewares = append(r.middlewares, mw)
}

func (r *Router) setupRoutes() {
	health := handlers.NewHealthHandlers(r.server.db, r.server.scheduler, r.server.version)
	r.mux.HandleFunc("GET /health", health.Health)
	r.mux.HandleFunc("GET /health/live", health.Liveness)
	r.mux.Handle("GET /metrics", r.metricsHandler())

	h := handlers.NewSchedulerHandlers(r.server.scheduler)
	r.mux.Handle("GET "+apiPrefix+"/status", r.protect(h.Status))
	r.mux.Handle("GET "+apiPrefix+"/history", r.protect(h.History))
	r.mux.Handle("GET "+apiPrefix+"/history/latest", r.protect(h.Latest))

	r.mux.Handle("POST "+apiPrefix+"/start", r.mutating(h.Start))
	r.mux.Handle("POST "+apiPrefix+"/stop", r.mutating(h.Stop))
	r.mux.Handle("PUT "+apiPrefix+"/config", r.mutating(h.UpdateConfig))
	r.mux.Handle("POST "+apiPrefix+"/run-now", r.mutating(h.RunNow))

	if r.server.bus != nil {
		origins := r.server.cfg.Server.CORS.AllowedOrigins
		if !r.server.cfg.Server.CORS.Enabled {
			origins = nil
		}
		ev := handlers.NewEventsHandler(r.server.bus, origins)
		r.mux.Handle("GET "+apiPrefix+"/events", r.protect(ev.HandleWebSocket))
	}
}

// protect applies bearer authentication when a JWT secret is configured.
func (r *Router) protect(fn handlers.HandlerFunc) http.Handler {
	var h http.Handler = http.HandlerFunc(fn)
	if r.server.jwt != nil {
		h = auth.Middleware(r.server.jwt)(h)
	}
	return h
}

// mutating is protect plus the rate limiter.
func (r *Router) mutating(fn handlers.HandlerFunc) http.Handler {
	h := r.protect(fn)
	if r.server.limiter != nil {
		h = r.server.limiter.Middleware(h)
	}
	return h
}

func (r *Router) metricsHandler() http.Handler {
	inner := metrics.Handler()
	if r.server.dbStatsFunc == nil {
		return inner
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.server.dbStatsFunc()
		inner.ServeHTTP(w, req)
	})
}

func (r *Router) build() http.Handler {
	handler := http.Handler(r.mux)
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		handler = r.middlewares[i](handler)
	}
	return handler
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}
