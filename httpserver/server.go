// Package httpserver exposes the execution broker over HTTP.
//
// Routes:
//
//	POST   /execute                   run code in a workspace
//	DELETE /sessions/{workspace_id}   tear down a workspace session
//	GET    /sessions                  list active sessions
//	GET    /health                    backend availability and session counts
//	GET    /metrics                   Prometheus exposition
//	       /mcp                       MCP streamable HTTP transport
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/isdmx/sandboxd/config"
	"github.com/isdmx/sandboxd/sandbox"
	"github.com/isdmx/sandboxd/session"
)

const (
	maxRequestBytes   = 10 << 20
	readHeaderTimeout = 10 * time.Second
)

// Broker is the subset of session.Broker the HTTP layer needs.
type Broker interface {
	Dispatch(ctx context.Context, workspaceID, code string, timeout time.Duration) sandbox.ExecutionResult
	Destroy(ctx context.Context, workspaceID string) error
	Health(ctx context.Context) session.Health
	Sessions() []session.Info
}

// Server is the HTTP front end of the broker.
type Server struct {
	config *config.Config
	logger *zap.Logger
	broker Broker
	router chi.Router
	http   *http.Server
	addr   net.Addr
}

// New creates a Server. A nil metrics or mcp handler leaves that route unmounted.
func New(cfg *config.Config, logger *zap.Logger, broker Broker, metrics, mcp http.Handler) *Server {
	s := &Server{
		config: cfg,
		logger: logger.Named("http"),
		broker: broker,
		router: chi.NewRouter(),
	}
	s.setupRoutes(metrics, mcp)
	return s
}

func (s *Server) setupRoutes(metrics, mcp http.Handler) {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(accessLog(s.logger))
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(jsonContentType)

		r.Post("/execute", s.handleExecute)
		r.Get("/sessions", s.handleListSessions)
		r.Delete("/sessions/{workspace_id}", s.handleDestroySession)
		r.Get("/health", s.handleHealth)
	})

	if metrics != nil {
		r.Handle("/metrics", metrics)
	}
	if mcp != nil {
		r.Handle("/mcp", mcp)
	}
}

// jsonContentType sets Content-Type to application/json for API routes.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// accessLog writes one structured line per request.
func accessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				logger.Info("http request",
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)))
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listen address and serves in the background.
func (s *Server) Start(context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return err
	}
	s.addr = ln.Addr()
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	s.logger.Info("HTTP server listening", zap.String("addr", s.addr.String()))
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	s.logger.Info("shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout())
	defer cancel()

	return s.http.Shutdown(shutdownCtx)
}
