package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/openmemory/memgate/internal/config"
	"github.com/openmemory/memgate/internal/core"
	"github.com/openmemory/memgate/internal/errors"
	"github.com/openmemory/memgate/internal/logging"
	"github.com/openmemory/memgate/internal/metrics"
	"github.com/openmemory/memgate/internal/middleware/staticfiles"
	"github.com/openmemory/memgate/internal/router"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const notFoundBody = "404: Not Found"

// Server dispatches requests through the middleware pipeline into the
// route table, and upgrade requests into the WS table. The registration
// surface is append-only; once Listen is called the tables are treated
// as read-only and shared across all connections without locking.
type Server struct {
	cfg         config.ServerConfig
	routes      *router.Table
	wsRoutes    *router.WSTable
	middlewares []core.Middleware
	metrics     *metrics.Metrics
	upgrader    websocket.Upgrader

	httpServer *http.Server
	started    bool
}

// New creates a server. m may be nil to disable instrumentation.
func New(cfg config.ServerConfig, m *metrics.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		routes:   router.New(),
		wsRoutes: router.NewWS(),
		metrics:  m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin policy belongs to the deployment edge, not here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Use appends a middleware to the pipeline.
func (s *Server) Use(mw core.Middleware) {
	s.mustNotBeStarted()
	s.middlewares = append(s.middlewares, mw)
}

func (s *Server) GET(pattern string, h core.Handler)     { s.add(http.MethodGet, pattern, h) }
func (s *Server) POST(pattern string, h core.Handler)    { s.add(http.MethodPost, pattern, h) }
func (s *Server) PUT(pattern string, h core.Handler)     { s.add(http.MethodPut, pattern, h) }
func (s *Server) DELETE(pattern string, h core.Handler)  { s.add(http.MethodDelete, pattern, h) }
func (s *Server) PATCH(pattern string, h core.Handler)   { s.add(http.MethodPatch, pattern, h) }
func (s *Server) OPTIONS(pattern string, h core.Handler) { s.add(http.MethodOptions, pattern, h) }
func (s *Server) HEAD(pattern string, h core.Handler)    { s.add(http.MethodHead, pattern, h) }

// All registers a handler for every method.
func (s *Server) All(pattern string, h core.Handler) { s.add(router.MethodAll, pattern, h) }

func (s *Server) add(method, pattern string, h core.Handler) {
	s.mustNotBeStarted()
	s.routes.Add(method, pattern, h)
}

// WS registers a WebSocket handler for an exact upgrade path.
func (s *Server) WS(path string, h core.WSHandler) {
	s.mustNotBeStarted()
	s.wsRoutes.Add(path, h)
}

// ServeStatic mounts a static file middleware for prefix onto root.
func (s *Server) ServeStatic(prefix, root string) {
	s.Use(staticfiles.New(prefix, root))
}

// WrapHTTP adapts a stock http.Handler into a route handler.
func WrapHTTP(h http.Handler) core.Handler {
	return func(c *core.Ctx) {
		h.ServeHTTP(c.Writer(), c.Request)
	}
}

// Routes returns the registered method-to-patterns map for
// introspection endpoints.
func (s *Server) Routes() map[string][]string {
	return s.routes.Routes()
}

// WSPaths returns the registered upgrade paths.
func (s *Server) WSPaths() []string {
	return s.wsRoutes.Paths()
}

func (s *Server) mustNotBeStarted() {
	if s.started {
		panic("server: registration after Listen")
	}
}

// ServeHTTP dispatches one request.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if isUpgrade(r) {
		s.serveUpgrade(w, r)
		return
	}

	start := time.Now()
	c := core.NewCtx(w, r)

	defer func() {
		if rec := recover(); rec != nil {
			logging.Error("Handler panic",
				zap.Any("panic", rec),
				zap.String("method", c.Method),
				zap.String("path", c.Path),
				zap.String("request_id", c.RequestID),
				zap.ByteString("stack", debug.Stack()))
			if !c.Written() {
				c.Error(errors.ErrInternalServer.WithDetails(fmt.Sprint(rec)))
			}
		}
		s.finish(c, start)
	}()

	for _, mw := range s.middlewares {
		if mw(c) == core.Halt {
			return
		}
	}

	// Match on the escaped path: the table performs the one decode of
	// parameter segments, and an encoded slash stays a single segment.
	if h, params, ok := s.routes.Match(c.Method, r.URL.EscapedPath()); ok {
		c.Params = params
		h(c)
		return
	}

	c.Status(http.StatusNotFound).Send(notFoundBody)
}

// finish records the access log line and metrics for a completed
// request.
func (s *Server) finish(c *core.Ctx, start time.Time) {
	status := c.StatusCode()
	if status == 0 {
		status = http.StatusOK
	}
	elapsed := time.Since(start)

	if s.metrics != nil {
		s.metrics.RecordRequest(c.Method, status, elapsed)
	}
	logging.Info("request",
		zap.String("method", c.Method),
		zap.String("path", c.Path),
		zap.Int("status", status),
		zap.Int64("bytes", c.BytesWritten()),
		zap.Duration("duration", elapsed),
		zap.String("ip", c.IP),
		zap.String("namespace", c.Namespace),
		zap.String("request_id", c.RequestID))
}

// isUpgrade reports whether the request asks for a WebSocket handshake.
func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

// serveUpgrade handles the WebSocket side of dispatch. A path carrying
// parent-directory segments or control characters, or one with no exact
// table entry, gets its socket destroyed without a handshake so the
// probe learns nothing about the HTTP surface.
func (s *Server) serveUpgrade(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if unsafeUpgradePath(path) {
		logging.Warn("Unsafe upgrade path refused",
			zap.String("path", path),
			zap.String("ip", core.ExtractClientIP(r)))
		s.refuseUpgrade(w)
		return
	}

	h, ok := s.wsRoutes.Lookup(path)
	if !ok {
		logging.Debug("No upgrade route", zap.String("path", path))
		s.refuseUpgrade(w)
		return
	}

	c := core.NewCtx(w, r)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the handshake error.
		logging.Debug("Upgrade failed", zap.String("path", path), zap.Error(err))
		return
	}
	if s.metrics != nil {
		s.metrics.WSUpgrades.Inc()
	}
	h(conn, c)
}

// refuseUpgrade tears down the connection without any HTTP response.
func (s *Server) refuseUpgrade(w http.ResponseWriter) {
	if s.metrics != nil {
		s.metrics.WSRefused.Inc()
	}
	if h, ok := w.(http.Hijacker); ok {
		if conn, _, err := h.Hijack(); err == nil {
			conn.Close()
			return
		}
	}
	// No hijack support: the closest we can do is drop the request.
	w.WriteHeader(http.StatusBadRequest)
}

// unsafeUpgradePath reports whether the path crosses the security
// boundary for upgrade targets.
func unsafeUpgradePath(path string) bool {
	if strings.Contains(path, "..") {
		return true
	}
	for i := 0; i < len(path); i++ {
		if path[i] < 0x20 || path[i] == 0x7f {
			return true
		}
	}
	return false
}

// Listen binds the socket and serves until ctx is canceled, then
// drains in-flight requests within the shutdown timeout.
func (s *Server) Listen(ctx context.Context) error {
	s.started = true
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s,
		IdleTimeout:       s.cfg.IdleTimeout,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}
	logging.Info("Listening",
		zap.String("addr", addr),
		zap.Duration("idle_timeout", s.cfg.IdleTimeout))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
