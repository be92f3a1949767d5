package core

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/openmemory/memgate/internal/errors"
)

// Decision is the result of a middleware invocation. Continue advances to
// the next pipeline entry; Halt stops dispatch, leaving the middleware
// responsible for the response it wrote (or deliberately did not write).
type Decision int

const (
	Continue Decision = iota
	Halt
)

// Handler processes a matched request.
type Handler func(*Ctx)

// Middleware is a pipeline stage executed in registration order.
type Middleware func(*Ctx) Decision

// WSHandler handles an upgraded WebSocket connection. The Ctx carries the
// original upgrade request's parsed fields; its response side is unusable
// after the handshake.
type WSHandler func(*websocket.Conn, *Ctx)

// Ctx is the per-request context handed to middleware and handlers.
// It is owned by the single in-flight request and never shared.
type Ctx struct {
	Request *http.Request

	Method   string
	Path     string
	Query    url.Values
	Params   map[string]string // populated on route match
	Body     any               // parsed JSON body, nil otherwise
	IP       string
	Hostname string

	Namespace string
	RequestID string

	w *responseWriter
}

// NewCtx builds a Ctx from an inbound request, parsing the URL and
// normalizing hostname and client address.
func NewCtx(w http.ResponseWriter, r *http.Request) *Ctx {
	return &Ctx{
		Request:  r,
		Method:   r.Method,
		Path:     r.URL.Path,
		Query:    r.URL.Query(),
		IP:       ExtractClientIP(r),
		Hostname: sanitizeHostname(r.Host),
		w:        &responseWriter{ResponseWriter: w},
	}
}

// Status sets the status code for the next body write. Chainable.
func (c *Ctx) Status(code int) *Ctx {
	c.w.pending = code
	return c
}

// Set sets a response header.
func (c *Ctx) Set(key, value string) {
	c.w.Header().Set(key, value)
}

// JSON writes v as an application/json response.
func (c *Ctx) JSON(v any) {
	c.w.Header().Set("Content-Type", "application/json")
	c.w.writePending()
	json.NewEncoder(c.w).Encode(v)
}

// Send writes v, inferring the content type: strings and byte slices are
// written as-is (text/plain unless a Content-Type was already set), and
// everything else is serialized as JSON.
func (c *Ctx) Send(v any) {
	switch b := v.(type) {
	case string:
		if c.w.Header().Get("Content-Type") == "" {
			c.w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		}
		c.w.writePending()
		c.w.Write([]byte(b))
	case []byte:
		if c.w.Header().Get("Content-Type") == "" {
			c.w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		}
		c.w.writePending()
		c.w.Write(b)
	default:
		c.JSON(v)
	}
}

// Error writes a structured JSON error, stamping the request ID.
func (c *Ctx) Error(e *errors.APIError) {
	if c.RequestID != "" && e.RequestID == "" {
		e = e.WithRequestID(c.RequestID)
	}
	e.WriteJSON(c.w)
}

// Written reports whether any part of the response has been sent.
func (c *Ctx) Written() bool {
	return c.w.wrote
}

// StatusCode returns the status code sent to the client, or 0 if none yet.
func (c *Ctx) StatusCode() int {
	return c.w.status
}

// BytesWritten returns the number of body bytes written so far.
func (c *Ctx) BytesWritten() int64 {
	return c.w.bytes
}

// Writer exposes the underlying ResponseWriter for adapted stock handlers.
// Writes through it are still tracked by Written and StatusCode.
func (c *Ctx) Writer() http.ResponseWriter {
	return c.w
}

// Destroy tears down the underlying connection without further protocol
// ceremony. Used after a body-size violation to stop buffering, and for
// upgrade requests that must not receive an HTTP response.
func (c *Ctx) Destroy() {
	conn := hijack(c.w.ResponseWriter)
	if conn != nil {
		conn.Close()
	}
}

// hijack takes over the connection if the transport supports it.
func hijack(w http.ResponseWriter) net.Conn {
	h, ok := w.(http.Hijacker)
	if !ok {
		return nil
	}
	conn, _, err := h.Hijack()
	if err != nil {
		return nil
	}
	return conn
}

// responseWriter wraps http.ResponseWriter to track status and bytes and
// to defer the status code set by Ctx.Status until the first body write.
type responseWriter struct {
	http.ResponseWriter
	pending int
	status  int
	bytes   int64
	wrote   bool
}

func (rw *responseWriter) writePending() {
	if rw.wrote {
		return
	}
	code := rw.pending
	if code == 0 {
		code = http.StatusOK
	}
	rw.WriteHeader(code)
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wrote {
		return
	}
	rw.status = code
	rw.wrote = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wrote {
		rw.writePending()
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += int64(n)
	return n, err
}

// Flush implements http.Flusher.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker so the WebSocket upgrader and Destroy
// can reach the raw connection through the wrapper.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("response writer does not support hijacking")
}

// ExtractClientIP extracts the client IP from the request, honoring
// X-Forwarded-For and X-Real-IP before falling back to RemoteAddr.
func ExtractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// sanitizeHostname strips the port and any characters that cannot appear
// in a hostname.
func sanitizeHostname(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	var b strings.Builder
	for i := 0; i < len(host); i++ {
		ch := host[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z',
			ch >= '0' && ch <= '9', ch == '.', ch == '-', ch == ':':
			// ':' survives for bracketless IPv6 literals
			b.WriteByte(ch)
		}
	}
	return b.String()
}
