package core

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/openmemory/memgate/internal/errors"
)

func newTestCtx(method, target string) (*Ctx, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, nil)
	return NewCtx(rec, req), rec
}

func TestNewCtxParsesRequest(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "http://api.example.com:8080/memories?limit=5&q=hello", nil)
	req.RemoteAddr = "10.1.2.3:51234"

	c := NewCtx(rec, req)

	if c.Method != "GET" {
		t.Errorf("Method = %q", c.Method)
	}
	if c.Path != "/memories" {
		t.Errorf("Path = %q", c.Path)
	}
	if c.Query.Get("limit") != "5" || c.Query.Get("q") != "hello" {
		t.Errorf("Query = %v", c.Query)
	}
	if c.IP != "10.1.2.3" {
		t.Errorf("IP = %q", c.IP)
	}
	if c.Hostname != "api.example.com" {
		t.Errorf("Hostname = %q", c.Hostname)
	}
	if c.Body != nil {
		t.Error("Body should be nil before ingestion")
	}
}

func TestSendString(t *testing.T) {
	c, rec := newTestCtx("GET", "/x")
	c.Send("hello")

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/plain") {
		t.Errorf("Content-Type = %q", got)
	}
	if rec.Body.String() != "hello" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestSendStringRespectsExistingContentType(t *testing.T) {
	c, rec := newTestCtx("GET", "/x")
	c.Set("Content-Type", "text/html")
	c.Send("<b>hi</b>")

	if got := rec.Header().Get("Content-Type"); got != "text/html" {
		t.Errorf("Content-Type = %q", got)
	}
}

func TestSendObjectRoutesToJSON(t *testing.T) {
	c, rec := newTestCtx("GET", "/x")
	c.Send(map[string]any{"ok": true})

	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["ok"] != true {
		t.Errorf("body = %v", body)
	}
}

func TestStatusChaining(t *testing.T) {
	c, rec := newTestCtx("POST", "/x")
	c.Status(http.StatusCreated).JSON(map[string]string{"id": "42"})

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d", rec.Code)
	}
	if c.StatusCode() != http.StatusCreated {
		t.Errorf("StatusCode() = %d", c.StatusCode())
	}
}

func TestWrittenTracking(t *testing.T) {
	c, _ := newTestCtx("GET", "/x")
	if c.Written() {
		t.Error("Written() true before any write")
	}
	c.Send("done")
	if !c.Written() {
		t.Error("Written() false after write")
	}
	if c.BytesWritten() != 4 {
		t.Errorf("BytesWritten() = %d", c.BytesWritten())
	}
}

func TestDoubleWriteHeaderIgnored(t *testing.T) {
	c, rec := newTestCtx("GET", "/x")
	c.Status(http.StatusTeapot).Send("first")
	c.Status(http.StatusOK).Send("second")

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want first write to win", rec.Code)
	}
}

func TestErrorStampsRequestID(t *testing.T) {
	c, rec := newTestCtx("GET", "/x")
	c.RequestID = "req-123"
	c.Error(errors.ErrForbidden)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "req-123") {
		t.Errorf("request ID missing from body: %s", rec.Body.String())
	}
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*http.Request)
		remote string
		want   string
	}{
		{
			name:   "remote addr",
			setup:  func(r *http.Request) {},
			remote: "192.168.1.9:1234",
			want:   "192.168.1.9",
		},
		{
			name:   "x-forwarded-for single",
			setup:  func(r *http.Request) { r.Header.Set("X-Forwarded-For", "1.2.3.4") },
			remote: "10.0.0.1:80",
			want:   "1.2.3.4",
		},
		{
			name:   "x-forwarded-for chain",
			setup:  func(r *http.Request) { r.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.2") },
			remote: "10.0.0.1:80",
			want:   "1.2.3.4",
		},
		{
			name:   "x-real-ip",
			setup:  func(r *http.Request) { r.Header.Set("X-Real-IP", "5.6.7.8") },
			remote: "10.0.0.1:80",
			want:   "5.6.7.8",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			tt.setup(req)
			if got := ExtractClientIP(req); got != tt.want {
				t.Errorf("ExtractClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSanitizeHostname(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"example.com", "example.com"},
		{"example.com:8080", "example.com"},
		{"bad<host>!.com", "badhost.com"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := sanitizeHostname(tt.in); got != tt.want {
			t.Errorf("sanitizeHostname(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
