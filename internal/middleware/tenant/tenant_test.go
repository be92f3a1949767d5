package tenant

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/openmemory/memgate/internal/core"
	"github.com/openmemory/memgate/internal/registry"
)

type ctxInput struct {
	path   string
	header map[string]string
	body   any
	params map[string]string
}

func buildCtx(t *testing.T, in ctxInput) (*core.Ctx, *httptest.ResponseRecorder) {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, in.path, nil)
	for k, v := range in.header {
		r.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	c := core.NewCtx(rec, r)
	c.Body = in.body
	c.Params = in.params
	return c, rec
}

func jsonBody(t *testing.T, raw string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatal(err)
	}
	return v
}

func TestResolutionPriority(t *testing.T) {
	mw := Extractor(Config{})

	tests := []struct {
		name string
		in   ctxInput
		want string
	}{
		{
			"header wins over everything",
			ctxInput{
				path:   "/api/memories?namespace=qry",
				header: map[string]string{"x-namespace": "hdr"},
				body:   map[string]any{"namespace": "bdy"},
			},
			"hdr",
		},
		{
			"body namespace beats query",
			ctxInput{
				path: "/api/memories?namespace=qry",
				body: map[string]any{"namespace": "bdy"},
			},
			"bdy",
		},
		{
			"body user_id beats query",
			ctxInput{
				path: "/api/memories?namespace=qry",
				body: map[string]any{"user_id": "bdy_user"},
			},
			"bdy_user",
		},
		{
			"query namespace beats route param",
			ctxInput{
				path:   "/api/memories?namespace=qry",
				params: map[string]string{"namespace": "prm"},
			},
			"qry",
		},
		{
			"query user_id",
			ctxInput{path: "/api/memories?user_id=qry_user"},
			"qry_user",
		},
		{
			"route param",
			ctxInput{
				path:   "/api/memories",
				params: map[string]string{"user_id": "prm_user"},
			},
			"prm_user",
		},
		{
			"nested filter is last resort",
			ctxInput{
				path: "/api/search",
				body: map[string]any{"filter": map[string]any{"user_id": "flt"}},
			},
			"flt",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := buildCtx(t, tt.in)
			if got := mw(c); got != core.Continue {
				t.Fatalf("decision = %v, want Continue", got)
			}
			if c.Namespace != tt.want {
				t.Errorf("namespace = %q, want %q", c.Namespace, tt.want)
			}
		})
	}
}

func TestMissingNamespaceRejected(t *testing.T) {
	mw := Extractor(Config{})
	c, rec := buildCtx(t, ctxInput{path: "/api/memories"})

	if got := mw(c); got != core.Halt {
		t.Fatalf("decision = %v, want Halt", got)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "namespace required") {
		t.Errorf("body = %q, want a namespace-required hint", rec.Body.String())
	}
}

func TestInvalidNamespaceRejected(t *testing.T) {
	mw := Extractor(Config{})

	for _, bad := range []string{"a b", "a/b", "a..b!", "üser", "x\x00y"} {
		c, rec := buildCtx(t, ctxInput{
			path:   "/api/memories",
			header: map[string]string{"x-namespace": bad},
		})
		if got := mw(c); got != core.Halt {
			t.Errorf("%q: decision = %v, want Halt", bad, got)
			continue
		}
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%q: status = %d, want 400", bad, rec.Code)
		}
		var resp struct {
			Details string `json:"details"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%q: decode: %v", bad, err)
		}
		if !strings.Contains(resp.Details, bad) {
			t.Errorf("%q: details %q do not name the offending value", bad, resp.Details)
		}
	}
}

func TestValidNamespaceShapes(t *testing.T) {
	mw := Extractor(Config{})

	for _, good := range []string{"alice", "Agent_7", "a-b-c", "0123", "_"} {
		c, _ := buildCtx(t, ctxInput{
			path:   "/api/memories",
			header: map[string]string{"x-namespace": good},
		})
		if got := mw(c); got != core.Continue {
			t.Errorf("%q: decision = %v, want Continue", good, got)
		}
		if c.Namespace != good {
			t.Errorf("namespace = %q, want %q", c.Namespace, good)
		}
	}
}

func TestSkipAndPassthroughPrefixes(t *testing.T) {
	mw := Extractor(Config{
		SkipPrefixes:        []string{"/health"},
		PassthroughPrefixes: []string{"/api/public"},
	})

	// Skipped paths never resolve, even with a header present.
	c, _ := buildCtx(t, ctxInput{
		path:   "/health/live",
		header: map[string]string{"x-namespace": "alice"},
	})
	if got := mw(c); got != core.Continue {
		t.Fatalf("skip prefix: decision = %v, want Continue", got)
	}
	if c.Namespace != "" {
		t.Errorf("skip prefix: namespace = %q, want empty", c.Namespace)
	}

	// Passthrough paths tolerate a missing namespace.
	c, rec := buildCtx(t, ctxInput{path: "/api/public/docs"})
	if got := mw(c); got != core.Continue {
		t.Fatalf("passthrough: decision = %v, want Continue", got)
	}
	if c.Written() {
		t.Errorf("passthrough: wrote %d, want nothing", rec.Code)
	}

	// But an invalid namespace on a passthrough path is still rejected.
	c, rec = buildCtx(t, ctxInput{
		path:   "/api/public/docs",
		header: map[string]string{"x-namespace": "bad value"},
	})
	if got := mw(c); got != core.Halt {
		t.Fatalf("passthrough invalid: decision = %v, want Halt", got)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("passthrough invalid: status = %d, want 400", rec.Code)
	}
}

func TestBackfillBody(t *testing.T) {
	mw := Extractor(Config{})
	body := jsonBody(t, `{"content":"note","filter":{"user_id":"old","limit":5}}`)
	c, _ := buildCtx(t, ctxInput{
		path:   "/api/search",
		header: map[string]string{"x-namespace": "alice"},
		body:   body,
	})

	if got := mw(c); got != core.Continue {
		t.Fatalf("decision = %v, want Continue", got)
	}
	obj := c.Body.(map[string]any)
	if obj["user_id"] != "alice" {
		t.Errorf("user_id = %v, want alice", obj["user_id"])
	}
	filter := obj["filter"].(map[string]any)
	if filter["user_id"] != "alice" {
		t.Errorf("filter.user_id = %v, want alice", filter["user_id"])
	}
	if filter["limit"] != float64(5) {
		t.Errorf("filter.limit = %v, clobbered by backfill", filter["limit"])
	}
}

func TestEnsureProvisions(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	mw := Ensure(reg)

	c, _ := buildCtx(t, ctxInput{path: "/api/memories"})
	c.Namespace = "alice"
	if got := mw(c); got != core.Continue {
		t.Fatalf("decision = %v, want Continue", got)
	}
	ok, _ := reg.Exists(context.Background(), "alice")
	if !ok {
		t.Error("namespace not provisioned")
	}
}

func TestRequireRejectsUnknown(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	reg.Ensure(context.Background(), "known")
	mw := Require(reg)

	c, _ := buildCtx(t, ctxInput{path: "/api/memories"})
	c.Namespace = "known"
	if got := mw(c); got != core.Continue {
		t.Fatalf("known: decision = %v, want Continue", got)
	}

	c, rec := buildCtx(t, ctxInput{path: "/api/memories"})
	c.Namespace = "ghost"
	if got := mw(c); got != core.Halt {
		t.Fatalf("unknown: decision = %v, want Halt", got)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown: status = %d, want 404", rec.Code)
	}
}
