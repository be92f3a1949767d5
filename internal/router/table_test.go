package router

import (
	"testing"

	"github.com/gorilla/websocket"
	"github.com/openmemory/memgate/internal/core"
)

func named(id string, hit *string) core.Handler {
	return func(c *core.Ctx) { *hit = id }
}

func TestTableMatch(t *testing.T) {
	var hit string
	tbl := New()
	tbl.Add("GET", "/memories", named("list", &hit))
	tbl.Add("POST", "/memories", named("create", &hit))
	tbl.Add("GET", "/agents/:id", named("agent", &hit))
	tbl.Add("GET", "/agents/:id/memories/:mid", named("agent-memory", &hit))
	tbl.Add("ALL", "/anything", named("any", &hit))

	tests := []struct {
		name       string
		method     string
		path       string
		wantRoute  string
		wantParams map[string]string
		wantMiss   bool
	}{
		{name: "exact literal", method: "GET", path: "/memories", wantRoute: "list"},
		{name: "method dimension", method: "POST", path: "/memories", wantRoute: "create"},
		{name: "single param", method: "GET", path: "/agents/42", wantRoute: "agent", wantParams: map[string]string{"id": "42"}},
		{
			name: "two params", method: "GET", path: "/agents/a1/memories/m9",
			wantRoute: "agent-memory", wantParams: map[string]string{"id": "a1", "mid": "m9"},
		},
		{name: "ALL matches get", method: "GET", path: "/anything", wantRoute: "any"},
		{name: "ALL matches delete", method: "DELETE", path: "/anything", wantRoute: "any"},
		{name: "segment count mismatch short", method: "GET", path: "/agents", wantMiss: true},
		{name: "segment count mismatch long", method: "GET", path: "/agents/42/extra", wantMiss: true},
		{name: "wrong method", method: "PUT", path: "/memories", wantMiss: true},
		{name: "case sensitive literal", method: "GET", path: "/Memories", wantMiss: true},
		{name: "unknown path", method: "GET", path: "/nope", wantMiss: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, params, ok := tbl.Match(tt.method, tt.path)
			if tt.wantMiss {
				if ok {
					t.Fatalf("expected no match, got one")
				}
				return
			}
			if !ok {
				t.Fatalf("expected match for %s %s", tt.method, tt.path)
			}

			hit = ""
			h(nil)
			if hit != tt.wantRoute {
				t.Errorf("matched route %q, want %q", hit, tt.wantRoute)
			}
			for k, v := range tt.wantParams {
				if params[k] != v {
					t.Errorf("param %s = %q, want %q", k, params[k], v)
				}
			}
		})
	}
}

func TestFirstMatchWins(t *testing.T) {
	var hit string
	tbl := New()
	tbl.Add("GET", "/agents/special", named("special", &hit))
	tbl.Add("GET", "/agents/:id", named("param", &hit))

	h, _, ok := tbl.Match("GET", "/agents/special")
	if !ok {
		t.Fatal("no match")
	}
	h(nil)
	if hit != "special" {
		t.Errorf("matched %q, want the earlier registration", hit)
	}

	// Reversed registration order flips the winner.
	tbl2 := New()
	tbl2.Add("GET", "/agents/:id", named("param", &hit))
	tbl2.Add("GET", "/agents/special", named("special", &hit))

	h, params, ok := tbl2.Match("GET", "/agents/special")
	if !ok {
		t.Fatal("no match")
	}
	h(nil)
	if hit != "param" {
		t.Errorf("matched %q, want the earlier registration", hit)
	}
	if params["id"] != "special" {
		t.Errorf("param id = %q", params["id"])
	}
}

func TestParamURLDecoding(t *testing.T) {
	var hit string
	tbl := New()
	tbl.Add("GET", "/ns/:name", named("ns", &hit))

	_, params, ok := tbl.Match("GET", "/ns/team%2Done")
	if !ok {
		t.Fatal("no match")
	}
	if params["name"] != "team-one" {
		t.Errorf("param = %q, want %q", params["name"], "team-one")
	}

	// Malformed escapes fall back to the raw segment.
	_, params, ok = tbl.Match("GET", "/ns/bad%zz")
	if !ok {
		t.Fatal("no match")
	}
	if params["name"] != "bad%zz" {
		t.Errorf("param = %q, want raw fallback", params["name"])
	}
}

func TestEmptySegmentsDiscarded(t *testing.T) {
	var hit string
	tbl := New()
	tbl.Add("GET", "//memories/", named("list", &hit))

	if _, _, ok := tbl.Match("GET", "/memories"); !ok {
		t.Error("pattern with empty segments should normalize")
	}
}

func TestRoutesIntrospection(t *testing.T) {
	tbl := New()
	tbl.Add("GET", "/memories", nil)
	tbl.Add("GET", "/agents/:id", nil)
	tbl.Add("POST", "/memories", nil)

	routes := tbl.Routes()
	if got := routes["GET"]; len(got) != 2 || got[0] != "/memories" || got[1] != "/agents/:id" {
		t.Errorf("GET routes = %v", got)
	}
	if got := routes["POST"]; len(got) != 1 || got[0] != "/memories" {
		t.Errorf("POST routes = %v", got)
	}
}

func TestWSTableExactMatch(t *testing.T) {
	tbl := NewWS()
	tbl.Add("/ws/events", func(conn *websocket.Conn, c *core.Ctx) {})

	if _, ok := tbl.Lookup("/ws/events"); !ok {
		t.Error("exact path should match")
	}
	if _, ok := tbl.Lookup("/ws/events/"); ok {
		t.Error("trailing slash must not match")
	}
	if _, ok := tbl.Lookup("/ws"); ok {
		t.Error("prefix must not match")
	}
	if got := tbl.Paths(); len(got) != 1 || got[0] != "/ws/events" {
		t.Errorf("Paths() = %v", got)
	}
}
