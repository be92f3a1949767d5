package router

import (
	"net/url"
	"strings"

	"github.com/openmemory/memgate/internal/core"
)

// MethodAll matches any HTTP method.
const MethodAll = "ALL"

// segment is one element of a compiled pattern: either a literal or a
// named parameter (":name" in the pattern source).
type segment struct {
	literal string
	param   string // non-empty for parameter segments
}

// entry is one registered route.
type entry struct {
	method   string
	pattern  string
	segments []segment
	handler  core.Handler
}

// Table is an ordered route table. Registration order is significant:
// matching is first-match-wins. The table is append-only before the
// server starts and read-only afterwards, so Match takes no locks.
type Table struct {
	entries []entry
}

// New creates an empty route table.
func New() *Table {
	return &Table{}
}

// Add appends a route. Patterns are split on "/" with empty segments
// discarded; segments beginning with ":" bind a parameter.
func (t *Table) Add(method, pattern string, h core.Handler) {
	t.entries = append(t.entries, entry{
		method:   strings.ToUpper(method),
		pattern:  pattern,
		segments: compile(pattern),
		handler:  h,
	})
}

// Match returns the first entry whose method and pattern match the
// request. Parameter segments are URL-decoded and bound by name.
func (t *Table) Match(method, path string) (core.Handler, map[string]string, bool) {
	pathSegs := splitPath(path)

	for i := range t.entries {
		e := &t.entries[i]
		if e.method != MethodAll && e.method != method {
			continue
		}
		if len(e.segments) != len(pathSegs) {
			continue
		}

		var params map[string]string
		matched := true
		for j, seg := range e.segments {
			if seg.param != "" {
				if params == nil {
					params = make(map[string]string, 2)
				}
				params[seg.param] = decodeSegment(pathSegs[j])
				continue
			}
			if seg.literal != pathSegs[j] {
				matched = false
				break
			}
		}
		if matched {
			if params == nil {
				params = map[string]string{}
			}
			return e.handler, params, true
		}
	}

	return nil, nil, false
}

// Routes returns a map from method to the registered path patterns, in
// registration order, for introspection and documentation tooling.
func (t *Table) Routes() map[string][]string {
	out := make(map[string][]string)
	for _, e := range t.entries {
		out[e.method] = append(out[e.method], e.pattern)
	}
	return out
}

// Len returns the number of registered routes.
func (t *Table) Len() int {
	return len(t.entries)
}

func compile(pattern string) []segment {
	raw := splitPath(pattern)
	segs := make([]segment, len(raw))
	for i, s := range raw {
		if strings.HasPrefix(s, ":") && len(s) > 1 {
			segs[i] = segment{param: s[1:]}
		} else {
			segs[i] = segment{literal: s}
		}
	}
	return segs
}

// splitPath splits a URL path into non-empty segments.
func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// decodeSegment URL-decodes a path segment, falling back to the raw
// value if the escape sequence is malformed.
func decodeSegment(s string) string {
	if !strings.ContainsAny(s, "%+") {
		return s
	}
	decoded, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}
