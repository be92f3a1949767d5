package router

import "github.com/openmemory/memgate/internal/core"

// wsEntry pairs an exact upgrade path with its handler. Upgrade routes
// have no parameters, no prefix matching, and no method dimension.
type wsEntry struct {
	path    string
	handler core.WSHandler
}

// WSTable is the route table for protocol-upgrade requests. Lookup is
// exact-match only, in registration order.
type WSTable struct {
	entries []wsEntry
}

// NewWS creates an empty WebSocket route table.
func NewWS() *WSTable {
	return &WSTable{}
}

// Add appends an upgrade route.
func (t *WSTable) Add(path string, h core.WSHandler) {
	t.entries = append(t.entries, wsEntry{path: path, handler: h})
}

// Lookup returns the handler registered for exactly path.
func (t *WSTable) Lookup(path string) (core.WSHandler, bool) {
	for _, e := range t.entries {
		if e.path == path {
			return e.handler, true
		}
	}
	return nil, false
}

// Paths returns the registered upgrade paths in registration order.
func (t *WSTable) Paths() []string {
	out := make([]string, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.path
	}
	return out
}
