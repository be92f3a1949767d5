package middleware

import (
	"github.com/google/uuid"
	"github.com/openmemory/memgate/internal/core"
)

// RequestID assigns each request an ID and echoes it back in the
// X-Request-ID response header. An inbound X-Request-ID is trusted so
// IDs stay stable across proxy hops.
func RequestID() core.Middleware {
	return func(c *core.Ctx) core.Decision {
		id := c.Request.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.RequestID = id
		c.Set("X-Request-ID", id)
		return core.Continue
	}
}
