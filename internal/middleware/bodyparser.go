package middleware

import (
	"bytes"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"github.com/openmemory/memgate/internal/core"
	"github.com/openmemory/memgate/internal/errors"
	"github.com/openmemory/memgate/internal/logging"
	"github.com/openmemory/memgate/internal/metrics"
	"go.uber.org/zap"
)

const readChunk = 32 * 1024

// BodyParser returns the first pipeline stage: it buffers JSON request
// bodies up to maxBytes, checking the running total after every chunk.
// An oversized body gets a 413 and the connection is torn down so the
// client cannot keep streaming into process memory. Parse failures leave
// the body nil for the handler to deal with. Non-JSON requests pass
// through untouched.
func BodyParser(maxBytes int64, m *metrics.Metrics) core.Middleware {
	return func(c *core.Ctx) core.Decision {
		if c.Request.Body == nil {
			return core.Continue
		}
		ct := c.Request.Header.Get("Content-Type")
		if !strings.Contains(ct, "application/json") {
			return core.Continue
		}

		var buf bytes.Buffer
		chunk := make([]byte, readChunk)
		for {
			n, err := c.Request.Body.Read(chunk)
			if n > 0 {
				buf.Write(chunk[:n])
				if int64(buf.Len()) > maxBytes {
					if m != nil {
						m.BodyRejected.Inc()
					}
					logging.Warn("Request body exceeds limit",
						zap.String("path", c.Path),
						zap.String("ip", c.IP),
						zap.Int64("limit", maxBytes))
					c.Error(errors.ErrRequestEntityTooLarge)
					c.Destroy()
					return core.Halt
				}
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				logging.Debug("Body read aborted", zap.Error(err))
				return core.Continue
			}
		}

		var body any
		if err := json.Unmarshal(buf.Bytes(), &body); err != nil {
			logging.Debug("Malformed JSON body",
				zap.String("path", c.Path), zap.Error(err))
			return core.Continue
		}
		c.Body = body
		return core.Continue
	}
}
