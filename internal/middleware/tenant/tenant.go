package tenant

import (
	"context"
	"regexp"
	"strings"

	"github.com/openmemory/memgate/internal/core"
	"github.com/openmemory/memgate/internal/errors"
	"github.com/openmemory/memgate/internal/logging"
	"github.com/openmemory/memgate/internal/registry"
	"go.uber.org/zap"
)

// namespacePattern is the only shape a namespace may take. Anything
// else is rejected before it can reach a storage key or file path.
var namespacePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Config controls namespace extraction.
type Config struct {
	Header              string // defaults to x-namespace
	SkipPrefixes        []string
	PassthroughPrefixes []string
}

// Extractor resolves the tenant namespace for each request and
// back-fills it into the body so handlers see one consistent
// identifier. Sources are tried in strict priority order: header, body
// (namespace, then user_id), query (namespace, then user_id), route
// parameter, then the body's nested filter.user_id.
func Extractor(cfg Config) core.Middleware {
	if cfg.Header == "" {
		cfg.Header = "x-namespace"
	}

	return func(c *core.Ctx) core.Decision {
		if matchesPrefix(c.Path, cfg.SkipPrefixes) {
			return core.Continue
		}

		ns := resolve(c, cfg.Header)
		if ns == "" {
			if matchesPrefix(c.Path, cfg.PassthroughPrefixes) {
				return core.Continue
			}
			c.Error(errors.ErrBadRequest.WithDetails(
				"namespace required: provide the " + cfg.Header + " header, a namespace/user_id field, or a query parameter"))
			return core.Halt
		}

		if !namespacePattern.MatchString(ns) {
			logging.Debug("Invalid namespace rejected",
				zap.String("namespace", ns), zap.String("path", c.Path))
			c.Error(errors.ErrBadRequest.WithDetails("invalid namespace: " + ns))
			return core.Halt
		}

		c.Namespace = ns
		backfill(c, ns)
		return core.Continue
	}
}

// Ensure auto-provisions the resolved namespace in reg. Mount it on
// routes where unknown tenants should be created on first contact.
func Ensure(reg registry.Registry) core.Middleware {
	return func(c *core.Ctx) core.Decision {
		if c.Namespace == "" {
			return core.Continue
		}
		if err := reg.Ensure(requestContext(c), c.Namespace); err != nil {
			logging.Error("Namespace provisioning failed",
				zap.String("namespace", c.Namespace), zap.Error(err))
			c.Error(errors.ErrInternalServer.WithDetails("namespace provisioning failed"))
			return core.Halt
		}
		return core.Continue
	}
}

// Require rejects requests against namespaces that do not exist in reg.
// Mount it on routes that must never create tenants implicitly. Ensure
// and Require are alternate policies; a route chain uses one, not both.
func Require(reg registry.Registry) core.Middleware {
	return func(c *core.Ctx) core.Decision {
		if c.Namespace == "" {
			return core.Continue
		}
		ok, err := reg.Exists(requestContext(c), c.Namespace)
		if err != nil {
			logging.Error("Namespace lookup failed",
				zap.String("namespace", c.Namespace), zap.Error(err))
			c.Error(errors.ErrInternalServer.WithDetails("namespace lookup failed"))
			return core.Halt
		}
		if !ok {
			c.Error(errors.ErrNotFound.WithDetails("unknown namespace: " + c.Namespace))
			return core.Halt
		}
		return core.Continue
	}
}

func requestContext(c *core.Ctx) context.Context {
	if c.Request != nil {
		return c.Request.Context()
	}
	return context.Background()
}

func matchesPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// resolve walks the source priority list and returns the first
// non-empty candidate.
func resolve(c *core.Ctx, header string) string {
	if v := c.Request.Header.Get(header); v != "" {
		return v
	}

	body, _ := c.Body.(map[string]any)
	if body != nil {
		if v, ok := body["namespace"].(string); ok && v != "" {
			return v
		}
		if v, ok := body["user_id"].(string); ok && v != "" {
			return v
		}
	}

	if v := c.Query.Get("namespace"); v != "" {
		return v
	}
	if v := c.Query.Get("user_id"); v != "" {
		return v
	}

	if v := c.Params["namespace"]; v != "" {
		return v
	}
	if v := c.Params["user_id"]; v != "" {
		return v
	}

	if body != nil {
		if filter, ok := body["filter"].(map[string]any); ok {
			if v, ok := filter["user_id"].(string); ok && v != "" {
				return v
			}
		}
	}
	return ""
}

// backfill writes the resolved namespace into the body's user_id and
// nested filter so downstream code reads a single field.
func backfill(c *core.Ctx, ns string) {
	body, ok := c.Body.(map[string]any)
	if !ok {
		return
	}
	body["user_id"] = ns
	if filter, ok := body["filter"].(map[string]any); ok {
		filter["user_id"] = ns
	}
}
