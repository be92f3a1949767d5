package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/openmemory/memgate/internal/core"
	"github.com/openmemory/memgate/internal/errors"
	"github.com/openmemory/memgate/internal/logging"
	"github.com/openmemory/memgate/internal/metrics"
	"github.com/openmemory/memgate/internal/middleware/ratelimit"
)

// Config holds API key authentication and rate limiting settings.
type Config struct {
	APIKey         string
	Header         string // defaults to x-api-key
	PublicPrefixes []string

	RateLimitEnabled bool
	Window           time.Duration
	MaxRequests      int
}

// Authenticator validates API keys and enforces the fixed-window rate
// limit for authenticated clients.
type Authenticator struct {
	cfg        Config
	keyDigest  [sha256.Size]byte
	keyPresent bool
	store      ratelimit.Store
	metrics    *metrics.Metrics
	warnOnce   sync.Once
}

// New creates an authenticator. store may be nil when rate limiting is
// disabled; metrics may be nil.
func New(cfg Config, store ratelimit.Store, m *metrics.Metrics) *Authenticator {
	if cfg.Header == "" {
		cfg.Header = "x-api-key"
	}
	a := &Authenticator{
		cfg:     cfg,
		store:   store,
		metrics: m,
	}
	if cfg.APIKey != "" {
		a.keyDigest = sha256.Sum256([]byte(cfg.APIKey))
		a.keyPresent = true
	}
	return a
}

// Middleware returns the pipeline stage implementing the request state
// machine: public check, fail-open check, key extraction, validation,
// then rate limiting.
func (a *Authenticator) Middleware() core.Middleware {
	return func(c *core.Ctx) core.Decision {
		if a.isPublic(c.Path) {
			return core.Continue
		}

		if !a.keyPresent {
			a.warnOnce.Do(func() {
				logging.Warn("No API key configured; all requests are allowed")
			})
			// Still rate limit, keyed by client IP.
			return a.rateLimit(c, c.IP)
		}

		key := a.extractKey(c)
		if key == "" {
			a.countFailure("missing_key")
			c.Error(errors.ErrUnauthorized.WithDetails("API key required"))
			return core.Halt
		}

		if !a.validateKey(key) {
			a.countFailure("invalid_key")
			c.Error(errors.ErrForbidden.WithDetails("Invalid API key"))
			return core.Halt
		}

		return a.rateLimit(c, Fingerprint(key))
	}
}

// isPublic reports whether the path matches a configured public prefix.
func (a *Authenticator) isPublic(path string) bool {
	for _, p := range a.cfg.PublicPrefixes {
		if path == p || strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// extractKey reads the key from the configured header, falling back to
// an Authorization header with a Bearer or ApiKey scheme.
func (a *Authenticator) extractKey(c *core.Ctx) string {
	if key := c.Request.Header.Get(a.cfg.Header); key != "" {
		return key
	}

	authz := c.Request.Header.Get("Authorization")
	if v, ok := strings.CutPrefix(authz, "Bearer "); ok {
		return v
	}
	if v, ok := strings.CutPrefix(authz, "ApiKey "); ok {
		return v
	}
	return ""
}

// validateKey compares the provided key against the configured one.
// Both sides are hashed first so the comparison runs over fixed-length
// digests and leaks neither content nor length.
func (a *Authenticator) validateKey(key string) bool {
	digest := sha256.Sum256([]byte(key))
	return subtle.ConstantTimeCompare(digest[:], a.keyDigest[:]) == 1
}

// rateLimit applies the fixed-window limit for fingerprint and attaches
// the X-RateLimit response headers.
func (a *Authenticator) rateLimit(c *core.Ctx, fingerprint string) core.Decision {
	if !a.cfg.RateLimitEnabled || a.store == nil {
		return core.Continue
	}

	e := a.store.Incr(fingerprint, a.cfg.Window)

	remaining := a.cfg.MaxRequests - e.Count
	if remaining < 0 {
		remaining = 0
	}
	c.Set("X-RateLimit-Limit", strconv.Itoa(a.cfg.MaxRequests))
	c.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	c.Set("X-RateLimit-Reset", strconv.FormatInt(e.ResetAt.Unix(), 10))

	if e.Count > a.cfg.MaxRequests {
		retryAfter := int(time.Until(e.ResetAt).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		if a.metrics != nil {
			a.metrics.RateLimited.Inc()
		}
		c.Set("Retry-After", strconv.Itoa(retryAfter))
		c.Error(errors.ErrTooManyRequests.WithRetryAfter(retryAfter))
		return core.Halt
	}

	return core.Continue
}

func (a *Authenticator) countFailure(reason string) {
	if a.metrics != nil {
		a.metrics.AuthFailures.WithLabelValues(reason).Inc()
	}
}

// Fingerprint derives the rate-limit map key for an API key: the first
// 16 hex characters of its SHA-256 digest.
func Fingerprint(key string) string {
	digest := sha256.Sum256([]byte(key))
	return hex.EncodeToString(digest[:])[:16]
}
