package staticfiles

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/openmemory/memgate/internal/core"
	"github.com/openmemory/memgate/internal/errors"
	"github.com/openmemory/memgate/internal/logging"
	"go.uber.org/zap"
)

// contentTypes maps file extensions to MIME types. Unknown extensions
// fall back to application/octet-stream.
var contentTypes = map[string]string{
	".html":  "text/html; charset=utf-8",
	".htm":   "text/html; charset=utf-8",
	".css":   "text/css; charset=utf-8",
	".js":    "application/javascript",
	".mjs":   "application/javascript",
	".json":  "application/json",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".svg":   "image/svg+xml",
	".ico":   "image/x-icon",
	".webp":  "image/webp",
	".txt":   "text/plain; charset=utf-8",
	".xml":   "application/xml",
	".pdf":   "application/pdf",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".ttf":   "font/ttf",
	".map":   "application/json",
}

// New returns a middleware serving files under root for GET/HEAD
// requests whose path starts with prefix. The root is resolved and
// verified at construction time; when it is missing or not a directory
// the returned middleware is a passthrough so a bad mount never takes
// the process down.
func New(prefix, root string) core.Middleware {
	absRoot, err := filepath.Abs(root)
	if err == nil {
		var info os.FileInfo
		info, err = os.Stat(absRoot)
		if err == nil && !info.IsDir() {
			err = os.ErrInvalid
		}
	}
	if err != nil {
		logging.Warn("Static root unusable, mount disabled",
			zap.String("prefix", prefix),
			zap.String("root", root),
			zap.Error(err))
		return func(c *core.Ctx) core.Decision { return core.Continue }
	}

	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return func(c *core.Ctx) core.Decision {
		if c.Method != http.MethodGet && c.Method != http.MethodHead {
			return core.Continue
		}
		var remainder string
		switch {
		case strings.HasPrefix(c.Path, prefix):
			remainder = strings.TrimPrefix(c.Path, prefix)
		case c.Path == strings.TrimSuffix(prefix, "/"):
			remainder = ""
		default:
			return core.Continue
		}
		if remainder == "" || strings.HasSuffix(remainder, "/") {
			remainder += "index.html"
		}

		target := filepath.Join(absRoot, filepath.FromSlash(remainder))
		rel, err := filepath.Rel(absRoot, target)
		if err != nil || rel == "" || rel == "." ||
			rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) ||
			filepath.IsAbs(rel) {
			return core.Continue
		}

		info, err := os.Stat(target)
		if err != nil {
			if os.IsNotExist(err) {
				return core.Continue
			}
			logging.Error("Static stat failed",
				zap.String("path", c.Path), zap.Error(err))
			c.Error(errors.ErrInternalServer)
			return core.Halt
		}
		if info.IsDir() {
			return core.Continue
		}

		f, err := os.Open(target)
		if err != nil {
			if os.IsNotExist(err) {
				return core.Continue
			}
			logging.Error("Static open failed",
				zap.String("path", c.Path), zap.Error(err))
			c.Error(errors.ErrInternalServer)
			return core.Halt
		}
		defer f.Close()

		ct, ok := contentTypes[strings.ToLower(filepath.Ext(target))]
		if !ok {
			ct = "application/octet-stream"
		}
		c.Set("Content-Type", ct)
		c.Set("Content-Length", strconv.FormatInt(info.Size(), 10))

		if c.Method == http.MethodHead {
			c.Status(http.StatusOK).Send("")
			return core.Halt
		}

		w := c.Writer()
		if _, err := io.Copy(w, f); err != nil {
			logging.Debug("Static stream interrupted",
				zap.String("path", c.Path), zap.Error(err))
		}
		return core.Halt
	}
}
