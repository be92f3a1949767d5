package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/openmemory/memgate/internal/config"
	"github.com/openmemory/memgate/internal/core"
	"github.com/openmemory/memgate/internal/logging"
	"github.com/openmemory/memgate/internal/metrics"
	"github.com/openmemory/memgate/internal/middleware"
	"github.com/openmemory/memgate/internal/middleware/auth"
	"github.com/openmemory/memgate/internal/middleware/ratelimit"
	"github.com/openmemory/memgate/internal/middleware/tenant"
	"github.com/openmemory/memgate/internal/registry"
	"github.com/openmemory/memgate/internal/server"
	"go.uber.org/zap"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/memgate.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("memgate %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *validateOnly {
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	logger, err := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	logging.Info("Starting memgate",
		zap.String("version", version),
		zap.String("config", *configPath),
		zap.String("registry", cfg.Namespace.Registry.Type),
		zap.Int("static_mounts", len(cfg.Static)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *configPath); err != nil {
		logging.Error("Server error", zap.Error(err))
		os.Exit(1)
	}
	logging.Info("Shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, configPath string) error {
	reg, err := buildRegistry(ctx, cfg.Namespace.Registry)
	if err != nil {
		return err
	}
	if closer, ok := reg.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	var store ratelimit.Store
	if cfg.Auth.RateLimit.Enabled {
		memStore := ratelimit.NewMemoryStore()
		store = memStore
		sweeper := ratelimit.NewSweeper(memStore, cfg.Auth.RateLimit.SweepInterval)
		sweeper.Start()
		defer sweeper.Stop()
	}

	s := server.New(cfg.Server, m)

	s.Use(middleware.RequestID())
	s.Use(middleware.BodyParser(cfg.Server.MaxBodyBytes, m))

	authn := auth.New(auth.Config{
		APIKey:           cfg.Auth.APIKey,
		Header:           cfg.Auth.Header,
		PublicPrefixes:   cfg.Auth.PublicPrefixes,
		RateLimitEnabled: cfg.Auth.RateLimit.Enabled,
		Window:           cfg.Auth.RateLimit.Window,
		MaxRequests:      cfg.Auth.RateLimit.MaxRequests,
	}, store, m)
	s.Use(authn.Middleware())

	s.Use(tenant.Extractor(tenant.Config{
		Header:              cfg.Namespace.Header,
		SkipPrefixes:        cfg.Namespace.SkipPrefixes,
		PassthroughPrefixes: cfg.Namespace.PassthroughPrefixes,
	}))
	if cfg.Namespace.AutoProvision {
		s.Use(tenant.Ensure(reg))
	} else {
		s.Use(tenant.Require(reg))
	}

	for _, mount := range cfg.Static {
		s.ServeStatic(mount.Prefix, mount.Root)
	}

	registerRoutes(s, m, cfg.Metrics.Path)

	// Reapply the log level when the config file changes on disk.
	watcher, err := config.NewWatcher(configPath)
	if err != nil {
		logging.Warn("Config watcher unavailable", zap.Error(err))
	} else {
		watcher.OnChange(func(next *config.Config) {
			if next.Logging.Level != logging.Level() {
				logging.Info("Log level changed",
					zap.String("from", logging.Level()),
					zap.String("to", next.Logging.Level))
				logging.SetLevel(next.Logging.Level)
			}
		})
		if err := watcher.Start(); err != nil {
			logging.Warn("Config watcher failed to start", zap.Error(err))
		}
		defer watcher.Stop()
	}

	return s.Listen(ctx)
}

func buildRegistry(ctx context.Context, cfg config.RegistryConfig) (registry.Registry, error) {
	switch cfg.Type {
	case "redis":
		return registry.NewRedisRegistry(ctx, cfg.Addr, cfg.Password, cfg.DB)
	default:
		return registry.NewMemoryRegistry(), nil
	}
}

func registerRoutes(s *server.Server, m *metrics.Metrics, metricsPath string) {
	started := time.Now()

	s.GET("/health", func(c *core.Ctx) {
		c.JSON(map[string]any{
			"status":  "ok",
			"version": version,
			"uptime":  time.Since(started).Round(time.Second).String(),
		})
	})

	s.GET("/api/routes", func(c *core.Ctx) {
		c.JSON(map[string]any{
			"routes":    s.Routes(),
			"websocket": s.WSPaths(),
		})
	})

	if m != nil {
		s.GET(metricsPath, server.WrapHTTP(m.Handler()))
	}

	// Event stream: echoes inbound frames until the peer goes away.
	// Memory-event fanout rides on this once the store emits events.
	s.WS("/ws/events", func(conn *websocket.Conn, c *core.Ctx) {
		defer conn.Close()
		logging.Debug("WebSocket session started",
			zap.String("ip", c.IP), zap.String("request_id", c.RequestID))
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, msg); err != nil {
				return
			}
		}
	})
}
