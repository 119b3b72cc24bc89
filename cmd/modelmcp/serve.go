package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	daemon "github.com/sevlyar/go-daemon"
	"github.com/spf13/cobra"

	"github.com/xscopehub/modelmcp/internal/audit"
	"github.com/xscopehub/modelmcp/internal/auth"
	"github.com/xscopehub/modelmcp/internal/cache"
	"github.com/xscopehub/modelmcp/internal/config"
	"github.com/xscopehub/modelmcp/internal/events"
	"github.com/xscopehub/modelmcp/internal/jsonrpc"
	"github.com/xscopehub/modelmcp/internal/limiter"
	"github.com/xscopehub/modelmcp/internal/metrics"
	"github.com/xscopehub/modelmcp/internal/registry"
	"github.com/xscopehub/modelmcp/internal/server"
	"github.com/xscopehub/modelmcp/internal/store"
	"github.com/xscopehub/modelmcp/internal/tools"
	"github.com/xscopehub/modelmcp/internal/watch"
	applog "github.com/xscopehub/modelmcp/pkg/log"
	"github.com/xscopehub/modelmcp/pkg/manifest"
	"github.com/xscopehub/modelmcp/pkg/telemetry"
)

func newServeCmd() *cobra.Command {
	var daemonMode bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve MCP tools over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if daemonMode {
				cntxt := &daemon.Context{
					PidFileName: "modelmcp.pid",
					PidFilePerm: 0644,
				}
				child, err := cntxt.Reborn()
				if err != nil {
					return err
				}
				if child != nil {
					return nil
				}
				defer cntxt.Release()
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().BoolVar(&daemonMode, "daemon", false, "run in background")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	service := cfg.Telemetry.ServiceName
	if service == "" {
		service = cfg.MCP.Name
	}
	shutdown := telemetry.Noop
	if cfg.Telemetry.Enabled {
		var err error
		shutdown, err = telemetry.Init(ctx, service, cfg.MCP.Version, cfg.Telemetry.Endpoint)
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
	}
	defer func() { _ = shutdown(context.Background()) }()

	logger := applog.New(service, applog.Options{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Telemetry: cfg.Telemetry.Enabled,
	})
	slog.SetDefault(logger)

	base, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	var health func(context.Context) error
	sqlStore, isSQL := base.(*store.SQL)
	if isSQL {
		health = sqlStore.Ping
	}

	recordCache, err := cache.New(cache.Config{
		Enabled:     cfg.Cache.Enabled,
		NumCounters: cfg.Cache.NumCounters,
		MaxCost:     cfg.Cache.MaxCost,
		BufferItems: cfg.Cache.BufferItems,
		TTL:         cfg.Cache.TTL,
	})
	if err != nil {
		base.Close()
		return fmt.Errorf("init cache: %w", err)
	}

	publisher, err := events.NewPublisher(cfg.Events)
	if err != nil {
		recordCache.Close()
		base.Close()
		return fmt.Errorf("init events: %w", err)
	}
	// Closing the outermost backend closes the publisher, cache and store.
	backend := events.Wrap(cache.Wrap(base, recordCache), publisher, logger)
	defer backend.Close()

	m := metrics.New(nil)
	reg := registry.New(tools.NewFactory(backend), logger)
	reg.OnRebuild(m.ObserveRebuild)

	load := func(ctx context.Context) error {
		descs, err := manifest.LoadDescriptors(cfg.ModelsFile)
		if err != nil {
			return err
		}
		if isSQL && cfg.Store.Migrate {
			if err := sqlStore.Migrate(ctx, descs); err != nil {
				return err
			}
		}
		return reg.Rebuild(descs)
	}
	if err := load(ctx); err != nil {
		return fmt.Errorf("build tools: %w", err)
	}

	if cfg.Watch.Enabled {
		w, err := watch.New(cfg.ModelsFile, cfg.Watch.Debounce, func() error { return load(ctx) }, logger)
		if err != nil {
			return err
		}
		go func() {
			if err := w.Run(ctx); err != nil {
				logger.Error("models watcher stopped", "error", err)
			}
		}()
	}

	authenticator, err := auth.New(cfg.Auth)
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}

	redisClient, err := limiter.BuildRedisClient(ctx, cfg.RateLimiter)
	if err != nil {
		return fmt.Errorf("init redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	limit := limiter.New(limiter.Config{
		Enabled:           cfg.RateLimiter.Enabled,
		RequestsPerMinute: cfg.RateLimiter.RequestsPerMinute,
		Burst:             cfg.RateLimiter.Burst,
		Window:            cfg.RateLimiter.Window,
		MaxClients:        cfg.RateLimiter.MaxClients,
		Redis:             redisClient,
	})

	auditOut, closeAudit, err := openAudit(cfg.Audit)
	if err != nil {
		return err
	}
	defer closeAudit()

	dispatcher := jsonrpc.NewDispatcher(jsonrpc.Options{
		Tools: reg,
		Server: jsonrpc.ServerInfo{
			Name:         cfg.MCP.Name,
			Version:      cfg.MCP.Version,
			Instructions: cfg.MCP.Instructions,
		},
		Logger:  logger,
		Audit:   audit.New(cfg.Audit.Enabled, auditOut),
		Metrics: m,
	})

	srv := server.New(server.Options{
		Config:     cfg,
		Handler:    dispatcher,
		Auth:       authenticator,
		Limiter:    limit,
		Metrics:    m,
		Health:     health,
		Logger:     logger,
		TracerName: service,
	})
	return srv.Run(ctx)
}

// openAudit returns the audit destination: the configured file, or stdout.
func openAudit(cfg config.AuditConfig) (io.Writer, func(), error) {
	if !cfg.Enabled || cfg.Path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit log: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}
