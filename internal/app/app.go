package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/yungbote/workspace-core/internal/data/db"
	apphttp "github.com/yungbote/workspace-core/internal/http"
	"github.com/yungbote/workspace-core/internal/observability"
	"github.com/yungbote/workspace-core/internal/platform/logger"
	"github.com/yungbote/workspace-core/internal/realtime"
	"github.com/yungbote/workspace-core/internal/realtime/bus"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      Config
	Repos    Repos
	Services Services
	Hub      *realtime.Hub
	Bus      bus.Bus
	Server   *apphttp.Server
	Metrics  *observability.Metrics

	dbService    *db.Service
	otelShutdown func(context.Context) error
}

// New loads configuration from the environment, connects the database and
// wires the whole application.
func New(ctx context.Context, logMode string) (*App, error) {
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg, err := LoadConfig(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("load config: %w", err)
	}

	dbs, err := db.NewService(log, cfg.DB)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init database: %w", err)
	}
	if cfg.AutoMigrate {
		if err := Migrate(dbs.DB()); err != nil {
			_ = dbs.Close()
			log.Sync()
			return nil, err
		}
	}

	a, err := Build(ctx, log, cfg, dbs.DB())
	if err != nil {
		_ = dbs.Close()
		log.Sync()
		return nil, err
	}
	a.dbService = dbs
	return a, nil
}

// Migrate creates the tables and the postgres-only indexes.
func Migrate(gdb *gorm.DB) error {
	if err := db.AutoMigrateAll(gdb); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	if err := db.EnsureNodeIndexes(gdb); err != nil {
		return fmt.Errorf("node indexes: %w", err)
	}
	return nil
}

// Build wires an App around an already opened database.
func Build(ctx context.Context, log *logger.Logger, cfg Config, gdb *gorm.DB) (*App, error) {
	metrics := observability.Init(log)
	otelShutdown, err := observability.InitTracing(ctx, log, cfg.Tracing)
	if err != nil {
		return nil, err
	}

	eventBus, err := wireBus(log, cfg)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, err
	}

	hub := realtime.NewHub(log, metrics)
	hub.SetHeartbeat(cfg.SSEHeartbeat)

	reposet := wireRepos(gdb, log, metrics)
	serviceset, err := wireServices(gdb, log, cfg, reposet, eventBus, metrics)
	if err != nil {
		_ = eventBus.Close()
		_ = otelShutdown(context.Background())
		return nil, err
	}
	handlerset := wireHandlers(log, gdb, serviceset, hub, eventBus)
	middleware := wireMiddleware(log, serviceset)

	server := apphttp.NewServer(":"+cfg.Port, routerConfig(log, cfg, metrics, handlerset, middleware))
	server.OnShutdown(hub.Shutdown)

	return &App{
		Log:          log,
		DB:           gdb,
		Cfg:          cfg,
		Repos:        reposet,
		Services:     serviceset,
		Hub:          hub,
		Bus:          eventBus,
		Server:       server,
		Metrics:      metrics,
		otelShutdown: otelShutdown,
	}, nil
}

// StartForwarder feeds bus events into the hub until ctx is done.
func (a *App) StartForwarder(ctx context.Context) error {
	if err := a.Bus.StartForwarder(ctx, a.Hub.Broadcast); err != nil {
		return fmt.Errorf("start realtime forwarder: %w", err)
	}
	return nil
}

// Run serves HTTP until ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	g, gctx := errgroup.WithContext(ctx)

	if err := a.StartForwarder(gctx); err != nil {
		return err
	}
	a.Metrics.StartServer(gctx, a.Log, a.Cfg.MetricsAddr)

	g.Go(func() error {
		a.Log.Info("HTTP server listening", "port", a.Cfg.Port)
		return a.Server.Run(gctx, a.Cfg.ShutdownGrace)
	})

	err := g.Wait()
	a.Log.Info("HTTP server stopped")
	return err
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Bus != nil {
		if err := a.Bus.Close(); err != nil {
			a.Log.Warn("close realtime bus", "error", err)
		}
	}
	if a.otelShutdown != nil {
		// Flushes batched spans.
		ctx, cancel := context.WithTimeout(context.Background(), a.Cfg.ShutdownGrace)
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("otel shutdown", "error", err)
		}
		cancel()
	}
	if a.dbService != nil {
		if err := a.dbService.Close(); err != nil {
			a.Log.Warn("close database", "error", err)
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
