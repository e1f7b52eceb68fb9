// Package app assembles the process: config, logging, storage clients,
// domain services, background loops, and the HTTP edge.
package app

import (
	"context"
	"fmt"

	"github.com/yungbote/vidscribe-backend/internal/data/db"
	httpx "github.com/yungbote/vidscribe-backend/internal/http"
	httpH "github.com/yungbote/vidscribe-backend/internal/http/handlers"
	httpMW "github.com/yungbote/vidscribe-backend/internal/http/middleware"
	"github.com/yungbote/vidscribe-backend/internal/observability"
	"github.com/yungbote/vidscribe-backend/internal/platform/envutil"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

type App struct {
	Log      *logger.Logger
	Config   Config
	Postgres *db.PostgresService
	Repos    Repos
	Services Services
	Server   *httpx.Server

	metrics      *observability.Metrics
	otelShutdown func(context.Context) error

	cancel context.CancelFunc
}

func New(ctx context.Context) (*App, error) {
	log, err := logger.New(envutil.Str("LOG_MODE", "development"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg := LoadConfig()
	LogEffective(log)

	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "vidscribe-backend",
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})
	metrics := observability.Init(log)

	pg, err := db.NewPostgresService(log)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := db.AutoMigrateAll(pg.DB()); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	repos := wireRepos(pg.DB(), log)
	services, err := wireServices(ctx, pg.DB(), log, cfg, repos)
	if err != nil {
		return nil, err
	}

	auth := httpMW.NewAuthMiddleware(log, repos.Users)
	server := httpx.NewServer(httpx.RouterConfig{
		Log:     log,
		Metrics: metrics,

		AuthMiddleware: auth,

		HealthHandler:       httpH.NewHealthHandler(pg.DB()),
		VideoHandler:        httpH.NewVideoHandler(log, repos.Videos, services.Ingest, services.Cancel),
		JobHandler:          httpH.NewJobHandler(repos.Jobs),
		UsageHandler:        httpH.NewUsageHandler(services.Quota),
		ConversationHandler: httpH.NewConversationHandler(log, services.Chat),
		InsightsHandler:     httpH.NewInsightsHandler(log, services.Insights, services.Renderer),
		EventsHandler:       httpH.NewEventsHandler(services.Hub),
	})

	return &App{
		Log:          log,
		Config:       cfg,
		Postgres:     pg,
		Repos:        repos,
		Services:     services,
		Server:       server,
		metrics:      metrics,
		otelShutdown: otelShutdown,
	}, nil
}

// Start launches the background loops: the job worker, the cleanup
// scheduler, the metrics exporter, and the cross-instance event
// forwarder. All of them stop when ctx is canceled.
func (a *App) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	a.Services.Worker.Start(ctx)
	a.Services.Cleanup.Start(ctx)

	if a.Services.Bus != nil {
		go func() {
			if err := a.Services.Bus.StartForwarder(ctx, a.Services.Hub.Broadcast); err != nil {
				a.Log.Warn("event forwarder stopped", "error", err)
			}
		}()
	}

	a.metrics.StartServer(ctx, a.Log, a.Config.MetricsAddr)
	a.metrics.StartPostgresCollector(ctx, a.Log, a.Postgres.DB())
	a.metrics.StartRedisCollector(ctx, a.Log, a.Config.RedisAddr)
	a.metrics.StartJobQueueCollector(ctx, a.Log, a.Postgres.DB())
}

func (a *App) Run(ctx context.Context) error {
	a.Log.Info("http server listening", "addr", a.Config.ServerAddr)
	return a.Server.Run(ctx, a.Config.ServerAddr)
}

func (a *App) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.Services.Bus != nil {
		if err := a.Services.Bus.Close(); err != nil {
			a.Log.Warn("closing event bus", "error", err)
		}
	}
	if a.Services.Neo4j != nil {
		if err := a.Services.Neo4j.Close(context.Background()); err != nil {
			a.Log.Warn("closing neo4j driver", "error", err)
		}
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(context.Background()); err != nil {
			a.Log.Warn("otel shutdown", "error", err)
		}
	}
	a.Log.Sync()
}
