package app

import (
	apphttp "github.com/yungbote/workspace-core/internal/http"
	"github.com/yungbote/workspace-core/internal/observability"
	"github.com/yungbote/workspace-core/internal/platform/logger"
)

func routerConfig(log *logger.Logger, cfg Config, metrics *observability.Metrics, handlers Handlers, middleware Middleware) apphttp.RouterConfig {
	return apphttp.RouterConfig{
		Log:             log,
		Metrics:         metrics,
		ServiceName:     cfg.ServiceName,
		CORSOrigins:     cfg.CORSOrigins,
		AuthMiddleware:  middleware.Auth,
		TokenRate:       cfg.TokenRate,
		TokenBurst:      cfg.TokenBurst,
		NodeHandler:     handlers.Nodes,
		HistoryHandler:  handlers.History,
		PublicHandler:   handlers.Public,
		RealtimeHandler: handlers.Realtime,
		HealthHandler:   handlers.Health,
	}
}
