package app

import (
	"context"

	"gorm.io/gorm"

	httpH "github.com/yungbote/workspace-core/internal/http/handlers"
	httpMW "github.com/yungbote/workspace-core/internal/http/middleware"
	"github.com/yungbote/workspace-core/internal/platform/logger"
	"github.com/yungbote/workspace-core/internal/realtime"
	"github.com/yungbote/workspace-core/internal/realtime/bus"
)

type Middleware struct {
	Auth *httpMW.AuthMiddleware
}

type Handlers struct {
	Health   *httpH.HealthHandler
	Nodes    *httpH.NodeHandler
	History  *httpH.HistoryHandler
	Public   *httpH.PublicHandler
	Realtime *httpH.RealtimeHandler
}

func wireMiddleware(log *logger.Logger, services Services) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{
		Auth: httpMW.NewAuthMiddleware(log, services.Tokens),
	}
}

func wireHandlers(log *logger.Logger, db *gorm.DB, services Services, hub *realtime.Hub, eventBus bus.Bus) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:   httpH.NewHealthHandler(pingDB(db), eventBus.Ping),
		Nodes:    httpH.NewNodeHandler(log, services.Nodes, services.Permissions),
		History:  httpH.NewHistoryHandler(log, services.History, services.Nodes, services.Permissions),
		Public:   httpH.NewPublicHandler(services.Nodes),
		Realtime: httpH.NewRealtimeHandler(log, hub, services.Tokens),
	}
}

func pingDB(db *gorm.DB) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}
