package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/workspace-core/internal/data/actorctx"
	"github.com/yungbote/workspace-core/internal/observability"
	"github.com/yungbote/workspace-core/internal/platform/logger"
	"github.com/yungbote/workspace-core/internal/services"
)

type Services struct {
	Nodes       services.NodeService
	History     services.HistoryService
	Permissions services.PermissionService
	Tokens      services.TokenService
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, reposet Repos, publisher services.EventPublisher, metrics *observability.Metrics) (Services, error) {
	log.Info("Wiring services...")
	tokens, err := services.NewTokenService(cfg.JWTSecretKey, cfg.RealtimeTokenTTL)
	if err != nil {
		return Services{}, fmt.Errorf("init token service: %w", err)
	}
	nodes := services.NewNodeService(log, actorctx.NewRunner(db), reposet.Nodes, reposet.Members, publisher, metrics)
	return Services{
		Nodes:       nodes,
		History:     services.NewHistoryService(log, reposet.Revisions, nodes),
		Permissions: services.NewPermissionService(log, reposet.Members, metrics),
		Tokens:      tokens,
	}, nil
}
