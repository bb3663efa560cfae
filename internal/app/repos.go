package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/workspace-core/internal/data/audit"
	teamrepo "github.com/yungbote/workspace-core/internal/data/repos/team"
	repos "github.com/yungbote/workspace-core/internal/data/repos/workspace"
	"github.com/yungbote/workspace-core/internal/observability"
	"github.com/yungbote/workspace-core/internal/platform/logger"
)

type Repos struct {
	// Nodes is the audited repository; the raw one is never handed out.
	Nodes     repos.NodeRepo
	Revisions repos.RevisionRepo
	Members   teamrepo.MemberRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger, metrics *observability.Metrics) Repos {
	log.Info("Wiring repos...")
	revisions := repos.NewRevisionRepo(db, log)
	return Repos{
		Nodes:     audit.NewNodeRepo(repos.NewNodeRepo(db, log), audit.NewRecorder(revisions, log, metrics)),
		Revisions: revisions,
		Members:   teamrepo.NewMemberRepo(db, log),
	}
}
