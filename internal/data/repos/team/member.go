package team

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/workspace-core/internal/domain/team"
	"github.com/yungbote/workspace-core/internal/pkg/dbctx"
	"github.com/yungbote/workspace-core/internal/platform/logger"
)

type MemberRepo interface {
	// GetByUserID returns nil without error when the user has no membership.
	GetByUserID(dbc dbctx.Context, userID uuid.UUID) (*types.Member, error)
	ListUserIDsByTeam(dbc dbctx.Context, teamID uuid.UUID) ([]uuid.UUID, error)
}

type memberRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMemberRepo(db *gorm.DB, baseLog *logger.Logger) MemberRepo {
	repoLog := baseLog.With("repo", "TeamMemberRepo")
	return &memberRepo{db: db, log: repoLog}
}

func (r *memberRepo) GetByUserID(dbc dbctx.Context, userID uuid.UUID) (*types.Member, error) {
	var m types.Member
	err := dbc.DB(r.db).Where("user_id = ?", userID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *memberRepo) ListUserIDsByTeam(dbc dbctx.Context, teamID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := dbc.DB(r.db).Model(&types.Member{}).
		Where("team_id = ?", teamID).
		Order("created_at ASC").
		Pluck("user_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
