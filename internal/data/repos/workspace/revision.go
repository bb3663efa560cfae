package workspace

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/workspace-core/internal/domain/workspace"
	"github.com/yungbote/workspace-core/internal/pkg/dbctx"
	"github.com/yungbote/workspace-core/internal/platform/logger"
)

// RevisionRepo is append-only: there is no update or delete.
type RevisionRepo interface {
	Create(dbc dbctx.Context, revisions []*types.Revision) ([]*types.Revision, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Revision, error)
	ListBySubject(dbc dbctx.Context, subjectID uuid.UUID, limit, offset int, withData bool) ([]*types.Revision, error)
	CountBySubject(dbc dbctx.Context, subjectID uuid.UUID) (int64, error)
	LatestBySubject(dbc dbctx.Context, subjectID uuid.UUID) (*types.Revision, error)
}

type revisionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRevisionRepo(db *gorm.DB, baseLog *logger.Logger) RevisionRepo {
	repoLog := baseLog.With("repo", "RevisionRepo")
	return &revisionRepo{db: db, log: repoLog}
}

func (r *revisionRepo) Create(dbc dbctx.Context, revisions []*types.Revision) ([]*types.Revision, error) {
	if len(revisions) == 0 {
		return []*types.Revision{}, nil
	}
	if err := dbc.DB(r.db).Create(&revisions).Error; err != nil {
		return nil, err
	}
	return revisions, nil
}

func (r *revisionRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Revision, error) {
	var rev types.Revision
	if err := dbc.DB(r.db).Where("id = ?", id).First(&rev).Error; err != nil {
		return nil, err
	}
	return &rev, nil
}

// ListBySubject returns one page, newest first. Snapshots are left out unless
// withData is set.
func (r *revisionRepo) ListBySubject(dbc dbctx.Context, subjectID uuid.UUID, limit, offset int, withData bool) ([]*types.Revision, error) {
	transaction := dbc.DB(r.db).Where("subject_id = ?", subjectID)
	if !withData {
		transaction = transaction.Omit("old_data", "new_data")
	}
	if limit > 0 {
		transaction = transaction.Limit(limit)
	}
	if offset > 0 {
		transaction = transaction.Offset(offset)
	}
	var results []*types.Revision
	if err := transaction.Order("created_at DESC").Order("id DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *revisionRepo) CountBySubject(dbc dbctx.Context, subjectID uuid.UUID) (int64, error) {
	var total int64
	if err := dbc.DB(r.db).Model(&types.Revision{}).Where("subject_id = ?", subjectID).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (r *revisionRepo) LatestBySubject(dbc dbctx.Context, subjectID uuid.UUID) (*types.Revision, error) {
	var rev types.Revision
	if err := dbc.DB(r.db).
		Where("subject_id = ?", subjectID).
		Order("created_at DESC").Order("id DESC").
		First(&rev).Error; err != nil {
		return nil, err
	}
	return &rev, nil
}
