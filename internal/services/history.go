package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	repos "github.com/yungbote/workspace-core/internal/data/repos/workspace"
	types "github.com/yungbote/workspace-core/internal/domain/workspace"
	"github.com/yungbote/workspace-core/internal/observability"
	"github.com/yungbote/workspace-core/internal/pkg/dbctx"
	"github.com/yungbote/workspace-core/internal/pkg/optional"
	"github.com/yungbote/workspace-core/internal/platform/apierr"
	"github.com/yungbote/workspace-core/internal/platform/logger"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100

	FieldsMeta = "meta"
	FieldsFull = "full"
)

type ListOptions struct {
	Limit  int
	Offset int
	// Fields is "meta" (no snapshots) or "full".
	Fields string
}

type HistoryPage struct {
	Revisions []*types.Revision `json:"revisions"`
	// Total counts every revision of the subject, not just this page.
	Total int64 `json:"total"`
}

type HistoryService interface {
	List(ctx context.Context, p Principal, subjectID uuid.UUID, opts ListOptions) (*HistoryPage, error)
	// Restore re-applies a revision's after-snapshot as an ordinary update,
	// which records a revision of its own.
	Restore(ctx context.Context, p Principal, subjectID, revisionID uuid.UUID) (*types.Node, error)
}

type historyService struct {
	log       *logger.Logger
	revisions repos.RevisionRepo
	nodes     NodeService
}

func NewHistoryService(log *logger.Logger, revisions repos.RevisionRepo, nodes NodeService) HistoryService {
	return &historyService{
		log:       log.With("service", "HistoryService"),
		revisions: revisions,
		nodes:     nodes,
	}
}

func (s *historyService) List(ctx context.Context, p Principal, subjectID uuid.UUID, opts ListOptions) (_ *HistoryPage, err error) {
	const op = "history.list"
	ctx, span := observability.StartSpan(orBackground(ctx), "HistoryService.List", attribute.String("subject.id", subjectID.String()))
	defer func() { observability.EndSpan(span, err) }()

	withData, err := parseFields(opts.Fields)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, p, subjectID, op); err != nil {
		return nil, err
	}

	dbc := dbctx.Context{Ctx: ctx}
	limit := clamp(opts.Limit, DefaultHistoryLimit, MaxHistoryLimit)
	offset := max(opts.Offset, 0)

	total, err := s.revisions.CountBySubject(dbc, subjectID)
	if err != nil {
		return nil, apierr.MapDBError(op, err)
	}
	revs, err := s.revisions.ListBySubject(dbc, subjectID, limit, offset, withData)
	if err != nil {
		return nil, apierr.MapDBError(op, err)
	}
	return &HistoryPage{Revisions: revs, Total: total}, nil
}

func parseFields(fields string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(fields)) {
	case "", FieldsMeta:
		return false, nil
	case FieldsFull:
		return true, nil
	default:
		return false, apierr.InvalidInput("history.list", "fields must be meta or full")
	}
}

// authorize lets the caller read history of a subject they can see, or of a
// deleted subject whose last recorded owner they are.
func (s *historyService) authorize(ctx context.Context, p Principal, subjectID uuid.UUID, op string) error {
	_, err := s.nodes.Get(ctx, p, subjectID)
	if err == nil {
		return nil
	}
	if !apierr.IsCode(err, apierr.CodeNotFound) {
		return err
	}
	latest, lerr := s.revisions.LatestBySubject(dbctx.Context{Ctx: ctx}, subjectID)
	if errors.Is(lerr, gorm.ErrRecordNotFound) {
		return apierr.NotFound(op, "subject not found")
	}
	if lerr != nil {
		return apierr.MapDBError(op, lerr)
	}
	if latest.Operation == types.OpDelete && latest.OwnerID == p.UserID {
		return nil
	}
	return apierr.NotFound(op, "subject not found")
}

func (s *historyService) Restore(ctx context.Context, p Principal, subjectID, revisionID uuid.UUID) (_ *types.Node, err error) {
	const op = "history.restore"
	ctx, span := observability.StartSpan(orBackground(ctx), "HistoryService.Restore",
		attribute.String("subject.id", subjectID.String()),
		attribute.String("revision.id", revisionID.String()),
	)
	defer func() { observability.EndSpan(span, err) }()

	rev, err := s.revisions.GetByID(dbctx.Context{Ctx: ctx}, revisionID)
	if err != nil {
		return nil, apierr.MapDBError(op, err)
	}
	if rev.SubjectID != subjectID {
		return nil, apierr.NotFound(op, "revision not found for subject")
	}
	if rev.Operation == types.OpDelete || !rev.HasNewData() {
		return nil, apierr.InvalidInput(op, "revision has no snapshot to restore")
	}
	patch, err := patchFromSnapshot(rev.NewData)
	if err != nil {
		return nil, err
	}
	restored, err := s.nodes.Update(ctx, p, subjectID, patch)
	if err != nil {
		return nil, err
	}
	s.log.Info("revision restored", "subject_id", subjectID, "revision_id", revisionID, "actor", p.actor().String())
	return restored, nil
}

// patchFromSnapshot maps the restorable snapshot fields onto a NodePatch.
// Ownership, placement, sharing and timestamps are never restored.
func patchFromSnapshot(raw []byte) (NodePatch, error) {
	const op = "history.restore"
	var snap map[string]json.RawMessage
	if err := json.Unmarshal(raw, &snap); err != nil || snap == nil {
		return NodePatch{}, apierr.InvalidInput(op, "revision snapshot is malformed")
	}
	var patch NodePatch
	fields := map[string]json.Unmarshaler{
		"title":      &patch.Title,
		"icon":       &patch.Icon,
		"cover_url":  &patch.CoverURL,
		"content":    &patch.Content,
		"properties": &patch.Properties,
		"is_pinned":  &patch.IsPinned,
		"sort_order": &patch.SortOrder,
	}
	for name, target := range fields {
		v, ok := snap[name]
		if !ok {
			continue
		}
		if err := target.UnmarshalJSON(v); err != nil {
			return NodePatch{}, apierr.InvalidInput(op, "revision snapshot field "+name+" is malformed")
		}
	}
	if patch.Title.Null {
		patch.Title = optional.Of("")
	}
	if patch.Content.Null {
		patch.Content = optional.Of(json.RawMessage("[]"))
	}
	if patch.Properties.Null {
		patch.Properties = optional.Of(json.RawMessage("{}"))
	}
	if patch.IsPinned.Null {
		patch.IsPinned = optional.Field[bool]{}
	}
	if patch.SortOrder.Null {
		patch.SortOrder = optional.Field[float64]{}
	}
	if patch.empty() {
		return NodePatch{}, apierr.InvalidInput(op, "revision snapshot has no restorable fields")
	}
	return patch, nil
}
