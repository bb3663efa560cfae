package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	teamrepo "github.com/yungbote/workspace-core/internal/data/repos/team"
	"github.com/yungbote/workspace-core/internal/domain/team"
	"github.com/yungbote/workspace-core/internal/observability"
	"github.com/yungbote/workspace-core/internal/pkg/dbctx"
	"github.com/yungbote/workspace-core/internal/platform/apierr"
	"github.com/yungbote/workspace-core/internal/platform/logger"
)

const (
	PageAccessAll      = "all"
	PageAccessSelected = "selected"
)

// PermissionScope is the resolved read/write boundary of one principal.
type PermissionScope struct {
	PageAccess        string
	AllowedSubjectIDs map[uuid.UUID]struct{}
	CanWrite          bool

	// TeamID is nil for principals without a membership row.
	TeamID *uuid.UUID
	Role   team.Role
}

// FullScope is the first-run default for principals with no membership.
func FullScope() *PermissionScope {
	return &PermissionScope{
		PageAccess:        PageAccessAll,
		AllowedSubjectIDs: map[uuid.UUID]struct{}{},
		CanWrite:          true,
	}
}

func (s *PermissionScope) Selected() bool {
	return s != nil && s.PageAccess == PageAccessSelected
}

func (s *PermissionScope) allows(id uuid.UUID) bool {
	_, ok := s.AllowedSubjectIDs[id]
	return ok
}

// PermissionService is consulted by the route layer before any mutating
// NodeService call. NodeService itself never calls it.
type PermissionService interface {
	Resolve(ctx context.Context, userID uuid.UUID) (*PermissionScope, error)
	AssertWrite(scope *PermissionScope) error
	AssertAccess(scope *PermissionScope, subjectID uuid.UUID) error
	// AssertAccessPath allows when any node on the root-to-subject path is
	// allow-listed, so access to a page extends to its subtree.
	AssertAccessPath(scope *PermissionScope, path []uuid.UUID) error
}

type permissionService struct {
	log     *logger.Logger
	members teamrepo.MemberRepo
	metrics *observability.Metrics
}

func NewPermissionService(log *logger.Logger, members teamrepo.MemberRepo, metrics *observability.Metrics) PermissionService {
	return &permissionService{
		log:     log.With("service", "PermissionService"),
		members: members,
		metrics: metrics,
	}
}

func (s *permissionService) Resolve(ctx context.Context, userID uuid.UUID) (*PermissionScope, error) {
	if userID == uuid.Nil {
		return nil, apierr.InvalidInput("permission.resolve", "user id is required")
	}
	m, err := s.members.GetByUserID(dbctx.Context{Ctx: orBackground(ctx)}, userID)
	if err != nil {
		return nil, apierr.MapDBError("permission.resolve", err)
	}
	if m == nil {
		return FullScope(), nil
	}
	return scopeFromMember(m)
}

func scopeFromMember(m *team.Member) (*PermissionScope, error) {
	teamID := m.TeamID
	scope := &PermissionScope{
		PageAccess:        PageAccessAll,
		AllowedSubjectIDs: map[uuid.UUID]struct{}{},
		CanWrite:          m.Role != team.RoleViewer,
		TeamID:            &teamID,
		Role:              m.Role,
	}
	if m.CanWrite != nil {
		scope.CanWrite = *m.CanWrite
	}
	if m.PageAccess == PageAccessSelected {
		scope.PageAccess = PageAccessSelected
		if len(m.AllowedPageIDs) > 0 {
			var raw []string
			if err := json.Unmarshal(m.AllowedPageIDs, &raw); err != nil {
				return nil, apierr.Wrap(apierr.CodeInternal, "permission.resolve", fmt.Errorf("decode allowed page ids: %w", err))
			}
			for _, v := range raw {
				if id, err := uuid.Parse(v); err == nil {
					scope.AllowedSubjectIDs[id] = struct{}{}
				}
			}
		}
	}
	return scope, nil
}

func (s *permissionService) AssertWrite(scope *PermissionScope) error {
	if scope == nil || !scope.CanWrite {
		s.metrics.IncPermissionDenied("write")
		return apierr.Forbidden("permission.assert_write", "write access denied")
	}
	return nil
}

func (s *permissionService) AssertAccess(scope *PermissionScope, subjectID uuid.UUID) error {
	if scope == nil {
		s.metrics.IncPermissionDenied("access")
		return apierr.Forbidden("permission.assert_access", "no permission scope")
	}
	if scope.Selected() && !scope.allows(subjectID) {
		s.metrics.IncPermissionDenied("access")
		return apierr.Forbidden("permission.assert_access", "page not shared with this member")
	}
	return nil
}

func (s *permissionService) AssertAccessPath(scope *PermissionScope, path []uuid.UUID) error {
	if scope == nil {
		s.metrics.IncPermissionDenied("access")
		return apierr.Forbidden("permission.assert_access", "no permission scope")
	}
	if !scope.Selected() {
		return nil
	}
	for _, id := range path {
		if scope.allows(id) {
			return nil
		}
	}
	s.metrics.IncPermissionDenied("access")
	return apierr.Forbidden("permission.assert_access", "page not shared with this member")
}
