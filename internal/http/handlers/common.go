package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/workspace-core/internal/domain/actor"
	"github.com/yungbote/workspace-core/internal/http/response"
	"github.com/yungbote/workspace-core/internal/platform/apierr"
	"github.com/yungbote/workspace-core/internal/requestdata"
	"github.com/yungbote/workspace-core/internal/services"
)

// accessPathDepth bounds the ancestry walk used for selected-page checks.
const accessPathDepth = 256

// principalFrom rebuilds the caller set by the auth middleware. It writes a
// 401 and returns false when there is none.
func principalFrom(c *gin.Context) (services.Principal, bool) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", errNotAuthenticated)
		return services.Principal{}, false
	}
	p := services.HumanPrincipal(rd.UserID)
	if rd.TaskID != nil {
		p.Actor = actor.Agent{TaskID: *rd.TaskID}
	}
	p.SessionID = rd.SessionID
	return p, true
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, string(apierr.CodeInvalidInput), errInvalidID)
		return uuid.Nil, false
	}
	return id, true
}

func intQuery(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apierr.InvalidInput("query", name+" must be an integer")
	}
	return v, nil
}

// gate runs the permission checks that precede every NodeService call on id.
type gate struct {
	nodes services.NodeService
	perms services.PermissionService
}

func (g gate) scope(ctx context.Context, p services.Principal, write bool) (*services.PermissionScope, error) {
	scope, err := g.perms.Resolve(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if write {
		if err := g.perms.AssertWrite(scope); err != nil {
			return nil, err
		}
	}
	return scope, nil
}

// check authorizes access to id for a selected-pages member: some node on
// the root-to-id path must be allow-listed. Other scopes pass untouched.
func (g gate) check(ctx context.Context, p services.Principal, scope *services.PermissionScope, id uuid.UUID) error {
	if !scope.Selected() {
		return nil
	}
	path, err := g.nodes.Ancestors(ctx, p, id, accessPathDepth)
	if err != nil {
		return err
	}
	if len(path) == 0 {
		return g.perms.AssertAccess(scope, id)
	}
	ids := make([]uuid.UUID, 0, len(path))
	for _, n := range path {
		ids = append(ids, n.ID)
	}
	return g.perms.AssertAccessPath(scope, ids)
}

func (g gate) authorize(ctx context.Context, p services.Principal, id uuid.UUID, write bool) error {
	scope, err := g.scope(ctx, p, write)
	if err != nil {
		return err
	}
	return g.check(ctx, p, scope, id)
}
