package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/yungbote/workspace-core/internal/domain/workspace"
	"github.com/yungbote/workspace-core/internal/http/response"
	"github.com/yungbote/workspace-core/internal/platform/apierr"
	"github.com/yungbote/workspace-core/internal/platform/logger"
	"github.com/yungbote/workspace-core/internal/services"
)

type NodeHandler struct {
	log   *logger.Logger
	nodes services.NodeService
	gate  gate
}

func NewNodeHandler(log *logger.Logger, nodes services.NodeService, perms services.PermissionService) *NodeHandler {
	return &NodeHandler{
		log:   log.With("handler", "NodeHandler"),
		nodes: nodes,
		gate:  gate{nodes: nodes, perms: perms},
	}
}

// POST /api/nodes
func (h *NodeHandler) Create(c *gin.Context) {
	p, ok := principalFrom(c)
	if !ok {
		return
	}
	var in services.CreateNodeInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.RespondError(c, http.StatusBadRequest, string(apierr.CodeInvalidInput), errInvalidBody)
		return
	}
	ctx := c.Request.Context()
	scope, err := h.gate.scope(ctx, p, true)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	if in.ParentID == nil {
		if scope.Selected() {
			response.RespondAPIError(c, apierr.Forbidden("nodes.create", "members with selected page access cannot create root pages"))
			return
		}
	} else if err := h.gate.check(ctx, p, scope, *in.ParentID); err != nil {
		response.RespondAPIError(c, err)
		return
	}

	n, err := h.nodes.Create(ctx, p, in)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"node": n})
}

// GET /api/nodes?parent_id=&root=&type=&pinned=&limit=&offset=
func (h *NodeHandler) List(c *gin.Context) {
	p, ok := principalFrom(c)
	if !ok {
		return
	}
	f := services.NodeFilter{
		Type:       types.NodeType(strings.TrimSpace(c.Query("type"))),
		RootOnly:   c.Query("root") == "true",
		PinnedOnly: c.Query("pinned") == "true",
	}
	if raw := strings.TrimSpace(c.Query("parent_id")); raw != "" {
		parentID, err := uuid.Parse(raw)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, string(apierr.CodeInvalidInput), errInvalidID)
			return
		}
		f.ParentID = &parentID
	}
	var err error
	if f.Limit, err = intQuery(c, "limit"); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	if f.Offset, err = intQuery(c, "offset"); err != nil {
		response.RespondAPIError(c, err)
		return
	}

	ctx := c.Request.Context()
	nodes, err := h.nodes.ListVisible(ctx, p, f)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	nodes, err = h.filterSelected(ctx, p, nodes)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"nodes": nodes})
}

// GET /api/nodes/search?q=&limit=
func (h *NodeHandler) Search(c *gin.Context) {
	p, ok := principalFrom(c)
	if !ok {
		return
	}
	limit, err := intQuery(c, "limit")
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	ctx := c.Request.Context()
	nodes, err := h.nodes.Search(ctx, p, c.Query("q"), limit)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	nodes, err = h.filterSelected(ctx, p, nodes)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"nodes": nodes})
}

// filterSelected drops nodes outside a selected-pages member's allow list.
func (h *NodeHandler) filterSelected(ctx context.Context, p services.Principal, nodes []*types.Node) ([]*types.Node, error) {
	scope, err := h.gate.scope(ctx, p, false)
	if err != nil {
		return nil, err
	}
	if !scope.Selected() {
		return nodes, nil
	}
	out := make([]*types.Node, 0, len(nodes))
	for _, n := range nodes {
		err := h.gate.check(ctx, p, scope, n.ID)
		if apierr.IsCode(err, apierr.CodeForbidden) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// GET /api/nodes/:id
func (h *NodeHandler) Get(c *gin.Context) {
	p, ok := principalFrom(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := h.gate.authorize(ctx, p, id, false); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	n, err := h.nodes.Get(ctx, p, id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"node": n})
}

// PATCH /api/nodes/:id
func (h *NodeHandler) Update(c *gin.Context) {
	p, ok := principalFrom(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var patch services.NodePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		response.RespondError(c, http.StatusBadRequest, string(apierr.CodeInvalidInput), errInvalidBody)
		return
	}
	ctx := c.Request.Context()
	scope, err := h.gate.scope(ctx, p, true)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	if err := h.gate.check(ctx, p, scope, id); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	if patch.ParentID.Set && !patch.ParentID.Null {
		if err := h.gate.check(ctx, p, scope, patch.ParentID.Value); err != nil {
			response.RespondAPIError(c, err)
			return
		}
	} else if patch.ParentID.Set && scope.Selected() {
		response.RespondAPIError(c, apierr.Forbidden("nodes.update", "members with selected page access cannot move pages to the root"))
		return
	}

	n, err := h.nodes.Update(ctx, p, id, patch)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"node": n})
}

// DELETE /api/nodes/:id
func (h *NodeHandler) Delete(c *gin.Context) {
	p, ok := principalFrom(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := h.gate.authorize(ctx, p, id, true); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	deleted, err := h.nodes.Delete(ctx, p, id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"deleted": deleted})
}

// GET /api/nodes/:id/breadcrumb
func (h *NodeHandler) Breadcrumb(c *gin.Context) {
	p, ok := principalFrom(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := h.gate.authorize(ctx, p, id, false); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	crumbs, err := h.nodes.Breadcrumb(ctx, p, id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, crumbs)
}

// POST /api/nodes/:id/append
func (h *NodeHandler) AppendText(c *gin.Context) {
	p, ok := principalFrom(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, string(apierr.CodeInvalidInput), errInvalidBody)
		return
	}
	ctx := c.Request.Context()
	if err := h.gate.authorize(ctx, p, id, true); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	n, err := h.nodes.AppendText(ctx, p, id, req.Text)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"node": n})
}

// POST /api/nodes/:id/share
func (h *NodeHandler) Share(c *gin.Context) {
	p, ok := principalFrom(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := h.gate.authorize(ctx, p, id, true); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	n, err := h.nodes.Share(ctx, p, id)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"node": n, "share_token": n.ShareToken})
}

// POST /api/nodes/:id/publish
func (h *NodeHandler) Publish(c *gin.Context) {
	p, ok := principalFrom(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Slug string `json:"slug" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, string(apierr.CodeInvalidInput), errInvalidBody)
		return
	}
	ctx := c.Request.Context()
	if err := h.gate.authorize(ctx, p, id, true); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	n, err := h.nodes.Publish(ctx, p, id, req.Slug)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"node": n})
}
