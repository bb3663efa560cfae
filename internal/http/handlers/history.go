package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/workspace-core/internal/http/response"
	"github.com/yungbote/workspace-core/internal/platform/logger"
	"github.com/yungbote/workspace-core/internal/services"
)

type HistoryHandler struct {
	log     *logger.Logger
	history services.HistoryService
	gate    gate
}

func NewHistoryHandler(log *logger.Logger, history services.HistoryService, nodes services.NodeService, perms services.PermissionService) *HistoryHandler {
	return &HistoryHandler{
		log:     log.With("handler", "HistoryHandler"),
		history: history,
		gate:    gate{nodes: nodes, perms: perms},
	}
}

// GET /api/nodes/:id/history?limit=&offset=&fields=meta|full
func (h *HistoryHandler) List(c *gin.Context) {
	p, ok := principalFrom(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	limit, err := intQuery(c, "limit")
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	offset, err := intQuery(c, "offset")
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	ctx := c.Request.Context()
	if err := h.gate.authorize(ctx, p, id, false); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	page, err := h.history.List(ctx, p, id, services.ListOptions{
		Limit:  limit,
		Offset: offset,
		Fields: c.Query("fields"),
	})
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, page)
}

// POST /api/nodes/:id/history/:revisionId/restore
func (h *HistoryHandler) Restore(c *gin.Context) {
	p, ok := principalFrom(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	revisionID, ok := uuidParam(c, "revisionId")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := h.gate.authorize(ctx, p, id, true); err != nil {
		response.RespondAPIError(c, err)
		return
	}
	n, err := h.history.Restore(ctx, p, id, revisionID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"node": n})
}
