package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/workspace-core/internal/http/response"
	"github.com/yungbote/workspace-core/internal/services"
)

// PublicHandler serves shared and published nodes without authentication.
type PublicHandler struct {
	nodes services.NodeService
}

func NewPublicHandler(nodes services.NodeService) *PublicHandler {
	return &PublicHandler{nodes: nodes}
}

// GET /api/public/shared/:token
func (h *PublicHandler) GetShared(c *gin.Context) {
	n, err := h.nodes.GetShared(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"node": n})
}

// GET /api/public/published/:slug
func (h *PublicHandler) GetPublished(c *gin.Context) {
	n, err := h.nodes.GetPublished(c.Request.Context(), c.Param("slug"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"node": n})
}
