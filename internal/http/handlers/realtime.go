package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/workspace-core/internal/http/response"
	"github.com/yungbote/workspace-core/internal/platform/apierr"
	"github.com/yungbote/workspace-core/internal/platform/logger"
	"github.com/yungbote/workspace-core/internal/realtime"
	"github.com/yungbote/workspace-core/internal/services"
)

type RealtimeHandler struct {
	Log    *logger.Logger
	Hub    *realtime.Hub
	Tokens services.TokenService

	mu      sync.RWMutex
	clients map[uuid.UUID]*realtime.Client // key: session id
}

func NewRealtimeHandler(log *logger.Logger, hub *realtime.Hub, tokens services.TokenService) *RealtimeHandler {
	return &RealtimeHandler{
		Log:     log.With("handler", "RealtimeHandler"),
		Hub:     hub,
		Tokens:  tokens,
		clients: make(map[uuid.UUID]*realtime.Client),
	}
}

// POST /api/realtime/token
func (h *RealtimeHandler) IssueToken(c *gin.Context) {
	p, ok := principalFrom(c)
	if !ok {
		return
	}
	token, exp, err := h.Tokens.IssueRealtime(p, 0)
	if err != nil {
		response.RespondAPIError(c, apierr.Wrap(apierr.CodeInternal, "realtime.token", err))
		return
	}
	response.RespondOK(c, gin.H{
		"token":      token,
		"expires_at": exp.UTC().Format(time.RFC3339),
		"channels":   defaultChannels(p.UserID),
	})
}

func defaultChannels(userID uuid.UUID) []string {
	return []string{realtime.UserChannel(userID)}
}

// GET /api/realtime/stream?token=&channel=
func (h *RealtimeHandler) Stream(c *gin.Context) {
	p, ok := principalFrom(c)
	if !ok {
		return
	}
	if p.SessionID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing session id"))
		return
	}
	channels := c.QueryArray("channel")
	for _, ch := range channels {
		if !realtime.ChannelAllowed(ch, p.UserID) {
			response.RespondAPIError(c, apierr.Forbidden("realtime.stream", "channel not allowed: "+ch))
			return
		}
	}
	h.Log.Info("realtime stream open", "user_id", p.UserID.String(), "session_id", p.SessionID.String())

	h.mu.Lock()
	// A session holds at most one stream; a reconnect replaces the old one.
	if existing, ok := h.clients[p.SessionID]; ok {
		h.Hub.CloseClient(existing)
		delete(h.clients, p.SessionID)
	}
	client := h.Hub.NewClient(p.UserID)
	h.clients[p.SessionID] = client
	h.mu.Unlock()

	h.Hub.AddChannel(client, realtime.UserChannel(p.UserID))
	for _, ch := range channels {
		h.Hub.AddChannel(client, ch)
	}

	h.Hub.ServeHTTP(c.Writer, c.Request, client)

	h.mu.Lock()
	if h.clients[p.SessionID] == client {
		delete(h.clients, p.SessionID)
	}
	h.mu.Unlock()
	h.Hub.CloseClient(client)
}

type channelRequest struct {
	Channel string `json:"channel" binding:"required"`
}

// POST /api/realtime/subscribe
func (h *RealtimeHandler) Subscribe(c *gin.Context) {
	client, channel, ok := h.sessionChannel(c)
	if !ok {
		return
	}
	h.Hub.AddChannel(client, channel)
	response.RespondOK(c, gin.H{"message": "subscribed", "channel": channel, "channels": h.Hub.Channels(client)})
}

// POST /api/realtime/unsubscribe
func (h *RealtimeHandler) Unsubscribe(c *gin.Context) {
	client, channel, ok := h.sessionChannel(c)
	if !ok {
		return
	}
	h.Hub.RemoveChannel(client, channel)
	response.RespondOK(c, gin.H{"message": "unsubscribed", "channel": channel, "channels": h.Hub.Channels(client)})
}

func (h *RealtimeHandler) sessionChannel(c *gin.Context) (*realtime.Client, string, bool) {
	p, ok := principalFrom(c)
	if !ok {
		return nil, "", false
	}
	if p.SessionID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing session id"))
		return nil, "", false
	}
	var req channelRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Channel) == "" {
		response.RespondError(c, http.StatusBadRequest, string(apierr.CodeInvalidInput), fmt.Errorf("invalid channel"))
		return nil, "", false
	}
	channel := strings.TrimSpace(req.Channel)
	if !realtime.ChannelAllowed(channel, p.UserID) {
		response.RespondAPIError(c, apierr.Forbidden("realtime.subscribe", "channel not allowed: "+channel))
		return nil, "", false
	}

	h.mu.RLock()
	client, exists := h.clients[p.SessionID]
	h.mu.RUnlock()
	if !exists {
		response.RespondError(c, http.StatusConflict, string(apierr.CodeConflict), fmt.Errorf("no active stream for this session"))
		return nil, "", false
	}
	return client, channel, true
}
