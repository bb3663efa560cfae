package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/workspace-core/internal/domain/actor"
	"github.com/yungbote/workspace-core/internal/http/response"
	"github.com/yungbote/workspace-core/internal/platform/logger"
	"github.com/yungbote/workspace-core/internal/requestdata"
	"github.com/yungbote/workspace-core/internal/services"
)

type AuthMiddleware struct {
	log    *logger.Logger
	tokens services.TokenService
}

func NewAuthMiddleware(log *logger.Logger, tokens services.TokenService) *AuthMiddleware {
	middlewareLogger := log.With("Middleware", "AuthMiddleware")
	return &AuthMiddleware{log: middlewareLogger, tokens: tokens}
}

// RequireAuth accepts an API access token from the Authorization header or
// the token query parameter.
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return am.require(extractTokenFromAll, am.tokens.VerifyAccess)
}

// RequireRealtime accepts only a realtime token in the query string, which is
// all an EventSource can send.
func (am *AuthMiddleware) RequireRealtime() gin.HandlerFunc {
	return am.require(func(c *gin.Context) string { return c.Query("token") }, am.tokens.VerifyRealtime)
}

func (am *AuthMiddleware) require(extract func(*gin.Context) string, verify func(string) (services.Principal, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extract(c)
		if tokenString == "" {
			response.RespondError(c, http.StatusUnauthorized, "unauthorized", errMissingToken)
			c.Abort()
			return
		}
		p, err := verify(tokenString)
		if err != nil {
			am.log.Debug("token rejected", "error", err, "path", c.FullPath())
			response.RespondError(c, http.StatusUnauthorized, "unauthorized", err)
			c.Abort()
			return
		}
		rd := &requestdata.RequestData{
			TokenString: tokenString,
			UserID:      p.UserID,
			SessionID:   p.SessionID,
		}
		if a, ok := p.Actor.(actor.Agent); ok {
			taskID := a.TaskID
			rd.TaskID = &taskID
		}
		if rd.UserID == uuid.Nil {
			response.RespondError(c, http.StatusForbidden, "forbidden", errForbidden)
			c.Abort()
			return
		}
		c.Request = c.Request.WithContext(requestdata.WithRequestData(c.Request.Context(), rd))
		c.Next()
	}
}

func extractTokenFromAll(c *gin.Context) string {
	if qToken := c.Query("token"); qToken != "" {
		return qToken
	}
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}
