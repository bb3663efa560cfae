package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	httpH "github.com/yungbote/workspace-core/internal/http/handlers"
	httpMW "github.com/yungbote/workspace-core/internal/http/middleware"
	"github.com/yungbote/workspace-core/internal/observability"
	"github.com/yungbote/workspace-core/internal/platform/logger"
)

// streamRoute serves long-lived SSE connections.
const streamRoute = "/api/realtime/stream"

type RouterConfig struct {
	Log         *logger.Logger
	Metrics     *observability.Metrics
	ServiceName string
	CORSOrigins []string

	AuthMiddleware *httpMW.AuthMiddleware
	// TokenRate limits realtime token issuance per user; zero disables it.
	TokenRate  rate.Limit
	TokenBurst int

	NodeHandler     *httpH.NodeHandler
	HistoryHandler  *httpH.HistoryHandler
	PublicHandler   *httpH.PublicHandler
	RealtimeHandler *httpH.RealtimeHandler
	HealthHandler   *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics, streamRoute))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")

	// Public reads of shared/published nodes
	if cfg.PublicHandler != nil {
		api.GET("/public/shared/:token", cfg.PublicHandler.GetShared)
		api.GET("/public/published/:slug", cfg.PublicHandler.GetPublished)
	}

	// The stream authenticates with its own short-lived token.
	if cfg.RealtimeHandler != nil && cfg.AuthMiddleware != nil {
		r.GET(streamRoute, cfg.AuthMiddleware.RequireRealtime(), cfg.RealtimeHandler.Stream)
	}

	protected := api.Group("/")
	{
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireAuth())
		}

		// Realtime
		if cfg.RealtimeHandler != nil {
			issue := []gin.HandlerFunc{cfg.RealtimeHandler.IssueToken}
			if cfg.TokenRate > 0 {
				issue = append([]gin.HandlerFunc{httpMW.RateLimit(cfg.TokenRate, max(cfg.TokenBurst, 1))}, issue...)
			}
			protected.POST("/realtime/token", issue...)
			protected.POST("/realtime/subscribe", cfg.RealtimeHandler.Subscribe)
			protected.POST("/realtime/unsubscribe", cfg.RealtimeHandler.Unsubscribe)
		}

		// Nodes
		if cfg.NodeHandler != nil {
			protected.POST("/nodes", cfg.NodeHandler.Create)
			protected.GET("/nodes", cfg.NodeHandler.List)
			protected.GET("/nodes/search", cfg.NodeHandler.Search)
			protected.GET("/nodes/:id", cfg.NodeHandler.Get)
			protected.PATCH("/nodes/:id", cfg.NodeHandler.Update)
			protected.DELETE("/nodes/:id", cfg.NodeHandler.Delete)
			protected.GET("/nodes/:id/breadcrumb", cfg.NodeHandler.Breadcrumb)
			protected.POST("/nodes/:id/append", cfg.NodeHandler.AppendText)
			protected.POST("/nodes/:id/share", cfg.NodeHandler.Share)
			protected.POST("/nodes/:id/publish", cfg.NodeHandler.Publish)
		}

		// History
		if cfg.HistoryHandler != nil {
			protected.GET("/nodes/:id/history", cfg.HistoryHandler.List)
			protected.POST("/nodes/:id/history/:revisionId/restore", cfg.HistoryHandler.Restore)
		}
	}

	return r
}
