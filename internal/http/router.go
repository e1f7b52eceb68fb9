package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/vidscribe-backend/internal/http/handlers"
	httpMW "github.com/yungbote/vidscribe-backend/internal/http/middleware"
	"github.com/yungbote/vidscribe-backend/internal/observability"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log     *logger.Logger
	Metrics *observability.Metrics

	AuthMiddleware *httpMW.AuthMiddleware

	HealthHandler       *httpH.HealthHandler
	VideoHandler        *httpH.VideoHandler
	JobHandler          *httpH.JobHandler
	UsageHandler        *httpH.UsageHandler
	ConversationHandler *httpH.ConversationHandler
	InsightsHandler     *httpH.InsightsHandler
	EventsHandler       *httpH.EventsHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("vidscribe-backend"))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS())

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	if cfg.AuthMiddleware != nil {
		api.Use(cfg.AuthMiddleware.RequireAuth())
	}

	if cfg.VideoHandler != nil {
		api.POST("/videos", cfg.VideoHandler.Submit)
		api.GET("/videos", cfg.VideoHandler.List)
		api.GET("/videos/:id", cfg.VideoHandler.Get)
		api.DELETE("/videos/:id", cfg.VideoHandler.Delete)
		api.POST("/videos/:id/cancel", cfg.VideoHandler.Cancel)
	}

	if cfg.InsightsHandler != nil {
		api.GET("/videos/insights", cfg.InsightsHandler.Get)
		api.POST("/videos/insights/render", cfg.InsightsHandler.Render)
	}

	if cfg.JobHandler != nil {
		api.GET("/jobs/:id", cfg.JobHandler.Get)
	}

	if cfg.UsageHandler != nil {
		api.GET("/usage", cfg.UsageHandler.Get)
	}

	if cfg.ConversationHandler != nil {
		api.POST("/conversations", cfg.ConversationHandler.Create)
		api.GET("/conversations", cfg.ConversationHandler.List)
		api.GET("/conversations/:id/messages", cfg.ConversationHandler.ListMessages)
		api.POST("/conversations/:id/messages", cfg.ConversationHandler.SendMessage)
	}

	if cfg.EventsHandler != nil {
		api.GET("/events/stream", cfg.EventsHandler.Stream)
	}

	return r
}
