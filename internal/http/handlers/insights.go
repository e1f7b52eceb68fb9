package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/vidscribe-backend/internal/http/response"
	"github.com/yungbote/vidscribe-backend/internal/insights"
	"github.com/yungbote/vidscribe-backend/internal/insights/render"
	"github.com/yungbote/vidscribe-backend/internal/pkg/dbctx"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

type InsightsHandler struct {
	log      *logger.Logger
	insights insights.Service
	renderer *render.Renderer
}

func NewInsightsHandler(baseLog *logger.Logger, svc insights.Service, renderer *render.Renderer) *InsightsHandler {
	return &InsightsHandler{
		log:      baseLog.With("handler", "InsightsHandler"),
		insights: svc,
		renderer: renderer,
	}
}

func (h *InsightsHandler) Get(c *gin.Context) {
	rd, ok := requestUser(c)
	if !ok {
		return
	}
	videoIDs, err := parseUUIDs(strings.Split(c.Query("video_ids"), ","))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_input", err)
		return
	}
	force := strings.EqualFold(c.Query("force"), "true")

	tree, err := h.insights.Get(dbctx.Context{Ctx: c.Request.Context()}, rd.UserID, videoIDs, force)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"tree": tree})
}

type renderInsightsRequest struct {
	VideoIDs []string `json:"video_ids" binding:"required"`
	Force    bool     `json:"force"`
}

func (h *InsightsHandler) Render(c *gin.Context) {
	rd, ok := requestUser(c)
	if !ok {
		return
	}
	if h.renderer == nil {
		response.RespondError(c, http.StatusServiceUnavailable, "render_unavailable", fmt.Errorf("renderer not configured"))
		return
	}
	var req renderInsightsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_input", err)
		return
	}
	videoIDs, err := parseUUIDs(req.VideoIDs)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_input", err)
		return
	}

	tree, err := h.insights.Get(dbctx.Context{Ctx: c.Request.Context()}, rd.UserID, videoIDs, req.Force)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	png, err := h.renderer.PNG(tree)
	if err != nil {
		h.log.Warn("mind-map render failed", "error", err)
		response.RespondErr(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}
