package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/vidscribe-backend/internal/cancel"
	"github.com/yungbote/vidscribe-backend/internal/data/repos"
	"github.com/yungbote/vidscribe-backend/internal/http/response"
	"github.com/yungbote/vidscribe-backend/internal/ingest"
	"github.com/yungbote/vidscribe-backend/internal/pkg/dbctx"
	"github.com/yungbote/vidscribe-backend/internal/pkg/errdef"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

type VideoHandler struct {
	log       *logger.Logger
	videos    repos.VideoRepo
	submitter ingest.Service
	canceler  cancel.Service
}

func NewVideoHandler(baseLog *logger.Logger, videos repos.VideoRepo, submitter ingest.Service, canceler cancel.Service) *VideoHandler {
	return &VideoHandler{
		log:       baseLog.With("handler", "VideoHandler"),
		videos:    videos,
		submitter: submitter,
		canceler:  canceler,
	}
}

type submitVideoRequest struct {
	URL string `json:"url" binding:"required"`
}

func (h *VideoHandler) Submit(c *gin.Context) {
	rd, ok := requestUser(c)
	if !ok {
		return
	}
	var req submitVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_input", err)
		return
	}

	sub, err := h.submitter.Submit(dbctx.Context{Ctx: c.Request.Context()}, rd.UserID, req.URL)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondAccepted(c, gin.H{"video": sub.Video, "job": sub.Job})
}

func (h *VideoHandler) List(c *gin.Context) {
	rd, ok := requestUser(c)
	if !ok {
		return
	}
	limit, offset := pageParams(c, 50, 200)
	videos, err := h.videos.ListByUser(dbctx.Context{Ctx: c.Request.Context()}, rd.UserID, limit, offset)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"videos": videos})
}

func (h *VideoHandler) Get(c *gin.Context) {
	rd, ok := requestUser(c)
	if !ok {
		return
	}
	videoID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	v, err := h.videos.GetByUserAndID(dbctx.Context{Ctx: c.Request.Context()}, rd.UserID, videoID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	if v == nil {
		response.RespondErr(c, errdef.NotFound("video"))
		return
	}
	response.RespondOK(c, gin.H{"video": v})
}

func (h *VideoHandler) Delete(c *gin.Context) {
	rd, ok := requestUser(c)
	if !ok {
		return
	}
	videoID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	result, err := h.canceler.Delete(dbctx.Context{Ctx: c.Request.Context()}, rd.UserID, videoID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, result)
}

type cancelVideoRequest struct {
	KeepVideo bool `json:"keep_video"`
}

func (h *VideoHandler) Cancel(c *gin.Context) {
	rd, ok := requestUser(c)
	if !ok {
		return
	}
	videoID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	req := cancelVideoRequest{KeepVideo: true}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_input", err)
			return
		}
	}
	opt := cancel.KeepVideo
	if !req.KeepVideo {
		opt = cancel.FullDelete
	}
	result, err := h.canceler.Cancel(dbctx.Context{Ctx: c.Request.Context()}, rd.UserID, videoID, opt)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, result)
}
