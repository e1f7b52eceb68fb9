package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/vidscribe-backend/internal/http/response"
	"github.com/yungbote/vidscribe-backend/internal/pkg/dbctx"
	"github.com/yungbote/vidscribe-backend/internal/quota"
)

type UsageHandler struct {
	usage quota.Service
}

func NewUsageHandler(usage quota.Service) *UsageHandler {
	return &UsageHandler{usage: usage}
}

func (h *UsageHandler) Get(c *gin.Context) {
	rd, ok := requestUser(c)
	if !ok {
		return
	}
	snapshot, err := h.usage.Current(dbctx.Context{Ctx: c.Request.Context()}, rd.UserID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"usage": snapshot, "tier": rd.Tier})
}
