package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/yungbote/vidscribe-backend/internal/http/response"
)

var errMissingIdentity = errors.New("missing identity")

type HealthHandler struct {
	db *gorm.DB
}

func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	status := gin.H{"status": "ok"}
	if h.db != nil {
		if sqlDB, err := h.db.DB(); err == nil {
			if err := sqlDB.PingContext(c.Request.Context()); err != nil {
				status["status"] = "degraded"
				status["postgres"] = "unreachable"
			}
		}
	}
	response.RespondOK(c, status)
}
