package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/vidscribe-backend/internal/data/repos"
	"github.com/yungbote/vidscribe-backend/internal/http/response"
	"github.com/yungbote/vidscribe-backend/internal/pkg/dbctx"
	"github.com/yungbote/vidscribe-backend/internal/pkg/errdef"
)

type JobHandler struct {
	jobs repos.JobRunRepo
}

func NewJobHandler(jobs repos.JobRunRepo) *JobHandler {
	return &JobHandler{jobs: jobs}
}

func (h *JobHandler) Get(c *gin.Context) {
	rd, ok := requestUser(c)
	if !ok {
		return
	}
	jobID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	job, err := h.jobs.GetByID(dbctx.Context{Ctx: c.Request.Context()}, jobID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	// Foreign jobs look like missing ones.
	if job == nil || job.OwnerUserID != rd.UserID {
		response.RespondErr(c, errdef.NotFound("job"))
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}
