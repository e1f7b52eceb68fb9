package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/vidscribe-backend/internal/chat"
	"github.com/yungbote/vidscribe-backend/internal/http/response"
	"github.com/yungbote/vidscribe-backend/internal/pkg/dbctx"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

type ConversationHandler struct {
	log  *logger.Logger
	chat chat.Service
}

func NewConversationHandler(baseLog *logger.Logger, chatSvc chat.Service) *ConversationHandler {
	return &ConversationHandler{
		log:  baseLog.With("handler", "ConversationHandler"),
		chat: chatSvc,
	}
}

type createConversationRequest struct {
	Title    string   `json:"title"`
	VideoIDs []string `json:"video_ids"`
}

func (h *ConversationHandler) Create(c *gin.Context) {
	rd, ok := requestUser(c)
	if !ok {
		return
	}
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_input", err)
		return
	}
	videoIDs, err := parseUUIDs(req.VideoIDs)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_input", err)
		return
	}

	conv, err := h.chat.CreateConversation(dbctx.Context{Ctx: c.Request.Context()}, rd.UserID, req.Title, videoIDs)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"conversation": conv})
}

func (h *ConversationHandler) List(c *gin.Context) {
	rd, ok := requestUser(c)
	if !ok {
		return
	}
	limit, offset := pageParams(c, 50, 200)
	convs, err := h.chat.ListConversations(dbctx.Context{Ctx: c.Request.Context()}, rd.UserID, limit, offset)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"conversations": convs})
}

func (h *ConversationHandler) ListMessages(c *gin.Context) {
	rd, ok := requestUser(c)
	if !ok {
		return
	}
	convID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	limit, offset := pageParams(c, 100, 500)
	messages, err := h.chat.ListMessages(dbctx.Context{Ctx: c.Request.Context()}, rd.UserID, convID, limit, offset)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"messages": messages})
}

type sendMessageRequest struct {
	Content string `json:"content" binding:"required"`
	Mode    string `json:"mode"`
}

// SendMessage runs the full query pipeline for one turn. With
// ?stream=true the answer is delivered as SSE: delta events while the
// model writes, then one final "result" event with the persisted turn.
func (h *ConversationHandler) SendMessage(c *gin.Context) {
	rd, ok := requestUser(c)
	if !ok {
		return
	}
	convID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_input", err)
		return
	}

	turn := chat.TurnRequest{
		ConversationID: convID,
		UserID:         rd.UserID,
		Content:        req.Content,
		Mode:           req.Mode,
	}

	if !strings.EqualFold(c.Query("stream"), "true") {
		result, err := h.chat.SendMessage(dbctx.Context{Ctx: c.Request.Context()}, turn)
		if err != nil {
			response.RespondErr(c, err)
			return
		}
		response.RespondOK(c, result)
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.RespondError(c, http.StatusInternalServerError, "internal", fmt.Errorf("streaming unsupported"))
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	turn.OnDelta = func(delta string) {
		payload, err := json.Marshal(gin.H{"delta": delta})
		if err != nil {
			return
		}
		fmt.Fprintf(c.Writer, "event: delta\ndata: %s\n\n", payload)
		flusher.Flush()
	}

	result, err := h.chat.SendMessage(dbctx.Context{Ctx: c.Request.Context()}, turn)
	if err != nil {
		h.writeSSEError(c, flusher, err)
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		h.writeSSEError(c, flusher, err)
		return
	}
	fmt.Fprintf(c.Writer, "event: result\ndata: %s\n\n", payload)
	flusher.Flush()
}

func (h *ConversationHandler) writeSSEError(c *gin.Context, flusher http.Flusher, err error) {
	h.log.Warn("streamed turn failed", "error", err)
	payload, merr := json.Marshal(gin.H{"message": err.Error()})
	if merr != nil {
		return
	}
	fmt.Fprintf(c.Writer, "event: error\ndata: %s\n\n", payload)
	flusher.Flush()
}

func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid video id %q", s)
		}
		out = append(out, id)
	}
	return out, nil
}
