package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/vidscribe-backend/internal/realtime"
)

type EventsHandler struct {
	hub *realtime.Hub
}

func NewEventsHandler(hub *realtime.Hub) *EventsHandler {
	return &EventsHandler{hub: hub}
}

// Stream subscribes the caller to their own channel and streams events as
// SSE until the connection drops.
func (h *EventsHandler) Stream(c *gin.Context) {
	rd, ok := requestUser(c)
	if !ok {
		return
	}
	client := h.hub.NewClient(rd.UserID)
	h.hub.Subscribe(client, realtime.UserChannel(rd.UserID))
	defer h.hub.CloseClient(client)

	h.hub.ServeHTTP(c.Writer, c.Request, client)
}
