// Package realtime fans pipeline and job events out to connected SSE
// clients. The in-process hub handles a single instance; the optional
// redis bus (internal/realtime/bus) relays events across instances.
package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

type EventType string

const (
	EventVideoProgress EventType = "VideoProgress"
	EventVideoFailed   EventType = "VideoFailed"
	EventVideoCanceled EventType = "VideoCanceled"
	EventVideoDone     EventType = "VideoDone"
)

// Event is one realtime message. Channel scopes delivery; job events use
// the owner's user channel so a client sees all of its own videos.
type Event struct {
	Channel string         `json:"channel"`
	Type    EventType      `json:"type"`
	Data    map[string]any `json:"data,omitempty"`
}

// UserChannel is the per-user delivery channel.
func UserChannel(userID uuid.UUID) string {
	return "user:" + userID.String()
}

type Client struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	Channels map[string]bool
	Outbound chan Event
	done     chan struct{}
}

type Hub struct {
	mu            sync.RWMutex
	log           *logger.Logger
	subscriptions map[string]map[*Client]bool
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:           log.With("component", "RealtimeHub"),
		subscriptions: make(map[string]map[*Client]bool),
	}
}

// NewClient builds an unsubscribed client. Subscribe attaches channels.
func (h *Hub) NewClient(userID uuid.UUID) *Client {
	return &Client{
		ID:       uuid.New(),
		UserID:   userID,
		Channels: make(map[string]bool),
		Outbound: make(chan Event, 16),
		done:     make(chan struct{}),
	}
}

func (h *Hub) Subscribe(client *Client, channel string) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	client.Channels[channel] = true
	clients, ok := h.subscriptions[channel]
	if !ok {
		clients = make(map[*Client]bool)
		h.subscriptions[channel] = clients
	}
	clients[client] = true

	h.log.Debug("client subscribed", "client_id", client.ID, "channel", channel)
}

func (h *Hub) Unsubscribe(client *Client, channel string) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	delete(client.Channels, channel)
	if clients, ok := h.subscriptions[channel]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.subscriptions, channel)
		}
	}
}

func (h *Hub) RemoveClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range client.Channels {
		if clients, ok := h.subscriptions[ch]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.subscriptions, ch)
			}
		}
	}
	client.Channels = make(map[string]bool)
}

// Broadcast delivers the event to every subscriber of its channel. Slow
// clients drop the event rather than stall the publisher.
func (h *Hub) Broadcast(ev Event) {
	if ev.Channel == "" {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	clients, ok := h.subscriptions[ev.Channel]
	if !ok {
		return
	}
	for c := range clients {
		select {
		case c.Outbound <- ev:
		default:
			h.log.Warn("dropping event; outbound buffer full", "client_id", c.ID, "channel", ev.Channel)
		}
	}
}

// ServeHTTP streams the client's events as SSE until the request context
// ends or the client is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request, client *Client) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ctx := r.Context()

	ping := time.NewTicker(15 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-client.done:
			return
		case <-ping.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev := <-client.Outbound:
			raw, err := json.Marshal(ev)
			if err != nil {
				h.log.Warn("failed to marshal event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, raw)
			flusher.Flush()
		}
	}
}

func (h *Hub) CloseClient(client *Client) {
	h.RemoveClient(client)
	close(client.done)
}
