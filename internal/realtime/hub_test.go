package realtime

import (
	"testing"
	"time"

	"github.com/google/uuid"

	types "github.com/yungbote/vidscribe-backend/internal/domain"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

func testHub(t *testing.T) *Hub {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return NewHub(log)
}

func recv(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case ev := <-c.Outbound:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestBroadcastReachesSubscribedChannelOnly(t *testing.T) {
	hub := testHub(t)
	alice := uuid.New()
	bob := uuid.New()

	ca := hub.NewClient(alice)
	cb := hub.NewClient(bob)
	hub.Subscribe(ca, UserChannel(alice))
	hub.Subscribe(cb, UserChannel(bob))

	hub.Broadcast(Event{Channel: UserChannel(alice), Type: EventVideoDone})

	ev := recv(t, ca)
	if ev.Type != EventVideoDone {
		t.Fatalf("type = %q, want %q", ev.Type, EventVideoDone)
	}
	select {
	case ev := <-cb.Outbound:
		t.Fatalf("bob received %v for alice's channel", ev)
	default:
	}
}

func TestBroadcastDropsWhenBufferFull(t *testing.T) {
	hub := testHub(t)
	userID := uuid.New()
	c := hub.NewClient(userID)
	hub.Subscribe(c, UserChannel(userID))

	// One more than the outbound buffer; the overflow must not block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < cap(c.Outbound)+1; i++ {
			hub.Broadcast(Event{Channel: UserChannel(userID), Type: EventVideoProgress})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a full client buffer")
	}
	if got := len(c.Outbound); got != cap(c.Outbound) {
		t.Fatalf("buffered = %d, want %d", got, cap(c.Outbound))
	}
}

func TestCloseClientRemovesSubscriptions(t *testing.T) {
	hub := testHub(t)
	userID := uuid.New()
	c := hub.NewClient(userID)
	hub.Subscribe(c, UserChannel(userID))

	hub.CloseClient(c)

	// Broadcast after close must not panic or deliver.
	hub.Broadcast(Event{Channel: UserChannel(userID), Type: EventVideoDone})
	select {
	case <-c.done:
	default:
		t.Fatal("done channel not closed")
	}
}

func TestJobNotifierEmitsToUserChannel(t *testing.T) {
	hub := testHub(t)
	log, _ := logger.New("development")
	userID := uuid.New()
	videoID := uuid.New()

	c := hub.NewClient(userID)
	hub.Subscribe(c, UserChannel(userID))

	n := NewJobNotifier(log, hub, nil)
	job := &types.JobRun{
		ID:          uuid.New(),
		OwnerUserID: userID,
		JobType:     types.JobTypeVideoIngest,
		EntityID:    &videoID,
		Status:      types.JobStatusRunning,
	}
	n.JobProgress(userID, job, "transcribe", 40, "transcribing")

	ev := recv(t, c)
	if ev.Type != EventVideoProgress {
		t.Fatalf("type = %q, want %q", ev.Type, EventVideoProgress)
	}
	if ev.Data["video_id"] != videoID.String() {
		t.Fatalf("video_id = %v, want %s", ev.Data["video_id"], videoID)
	}
	if ev.Data["progress"] != 40 {
		t.Fatalf("progress = %v, want 40", ev.Data["progress"])
	}
}
