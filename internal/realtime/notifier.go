package realtime

import (
	"context"

	"github.com/google/uuid"

	types "github.com/yungbote/vidscribe-backend/internal/domain"
	"github.com/yungbote/vidscribe-backend/internal/platform/logger"
)

// Publisher is the cross-instance relay surface; bus.Bus satisfies it.
// Declared here rather than imported because the bus package depends on
// this one for the Event type.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// JobNotifier translates job lifecycle callbacks into realtime events. It
// satisfies the jobs runtime Notifier contract. With a bus attached every
// event goes through the relay and comes back via the forwarder, so each
// instance delivers it exactly once; without one the hub is hit directly.
type JobNotifier struct {
	log *logger.Logger
	hub *Hub
	bus Publisher
}

func NewJobNotifier(log *logger.Logger, hub *Hub, bus Publisher) *JobNotifier {
	return &JobNotifier{
		log: log.With("component", "JobNotifier"),
		hub: hub,
		bus: bus,
	}
}

func (n *JobNotifier) JobProgress(userID uuid.UUID, job *types.JobRun, stage string, pct int, msg string) {
	n.emit(userID, EventVideoProgress, job, map[string]any{
		"stage":    stage,
		"progress": pct,
		"message":  msg,
	})
}

func (n *JobNotifier) JobFailed(userID uuid.UUID, job *types.JobRun, stage string, errMsg string) {
	n.emit(userID, EventVideoFailed, job, map[string]any{
		"stage": stage,
		"error": errMsg,
	})
}

func (n *JobNotifier) JobCanceled(userID uuid.UUID, job *types.JobRun, stage string) {
	n.emit(userID, EventVideoCanceled, job, map[string]any{
		"stage": stage,
	})
}

func (n *JobNotifier) JobDone(userID uuid.UUID, job *types.JobRun) {
	n.emit(userID, EventVideoDone, job, nil)
}

func (n *JobNotifier) emit(userID uuid.UUID, evType EventType, job *types.JobRun, data map[string]any) {
	if n == nil || userID == uuid.Nil {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	if job != nil {
		data["job_id"] = job.ID.String()
		data["job_type"] = job.JobType
		data["status"] = job.Status
		if job.EntityID != nil {
			data["video_id"] = job.EntityID.String()
		}
	}
	ev := Event{
		Channel: UserChannel(userID),
		Type:    evType,
		Data:    data,
	}

	if n.bus != nil {
		if err := n.bus.Publish(context.Background(), ev); err != nil {
			n.log.Warn("bus publish failed, delivering locally", "error", err)
			if n.hub != nil {
				n.hub.Broadcast(ev)
			}
		}
		return
	}
	if n.hub != nil {
		n.hub.Broadcast(ev)
	}
}
