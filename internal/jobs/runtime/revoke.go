package runtime

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Revocations maps running job ids to their cancel functions so the
// cancellation engine can stop an in-flight pipeline in this process.
// Revoking a job running on another instance is a no-op here; that
// pipeline stops at its next checkpoint instead.
type Revocations struct {
	mu     sync.Mutex
	active map[uuid.UUID]context.CancelFunc
}

func NewRevocations() *Revocations {
	return &Revocations{active: make(map[uuid.UUID]context.CancelFunc)}
}

func (r *Revocations) Register(jobID uuid.UUID, cancel context.CancelFunc) {
	if r == nil || jobID == uuid.Nil || cancel == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[jobID] = cancel
}

func (r *Revocations) Unregister(jobID uuid.UUID) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, jobID)
}

// Revoke cancels the job's context if it runs here. Returns whether a
// revocation was actually issued.
func (r *Revocations) Revoke(jobID uuid.UUID) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	cancel, ok := r.active[jobID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}
