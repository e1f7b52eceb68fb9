package runtime

import (
	"fmt"
	"sort"
	"sync"
)

// Handler executes one job type. The video ingest pipeline is the main
// implementation; Type must match the job_type stored on queued JobRun rows.
type Handler interface {
	Type() string
	Run(ctx *Context) error
}

// Registry maps job types to handlers. Registration happens once during
// wiring; lookups run on every claimed job.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(h Handler) error {
	if h == nil {
		return fmt.Errorf("register nil handler")
	}
	jobType := h.Type()
	if jobType == "" {
		return fmt.Errorf("handler reports an empty job type")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.handlers[jobType]; dup {
		return fmt.Errorf("duplicate handler for job_type=%s", jobType)
	}
	r.handlers[jobType] = h
	return nil
}

func (r *Registry) Get(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Types lists the registered job types in stable order, for boot logging.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
