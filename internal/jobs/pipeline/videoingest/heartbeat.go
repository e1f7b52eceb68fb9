package videoingest

import (
	"sync"
	"time"

	"github.com/google/uuid"

	jobrt "github.com/yungbote/vidscribe-backend/internal/jobs/runtime"
	"github.com/yungbote/vidscribe-backend/internal/platform/envutil"
)

// heartbeat keeps progress moving during the long blind wait on the speech
// provider. Real progress is unknown there, so it simulates a climb against
// an ETA and never passes the stage's upper bound.
type heartbeat struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func (p *Pipeline) startHeartbeat(jc *jobrt.Context, videoID uuid.UUID, stage string, eta time.Duration, upper int, msg string) *heartbeat {
	hb := &heartbeat{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	interval := envutil.Duration("PIPELINE_HEARTBEAT_INTERVAL", 30*time.Second)
	started := time.Now()

	go func() {
		defer close(hb.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hb.stop:
				return
			case <-jc.Ctx.Done():
				return
			case <-ticker.C:
				pct := simulatedProgress(time.Since(started), eta, upper)
				jc.Progress(stage, pct, msg)
				if err := p.bumpVideoProgress(jc.Ctx, videoID, pct); err != nil {
					return
				}
			}
		}
	}()
	return hb
}

// Stop halts the ticker and joins the goroutine so it cannot write a stale
// percentage over the stage's completion update. The join is bounded; a
// wedged goroutine is abandoned rather than stalling the pipeline.
func (hb *heartbeat) Stop() {
	hb.once.Do(func() { close(hb.stop) })
	select {
	case <-hb.done:
	case <-time.After(5 * time.Second):
	}
}

// simulatedProgress climbs from 10 toward 85 as elapsed approaches the ETA,
// clamped to the stage's upper bound. It never reaches 100; only real
// completion does that.
func simulatedProgress(elapsed, eta time.Duration, upper int) int {
	if eta <= 0 {
		eta = time.Minute
	}
	pct := 10 + int(elapsed.Seconds()/eta.Seconds()*75)
	if pct > 85 {
		pct = 85
	}
	if pct > upper {
		pct = upper
	}
	if pct < 10 {
		pct = 10
	}
	return pct
}
