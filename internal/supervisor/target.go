// internal/supervisor/target.go
package supervisor

import (
	"sync/atomic"
	"time"
)

// Target is the health state shared between a task and its supervisor
type Target struct {
	liveness     atomic.Bool
	lastActivity atomic.Int64
	running      atomic.Bool
}

// SetLive marks the task healthy or unhealthy
func (t *Target) SetLive(live bool) {
	t.liveness.Store(live)
}

// Live reports the last liveness set by the task
func (t *Target) Live() bool {
	return t.liveness.Load()
}

// Touch records activity now
func (t *Target) Touch() {
	t.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns when the task last touched the target
func (t *Target) LastActivity() time.Time {
	return time.Unix(0, t.lastActivity.Load())
}

// Running reports whether the task goroutine is active
func (t *Target) Running() bool {
	return t.running.Load()
}

func (t *Target) reset() {
	t.SetLive(true)
	t.Touch()
}
