package lifecycle

import (
	"sync/atomic"
	"time"
)

// Lifecycle is a tiny process lifecycle state holder shared across handlers.
// It is used for readiness draining during graceful shutdown.
type Lifecycle struct {
	draining atomic.Bool
	started  atomic.Int64
}

// New returns a Lifecycle with the start time recorded.
func New() *Lifecycle {
	l := &Lifecycle{}
	l.started.Store(time.Now().UnixMilli())
	return l
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}

// Uptime reports how long the process has been running.
func (l *Lifecycle) Uptime() time.Duration {
	if l == nil || l.started.Load() == 0 {
		return 0
	}
	return time.Since(time.UnixMilli(l.started.Load()))
}
