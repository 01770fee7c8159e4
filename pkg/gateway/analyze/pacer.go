package analyze

import (
	"context"
	"sync"
	"time"
)

// Pacer spaces calls a minimum interval apart. Each waiter is assigned the
// next free slot in arrival order, so callers proceed FIFO even under
// contention.
type Pacer struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time

	now func() time.Time
}

// NewPacer returns a Pacer enforcing the given minimum interval between
// calls. A non-positive interval disables pacing.
func NewPacer(interval time.Duration) *Pacer {
	return &Pacer{
		interval: interval,
		now:      time.Now,
	}
}

// Wait blocks until this caller's slot arrives or ctx is done. The slot is
// claimed on entry; a caller that gives up leaves its slot unused rather
// than handing it to a later arrival.
func (p *Pacer) Wait(ctx context.Context) error {
	if p.interval <= 0 {
		return ctx.Err()
	}

	now := p.now()
	slot := p.claimSlot(now)

	delay := slot.Sub(now)
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// claimSlot reserves and returns the next free slot at or after now.
func (p *Pacer) claimSlot(now time.Time) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	slot := p.next
	if slot.Before(now) {
		slot = now
	}
	p.next = slot.Add(p.interval)
	return slot
}
