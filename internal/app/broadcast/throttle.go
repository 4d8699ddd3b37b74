package broadcast

import (
	"time"

	"golang.org/x/time/rate"
)

type positionItem struct {
	playlistID string
	data       any
}

// PositionThrottle limits position events to one per interval. Ticks
// arriving faster are coalesced into a trailing emission of the latest one.
type PositionThrottle struct {
	limiter   *rate.Limiter
	pending   *positionItem
	scheduled bool
}

// NewPositionThrottle creates a throttle; a non-positive interval disables it.
func NewPositionThrottle(interval time.Duration) *PositionThrottle {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &PositionThrottle{limiter: rate.NewLimiter(limit, 1)}
}

// Offer submits a tick. emit reports that it may be sent now. Otherwise it
// is kept as the pending tick; when flushAfter is positive the caller must
// call Flush after that delay. coalesced reports a replaced pending tick.
func (t *PositionThrottle) Offer(item positionItem, now time.Time) (emit bool, flushAfter time.Duration, coalesced bool) {
	if t.pending == nil && !t.scheduled && t.limiter.AllowN(now, 1) {
		return true, 0, false
	}

	coalesced = t.pending != nil
	t.pending = &item
	if t.scheduled {
		return false, 0, coalesced
	}

	t.scheduled = true
	r := t.limiter.ReserveN(now, 1)
	flushAfter = r.DelayFrom(now)
	if flushAfter <= 0 {
		flushAfter = time.Millisecond
	}
	return false, flushAfter, coalesced
}

// Flush returns the pending tick, if any.
func (t *PositionThrottle) Flush() (positionItem, bool) {
	t.scheduled = false
	if t.pending == nil {
		return positionItem{}, false
	}
	item := *t.pending
	t.pending = nil
	return item, true
}
