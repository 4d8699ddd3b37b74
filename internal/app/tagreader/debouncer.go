package tagreader

import "time"

// DebounceConfig holds the debouncer timings.
type DebounceConfig struct {
	Cooldown         time.Duration // Same-uid reads this close to the last read are a continuation
	RemovalThreshold time.Duration // No read for longer than this emits Absent
}

// Debouncer converts raw samples into at most one Present per presentation
// and exactly one Absent per removal. It is not safe for concurrent use.
type Debouncer struct {
	cfg DebounceConfig

	uid        string
	lastReadAt time.Time
	present    bool
}

// NewDebouncer creates a debouncer.
func NewDebouncer(cfg DebounceConfig) *Debouncer {
	return &Debouncer{cfg: cfg}
}

// Sample feeds one reader sample. uid is empty when nothing was read.
// It returns the resulting event, if any.
func (d *Debouncer) Sample(uid string, readAt time.Time) (Event, bool) {
	if uid == "" {
		if d.present && readAt.Sub(d.lastReadAt) > d.cfg.RemovalThreshold {
			d.present = false
			return Absent(d.uid, readAt), true
		}
		return Event{}, false
	}

	if uid == d.uid && (d.present || d.withinCooldown(readAt)) {
		d.lastReadAt = readAt
		d.present = true
		return Event{}, false
	}

	d.uid = uid
	d.lastReadAt = readAt
	d.present = true
	return Present(uid, readAt), true
}

func (d *Debouncer) withinCooldown(readAt time.Time) bool {
	return !d.lastReadAt.IsZero() && readAt.Sub(d.lastReadAt) <= d.cfg.Cooldown
}

// ForceRedetect makes the next read of uid produce a fresh Present even though
// the tag never left the reader.
func (d *Debouncer) ForceRedetect(uid string) {
	if d.uid != uid {
		return
	}
	d.present = false
	d.lastReadAt = time.Time{}
}

// Current returns the uid considered present, if any.
func (d *Debouncer) Current() (string, bool) {
	if !d.present {
		return "", false
	}
	return d.uid, true
}

// Hold restarts the absence clock of a present tag without reading it.
// Used after a streak of reader errors so the errors alone never turn into
// an Absent.
func (d *Debouncer) Hold(at time.Time) {
	if d.present && at.After(d.lastReadAt) {
		d.lastReadAt = at
	}
}
