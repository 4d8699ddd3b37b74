package playback

import "time"

// PriorityWindow suppresses tag-driven auto pause/resume shortly after a
// manual action.
type PriorityWindow struct {
	LastManualActionAt time.Time
	Window             time.Duration
}

// Record stores the time of a manual action.
func (w *PriorityWindow) Record(at time.Time) {
	if at.After(w.LastManualActionAt) {
		w.LastManualActionAt = at
	}
}

// Active reports whether at falls inside the window.
func (w PriorityWindow) Active(at time.Time) bool {
	if w.LastManualActionAt.IsZero() || w.Window <= 0 {
		return false
	}
	return at.Sub(w.LastManualActionAt) < w.Window
}
