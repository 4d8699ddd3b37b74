// Package tagreader turns raw proximity reader samples into presence events.
package tagreader

import "time"

// Kind is the kind of a tag signal event.
type Kind int

const (
	KindPresent Kind = iota // A tag was placed on the reader
	KindAbsent              // The tag left the reader
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindPresent:
		return "present"
	case KindAbsent:
		return "absent"
	default:
		return "unknown"
	}
}

// Event is a debounced tag signal.
type Event struct {
	UID        string
	ObservedAt time.Time
	Kind       Kind
}

// Present builds a Present event.
func Present(uid string, at time.Time) Event {
	return Event{UID: uid, ObservedAt: at, Kind: KindPresent}
}

// Absent builds an Absent event.
func Absent(uid string, at time.Time) Event {
	return Event{UID: uid, ObservedAt: at, Kind: KindAbsent}
}
