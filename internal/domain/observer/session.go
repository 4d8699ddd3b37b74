// Package observer provides the ObserverSession domain entity.
package observer

import (
	"sort"
	"time"
)

// Session represents a companion UI connected to the device.
type Session struct {
	ID              string              // UUID
	RemoteAddr      string              // Remote address of the connection
	UserAgent       string              // User agent reported on connect
	ConnectedAt     time.Time           // Connect time
	Disconnected    bool                // Disconnected status
	Rooms           map[string]struct{} // Rooms currently joined
	TotalOperations int                 // Operations submitted by this client
	LastOperationAt *time.Time          // Last operation time
}

// NewSession creates a new observer session.
func NewSession(id, remoteAddr, userAgent string) *Session {
	return &Session{
		ID:          id,
		RemoteAddr:  remoteAddr,
		UserAgent:   userAgent,
		ConnectedAt: time.Now(),
		Rooms:       make(map[string]struct{}),
	}
}

// Join records room membership.
func (s *Session) Join(room string) {
	s.Rooms[room] = struct{}{}
}

// Leave removes room membership.
func (s *Session) Leave(room string) {
	delete(s.Rooms, room)
}

// InRoom reports whether the session joined the room.
func (s *Session) InRoom(room string) bool {
	_, ok := s.Rooms[room]
	return ok
}

// RoomList returns the joined rooms in sorted order.
func (s *Session) RoomList() []string {
	rooms := make([]string, 0, len(s.Rooms))
	for r := range s.Rooms {
		rooms = append(rooms, r)
	}
	sort.Strings(rooms)
	return rooms
}

// RecordOperation counts a submitted client operation.
func (s *Session) RecordOperation(at time.Time) {
	s.TotalOperations++
	s.LastOperationAt = &at
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	c := *s
	c.Rooms = make(map[string]struct{}, len(s.Rooms))
	for r := range s.Rooms {
		c.Rooms[r] = struct{}{}
	}
	if s.LastOperationAt != nil {
		at := *s.LastOperationAt
		c.LastOperationAt = &at
	}
	return &c
}

// Disconnect marks the session as gone and clears its rooms.
// A reconnecting client gets a new session.
func (s *Session) Disconnect() {
	s.Disconnected = true
	s.Rooms = make(map[string]struct{})
}
