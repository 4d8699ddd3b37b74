package broadcast

import (
	"sort"
	"sync"
)

// Subscriptions tracks which clients are subscribed to which rooms.
type Subscriptions struct {
	mu      sync.RWMutex
	rooms   map[string]map[string]struct{} // room -> clients
	clients map[string]map[string]struct{} // client -> rooms
}

// NewSubscriptions creates an empty subscription set.
func NewSubscriptions() *Subscriptions {
	return &Subscriptions{
		rooms:   make(map[string]map[string]struct{}),
		clients: make(map[string]map[string]struct{}),
	}
}

// Add subscribes a client to a room. It reports false if already subscribed.
func (s *Subscriptions) Add(clientID, room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[room][clientID]; ok {
		return false
	}
	if s.rooms[room] == nil {
		s.rooms[room] = make(map[string]struct{})
	}
	if s.clients[clientID] == nil {
		s.clients[clientID] = make(map[string]struct{})
	}
	s.rooms[room][clientID] = struct{}{}
	s.clients[clientID][room] = struct{}{}
	return true
}

// Remove unsubscribes a client from a room. It reports whether it was subscribed.
func (s *Subscriptions) Remove(clientID, room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove(clientID, room)
}

func (s *Subscriptions) remove(clientID, room string) bool {
	if _, ok := s.rooms[room][clientID]; !ok {
		return false
	}
	delete(s.rooms[room], clientID)
	if len(s.rooms[room]) == 0 {
		delete(s.rooms, room)
	}
	delete(s.clients[clientID], room)
	if len(s.clients[clientID]) == 0 {
		delete(s.clients, clientID)
	}
	return true
}

// RemoveClient removes every subscription of a client and returns its rooms.
func (s *Subscriptions) RemoveClient(clientID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	rooms := sortedKeys(s.clients[clientID])
	for _, room := range rooms {
		s.remove(clientID, room)
	}
	return rooms
}

// Members returns the distinct clients subscribed to any of the rooms, sorted.
func (s *Subscriptions) Members(rooms ...string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := make(map[string]struct{})
	for _, room := range rooms {
		for c := range s.rooms[room] {
			set[c] = struct{}{}
		}
	}
	return sortedKeys(set)
}

// Rooms returns the rooms of a client, sorted.
func (s *Subscriptions) Rooms(clientID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.clients[clientID])
}

// Has reports whether a client is subscribed to a room.
func (s *Subscriptions) Has(clientID, room string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[room][clientID]
	return ok
}

// Count returns the number of subscriptions.
func (s *Subscriptions) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, clients := range s.rooms {
		n += len(clients)
	}
	return n
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
