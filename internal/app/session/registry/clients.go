// Package registry tracks connected observer clients.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/osa030/tagbox/internal/domain/observer"
)

// ErrUnknownClient is returned for ids that are not connected.
var ErrUnknownClient = errors.New("unknown client")

// ClientRegistry manages observer sessions with thread-safe access.
// Callers only ever see copies.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*observer.Session
}

// NewClientRegistry creates a new client registry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*observer.Session),
	}
}

// Connect registers a new client and returns its session.
func (r *ClientRegistry) Connect(remoteAddr, userAgent string) *observer.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	session := observer.NewSession(uuid.New().String(), remoteAddr, userAgent)
	r.clients[session.ID] = session
	return session.Clone()
}

// Disconnect removes a client. Unknown ids are ignored.
func (r *ClientRegistry) Disconnect(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session, ok := r.clients[clientID]; ok {
		session.Disconnect()
		delete(r.clients, clientID)
	}
}

// Get retrieves a copy of a client session.
func (r *ClientRegistry) Get(clientID string) (*observer.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.clients[clientID]
	if !ok {
		return nil, ErrUnknownClient
	}
	return session.Clone(), nil
}

// Joined records room membership.
func (r *ClientRegistry) Joined(clientID, room string) error {
	return r.update(clientID, func(s *observer.Session) { s.Join(room) })
}

// Left removes room membership.
func (r *ClientRegistry) Left(clientID, room string) error {
	return r.update(clientID, func(s *observer.Session) { s.Leave(room) })
}

// RecordOperation counts an operation submitted by the client.
func (r *ClientRegistry) RecordOperation(clientID string, at time.Time) error {
	return r.update(clientID, func(s *observer.Session) { s.RecordOperation(at) })
}

func (r *ClientRegistry) update(clientID string, fn func(s *observer.Session)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.clients[clientID]
	if !ok {
		return ErrUnknownClient
	}
	fn(session)
	return nil
}

// All returns copies of all sessions, oldest connection first.
func (r *ClientRegistry) All() []*observer.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*observer.Session, 0, len(r.clients))
	for _, session := range r.clients {
		result = append(result, session.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].ConnectedAt.Equal(result[j].ConnectedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].ConnectedAt.Before(result[j].ConnectedAt)
	})
	return result
}

// Count returns the number of connected clients.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
