// Package ws provides the websocket transport for observer clients.
package ws

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tagbox/internal/app/broadcast"
)

// ErrUnknownClient is returned when writing to a client that is not registered.
var ErrUnknownClient = errors.New("unknown websocket client")

// client is one websocket connection.
type client struct {
	id   string
	conn *websocket.Conn

	mu sync.Mutex // serializes writes
}

// write sends a text frame guarded by the client's mutex and write deadline.
func (c *client) write(data []byte, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub tracks websocket clients and their rooms. It implements
// broadcast.Transport.
type Hub struct {
	writeTimeout time.Duration

	mu      sync.RWMutex
	clients map[string]*client
	rooms   map[string]map[string]struct{}
}

// NewHub creates a hub. writeTimeout bounds every frame write.
func NewHub(writeTimeout time.Duration) *Hub {
	if writeTimeout <= 0 {
		writeTimeout = 2 * time.Second
	}
	return &Hub{
		writeTimeout: writeTimeout,
		clients:      make(map[string]*client),
		rooms:        make(map[string]map[string]struct{}),
	}
}

var _ broadcast.Transport = (*Hub)(nil)

// Register attaches a connection to a client id, replacing any previous one.
func (h *Hub) Register(clientID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[clientID] = &client{id: clientID, conn: conn}
}

// Unregister removes a client and its room memberships.
func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, clientID)
	for room, members := range h.rooms {
		delete(members, clientID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// JoinRoom implements broadcast.Transport.
func (h *Hub) JoinRoom(clientID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[clientID]; !ok {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[room] = members
	}
	members[clientID] = struct{}{}
}

// LeaveRoom implements broadcast.Transport.
func (h *Hub) LeaveRoom(clientID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, clientID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// Members returns the sorted client ids in a room.
func (h *Hub) Members(room string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.rooms[room]))
	for id := range h.rooms[room] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of registered clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Emit implements broadcast.Transport. It reports true only when the envelope
// was written to every addressed client.
func (h *Hub) Emit(target broadcast.Target, env broadcast.Envelope) bool {
	data, err := json.Marshal(env)
	if err != nil {
		zlog.Error().Err(err).Msgf("ws: failed to encode envelope: event=%s seq=%d", env.EventType, env.ServerSeq)
		return false
	}

	recipients := h.recipients(target)
	if len(recipients) == 0 {
		// An empty room is trivially delivered; a missing client is not.
		return target.ClientID == ""
	}

	ok := true
	for _, c := range recipients {
		if err := c.write(data, h.writeTimeout); err != nil {
			zlog.Warn().Err(err).Msgf("ws: write failed: client=%s event=%s seq=%d", c.id, env.EventType, env.ServerSeq)
			ok = false
		}
	}
	return ok
}

// Send writes a non-envelope reply to one client.
func (h *Hub) Send(clientID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "failed to encode reply")
	}
	h.mu.RLock()
	c, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return errors.Wrapf(ErrUnknownClient, "%s", clientID)
	}
	return c.write(data, h.writeTimeout)
}

func (h *Hub) recipients(target broadcast.Target) []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if target.ClientID != "" {
		if c, ok := h.clients[target.ClientID]; ok {
			return []*client{c}
		}
		return nil
	}

	out := make([]*client, 0, len(h.rooms[target.Room]))
	for id := range h.rooms[target.Room] {
		if c, ok := h.clients[id]; ok {
			out = append(out, c)
		}
	}
	return out
}
