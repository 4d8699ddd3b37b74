// Package broadcast delivers playback state to observer clients with
// sequencing, room subscriptions, retried delivery and operation dedup.
package broadcast

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Event types.
const (
	EventStateFull         = "state.full"
	EventPosition          = "playback.position"
	EventCollectionChanged = "collection.changed"
	EventOperationAck      = "operation.ack"
	EventOperationError    = "operation.error"
)

// Rooms.
const (
	RoomPlaylists      = "playlists"
	playlistRoomPrefix = "playlist:"
)

// ErrInvalidRoom is returned for room names other than "playlists" and "playlist:{id}".
var ErrInvalidRoom = errors.New("invalid room")

// Envelope is the immutable wire unit sent to clients.
type Envelope struct {
	EventType   string          `json:"eventType"`
	ServerSeq   uint64          `json:"serverSeq"`
	PlaylistSeq *uint64         `json:"playlistSeq,omitempty"`
	Data        json.RawMessage `json:"data"`
	Timestamp   time.Time       `json:"timestamp"`
	EventID     string          `json:"eventId"`
}

func newEnvelope(eventType string, seq uint64, data any, at time.Time) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, errors.Wrapf(err, "failed to encode %s payload", eventType)
	}
	return Envelope{
		EventType: eventType,
		ServerSeq: seq,
		Data:      raw,
		Timestamp: at,
		EventID:   uuid.New().String(),
	}, nil
}

// PlaylistRoom returns the room of a single playlist.
func PlaylistRoom(playlistID string) string {
	return playlistRoomPrefix + playlistID
}

// ParseRoom validates a room name and returns the playlist id for playlist rooms.
func ParseRoom(room string) (playlistID string, err error) {
	if room == RoomPlaylists {
		return "", nil
	}
	if id, ok := strings.CutPrefix(room, playlistRoomPrefix); ok && id != "" {
		return id, nil
	}
	return "", errors.Wrapf(ErrInvalidRoom, "%q", room)
}

// roomsFor returns the rooms an event about playlistID is sent to.
func roomsFor(playlistID string) []string {
	if playlistID == "" {
		return []string{RoomPlaylists}
	}
	return []string{RoomPlaylists, PlaylistRoom(playlistID)}
}

// Operation is a client-issued command.
type Operation struct {
	Command string         `json:"command"`
	Args    map[string]any `json:"args,omitempty"`
}

// Ack is the acknowledgment payload of an operation.
type Ack struct {
	ClientOpID string `json:"clientOpId"`
	Success    bool   `json:"success"`
	Data       any    `json:"data,omitempty"`
	Message    string `json:"message,omitempty"`
	Code       string `json:"code,omitempty"`
	ServerSeq  uint64 `json:"serverSeq"`
}

func (a Ack) eventType() string {
	if a.Success {
		return EventOperationAck
	}
	return EventOperationError
}

// OperationError is a failed operation with a code for clients.
type OperationError struct {
	Code    string
	Message string
	Err     error
}

func (e *OperationError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// OperationRecord is a completed operation kept for idempotent re-acknowledgment.
type OperationRecord struct {
	ClientOpID string
	Result     Ack
	ExpiresAt  time.Time
}
