package observer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSession(t *testing.T) {
	s := NewSession("id-1", "10.0.0.2:5555", "ui/1.0")

	assert.Equal(t, "id-1", s.ID)
	assert.Equal(t, "10.0.0.2:5555", s.RemoteAddr)
	assert.Equal(t, "ui/1.0", s.UserAgent)
	assert.False(t, s.ConnectedAt.IsZero())
	assert.False(t, s.Disconnected)
	assert.Empty(t, s.Rooms)
	assert.Nil(t, s.LastOperationAt)
}

func TestSession_Rooms(t *testing.T) {
	s := NewSession("id-1", "", "")

	s.Join("playlists")
	s.Join("playlist:abc")
	s.Join("playlists")

	assert.True(t, s.InRoom("playlists"))
	assert.Equal(t, []string{"playlist:abc", "playlists"}, s.RoomList())

	s.Leave("playlist:abc")
	assert.False(t, s.InRoom("playlist:abc"))
	assert.Equal(t, []string{"playlists"}, s.RoomList())
}

func TestSession_RecordOperation(t *testing.T) {
	s := NewSession("id-1", "", "")
	at := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	s.RecordOperation(at)
	s.RecordOperation(at.Add(time.Second))

	assert.Equal(t, 2, s.TotalOperations)
	require.NotNil(t, s.LastOperationAt)
	assert.Equal(t, at.Add(time.Second), *s.LastOperationAt)
}

func TestSession_Clone(t *testing.T) {
	s := NewSession("id-1", "", "")
	s.Join("playlists")
	s.RecordOperation(time.Now())

	c := s.Clone()
	c.Join("playlist:abc")
	*c.LastOperationAt = time.Time{}

	assert.Equal(t, []string{"playlists"}, s.RoomList())
	assert.False(t, s.LastOperationAt.IsZero())
	assert.Equal(t, s.ID, c.ID)
}

func TestSession_Disconnect(t *testing.T) {
	s := NewSession("id-1", "", "")
	s.Join("playlists")

	s.Disconnect()

	assert.True(t, s.Disconnected)
	assert.Empty(t, s.RoomList())
}
