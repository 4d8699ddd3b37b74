package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientRegistry_Lifecycle(t *testing.T) {
	r := NewClientRegistry()

	a := r.Connect("10.0.0.2:4000", "ui/1.0")
	b := r.Connect("10.0.0.3:4000", "ui/1.0")
	require.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, r.Count())

	require.NoError(t, r.Joined(a.ID, "playlists"))
	require.NoError(t, r.Joined(a.ID, "playlist:morning"))
	require.NoError(t, r.Left(a.ID, "playlist:morning"))

	got, err := r.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2:4000", got.RemoteAddr)
	assert.Equal(t, []string{"playlists"}, got.RoomList())

	r.Disconnect(a.ID)
	_, err = r.Get(a.ID)
	assert.ErrorIs(t, err, ErrUnknownClient)
	assert.Equal(t, 1, r.Count())

	// Unknown ids are ignored on disconnect and rejected on update.
	r.Disconnect("nope")
	assert.ErrorIs(t, r.Joined("nope", "playlists"), ErrUnknownClient)
}

func TestClientRegistry_RecordOperation(t *testing.T) {
	r := NewClientRegistry()
	c := r.Connect("", "")
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, r.RecordOperation(c.ID, at))

	got, err := r.Get(c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalOperations)
	require.NotNil(t, got.LastOperationAt)
	assert.Equal(t, at, *got.LastOperationAt)

	// Copies do not leak into the registry.
	got.Join("playlists")
	again, _ := r.Get(c.ID)
	assert.Empty(t, again.RoomList())
}

func TestClientRegistry_All(t *testing.T) {
	r := NewClientRegistry()
	ids := make(map[string]bool)
	for i := 0; i < 3; i++ {
		ids[r.Connect("", "").ID] = true
	}

	all := r.All()
	require.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].ConnectedAt.Before(all[i-1].ConnectedAt))
	}
	for _, s := range all {
		assert.True(t, ids[s.ID])
	}
}

func TestClientRegistry_Concurrent(t *testing.T) {
	r := NewClientRegistry()
	c := r.Connect("", "")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.RecordOperation(c.ID, time.Now())
			_, _ = r.Get(c.ID)
		}()
	}
	wg.Wait()

	got, err := r.Get(c.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, got.TotalOperations)
}
