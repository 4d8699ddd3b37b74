package broadcast

import (
	"math"
	"sync"

	"github.com/cockroachdb/errors"
)

// Sequencer assigns serverSeq and per-playlist playlistSeq values.
type Sequencer struct {
	mu          sync.Mutex
	serverSeq   uint64
	playlistSeq map[string]uint64
}

// NewSequencer creates a sequencer starting at zero.
func NewSequencer() *Sequencer {
	return &Sequencer{playlistSeq: make(map[string]uint64)}
}

// NextServer returns the next serverSeq.
func (s *Sequencer) NextServer() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.serverSeq == math.MaxUint64 {
		panic(errors.AssertionFailedf("serverSeq exhausted"))
	}
	s.serverSeq++
	return s.serverSeq
}

// NextPlaylist returns the next playlistSeq of a playlist.
func (s *Sequencer) NextPlaylist(playlistID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playlistSeq[playlistID]++
	return s.playlistSeq[playlistID]
}

// Server returns the last assigned serverSeq.
func (s *Sequencer) Server() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverSeq
}

// Playlist returns the last assigned playlistSeq of a playlist.
func (s *Sequencer) Playlist(playlistID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playlistSeq[playlistID]
}
