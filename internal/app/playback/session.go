package playback

import "time"

// Session is the state of playback on the device.
type Session struct {
	State              State     `json:"state"`
	PlaylistID         string    `json:"playlistId,omitempty"`
	PlaylistName       string    `json:"playlistName,omitempty"`
	TrackCount         int       `json:"trackCount"`
	TrackIndex         int       `json:"trackIndex"`
	TrackID            string    `json:"trackId,omitempty"`
	TrackName          string    `json:"trackName,omitempty"`
	PositionMs         int64     `json:"positionMs"`
	DurationMs         int64     `json:"durationMs"`
	Volume             int       `json:"volume"`
	Muted              bool      `json:"muted"`
	IsPlaying          bool      `json:"isPlaying"`
	IsPaused           bool      `json:"isPaused"`
	CurrentTag         string    `json:"currentTag,omitempty"`
	AutoPause          bool      `json:"autoPause"`
	ErrorMessage       string    `json:"errorMessage,omitempty"`
	LastManualActionAt time.Time `json:"lastManualActionAt,omitempty"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// Snapshot is an immutable copy of the session handed to readers.
type Snapshot = Session

// Position is the lightweight position update.
type Position struct {
	PlaylistID string `json:"-"`
	TrackID    string `json:"trackId"`
	PositionMs int64  `json:"positionMs"`
	IsPlaying  bool   `json:"isPlaying"`
}
