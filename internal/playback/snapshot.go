package playback

import (
	"github.com/sonata-music/sonata/pkg/types"
)

// Snapshot is the observable state of a session at one point in time.
// Version increases with every published change, so consumers receiving
// snapshots from several goroutines can drop stale ones.
type Snapshot struct {
	SessionID      string           `json:"sessionId"`
	Version        uint64           `json:"version"`
	CurrentTrack   *types.Track     `json:"currentTrack"`
	Queue          []types.Track    `json:"queue"`
	CurrentIndex   int              `json:"currentIndex"`
	IsPlaying      bool             `json:"isPlaying"`
	IsBuffering    bool             `json:"isBuffering"`
	Loaded         bool             `json:"loaded"`
	PositionMillis int64            `json:"positionMillis"`
	DurationMillis int64            `json:"durationMillis"`
	RepeatMode     types.RepeatMode `json:"repeatMode"`
}

// Newer reports whether s supersedes other.
func (s Snapshot) Newer(other Snapshot) bool {
	return s.Version > other.Version
}

// snapshotLocked records a state change and returns the new view.
func (s *Session) snapshotLocked() Snapshot {
	s.version++
	return s.viewLocked()
}

func (s *Session) viewLocked() Snapshot {
	queue := make([]types.Track, len(s.queue))
	for i, t := range s.queue {
		queue[i] = withoutStream(t)
	}

	var current *types.Track
	if s.current != nil {
		t := withoutStream(*s.current)
		current = &t
	}

	return Snapshot{
		SessionID:      s.id,
		Version:        s.version,
		CurrentTrack:   current,
		Queue:          queue,
		CurrentIndex:   s.index,
		IsPlaying:      s.isPlaying,
		IsBuffering:    s.isBuffering,
		Loaded:         s.resource != nil && s.loaded,
		PositionMillis: s.status.PositionMillis,
		DurationMillis: s.status.DurationMillis,
		RepeatMode:     s.repeat,
	}
}

// withoutStream drops the stream URL before a track leaves the session. The
// URL is a signed, short-lived credential.
func withoutStream(t types.Track) types.Track {
	t.StreamURL = ""
	return t
}
