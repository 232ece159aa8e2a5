package playback

import (
	"errors"
	"fmt"
)

var (
	// ErrSuperseded is returned by a load that lost to a newer playback request.
	// Callers issuing rapid commands can ignore it.
	ErrSuperseded = errors.New("playback request superseded")

	ErrSessionClosed = errors.New("playback session closed")

	errNoStreamURL = errors.New("resolver returned no stream url")
	errNoResolver  = errors.New("no stream resolver configured")
)

// StreamResolutionError reports that a track's stream URL could not be obtained.
type StreamResolutionError struct {
	TrackID int64
	Err     error
}

func (e *StreamResolutionError) Error() string {
	return fmt.Sprintf("resolve stream for track %d: %v", e.TrackID, e.Err)
}

func (e *StreamResolutionError) Unwrap() error { return e.Err }

// EngineLoadError reports that the audio engine failed to create or load a resource.
type EngineLoadError struct {
	TrackID int64
	URL     string
	Err     error
}

func (e *EngineLoadError) Error() string {
	return fmt.Sprintf("load track %d: %v", e.TrackID, e.Err)
}

func (e *EngineLoadError) Unwrap() error { return e.Err }

// InvalidIndexError is a caller contract violation on PlayPlaylist.
type InvalidIndexError struct {
	Index int
	Len   int
}

func (e *InvalidIndexError) Error() string {
	if e.Len == 0 {
		return "play playlist: empty track list"
	}
	return fmt.Sprintf("play playlist: start index %d out of range [0, %d)", e.Index, e.Len)
}
