package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrResourceUnloaded is returned by an AudioResource once it has been unloaded.
var ErrResourceUnloaded = errors.New("audio resource unloaded")

// RepeatMode governs auto-advance on natural track completion.
type RepeatMode int

const (
	RepeatOff RepeatMode = iota
	RepeatAll
	RepeatOne
)

func (m RepeatMode) String() string {
	switch m {
	case RepeatOff:
		return "off"
	case RepeatAll:
		return "all"
	case RepeatOne:
		return "one"
	default:
		return "unknown"
	}
}

// Next returns the following mode in the off -> all -> one -> off cycle.
func (m RepeatMode) Next() RepeatMode {
	switch m {
	case RepeatOff:
		return RepeatAll
	case RepeatAll:
		return RepeatOne
	default:
		return RepeatOff
	}
}

func ParseRepeatMode(s string) (RepeatMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "off", "none":
		return RepeatOff, nil
	case "all", "queue":
		return RepeatAll, nil
	case "one", "track":
		return RepeatOne, nil
	default:
		return RepeatOff, fmt.Errorf("unknown repeat mode %q", s)
	}
}

func (m RepeatMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *RepeatMode) UnmarshalText(text []byte) error {
	parsed, err := ParseRepeatMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// PlaybackStatus is one status event from the audio engine. Position and
// duration reflect the moment the event was emitted.
type PlaybackStatus struct {
	PositionMillis int64
	DurationMillis int64
	IsPlaying      bool
	IsBuffering    bool
	IsLoaded       bool
	IsLooping      bool
	DidJustFinish  bool
	Error          error
}

type ResourceOptions struct {
	AutoPlay bool
	Looping  bool
	Volume   float64
}
