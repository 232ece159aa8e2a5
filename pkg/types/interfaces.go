package types

import (
	"context"
)

// StreamResolver turns a track identifier into a playable, possibly short-lived URL.
type StreamResolver interface {
	ResolveStream(ctx context.Context, trackID int64) (*StreamInfo, error)
}

// StatusFunc receives engine status events for a single resource.
type StatusFunc func(PlaybackStatus)

// AudioEngine creates native audio resources bound to one stream URL.
type AudioEngine interface {
	Create(ctx context.Context, url string, opts ResourceOptions, onStatus StatusFunc) (AudioResource, error)
}

// AudioResource is a live decoder/player instance. After Unload every method
// except Unload returns ErrResourceUnloaded and no further status events are sent.
type AudioResource interface {
	Play() error
	Pause() error
	SeekTo(positionMillis int64) error
	Unload() error
	Status() PlaybackStatus
}

// Catalog is the read side of the store backend used by the library service.
type Catalog interface {
	GetAlbum(ctx context.Context, id int64) (*Album, error)
	GetAlbumSongs(ctx context.Context, albumID int64) ([]*Song, error)
	GetPlaylist(ctx context.Context, id int64) (*Playlist, error)
	GetSong(ctx context.Context, id int64) (*Song, error)
}

// Storage is the subset of the local cache the search engine reads.
type Storage interface {
	GetSongs(ctx context.Context, limit, offset int) ([]*Song, error)
	GetAlbums(ctx context.Context, limit, offset int) ([]*Album, error)
	GetArtists(ctx context.Context, limit, offset int) ([]*Artist, error)
	SearchSongs(ctx context.Context, query string, limit int) ([]*Song, error)
}
