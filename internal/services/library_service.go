package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sonata-music/sonata/internal/search"
	"github.com/sonata-music/sonata/internal/storage"
	"github.com/sonata-music/sonata/pkg/types"
)

const (
	cacheTimeout  = 30 * time.Second
	fallbackLimit = 500
)

// Backend is the remote catalog the library reads first.
type Backend interface {
	types.Catalog
	GetAlbums(ctx context.Context) ([]*types.Album, error)
	GetPlaylists(ctx context.Context) ([]*types.Playlist, error)
	SearchAlbums(ctx context.Context, title string) ([]*types.Album, error)
	SearchArtists(ctx context.Context, name string) ([]*types.Artist, error)
}

// LibraryService serves catalog reads from the backend, mirrors what it gets
// into the local database in the background and falls back to that copy
// when the backend is unreachable.
type LibraryService struct {
	backend Backend
	storage *storage.Database
	search  *search.Engine
	logger  *zap.Logger

	wg sync.WaitGroup
}

func NewLibraryService(backend Backend, db *storage.Database, engine *search.Engine, logger *zap.Logger) *LibraryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LibraryService{
		backend: backend,
		storage: db,
		search:  engine,
		logger:  logger.Named("library"),
	}
}

// AlbumTracks returns the album's songs as a play queue.
func (s *LibraryService) AlbumTracks(ctx context.Context, albumID int64) ([]types.Track, error) {
	songs, err := s.backend.GetAlbumSongs(ctx, albumID)
	if err != nil {
		cached, dbErr := s.storage.GetAlbumSongs(ctx, albumID)
		if dbErr != nil || len(cached) == 0 {
			return nil, fallbackError(err, dbErr)
		}
		s.logger.Warn("serving album from cache", zap.Int64("album_id", albumID), zap.Error(err))
		songs = cached
	} else {
		s.background(ctx, "album songs", func(ctx context.Context) error {
			return s.storage.SaveSongs(ctx, songs)
		})
	}
	return songTracks(songs), nil
}

// PlaylistTracks returns the playlist as a play queue, using the playlist
// artwork for songs without their own.
func (s *LibraryService) PlaylistTracks(ctx context.Context, playlistID int64) ([]types.Track, error) {
	playlist, err := s.Playlist(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	return playlist.Tracks(), nil
}

func (s *LibraryService) Playlist(ctx context.Context, playlistID int64) (*types.Playlist, error) {
	playlist, err := s.backend.GetPlaylist(ctx, playlistID)
	if err != nil {
		cached, dbErr := s.storage.GetPlaylist(ctx, playlistID)
		if dbErr != nil || cached == nil {
			return nil, fallbackError(err, dbErr)
		}
		s.logger.Warn("serving playlist from cache", zap.Int64("playlist_id", playlistID), zap.Error(err))
		return cached, nil
	}

	s.background(ctx, "playlist", func(ctx context.Context) error {
		return s.storage.SavePlaylist(ctx, playlist)
	})
	return playlist, nil
}

func (s *LibraryService) SongTrack(ctx context.Context, songID int64) (types.Track, error) {
	song, err := s.backend.GetSong(ctx, songID)
	if err != nil {
		cached, dbErr := s.storage.GetSong(ctx, songID)
		if dbErr != nil || cached == nil {
			return types.Track{}, fallbackError(err, dbErr)
		}
		song = cached
	} else {
		s.background(ctx, "song", func(ctx context.Context) error {
			return s.storage.SaveSong(ctx, song)
		})
	}
	return song.Track(), nil
}

func (s *LibraryService) Albums(ctx context.Context) ([]*types.Album, error) {
	albums, err := s.backend.GetAlbums(ctx)
	if err != nil {
		cached, dbErr := s.storage.GetAlbums(ctx, fallbackLimit, 0)
		if dbErr != nil {
			return nil, fallbackError(err, dbErr)
		}
		return cached, nil
	}

	s.background(ctx, "albums", func(ctx context.Context) error {
		for _, album := range albums {
			if album == nil {
				continue
			}
			if err := s.storage.SaveAlbum(ctx, album); err != nil {
				return err
			}
		}
		return nil
	})
	return albums, nil
}

func (s *LibraryService) Playlists(ctx context.Context) ([]*types.Playlist, error) {
	playlists, err := s.backend.GetPlaylists(ctx)
	if err != nil {
		cached, dbErr := s.storage.GetPlaylists(ctx)
		if dbErr != nil {
			return nil, fallbackError(err, dbErr)
		}
		return cached, nil
	}
	return playlists, nil
}

// Search asks the backend for albums and artists and ranks songs locally,
// since the backend has no song search. When the backend fails every kind
// comes from the local index.
func (s *LibraryService) Search(ctx context.Context, query string, limit int) (*types.SearchResults, error) {
	local, err := s.search.Search(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("local search: %w", err)
	}

	albums, albumErr := s.backend.SearchAlbums(ctx, query)
	artists, artistErr := s.backend.SearchArtists(ctx, query)
	if albumErr != nil || artistErr != nil {
		s.logger.Debug("remote search failed, using local results",
			zap.NamedError("albums", albumErr), zap.NamedError("artists", artistErr))
		return local, nil
	}

	results := &types.SearchResults{
		Songs:   local.Songs,
		Albums:  albums,
		Artists: artists,
	}
	results.Total = len(results.Songs) + len(results.Albums) + len(results.Artists)
	return results, nil
}

// Wait blocks until background cache writes finish.
func (s *LibraryService) Wait() {
	s.wg.Wait()
}

func (s *LibraryService) background(ctx context.Context, what string, fn func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.logger.Debug("failed to cache", zap.String("what", what), zap.Error(err))
		}
	}()
}

func songTracks(songs []*types.Song) []types.Track {
	tracks := make([]types.Track, 0, len(songs))
	for _, song := range songs {
		if song != nil {
			tracks = append(tracks, song.Track())
		}
	}
	return tracks
}

func fallbackError(apiErr, dbErr error) error {
	if dbErr != nil {
		return fmt.Errorf("both API and storage failed: api=%w, storage=%w", apiErr, dbErr)
	}
	return apiErr
}
