package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sonata-music/sonata/pkg/types"
)

// Source is the part of the store backend the sync manager mirrors locally.
type Source interface {
	GetAlbums(ctx context.Context) ([]*types.Album, error)
	GetAlbumSongs(ctx context.Context, albumID int64) ([]*types.Song, error)
	GetArtists(ctx context.Context) ([]*types.Artist, error)
	GetPlaylists(ctx context.Context) ([]*types.Playlist, error)
	GetPlaylist(ctx context.Context, id int64) (*types.Playlist, error)
	IsAuthenticated() bool
}

// SyncStats describes one synchronization pass.
type SyncStats struct {
	Albums    int
	Songs     int
	Artists   int
	Playlists int
	StartTime time.Time
	EndTime   time.Time
	Errors    []string
}

// SyncManager periodically copies the catalog into the local database so
// browsing and search keep working offline.
type SyncManager struct {
	source     Source
	storage    *Database
	logger     *zap.Logger
	interval   time.Duration
	albumLimit int

	mu       sync.Mutex
	running  bool
	stop     chan struct{}
	done     chan struct{}
	last     *SyncStats
	onFinish func(*SyncStats)
}

// NewSyncManager creates a manager. albumLimit <= 0 syncs songs of every album.
func NewSyncManager(source Source, storage *Database, interval time.Duration, albumLimit int, logger *zap.Logger) *SyncManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncManager{
		source:     source,
		storage:    storage,
		logger:     logger.Named("sync"),
		interval:   interval,
		albumLimit: albumLimit,
	}
}

// OnFinish registers a callback run after every pass.
func (sm *SyncManager) OnFinish(fn func(*SyncStats)) {
	sm.mu.Lock()
	sm.onFinish = fn
	sm.mu.Unlock()
}

// Start runs one pass immediately and then one per interval until Stop or
// ctx cancellation. A non-positive interval runs a single pass.
func (sm *SyncManager) Start(ctx context.Context) {
	sm.mu.Lock()
	if sm.running {
		sm.mu.Unlock()
		return
	}
	sm.running = true
	sm.stop = make(chan struct{})
	sm.done = make(chan struct{})
	stop, done := sm.stop, sm.done
	sm.mu.Unlock()

	sm.logger.Debug("sync manager starting", zap.Duration("interval", sm.interval))

	go func() {
		defer func() {
			sm.mu.Lock()
			sm.running = false
			sm.mu.Unlock()
			close(done)
			sm.logger.Debug("sync manager stopped")
		}()

		sm.runPass(ctx)
		if sm.interval <= 0 {
			return
		}

		ticker := time.NewTicker(sm.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				sm.runPass(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight pass to return.
func (sm *SyncManager) Stop() {
	sm.mu.Lock()
	if !sm.running {
		done := sm.done
		sm.mu.Unlock()
		if done != nil {
			<-done
		}
		return
	}
	close(sm.stop)
	sm.running = false
	done := sm.done
	sm.mu.Unlock()
	<-done
}

func (sm *SyncManager) IsRunning() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.running
}

// LastStats returns the result of the most recent pass, or nil.
func (sm *SyncManager) LastStats() *SyncStats {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.last
}

func (sm *SyncManager) runPass(ctx context.Context) {
	stats, err := sm.FullSync(ctx)
	if err != nil {
		sm.logger.Warn("catalog sync finished with errors", zap.Error(err))
	}

	sm.mu.Lock()
	sm.last = stats
	onFinish := sm.onFinish
	sm.mu.Unlock()

	if onFinish != nil {
		onFinish(stats)
	}
}

// FullSync mirrors artists, albums with their songs and, when authenticated,
// the customer's playlists. Individual failures are collected, not fatal.
func (sm *SyncManager) FullSync(ctx context.Context) (*SyncStats, error) {
	stats := &SyncStats{StartTime: time.Now()}

	steps := []struct {
		name string
		fn   func(context.Context, *SyncStats) error
	}{
		{"artists", sm.syncArtists},
		{"albums", sm.syncAlbums},
		{"playlists", sm.syncPlaylists},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			stats.EndTime = time.Now()
			return stats, err
		}
		if err := step.fn(ctx, stats); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("sync %s: %v", step.name, err))
		}
	}

	stats.EndTime = time.Now()
	sm.logger.Info("catalog sync completed",
		zap.Duration("elapsed", stats.EndTime.Sub(stats.StartTime)),
		zap.Int("artists", stats.Artists),
		zap.Int("albums", stats.Albums),
		zap.Int("songs", stats.Songs),
		zap.Int("playlists", stats.Playlists),
		zap.Int("errors", len(stats.Errors)))

	if len(stats.Errors) > 0 {
		return stats, fmt.Errorf("sync completed with %d errors", len(stats.Errors))
	}
	return stats, nil
}

func (sm *SyncManager) syncArtists(ctx context.Context, stats *SyncStats) error {
	artists, err := sm.source.GetArtists(ctx)
	if err != nil {
		return err
	}
	if err := sm.storage.SaveArtists(ctx, artists); err != nil {
		return err
	}
	stats.Artists = len(artists)
	return nil
}

func (sm *SyncManager) syncAlbums(ctx context.Context, stats *SyncStats) error {
	albums, err := sm.source.GetAlbums(ctx)
	if err != nil {
		return err
	}

	for i, album := range albums {
		if album == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if sm.albumLimit <= 0 || i < sm.albumLimit {
			songs, err := sm.source.GetAlbumSongs(ctx, album.ID)
			if err != nil {
				stats.Errors = append(stats.Errors, fmt.Sprintf("songs of album %d: %v", album.ID, err))
			} else {
				album.Songs = songs
			}
		}

		if err := sm.storage.SaveAlbum(ctx, album); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("save album %d: %v", album.ID, err))
			continue
		}
		stats.Albums++
		stats.Songs += len(album.Songs)
	}
	return nil
}

func (sm *SyncManager) syncPlaylists(ctx context.Context, stats *SyncStats) error {
	if !sm.source.IsAuthenticated() {
		sm.logger.Debug("skipping playlists, not authenticated")
		return nil
	}

	playlists, err := sm.source.GetPlaylists(ctx)
	if err != nil {
		return err
	}

	for _, summary := range playlists {
		if summary == nil {
			continue
		}
		full, err := sm.source.GetPlaylist(ctx, summary.ID)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("get playlist %d: %v", summary.ID, err))
			continue
		}
		if err := sm.storage.SavePlaylist(ctx, full); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("save playlist %d: %v", summary.ID, err))
			continue
		}
		stats.Playlists++
	}
	return nil
}
