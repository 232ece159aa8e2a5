package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sonata-music/sonata/internal/handlers"
	"github.com/sonata-music/sonata/pkg/types"
)

const historyQueueSize = 64

// HistoryStore persists play history.
type HistoryStore interface {
	RecordPlay(ctx context.Context, entry *types.PlayHistoryEntry) error
	RecentPlays(ctx context.Context, limit int) ([]*types.PlayHistoryEntry, error)
	PrunePlayHistory(ctx context.Context, keep int) (int64, error)
}

// HistoryService records every started track. Events are queued and written
// by one worker so the publishing goroutine never waits on the database.
type HistoryService struct {
	store     HistoryStore
	bus       *handlers.EventBus
	retention int
	logger    *zap.Logger

	mu      sync.RWMutex
	queue   chan types.PlayHistoryEntry
	sub     handlers.Subscription
	running bool
	done    chan struct{}
}

// NewHistoryService creates the service. retention <= 0 keeps every entry.
func NewHistoryService(store HistoryStore, bus *handlers.EventBus, retention int, logger *zap.Logger) *HistoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryService{
		store:     store,
		bus:       bus,
		retention: retention,
		logger:    logger.Named("history"),
	}
}

func (h *HistoryService) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}

	h.running = true
	h.queue = make(chan types.PlayHistoryEntry, historyQueueSize)
	h.done = make(chan struct{})
	h.sub = h.bus.Subscribe(handlers.TopicTrackStarted, h.onTrackStarted)

	go h.run(context.WithoutCancel(ctx), h.queue, h.done)
}

// Stop unsubscribes and waits until queued entries are written.
func (h *HistoryService) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.bus.Unsubscribe(h.sub)
	close(h.queue)
	done := h.done
	h.mu.Unlock()

	<-done
}

func (h *HistoryService) Recent(ctx context.Context, limit int) ([]*types.PlayHistoryEntry, error) {
	return h.store.RecentPlays(ctx, limit)
}

func (h *HistoryService) onTrackStarted(data interface{}) {
	track, ok := data.(types.Track)
	if !ok {
		return
	}

	entry := types.PlayHistoryEntry{
		TrackID:    track.ID,
		Title:      track.Title,
		ArtistName: track.ArtistName,
		PlayedAt:   time.Now(),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return
	}
	select {
	case h.queue <- entry:
	default:
		h.logger.Warn("history queue full, dropping entry", zap.Int64("track_id", track.ID))
	}
}

func (h *HistoryService) run(ctx context.Context, queue <-chan types.PlayHistoryEntry, done chan<- struct{}) {
	defer close(done)

	written := 0
	for entry := range queue {
		if err := h.store.RecordPlay(ctx, &entry); err != nil {
			h.logger.Warn("failed to record play", zap.Int64("track_id", entry.TrackID), zap.Error(err))
			continue
		}
		written++

		if h.retention > 0 && written%historyQueueSize == 0 {
			if n, err := h.store.PrunePlayHistory(ctx, h.retention); err != nil {
				h.logger.Debug("failed to prune history", zap.Error(err))
			} else if n > 0 {
				h.logger.Debug("pruned history", zap.Int64("removed", n))
			}
		}
	}

	if h.retention > 0 && written > 0 {
		if _, err := h.store.PrunePlayHistory(ctx, h.retention); err != nil {
			h.logger.Debug("failed to prune history", zap.Error(err))
		}
	}
}
