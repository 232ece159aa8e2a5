// Package presence announces what the local player is doing on a Redis
// channel so other devices of the same listener can show it.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sonata-music/sonata/internal/config"
	"github.com/sonata-music/sonata/internal/handlers"
	"github.com/sonata-music/sonata/internal/playback"
	"github.com/sonata-music/sonata/pkg/types"
)

const (
	EventTrackStarted = "track_started"
	EventState        = "state"

	publishTimeout = 2 * time.Second
	outboxSize     = 32
)

// Event is the JSON message published on the channel.
type Event struct {
	Type      string             `json:"type"`
	SessionID string             `json:"sessionId"`
	Track     *types.Track       `json:"track,omitempty"`
	State     *playback.Snapshot `json:"state,omitempty"`
	At        time.Time          `json:"at"`
}

// Publisher relays session events to Redis from a single goroutine.
type Publisher struct {
	rdb       *redis.Client
	channel   string
	sessionID string
	logger    *zap.Logger

	mu     sync.RWMutex
	outbox chan Event
	subs   []handlers.Subscription
	bus    *handlers.EventBus
	done   chan struct{}

	lastState   *playback.Snapshot
	lastStateAt time.Time
}

// New returns nil when presence is not configured.
func New(cfg *config.Config, sessionID string, logger *zap.Logger) *Publisher {
	if cfg.Presence.RedisAddr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Presence.RedisAddr,
		Password: cfg.Presence.RedisPassword,
		DB:       cfg.Presence.RedisDB,
	})
	return NewWithClient(rdb, cfg.Presence.Channel, sessionID, logger)
}

func NewWithClient(rdb *redis.Client, channel, sessionID string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		rdb:       rdb,
		channel:   channel,
		sessionID: sessionID,
		logger:    logger.Named("presence"),
	}
}

// Ping checks that Redis is reachable.
func (p *Publisher) Ping(ctx context.Context) error {
	if err := p.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("presence redis: %w", err)
	}
	return nil
}

// Start subscribes to the session topics on bus and publishes until Stop.
func (p *Publisher) Start(ctx context.Context, bus *handlers.EventBus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.outbox != nil {
		return
	}

	p.bus = bus
	p.outbox = make(chan Event, outboxSize)
	p.done = make(chan struct{})
	p.subs = []handlers.Subscription{
		bus.Subscribe(handlers.TopicTrackStarted, p.onTrackStarted),
		bus.Subscribe(handlers.TopicPlaybackState, p.onState),
	}

	go p.run(context.WithoutCancel(ctx), p.outbox, p.done)
}

// Stop unsubscribes, flushes queued events and closes the Redis client.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if p.outbox == nil {
		p.mu.Unlock()
		return p.rdb.Close()
	}
	for _, sub := range p.subs {
		p.bus.Unsubscribe(sub)
	}
	close(p.outbox)
	p.outbox = nil
	done := p.done
	p.mu.Unlock()

	<-done
	return p.rdb.Close()
}

func (p *Publisher) onTrackStarted(data interface{}) {
	track, ok := data.(types.Track)
	if !ok {
		return
	}
	p.enqueue(Event{Type: EventTrackStarted, SessionID: p.sessionID, Track: &track, At: time.Now()})
}

// onState forwards snapshots that change what a remote viewer would show.
// Position-only updates are published at most once per second.
func (p *Publisher) onState(data interface{}) {
	snap, ok := data.(playback.Snapshot)
	if !ok {
		return
	}
	p.enqueue(Event{Type: EventState, SessionID: p.sessionID, State: &snap, At: time.Now()})
}

func (p *Publisher) enqueue(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.outbox == nil {
		return
	}

	if ev.Type == EventState {
		if p.lastState != nil && !significant(*p.lastState, *ev.State) && ev.At.Sub(p.lastStateAt) < time.Second {
			return
		}
		p.lastState, p.lastStateAt = ev.State, ev.At
	}

	select {
	case p.outbox <- ev:
	default:
		p.logger.Debug("presence outbox full, dropping event", zap.String("type", ev.Type))
	}
}

func significant(prev, next playback.Snapshot) bool {
	return trackID(prev) != trackID(next) ||
		prev.CurrentIndex != next.CurrentIndex ||
		prev.IsPlaying != next.IsPlaying ||
		prev.IsBuffering != next.IsBuffering ||
		prev.Loaded != next.Loaded ||
		prev.RepeatMode != next.RepeatMode ||
		len(prev.Queue) != len(next.Queue)
}

func trackID(s playback.Snapshot) int64 {
	if s.CurrentTrack == nil {
		return 0
	}
	return s.CurrentTrack.ID
}

func (p *Publisher) run(ctx context.Context, outbox <-chan Event, done chan<- struct{}) {
	defer close(done)

	for ev := range outbox {
		payload, err := json.Marshal(ev)
		if err != nil {
			p.logger.Warn("failed to encode presence event", zap.Error(err))
			continue
		}

		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		err = p.rdb.Publish(pubCtx, p.channel, payload).Err()
		cancel()
		if err != nil {
			p.logger.Debug("presence publish failed", zap.String("type", ev.Type), zap.Error(err))
		}
	}
}
