package presence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonata-music/sonata/internal/config"
	"github.com/sonata-music/sonata/internal/handlers"
	"github.com/sonata-music/sonata/internal/playback"
	"github.com/sonata-music/sonata/pkg/types"
)

func setup(t *testing.T) (*Publisher, *redis.PubSub, *handlers.EventBus) {
	t.Helper()
	mr := miniredis.RunT(t)

	listener := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = listener.Close() })
	sub := listener.Subscribe(context.Background(), "presence-test")
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Presence.RedisAddr = mr.Addr()
	cfg.Presence.Channel = "presence-test"
	p := New(cfg, "session-1", nil)
	require.NotNil(t, p)
	require.NoError(t, p.Ping(context.Background()))

	bus := handlers.NewEventBus()
	p.Start(context.Background(), bus)
	return p, sub, bus
}

func receive(t *testing.T, sub *redis.PubSub) Event {
	t.Helper()
	select {
	case msg := <-sub.Channel():
		var ev Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no presence event received")
		return Event{}
	}
}

func TestNewWithoutRedis(t *testing.T) {
	assert.Nil(t, New(config.Default(), "s", nil))
}

func TestPublishesTrackStarted(t *testing.T) {
	p, sub, bus := setup(t)

	bus.Publish(handlers.TopicTrackStarted, types.Track{ID: 9, Title: "Naima", ArtistName: "John Coltrane"})

	ev := receive(t, sub)
	assert.Equal(t, EventTrackStarted, ev.Type)
	assert.Equal(t, "session-1", ev.SessionID)
	require.NotNil(t, ev.Track)
	assert.Equal(t, "Naima", ev.Track.Title)

	require.NoError(t, p.Stop())
}

func TestThrottlesPositionUpdates(t *testing.T) {
	p, sub, bus := setup(t)
	track := &types.Track{ID: 1}

	bus.Publish(handlers.TopicPlaybackState, playback.Snapshot{CurrentTrack: track, IsPlaying: true, PositionMillis: 100})
	bus.Publish(handlers.TopicPlaybackState, playback.Snapshot{CurrentTrack: track, IsPlaying: true, PositionMillis: 350})
	bus.Publish(handlers.TopicPlaybackState, playback.Snapshot{CurrentTrack: track, IsPlaying: false, PositionMillis: 400})

	first := receive(t, sub)
	require.NotNil(t, first.State)
	assert.Equal(t, int64(100), first.State.PositionMillis)

	second := receive(t, sub)
	require.NotNil(t, second.State)
	assert.False(t, second.State.IsPlaying, "the pause is published, the position tick is not")
	assert.Equal(t, int64(400), second.State.PositionMillis)

	require.NoError(t, p.Stop())
}

func TestStopUnsubscribes(t *testing.T) {
	p, _, bus := setup(t)
	require.NoError(t, p.Stop())

	// no handler left to deliver to, and no panic on a closed outbox
	bus.Publish(handlers.TopicTrackStarted, types.Track{ID: 1})
	p.enqueue(Event{Type: EventTrackStarted})
}
