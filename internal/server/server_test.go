package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonata-music/sonata/internal/api"
	"github.com/sonata-music/sonata/internal/handlers"
	"github.com/sonata-music/sonata/internal/playback"
	"github.com/sonata-music/sonata/pkg/types"
)

type fakePlayer struct {
	mu      sync.Mutex
	snap    playback.Snapshot
	calls   []string
	playErr error
	tracks  []types.Track
	start   int
	seekTo  int64
}

func (f *fakePlayer) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakePlayer) Snapshot() playback.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakePlayer) PlayTrack(ctx context.Context, track types.Track) error {
	f.record("track")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.playErr != nil {
		return f.playErr
	}
	f.snap.CurrentTrack = &track
	return nil
}

func (f *fakePlayer) PlayPlaylist(ctx context.Context, tracks []types.Track, startIndex int) error {
	f.record("playlist")
	f.mu.Lock()
	defer f.mu.Unlock()
	if startIndex < 0 || startIndex >= len(tracks) {
		return &playback.InvalidIndexError{Index: startIndex, Len: len(tracks)}
	}
	f.tracks, f.start = tracks, startIndex
	f.snap.Queue = tracks
	f.snap.CurrentIndex = startIndex
	return f.playErr
}

func (f *fakePlayer) NextTrack(ctx context.Context) error {
	f.record("next")
	return f.playErr
}

func (f *fakePlayer) PrevTrack(ctx context.Context) error {
	f.record("prev")
	return nil
}

func (f *fakePlayer) PauseTrack() error {
	f.record("pause")
	return nil
}

func (f *fakePlayer) ResumeTrack() error {
	f.record("resume")
	return nil
}

func (f *fakePlayer) SeekTo(ms int64) error {
	f.record("seek")
	f.mu.Lock()
	f.seekTo = ms
	f.mu.Unlock()
	return nil
}

func (f *fakePlayer) ToggleRepeatMode() types.RepeatMode {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap.RepeatMode = f.snap.RepeatMode.Next()
	return f.snap.RepeatMode
}

func (f *fakePlayer) SetRepeatMode(mode types.RepeatMode) {
	f.mu.Lock()
	f.snap.RepeatMode = mode
	f.mu.Unlock()
}

func (f *fakePlayer) setErr(err error) {
	f.mu.Lock()
	f.playErr = err
	f.mu.Unlock()
}

func (f *fakePlayer) queued() ([]types.Track, int, int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tracks, f.start, f.seekTo
}

func (f *fakePlayer) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeLibrary struct{}

func (fakeLibrary) AlbumTracks(ctx context.Context, id int64) ([]types.Track, error) {
	if id == 404 {
		return nil, fmt.Errorf("get songs of album %d: %w", id, api.ErrNotFound)
	}
	return []types.Track{{ID: id * 10}, {ID: id*10 + 1}}, nil
}

func (fakeLibrary) PlaylistTracks(ctx context.Context, id int64) ([]types.Track, error) {
	return []types.Track{{ID: 1}}, nil
}

func newTestServer(t *testing.T) (*Server, *fakePlayer, *httptest.Server) {
	t.Helper()
	player := &fakePlayer{snap: playback.Snapshot{SessionID: "s1", CurrentIndex: -1}}
	s := New(player, fakeLibrary{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go s.RunHub(ctx)

	ts := httptest.NewServer(s.Router())
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return s, player, ts
}

func do(t *testing.T, ts *httptest.Server, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealthAndSnapshot(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, body := do(t, ts, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, body = do(t, ts, http.MethodGet, "/api/player", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "s1", body["sessionId"])
	assert.Equal(t, "off", body["repeatMode"])
}

func TestControls(t *testing.T) {
	_, player, ts := newTestServer(t)

	for _, path := range []string{"pause", "resume", "next", "prev"} {
		resp, _ := do(t, ts, http.MethodPost, "/api/player/"+path, "")
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	resp, _ := do(t, ts, http.MethodPost, "/api/player/seek", `{"positionMillis":90000}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_, _, seekTo := player.queued()
	assert.Equal(t, int64(90000), seekTo)

	resp, _ = do(t, ts, http.MethodPost, "/api/player/seek", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Equal(t, []string{"pause", "resume", "next", "prev", "seek"}, player.callLog())
}

func TestRepeat(t *testing.T) {
	_, _, ts := newTestServer(t)

	_, body := do(t, ts, http.MethodPost, "/api/player/repeat", "")
	assert.Equal(t, "all", body["repeatMode"])
	_, body = do(t, ts, http.MethodPost, "/api/player/repeat", "")
	assert.Equal(t, "one", body["repeatMode"])

	_, body = do(t, ts, http.MethodPost, "/api/player/repeat", `{"mode":"off"}`)
	assert.Equal(t, "off", body["repeatMode"])

	resp, _ := do(t, ts, http.MethodPost, "/api/player/repeat", `{"mode":"sideways"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPlayRequests(t *testing.T) {
	_, player, ts := newTestServer(t)

	resp, body := do(t, ts, http.MethodPost, "/api/player/track", `{"track":{"id":5,"title":"Five"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	current := body["currentTrack"].(map[string]any)
	assert.Equal(t, "Five", current["title"])

	resp, _ = do(t, ts, http.MethodPost, "/api/player/track", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, ts, http.MethodPost, "/api/player/playlist", `{"tracks":[{"id":1},{"id":2}],"startIndex":1}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, start, _ := player.queued()
	assert.Equal(t, 1, start)

	resp, body = do(t, ts, http.MethodPost, "/api/player/playlist", `{"tracks":[],"startIndex":0}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "empty")
}

func TestPlayCollections(t *testing.T) {
	_, player, ts := newTestServer(t)

	resp, _ := do(t, ts, http.MethodPost, "/api/library/albums/7/play?start=1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tracks, start, _ := player.queued()
	assert.Equal(t, []types.Track{{ID: 70}, {ID: 71}}, tracks)
	assert.Equal(t, 1, start)

	resp, _ = do(t, ts, http.MethodPost, "/api/library/playlists/3/play", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, ts, http.MethodPost, "/api/library/albums/404/play", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, ts, http.MethodPost, "/api/library/albums/abc/play", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&playback.InvalidIndexError{Index: 3, Len: 1}, http.StatusBadRequest},
		{&playback.StreamResolutionError{TrackID: 1, Err: errors.New("timeout")}, http.StatusBadGateway},
		{&playback.StreamResolutionError{TrackID: 1, Err: api.ErrAccessDenied}, http.StatusForbidden},
		{&playback.EngineLoadError{TrackID: 1, Err: errors.New("decode")}, http.StatusBadGateway},
		{playback.ErrSuperseded, http.StatusConflict},
		{fmt.Errorf("wrapped: %w", playback.ErrSessionClosed), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestPlaybackErrorResponse(t *testing.T) {
	_, player, ts := newTestServer(t)
	player.setErr(playback.ErrSuperseded)

	resp, body := do(t, ts, http.MethodPost, "/api/player/next", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, playback.ErrSuperseded.Error(), body["error"])
}

func TestWebsocketStreamsSnapshots(t *testing.T) {
	s, _, ts := newTestServer(t)
	bus := handlers.NewEventBus()
	s.Attach(bus)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first playback.Snapshot
	require.NoError(t, ws.ReadJSON(&first))
	assert.Equal(t, "s1", first.SessionID)

	// the client may register with the hub just after the initial message
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				bus.Publish(handlers.TopicPlaybackState, playback.Snapshot{SessionID: "s1", Version: 42})
			}
		}
	}()

	var next playback.Snapshot
	err = ws.ReadJSON(&next)
	close(stop)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), next.Version)
}

func TestWebsocketBurstEndsOnLatestSnapshot(t *testing.T) {
	s, _, ts := newTestServer(t)
	bus := handlers.NewEventBus()
	s.Attach(bus)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))

	var snap playback.Snapshot
	require.NoError(t, ws.ReadJSON(&snap))

	// wait until the hub forwards to this client
	stop := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				bus.Publish(handlers.TopicPlaybackState, playback.Snapshot{SessionID: "s1", Version: 1})
			}
		}
	}()
	require.NoError(t, ws.ReadJSON(&snap))
	close(stop)
	<-stopped

	const burst = 10 * sendBuffer
	for v := 2; v <= burst; v++ {
		bus.Publish(handlers.TopicPlaybackState, playback.Snapshot{SessionID: "s1", Version: uint64(v)})
	}

	last := snap.Version
	for last < burst {
		snap = playback.Snapshot{}
		require.NoError(t, ws.ReadJSON(&snap), "last version seen: %d", last)
		require.GreaterOrEqual(t, snap.Version, last)
		last = snap.Version
	}
	assert.Equal(t, uint64(burst), last)
}

func TestHubBroadcastKeepsLatest(t *testing.T) {
	h := NewHub(nil)
	for i := 0; i < 3*sendBuffer; i++ {
		h.Broadcast([]byte(fmt.Sprintf("msg-%d", i)))
	}

	assert.Len(t, h.pending, 1)
	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, fmt.Sprintf("msg-%d", 3*sendBuffer-1), string(h.latest))
}

func TestDeliverEvictsOldest(t *testing.T) {
	c := &client{send: make(chan []byte, 2)}
	deliver(c, []byte("a"))
	deliver(c, []byte("b"))
	deliver(c, []byte("c"))

	require.Len(t, c.send, 2)
	assert.Equal(t, "b", string(<-c.send))
	assert.Equal(t, "c", string(<-c.send))
}

func TestWebsocketRejectsForeignOrigin(t *testing.T) {
	_, _, ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{}
	header.Set("Origin", "http://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
