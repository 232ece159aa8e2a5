package audio

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonata-music/sonata/pkg/types"
)

const testRate = beep.SampleRate(8000)

// writeWAV encodes d of silence and returns the file path.
func writeWAV(t *testing.T, d time.Duration) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	format := beep.Format{SampleRate: testRate, NumChannels: 1, Precision: 2}
	require.NoError(t, wav.Encode(f, beep.Silence(testRate.N(d)), format))
	return path
}

func newTestEngine(t *testing.T) (*Engine, *NullOutput) {
	t.Helper()
	out := NewNullOutput()
	e, err := NewEngine(EngineOptions{
		SampleRate:     int(testRate),
		BufferSize:     256,
		StatusInterval: 5 * time.Millisecond,
		Output:         out,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e, out
}

type recorder struct {
	mu     sync.Mutex
	events []types.PlaybackStatus
}

func (r *recorder) record(st types.PlaybackStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, st)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) finishes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, st := range r.events {
		if st.DidJustFinish {
			n++
		}
	}
	return n
}

func autoPlay() types.ResourceOptions {
	return types.ResourceOptions{AutoPlay: true, Volume: 1}
}

func TestCreateFromFile(t *testing.T) {
	e, out := newTestEngine(t)
	path := writeWAV(t, 500*time.Millisecond)

	var rec recorder
	res, err := e.Create(context.Background(), path, autoPlay(), rec.record)
	require.NoError(t, err)
	defer res.Unload()

	st := res.Status()
	assert.True(t, st.IsLoaded)
	assert.True(t, st.IsPlaying)
	assert.False(t, st.IsLooping)
	assert.Equal(t, int64(500), st.DurationMillis)
	assert.Equal(t, int64(0), st.PositionMillis)

	out.Pump(testRate.N(250 * time.Millisecond))
	assert.Equal(t, int64(250), res.Status().PositionMillis)
}

func TestCreateFromFileURL(t *testing.T) {
	e, _ := newTestEngine(t)
	path := writeWAV(t, 100*time.Millisecond)

	res, err := e.Create(context.Background(), "file://"+path, autoPlay(), nil)
	require.NoError(t, err)
	defer res.Unload()

	assert.Equal(t, int64(100), res.Status().DurationMillis)
}

func TestCreateMissingFile(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Create(context.Background(), filepath.Join(t.TempDir(), "nope.mp3"), autoPlay(), nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFinishEmittedOnce(t *testing.T) {
	e, out := newTestEngine(t)
	path := writeWAV(t, 200*time.Millisecond)

	var rec recorder
	res, err := e.Create(context.Background(), path, autoPlay(), rec.record)
	require.NoError(t, err)
	defer res.Unload()

	out.Pump(testRate.N(time.Second))
	require.Eventually(t, func() bool { return rec.finishes() == 1 }, 2*time.Second, 5*time.Millisecond)

	out.Pump(testRate.N(time.Second))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, rec.finishes())

	st := res.Status()
	assert.False(t, st.IsPlaying)
	assert.Equal(t, st.DurationMillis, st.PositionMillis)
}

func TestLoopingNeverFinishes(t *testing.T) {
	e, out := newTestEngine(t)
	path := writeWAV(t, 100*time.Millisecond)

	var rec recorder
	opts := autoPlay()
	opts.Looping = true
	res, err := e.Create(context.Background(), path, opts, rec.record)
	require.NoError(t, err)
	defer res.Unload()

	out.Pump(testRate.N(350 * time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	assert.Zero(t, rec.finishes())
	st := res.Status()
	assert.True(t, st.IsLooping)
	assert.True(t, st.IsPlaying)
}

func TestPauseStopsProgress(t *testing.T) {
	e, out := newTestEngine(t)
	path := writeWAV(t, 500*time.Millisecond)

	res, err := e.Create(context.Background(), path, autoPlay(), nil)
	require.NoError(t, err)
	defer res.Unload()

	out.Pump(testRate.N(100 * time.Millisecond))
	require.NoError(t, res.Pause())
	out.Pump(testRate.N(200 * time.Millisecond))

	st := res.Status()
	assert.Equal(t, int64(100), st.PositionMillis)
	assert.False(t, st.IsPlaying)

	require.NoError(t, res.Play())
	out.Pump(testRate.N(100 * time.Millisecond))
	assert.Equal(t, int64(200), res.Status().PositionMillis)
}

func TestCreateWithoutAutoPlayStartsPaused(t *testing.T) {
	e, out := newTestEngine(t)
	path := writeWAV(t, 300*time.Millisecond)

	res, err := e.Create(context.Background(), path, types.ResourceOptions{Volume: 1}, nil)
	require.NoError(t, err)
	defer res.Unload()

	out.Pump(testRate.N(100 * time.Millisecond))
	st := res.Status()
	assert.False(t, st.IsPlaying)
	assert.Equal(t, int64(0), st.PositionMillis)
}

func TestSeekClamps(t *testing.T) {
	e, _ := newTestEngine(t)
	path := writeWAV(t, 500*time.Millisecond)

	res, err := e.Create(context.Background(), path, autoPlay(), nil)
	require.NoError(t, err)
	defer res.Unload()

	require.NoError(t, res.SeekTo(300))
	assert.Equal(t, int64(300), res.Status().PositionMillis)

	require.NoError(t, res.SeekTo(-100))
	assert.Equal(t, int64(0), res.Status().PositionMillis)

	require.NoError(t, res.SeekTo(60000))
	pos := res.Status().PositionMillis
	assert.GreaterOrEqual(t, pos, int64(499))
	assert.LessOrEqual(t, pos, int64(500))
}

func TestUnload(t *testing.T) {
	e, out := newTestEngine(t)
	path := writeWAV(t, 300*time.Millisecond)

	var rec recorder
	res, err := e.Create(context.Background(), path, autoPlay(), rec.record)
	require.NoError(t, err)

	require.NoError(t, res.Unload())
	before := rec.count()

	assert.ErrorIs(t, res.Unload(), types.ErrResourceUnloaded)
	assert.ErrorIs(t, res.Play(), types.ErrResourceUnloaded)
	assert.ErrorIs(t, res.Pause(), types.ErrResourceUnloaded)
	assert.ErrorIs(t, res.SeekTo(10), types.ErrResourceUnloaded)
	assert.False(t, res.Status().IsLoaded)

	out.Pump(testRate.N(time.Second))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, before, rec.count())
}

func TestCreateOverHTTP(t *testing.T) {
	e, out := newTestEngine(t)
	path := writeWAV(t, 400*time.Millisecond)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		http.ServeFile(w, r, path)
	}))
	defer srv.Close()

	var rec recorder
	res, err := e.Create(context.Background(), srv.URL+"/stream/7", autoPlay(), rec.record)
	require.NoError(t, err)
	defer res.Unload()

	assert.Equal(t, int64(400), res.Status().DurationMillis)

	out.Pump(testRate.N(time.Second))
	require.Eventually(t, func() bool { return rec.finishes() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestCreateHTTPError(t *testing.T) {
	e, _ := newTestEngine(t)

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := e.Create(context.Background(), srv.URL+"/missing", autoPlay(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")
}

func TestCreateCancelled(t *testing.T) {
	e, _ := newTestEngine(t)

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := e.Create(ctx, srv.URL+"/slow", autoPlay(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

// stallingServer sends the first n bytes of data, then holds the connection
// open without sending more until the test ends.
func stallingServer(t *testing.T, data []byte, n int) *httptest.Server {
	t.Helper()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		_, _ = w.Write(data[:n])
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })
	return srv
}

func TestUnloadWhileDownloadStalls(t *testing.T) {
	e, out := newTestEngine(t)
	data, err := os.ReadFile(writeWAV(t, 2*time.Second))
	require.NoError(t, err)
	srv := stallingServer(t, data, 44+4096)

	res, err := e.Create(context.Background(), srv.URL+"/stream/9", autoPlay(), nil)
	require.NoError(t, err)

	// The output runs past the downloaded bytes and blocks inside a read.
	pumped := make(chan struct{})
	go func() {
		defer close(pumped)
		out.Pump(testRate.N(time.Second))
	}()
	time.Sleep(50 * time.Millisecond)

	unloaded := make(chan error, 1)
	go func() { unloaded <- res.Unload() }()

	select {
	case err := <-unloaded:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("unload blocked on a stalled download")
	}
	select {
	case <-pumped:
	case <-time.After(time.Second):
		t.Fatal("output stayed blocked after unload")
	}
	assert.False(t, res.Status().IsLoaded)
}

func TestStalledDownloadFailsPlayback(t *testing.T) {
	out := NewNullOutput()
	e, err := NewEngine(EngineOptions{
		SampleRate:     int(testRate),
		BufferSize:     256,
		StatusInterval: 5 * time.Millisecond,
		StallTimeout:   100 * time.Millisecond,
		Output:         out,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	data, err := os.ReadFile(writeWAV(t, 2*time.Second))
	require.NoError(t, err)
	srv := stallingServer(t, data, 44+4096)

	var rec recorder
	res, err := e.Create(context.Background(), srv.URL+"/stream/9", autoPlay(), rec.record)
	require.NoError(t, err)
	defer res.Unload()

	go out.Pump(testRate.N(time.Second))

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		for _, st := range rec.events {
			if errors.Is(st.Error, errStalled) {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)
}
