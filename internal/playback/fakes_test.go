package playback

import (
	"context"
	"fmt"
	"sync"

	"github.com/sonata-music/sonata/pkg/types"
)

type fakeEngine struct {
	mu        sync.Mutex
	creates   int
	unloads   int
	alive     int
	maxAlive  int
	resources []*fakeResource
	urls      []string
	createErr map[string]error
	gates     map[string]chan struct{}
	entered   chan string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		createErr: make(map[string]error),
		gates:     make(map[string]chan struct{}),
		entered:   make(chan string, 16),
	}
}

func (e *fakeEngine) Create(ctx context.Context, url string, opts types.ResourceOptions, onStatus types.StatusFunc) (types.AudioResource, error) {
	e.mu.Lock()
	gate := e.gates[url]
	err := e.createErr[url]
	e.mu.Unlock()

	select {
	case e.entered <- url:
	default:
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.creates++
	e.alive++
	if e.alive > e.maxAlive {
		e.maxAlive = e.alive
	}
	r := &fakeResource{engine: e, url: url, opts: opts, onStatus: onStatus, playing: opts.AutoPlay}
	e.resources = append(e.resources, r)
	e.urls = append(e.urls, url)
	return r, nil
}

func (e *fakeEngine) counts() (creates, unloads, alive, maxAlive int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.creates, e.unloads, e.alive, e.maxAlive
}

func (e *fakeEngine) last() *fakeResource {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.resources) == 0 {
		return nil
	}
	return e.resources[len(e.resources)-1]
}

func (e *fakeEngine) createdURLs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.urls...)
}

type fakeResource struct {
	engine   *fakeEngine
	url      string
	opts     types.ResourceOptions
	onStatus types.StatusFunc

	mu       sync.Mutex
	unloaded bool
	playing  bool
	seeks    []int64
	pauses   int
	plays    int
}

func (r *fakeResource) Play() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unloaded {
		return types.ErrResourceUnloaded
	}
	r.plays++
	r.playing = true
	return nil
}

func (r *fakeResource) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unloaded {
		return types.ErrResourceUnloaded
	}
	r.pauses++
	r.playing = false
	return nil
}

func (r *fakeResource) SeekTo(positionMillis int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unloaded {
		return types.ErrResourceUnloaded
	}
	r.seeks = append(r.seeks, positionMillis)
	return nil
}

func (r *fakeResource) Unload() error {
	r.mu.Lock()
	if r.unloaded {
		r.mu.Unlock()
		return types.ErrResourceUnloaded
	}
	r.unloaded = true
	r.mu.Unlock()

	r.engine.mu.Lock()
	r.engine.unloads++
	r.engine.alive--
	r.engine.mu.Unlock()
	return nil
}

func (r *fakeResource) Status() types.PlaybackStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return types.PlaybackStatus{
		IsLoaded:       !r.unloaded,
		IsPlaying:      r.playing && !r.unloaded,
		DurationMillis: 180000,
	}
}

func (r *fakeResource) isUnloaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unloaded
}

// emit delivers a status event the way the engine would.
func (r *fakeResource) emit(st types.PlaybackStatus) {
	r.onStatus(st)
}

type fakeResolver struct {
	mu        sync.Mutex
	errs      map[int64]error
	gates     map[int64]chan struct{}
	ignoreCtx bool
	// signed makes every resolution return a distinct URL, like a signed
	// CDN link that expires.
	signed  bool
	calls   map[int64]int
	started chan int64
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		errs:    make(map[int64]error),
		gates:   make(map[int64]chan struct{}),
		calls:   make(map[int64]int),
		started: make(chan int64, 16),
	}
}

func streamURL(id int64) string {
	return fmt.Sprintf("https://cdn.test/stream/%d.mp3", id)
}

func signedURL(id int64, n int) string {
	return fmt.Sprintf("%s?sig=%d", streamURL(id), n)
}

func (f *fakeResolver) ResolveStream(ctx context.Context, trackID int64) (*types.StreamInfo, error) {
	f.mu.Lock()
	f.calls[trackID]++
	call := f.calls[trackID]
	signed := f.signed
	gate := f.gates[trackID]
	err := f.errs[trackID]
	ignoreCtx := f.ignoreCtx
	f.mu.Unlock()

	select {
	case f.started <- trackID:
	default:
	}
	if gate != nil {
		if ignoreCtx {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if err != nil {
		return nil, err
	}
	url := streamURL(trackID)
	if signed {
		url = signedURL(trackID, call)
	}
	return &types.StreamInfo{TrackID: trackID, URL: url, HasAccess: true}, nil
}

func (f *fakeResolver) callCount(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func track(id int64) types.Track {
	return types.Track{ID: id, Title: fmt.Sprintf("Track %d", id), ArtistName: "Artist"}
}

func tracks(ids ...int64) []types.Track {
	out := make([]types.Track, 0, len(ids))
	for _, id := range ids {
		out = append(out, track(id))
	}
	return out
}
