package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sonata-music/sonata/internal/handlers"
	"github.com/sonata-music/sonata/pkg/types"
)

type Options struct {
	Engine   types.AudioEngine
	Resolver types.StreamResolver
	Bus      *handlers.EventBus
	Logger   *zap.Logger

	Volume     float64
	RepeatMode types.RepeatMode
}

// Session owns the playback queue and at most one live audio resource.
//
// Every load is tagged with a generation number. A newer request bumps the
// generation, so late resolver results and late engine status events from an
// older load are recognized and dropped. opMu serializes the resource
// lifecycle (unload, create, install, control calls) and is always taken
// before mu. The engine is never called while mu is held.
type Session struct {
	id       string
	engine   types.AudioEngine
	resolver types.StreamResolver
	bus      *handlers.EventBus
	logger   *zap.Logger
	volume   float64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	opMu sync.Mutex

	mu          sync.Mutex
	queue       []types.Track
	index       int
	current     *types.Track
	resource    types.AudioResource
	loaded      bool
	generation  uint64
	cancelLoad  context.CancelFunc
	repeat      types.RepeatMode
	status      types.PlaybackStatus
	isPlaying   bool
	isBuffering bool
	version     uint64
	closed      bool
}

func NewSession(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	volume := opts.Volume
	if volume <= 0 {
		volume = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Session{
		id:       uuid.NewString(),
		engine:   opts.Engine,
		resolver: opts.Resolver,
		bus:      opts.Bus,
		logger:   logger.Named("playback"),
		volume:   volume,
		ctx:      ctx,
		cancel:   cancel,
		index:    -1,
		repeat:   opts.RepeatMode,
	}
}

func (s *Session) ID() string { return s.id }

// Snapshot returns the current state without publishing it.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// selection is what a command wants to play next. A nil queue keeps the
// current one.
type selection struct {
	queue []types.Track
	index int
	track types.Track
}

type picker func() (selection, bool)

// PlayTrack plays a single track. When the track is already in the queue the
// index moves to it, otherwise the queue becomes just this track.
func (s *Session) PlayTrack(ctx context.Context, track types.Track) error {
	return s.play(ctx, func() (selection, bool) {
		for i, t := range s.queue {
			if t.ID == track.ID {
				return selection{index: i, track: track}, true
			}
		}
		return selection{queue: []types.Track{track}, index: 0, track: track}, true
	})
}

// PlayPlaylist replaces the queue and starts at startIndex.
func (s *Session) PlayPlaylist(ctx context.Context, tracks []types.Track, startIndex int) error {
	if len(tracks) == 0 || startIndex < 0 || startIndex >= len(tracks) {
		return &InvalidIndexError{Index: startIndex, Len: len(tracks)}
	}

	queue := make([]types.Track, len(tracks))
	copy(queue, tracks)

	return s.play(ctx, func() (selection, bool) {
		return selection{queue: queue, index: startIndex, track: queue[startIndex]}, true
	})
}

// NextTrack advances the queue. At the end it wraps only in RepeatAll and is
// a no-op otherwise.
func (s *Session) NextTrack(ctx context.Context) error {
	return s.play(ctx, s.pickNext)
}

// PrevTrack moves back one position. It never wraps.
func (s *Session) PrevTrack(ctx context.Context) error {
	return s.play(ctx, func() (selection, bool) {
		if s.index <= 0 || s.index >= len(s.queue) {
			return selection{}, false
		}
		i := s.index - 1
		return selection{index: i, track: s.queue[i]}, true
	})
}

func (s *Session) pickNext() (selection, bool) {
	n := len(s.queue)
	if n == 0 || s.index < 0 {
		return selection{}, false
	}
	i := s.index + 1
	if i >= n {
		if s.repeat != types.RepeatAll {
			return selection{}, false
		}
		i = 0
	}
	return selection{index: i, track: s.queue[i]}, true
}

func (s *Session) PauseTrack() error {
	return s.control("pause", func(res types.AudioResource) error {
		return res.Pause()
	}, func() {
		s.isPlaying = false
	})
}

func (s *Session) ResumeTrack() error {
	return s.control("resume", func(res types.AudioResource) error {
		return res.Play()
	}, func() {
		s.isPlaying = true
	})
}

// SeekTo forwards the position to the engine, which clamps it.
func (s *Session) SeekTo(positionMillis int64) error {
	return s.control("seek", func(res types.AudioResource) error {
		return res.SeekTo(positionMillis)
	}, func() {
		pos := positionMillis
		if pos < 0 {
			pos = 0
		}
		if d := s.status.DurationMillis; d > 0 && pos > d {
			pos = d
		}
		s.status.PositionMillis = pos
	})
}

// ToggleRepeatMode cycles off -> all -> one -> off and returns the new mode.
// It never touches the live resource; the mode is consulted at the next
// natural completion.
func (s *Session) ToggleRepeatMode() types.RepeatMode {
	s.mu.Lock()
	s.repeat = s.repeat.Next()
	mode := s.repeat
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Debug("repeat mode changed", zap.Stringer("mode", mode))
	s.publishState(snap)
	return mode
}

func (s *Session) SetRepeatMode(mode types.RepeatMode) {
	s.mu.Lock()
	s.repeat = mode
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publishState(snap)
}

// QueueState captures what is needed to restore the queue later.
func (s *Session) QueueState() types.QueueState {
	s.mu.Lock()
	defer s.mu.Unlock()

	tracks := make([]types.Track, len(s.queue))
	copy(tracks, s.queue)
	return types.QueueState{
		Tracks:       tracks,
		CurrentIndex: s.index,
		RepeatMode:   s.repeat,
	}
}

// Restore loads a saved queue without starting playback. It is ignored once
// something has been played in this session.
func (s *Session) Restore(state types.QueueState) bool {
	s.mu.Lock()
	if s.closed || s.resource != nil || s.current != nil || len(s.queue) > 0 {
		s.mu.Unlock()
		return false
	}

	s.queue = make([]types.Track, len(state.Tracks))
	copy(s.queue, state.Tracks)
	s.index = state.CurrentIndex
	if s.index < 0 || s.index >= len(s.queue) {
		s.index = -1
		if len(s.queue) > 0 {
			s.index = 0
		}
	}
	s.repeat = state.RepeatMode
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publishState(snap)
	return true
}

// Close unloads the live resource and rejects further commands. Auto-advance
// work still in flight is waited for.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	if s.cancelLoad != nil {
		s.cancelLoad()
		s.cancelLoad = nil
	}
	s.mu.Unlock()
	s.cancel()

	s.opMu.Lock()
	s.mu.Lock()
	s.closed = true
	s.generation++
	res := s.resource
	s.resource = nil
	s.loaded = false
	s.current = nil
	s.isPlaying = false
	s.isBuffering = false
	snap := s.snapshotLocked()
	s.mu.Unlock()

	err := s.release(res)
	s.opMu.Unlock()

	s.wg.Wait()
	s.publishState(snap)
	return err
}

// play runs the three phases of a load: claim a new generation and drop the
// old resource, resolve the stream without holding any lock, then create and
// install the new resource if the generation is still current.
func (s *Session) play(ctx context.Context, pick picker) error {
	gen, sel, ok, err := s.begin(pick)
	if err != nil || !ok {
		return err
	}
	return s.load(ctx, gen, sel.track)
}

func (s *Session) begin(pick picker) (uint64, selection, bool, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, selection{}, false, ErrSessionClosed
	}
	if _, ok := pick(); !ok {
		s.mu.Unlock()
		return 0, selection{}, false, nil
	}
	if s.cancelLoad != nil {
		s.cancelLoad()
		s.cancelLoad = nil
	}
	s.mu.Unlock()

	s.opMu.Lock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.opMu.Unlock()
		return 0, selection{}, false, ErrSessionClosed
	}
	sel, ok := pick()
	if !ok {
		s.mu.Unlock()
		s.opMu.Unlock()
		return 0, selection{}, false, nil
	}

	s.generation++
	gen := s.generation
	if sel.queue != nil {
		s.queue = sel.queue
	}
	s.index = sel.index
	old := s.resource
	s.resource = nil
	s.loaded = false
	s.current = nil
	s.isPlaying = false
	s.isBuffering = true
	s.status = types.PlaybackStatus{}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	err := s.release(old)
	s.opMu.Unlock()
	if err != nil {
		s.logger.Warn("failed to unload previous resource", zap.Error(err))
	}

	s.publishState(snap)
	return gen, sel, true, nil
}

func (s *Session) load(ctx context.Context, gen uint64, track types.Track) error {
	loadCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return ErrSuperseded
	}
	s.cancelLoad = cancel
	s.mu.Unlock()

	log := s.logger.With(zap.Int64("track_id", track.ID), zap.Uint64("generation", gen))

	if !track.HasStream() {
		url, err := s.resolve(loadCtx, track.ID)
		if !s.isCurrent(gen) || cancelledByNewer(ctx, loadCtx) {
			return ErrSuperseded
		}
		if err != nil {
			log.Warn("stream resolution failed", zap.Error(err))
			return s.fail(gen, &StreamResolutionError{TrackID: track.ID, Err: err})
		}
		track.StreamURL = url
	}

	snap, err := s.install(loadCtx, gen, &track)
	if err != nil {
		if cancelledByNewer(ctx, loadCtx) {
			return ErrSuperseded
		}
		var loadErr *EngineLoadError
		if errors.As(err, &loadErr) {
			log.Warn("engine failed to load track", zap.Error(loadErr.Err))
			return s.fail(gen, err)
		}
		return err
	}

	log.Info("track started", zap.String("title", track.Title))
	s.publishState(snap)
	s.publish(handlers.TopicTrackStarted, withoutStream(track))
	return nil
}

// install creates the engine resource for track and makes it current.
func (s *Session) install(ctx context.Context, gen uint64, track *types.Track) (Snapshot, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	// generation and closed only change under opMu, so this holds until return.
	if !s.isCurrent(gen) {
		return Snapshot{}, ErrSuperseded
	}

	opts := types.ResourceOptions{
		AutoPlay: true,
		Looping:  false,
		Volume:   s.volume,
	}
	res, err := s.engine.Create(ctx, track.StreamURL, opts, func(st types.PlaybackStatus) {
		s.onStatusUpdate(gen, st)
	})
	if err != nil {
		return Snapshot{}, &EngineLoadError{TrackID: track.ID, URL: track.StreamURL, Err: err}
	}

	st := res.Status()

	s.mu.Lock()
	defer s.mu.Unlock()
	installed := *track
	s.resource = res
	s.loaded = true
	s.current = &installed
	s.cancelLoad = nil
	s.isPlaying = true
	s.isBuffering = st.IsBuffering
	if st.DurationMillis > 0 {
		s.status.DurationMillis = st.DurationMillis
	} else if track.DurationMillis > 0 {
		s.status.DurationMillis = track.DurationMillis
	}
	return s.snapshotLocked(), nil
}

func (s *Session) resolve(ctx context.Context, trackID int64) (string, error) {
	if s.resolver == nil {
		return "", errNoResolver
	}
	info, err := s.resolver.ResolveStream(ctx, trackID)
	if err != nil {
		return "", err
	}
	if info == nil || info.URL == "" {
		return "", errNoStreamURL
	}
	return info.URL, nil
}

// fail settles a load that could not produce a resource. The queue and index
// are kept so the user can retry or skip.
func (s *Session) fail(gen uint64, err error) error {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return ErrSuperseded
	}
	s.cancelLoad = nil
	s.current = nil
	s.isPlaying = false
	s.isBuffering = false
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publishState(snap)
	s.publish(handlers.TopicPlaybackError, err)
	return err
}

func (s *Session) control(name string, op func(types.AudioResource) error, apply func()) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	res := s.resource
	loaded := s.loaded
	gen := s.generation
	s.mu.Unlock()

	if res == nil || !loaded || !res.Status().IsLoaded {
		s.logger.Debug("ignoring command, nothing loaded", zap.String("command", name))
		return nil
	}

	if err := op(res); err != nil {
		if errors.Is(err, types.ErrResourceUnloaded) {
			return nil
		}
		return fmt.Errorf("%s: %w", name, err)
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return nil
	}
	apply()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publishState(snap)
	return nil
}

// onStatusUpdate receives engine events for the resource of generation gen.
func (s *Session) onStatusUpdate(gen uint64, st types.PlaybackStatus) {
	s.mu.Lock()
	if s.closed || gen != s.generation {
		s.mu.Unlock()
		return
	}

	if st.DurationMillis > 0 {
		s.status.DurationMillis = st.DurationMillis
	}
	s.status.PositionMillis = st.PositionMillis
	s.isPlaying = st.IsPlaying
	s.isBuffering = st.IsBuffering

	var replay, advance bool
	switch {
	case st.Error != nil:
		// The handle stays installed so the next load or Close unloads it.
		s.loaded = false
		s.isPlaying = false
		s.isBuffering = false
	case st.DidJustFinish && !st.IsLooping:
		s.isPlaying = false
		if s.repeat == types.RepeatOne {
			replay = true
		} else {
			advance = true
		}
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publishState(snap)

	if st.Error != nil {
		s.logger.Warn("playback error", zap.Uint64("generation", gen), zap.Error(st.Error))
		s.publish(handlers.TopicPlaybackError, st.Error)
		return
	}

	switch {
	case replay:
		s.spawn(func(ctx context.Context) error { return s.replay(ctx, gen) })
	case advance:
		s.spawn(func(ctx context.Context) error { return s.advance(ctx, gen) })
	}
}

// replay starts the current track again from the beginning.
func (s *Session) replay(ctx context.Context, gen uint64) error {
	return s.play(ctx, func() (selection, bool) {
		if s.generation != gen || s.current == nil {
			return selection{}, false
		}
		// Replay the queue entry, not the installed copy: a resolved stream
		// URL can expire while the track plays.
		track := *s.current
		if s.index >= 0 && s.index < len(s.queue) && s.queue[s.index].ID == track.ID {
			track = s.queue[s.index]
		} else {
			track.StreamURL = ""
		}
		return selection{index: s.index, track: track}, true
	})
}

func (s *Session) advance(ctx context.Context, gen uint64) error {
	return s.play(ctx, func() (selection, bool) {
		if s.generation != gen {
			return selection{}, false
		}
		return s.pickNext()
	})
}

// spawn runs completion handling off the engine's callback goroutine.
func (s *Session) spawn(fn func(ctx context.Context) error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		err := fn(s.ctx)
		if err == nil || errors.Is(err, ErrSuperseded) || errors.Is(err, ErrSessionClosed) {
			return
		}
		s.logger.Warn("auto-advance failed", zap.Error(err))
	}()
}

// cancelledByNewer reports whether loadCtx was cancelled by the session
// rather than by the caller's ctx.
func cancelledByNewer(ctx, loadCtx context.Context) bool {
	return ctx.Err() == nil && loadCtx.Err() != nil
}

func (s *Session) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && gen == s.generation
}

func (s *Session) release(res types.AudioResource) error {
	if res == nil {
		return nil
	}
	if err := res.Unload(); err != nil && !errors.Is(err, types.ErrResourceUnloaded) {
		return err
	}
	return nil
}

func (s *Session) publishState(snap Snapshot) {
	s.publish(handlers.TopicPlaybackState, snap)
}

func (s *Session) publish(topic string, data interface{}) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(topic, data)
}
