package audio

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopxl/beep"
	"go.uber.org/zap"

	"github.com/sonata-music/sonata/pkg/types"
)

// Resource is one decoded stream playing into the engine's output.
type Resource struct {
	engine   *Engine
	src      io.Closer
	buffered interface{ IsBuffering() bool }
	decoder  beep.StreamSeekCloser
	format   beep.Format
	ctrl     *beep.Ctrl
	onStatus types.StatusFunc
	looping  bool
	logger   *zap.Logger

	finished chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
	closing  atomic.Bool

	mu       sync.Mutex
	unloaded bool
	ended    bool
	failed   error
}

func newResource(e *Engine, src io.ReadSeekCloser, decoder beep.StreamSeekCloser, format beep.Format, opts types.ResourceOptions, onStatus types.StatusFunc) *Resource {
	r := &Resource{
		engine:   e,
		src:      src,
		decoder:  decoder,
		format:   format,
		onStatus: onStatus,
		looping:  opts.Looping,
		logger:   e.logger,
		finished: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	if b, ok := src.(interface{ IsBuffering() bool }); ok {
		r.buffered = b
	}

	var s beep.Streamer = decoder
	if opts.Looping {
		s = beep.Loop(-1, decoder)
	}
	if format.SampleRate != e.sampleRate {
		s = beep.Resample(4, format.SampleRate, e.sampleRate, s)
	}
	volume := opts.Volume
	if volume <= 0 {
		volume = 1
	}
	r.ctrl = &beep.Ctrl{Streamer: volumeEffect(s, volume), Paused: !opts.AutoPlay}
	return r
}

func (r *Resource) start() {
	// The callback runs on the audio thread with the output locked, so it
	// only signals.
	seq := beep.Seq(r.ctrl, beep.Callback(func() {
		select {
		case r.finished <- struct{}{}:
		default:
		}
	}))
	r.engine.out.Play(seq)

	r.wg.Add(1)
	go r.watch()
}

// watch emits status on every change and exactly one DidJustFinish at the
// natural end of a non-looping stream.
func (r *Resource) watch() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.engine.interval)
	defer ticker.Stop()

	var last types.PlaybackStatus
	for {
		select {
		case <-r.done:
			return

		case <-r.finished:
			if r.closing.Load() {
				return
			}
			r.mu.Lock()
			if r.unloaded {
				r.mu.Unlock()
				return
			}
			if err := r.decoder.Err(); err != nil {
				r.mu.Unlock()
				r.fail(err)
				return
			}
			r.ended = true
			r.mu.Unlock()

			st := r.Status()
			st.IsPlaying = false
			st.IsBuffering = false
			st.PositionMillis = st.DurationMillis
			st.DidJustFinish = true
			r.emit(st)
			return

		case <-ticker.C:
			if err := r.decoder.Err(); err != nil {
				if r.closing.Load() {
					return
				}
				r.fail(err)
				return
			}

			st := r.Status()
			if st != last {
				last = st
				r.emit(st)
			}
		}
	}
}

// fail reports a decoder error as the resource's last status.
func (r *Resource) fail(err error) {
	r.mu.Lock()
	r.failed = err
	r.mu.Unlock()

	st := r.Status()
	st.Error = err
	r.logger.Warn("decoder error", zap.Error(err))
	r.emit(st)
}

func (r *Resource) emit(st types.PlaybackStatus) {
	if r.onStatus != nil {
		r.onStatus(st)
	}
}

func (r *Resource) Play() error {
	return r.setPaused(false)
}

func (r *Resource) Pause() error {
	return r.setPaused(true)
}

func (r *Resource) setPaused(paused bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unloaded {
		return types.ErrResourceUnloaded
	}
	if r.ended {
		return nil
	}

	r.engine.out.Lock()
	r.ctrl.Paused = paused
	r.engine.out.Unlock()
	return nil
}

// SeekTo moves to positionMillis, clamped to the stream bounds.
func (r *Resource) SeekTo(positionMillis int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unloaded {
		return types.ErrResourceUnloaded
	}
	if r.ended {
		return nil
	}

	pos := r.format.SampleRate.N(time.Duration(positionMillis) * time.Millisecond)
	if pos < 0 {
		pos = 0
	}
	if n := r.decoder.Len(); n > 0 && pos >= n {
		pos = n - 1
	}

	r.engine.out.Lock()
	err := r.decoder.Seek(pos)
	r.engine.out.Unlock()
	if err != nil {
		r.logger.Debug("seek failed", zap.Int64("position_ms", positionMillis), zap.Error(err))
		return err
	}
	return nil
}

// Unload silences the stream and releases the decoder. No status events are
// delivered once it returns.
//
// The source is closed first: a read waiting on a stalled download holds the
// output lock, and closing the source is what wakes it.
func (r *Resource) Unload() error {
	r.closing.Store(true)
	_ = r.src.Close()

	r.mu.Lock()
	if r.unloaded {
		r.mu.Unlock()
		return types.ErrResourceUnloaded
	}
	r.unloaded = true
	close(r.done)
	r.mu.Unlock()

	r.wg.Wait()

	r.engine.out.Lock()
	r.ctrl.Streamer = nil
	r.engine.out.Unlock()

	return r.decoder.Close()
}

func (r *Resource) Status() types.PlaybackStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.unloaded {
		return types.PlaybackStatus{}
	}

	r.engine.out.Lock()
	position := r.decoder.Position()
	length := r.decoder.Len()
	paused := r.ctrl.Paused
	r.engine.out.Unlock()

	st := types.PlaybackStatus{
		PositionMillis: r.format.SampleRate.D(position).Milliseconds(),
		DurationMillis: r.format.SampleRate.D(length).Milliseconds(),
		IsLoaded:       r.failed == nil,
		IsLooping:      r.looping,
		IsPlaying:      !paused && !r.ended && r.failed == nil,
	}
	if r.buffered != nil && st.IsPlaying {
		st.IsBuffering = r.buffered.IsBuffering()
	}
	if r.ended {
		st.PositionMillis = st.DurationMillis
	}
	return st
}
