package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/wav"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/sonata-music/sonata/internal/config"
	"github.com/sonata-music/sonata/pkg/types"
)

const (
	BackendSpeaker   = "speaker"
	BackendPortaudio = "portaudio"
	BackendNull      = "null"
)

type EngineOptions struct {
	SampleRate     int
	BufferSize     int
	StatusInterval time.Duration
	MinBufferBytes int64
	StallTimeout   time.Duration
	HTTPClient     *http.Client
	Output         Output
	Logger         *zap.Logger
}

// Engine creates one Resource per stream URL. All resources share a
// single Output.
type Engine struct {
	out        Output
	client     *http.Client
	sampleRate beep.SampleRate
	interval   time.Duration
	minBuffer  int64
	stall      time.Duration
	logger     *zap.Logger
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sampleRate := beep.SampleRate(opts.SampleRate)
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	bufferSize := opts.BufferSize
	if bufferSize <= 0 {
		bufferSize = sampleRate.N(time.Second / 10)
	}
	interval := opts.StatusInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	client := opts.HTTPClient
	if client == nil {
		client = newStreamClient(3)
	}

	out := opts.Output
	if out == nil {
		out = newSpeakerOutput()
	}
	if err := out.Init(sampleRate, bufferSize); err != nil {
		return nil, fmt.Errorf("failed to initialize audio output: %w", err)
	}

	logger.Debug("audio engine initialized",
		zap.String("os", runtime.GOOS),
		zap.Int("sample_rate", int(sampleRate)),
		zap.Int("buffer_size", bufferSize))

	return &Engine{
		out:        out,
		client:     client,
		sampleRate: sampleRate,
		interval:   interval,
		minBuffer:  opts.MinBufferBytes,
		stall:      opts.StallTimeout,
		logger:     logger.Named("audio"),
	}, nil
}

// NewEngineFromConfig picks the output backend named in cfg.Audio.Backend.
func NewEngineFromConfig(cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	var (
		out  Output
		null *NullOutput
	)
	switch strings.ToLower(cfg.Audio.Backend) {
	case "", BackendSpeaker:
		out = newSpeakerOutput()
	case BackendPortaudio:
		pa, err := newPortaudioOutput()
		if err != nil {
			return nil, err
		}
		out = pa
	case BackendNull:
		null = NewNullOutput()
		out = null
	default:
		return nil, fmt.Errorf("unknown audio backend %q", cfg.Audio.Backend)
	}

	engine, err := NewEngine(EngineOptions{
		SampleRate:     cfg.Audio.SampleRate,
		BufferSize:     cfg.Audio.BufferSize,
		StatusInterval: time.Duration(cfg.Audio.StatusIntervalMs) * time.Millisecond,
		MinBufferBytes: int64(cfg.Audio.MinBufferKB) * 1024,
		StallTimeout:   time.Duration(cfg.Audio.StallTimeoutSec) * time.Second,
		HTTPClient:     newStreamClient(cfg.API.Retries),
		Output:         out,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	if null != nil {
		null.Start()
	}
	return engine, nil
}

const streamHeaderTimeout = 15 * time.Second

// newStreamClient retries the initial request only; a broken body mid-stream
// surfaces as a playback error. Body stalls are handled by StreamReader.
func newStreamClient(retries int) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = retries
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = nil
	if t, ok := rc.HTTPClient.Transport.(*http.Transport); ok {
		t.ResponseHeaderTimeout = streamHeaderTimeout
	}
	return rc.StandardClient()
}

// Create opens url, decodes it and starts the resource. Local paths and
// file:// URLs are read from disk.
func (e *Engine) Create(ctx context.Context, rawURL string, opts types.ResourceOptions, onStatus types.StatusFunc) (types.AudioResource, error) {
	raw, err := e.open(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	src := &source{ReadSeekCloser: raw}

	stop := context.AfterFunc(ctx, func() { _ = src.Close() })
	decoder, format, err := decode(src)
	if !stop() {
		if decoder != nil {
			_ = decoder.Close()
		}
		_ = src.Close()
		return nil, ctx.Err()
	}
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("decode %s: %w", rawURL, err)
	}

	r := newResource(e, src, decoder, format, opts, onStatus)
	e.logger.Debug("resource created",
		zap.String("url", rawURL),
		zap.Int("sample_rate", int(format.SampleRate)),
		zap.Int("channels", format.NumChannels),
		zap.Duration("duration", format.SampleRate.D(decoder.Len())))

	r.start()
	return r, nil
}

func (e *Engine) open(ctx context.Context, rawURL string) (io.ReadSeekCloser, error) {
	u, err := url.Parse(rawURL)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		sr := NewStreamReader(e.client, rawURL, e.minBuffer, e.stall, e.logger)
		if err := sr.WaitReady(ctx); err != nil {
			_ = sr.Close()
			return nil, fmt.Errorf("open stream: %w", err)
		}
		return sr, nil
	}

	path := rawURL
	if err == nil && u.Scheme == "file" {
		path = u.Path
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

// source lets the decoder and the resource both close the stream. Only the
// first Close reaches the underlying reader.
type source struct {
	io.ReadSeekCloser
	once sync.Once
	err  error
}

func (s *source) Close() error {
	s.once.Do(func() { s.err = s.ReadSeekCloser.Close() })
	return s.err
}

// IsBuffering reports the underlying reader's state when it tracks one.
func (s *source) IsBuffering() bool {
	if b, ok := s.ReadSeekCloser.(interface{ IsBuffering() bool }); ok {
		return b.IsBuffering()
	}
	return false
}

// decode sniffs the container and hands the source to the matching decoder.
func decode(src io.ReadSeekCloser) (beep.StreamSeekCloser, beep.Format, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(src, header); err != nil {
		return nil, beep.Format{}, fmt.Errorf("read header: %w", err)
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, beep.Format{}, fmt.Errorf("rewind: %w", err)
	}

	if bytes.Equal(header, []byte("RIFF")) {
		return wav.Decode(src)
	}
	return mp3.Decode(src)
}

// Close stops the output. Resources still alive go silent.
func (e *Engine) Close() error {
	return e.out.Close()
}

func volumeEffect(s beep.Streamer, volume float64) *effects.Volume {
	return &effects.Volume{
		Streamer: s,
		Base:     2,
		Volume:   (volume - 1) * 5,
		Silent:   volume == 0,
	}
}
