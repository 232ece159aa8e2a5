package audio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"
)

// Output is the sink resources play into. Lock and Unlock guard streamer
// state that the output's audio thread reads.
type Output interface {
	Init(sampleRate beep.SampleRate, bufferSize int) error
	Play(s beep.Streamer)
	Lock()
	Unlock()
	Close() error
}

var (
	speakerInitialized bool
	speakerMutex       sync.Mutex
)

// speakerOutput plays through the system audio device via beep/speaker.
type speakerOutput struct{}

func newSpeakerOutput() Output { return speakerOutput{} }

func (speakerOutput) Init(sampleRate beep.SampleRate, bufferSize int) error {
	speakerMutex.Lock()
	defer speakerMutex.Unlock()

	if speakerInitialized {
		return nil
	}
	if err := speaker.Init(sampleRate, bufferSize); err != nil {
		return fmt.Errorf("speaker initialization failed: %w", err)
	}
	speakerInitialized = true
	return nil
}

func (speakerOutput) Play(s beep.Streamer) { speaker.Play(s) }
func (speakerOutput) Lock()                { speaker.Lock() }
func (speakerOutput) Unlock()              { speaker.Unlock() }

func (speakerOutput) Close() error {
	speaker.Clear()
	return nil
}

// NullOutput mixes streamers without a device. Samples are pulled either by
// Pump or, after Start, by a goroutine running at the sample rate.
type NullOutput struct {
	mu         sync.Mutex
	mixer      beep.Mixer
	buf        [][2]float64
	sampleRate beep.SampleRate
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

func NewNullOutput() *NullOutput {
	return &NullOutput{}
}

func (o *NullOutput) Init(sampleRate beep.SampleRate, bufferSize int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sampleRate = sampleRate
	o.buf = make([][2]float64, bufferSize)
	return nil
}

func (o *NullOutput) Play(s beep.Streamer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.mixer.Add(s)
}

func (o *NullOutput) Lock()   { o.mu.Lock() }
func (o *NullOutput) Unlock() { o.mu.Unlock() }

// Pump pulls n samples through the mixer.
func (o *NullOutput) Pump(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for n > 0 {
		chunk := n
		if chunk > len(o.buf) {
			chunk = len(o.buf)
		}
		if chunk == 0 {
			o.buf = make([][2]float64, 512)
			continue
		}
		o.mixer.Stream(o.buf[:chunk])
		n -= chunk
	}
}

// Start drains the mixer in real time until Close.
func (o *NullOutput) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.cancel = cancel
	rate := o.sampleRate
	o.mu.Unlock()
	if rate <= 0 {
		rate = 44100
	}

	const tick = 20 * time.Millisecond
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.Pump(rate.N(tick))
			}
		}
	}()
}

func (o *NullOutput) Close() error {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	o.wg.Wait()

	o.mu.Lock()
	o.mixer.Clear()
	o.mu.Unlock()
	return nil
}
