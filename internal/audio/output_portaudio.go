//go:build portaudio

package audio

import (
	"fmt"
	"sync"

	"github.com/gopxl/beep"
	"github.com/gordonklaus/portaudio"
)

// portaudioOutput drives a PortAudio default stream from a beep mixer.
type portaudioOutput struct {
	mu     sync.Mutex
	mixer  beep.Mixer
	buf    [][2]float64
	stream *portaudio.Stream
}

func newPortaudioOutput() (Output, error) {
	return &portaudioOutput{}, nil
}

func (o *portaudioOutput) Init(sampleRate beep.SampleRate, bufferSize int) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio initialize: %w", err)
	}

	stream, err := portaudio.OpenDefaultStream(0, 2, float64(sampleRate), bufferSize, o.fill)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("portaudio open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("portaudio start stream: %w", err)
	}
	o.stream = stream
	return nil
}

func (o *portaudioOutput) fill(out [][]float32) {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := len(out[0])
	if cap(o.buf) < n {
		o.buf = make([][2]float64, n)
	}
	buf := o.buf[:n]
	for i := range buf {
		buf[i] = [2]float64{}
	}
	o.mixer.Stream(buf)
	for i := range buf {
		out[0][i] = float32(buf[i][0])
		out[1][i] = float32(buf[i][1])
	}
}

func (o *portaudioOutput) Play(s beep.Streamer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.mixer.Add(s)
}

func (o *portaudioOutput) Lock()   { o.mu.Lock() }
func (o *portaudioOutput) Unlock() { o.mu.Unlock() }

func (o *portaudioOutput) Close() error {
	o.mu.Lock()
	o.mixer.Clear()
	o.mu.Unlock()

	if o.stream == nil {
		return nil
	}
	if err := o.stream.Stop(); err != nil {
		return err
	}
	if err := o.stream.Close(); err != nil {
		return err
	}
	return portaudio.Terminate()
}
