//go:build !portaudio

package audio

import "errors"

func newPortaudioOutput() (Output, error) {
	return nil, errors.New("portaudio backend not compiled in (build with -tags portaudio)")
}
