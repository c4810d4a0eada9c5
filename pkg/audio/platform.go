// Package audio defines the audio formats, codec helpers and capture
// abstractions used by voxcast.
//
// The codec half converts between browser float samples, the 16 kHz PCM
// uploaded to live sessions, the base64 fragments returned by speech
// synthesis, and playable WAV containers. The capture half defines [Source]
// and [Capture], the narrow interfaces behind which a microphone lives. In
// production the microphone is a browser streaming samples over a WebSocket;
// tests use the in-memory implementations in audio/mock.
package audio

import (
	"context"
	"errors"
)

// ErrPermissionDenied is returned by [Source.Open] when the user refused
// microphone access.
var ErrPermissionDenied = errors.New("audio: microphone permission denied")

// Capture is an open microphone stream.
//
// Frames are delivered in capture order on a single channel which is closed
// when the capture ends, either because Close was called or because the
// underlying device went away. Implementations must be safe for concurrent
// use.
type Capture interface {
	// Frames returns the channel of captured sample frames in [-1, 1].
	Frames() <-chan []float32

	// SampleRate returns the rate at which Frames were captured.
	SampleRate() int

	// Close stops the capture and releases the device. Calling Close more
	// than once is safe and returns nil.
	Close() error
}

// Source opens microphone captures.
type Source interface {
	// Open requests microphone access. It returns [ErrPermissionDenied] (possibly
	// wrapped) when the user refused, or another error when the device could not
	// be opened. The caller owns the returned Capture and must Close it.
	Open(ctx context.Context) (Capture, error)
}
