// Package capture defines the speech capture abstraction: a vendor-backed
// streaming speech-to-text session that converts microphone audio into
// transcripts delivered through callbacks.
package capture

import (
	"context"
	"errors"
	"io"
	"net"
	"time"
)

// ErrNoSpeech indicates a capture attempt that ended without any usable
// speech, e.g. the candidate stayed silent until the vendor timed out.
var ErrNoSpeech = errors.New("capture: no speech detected")

// Transcript is one recognition result from the capture vendor.
type Transcript struct {
	// Text is the recognized utterance.
	Text string
	// IsFinal reports whether the vendor considers this result stable.
	// Interim results may be revised by later messages.
	IsFinal bool
	// Confidence is the vendor's confidence in the result, 0..1.
	Confidence float64
	// Duration is the length of audio the result covers.
	Duration time.Duration
}

// Config controls a capture session.
type Config struct {
	// Continuous keeps the session open across utterances instead of
	// finishing after the first final result.
	Continuous bool
	// InterimResults requests non-final transcripts while speech is ongoing.
	InterimResults bool
	// Language is the BCP-47 recognition language (e.g. "en", "en-GB").
	Language string
	// SampleRate is the PCM sample rate in Hz of audio sent to the session.
	SampleRate int
}

// Handlers receives capture session events. Nil callbacks are skipped.
// Callbacks are invoked from the session's read goroutine and must not block.
type Handlers struct {
	// OnAudioStart fires when the vendor first detects speech energy.
	OnAudioStart func()
	// OnResult fires for each transcript, interim or final.
	OnResult func(Transcript)
	// OnEnd fires when the session ends cleanly, after the last result.
	OnEnd func()
	// OnError fires when the session ends abnormally. Recoverable reports
	// whether the error is worth an automatic restart.
	OnError func(err error)
}

// Session is a live capture stream.
type Session interface {
	// SendAudio queues one PCM chunk for recognition. Returns an error if
	// the session is closed.
	SendAudio(chunk []byte) error
	// Close terminates the session. Safe to call multiple times. No
	// callbacks fire after Close returns.
	Close() error
}

// Service creates capture sessions.
type Service interface {
	// Start opens a streaming recognition session. Events are delivered via
	// h until the session ends or Close is called.
	Start(ctx context.Context, cfg Config, h Handlers) (Session, error)
}

// Recoverable reports whether a capture error is transient — a network drop,
// vendor hiccup, or silent utterance — and the session is worth restarting.
// Configuration and authorization failures are not recoverable.
func Recoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoSpeech) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
