// Package avatar defines the Service interface for streaming-avatar backends.
//
// An avatar provider wraps a real-time video avatar vendor (e.g., HeyGen
// streaming, a local renderer) and exposes a uniform connection abstraction:
// request speech playback of text chunks, interrupt the current speech, and
// receive lifecycle notifications (stream ready, speaking start/stop, remote
// disconnect).
//
// Implementations must be safe for concurrent use.
package avatar

import (
	"context"

	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/provider/token"
)

// Quality selects the avatar video stream quality.
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

// IsValid reports whether q is a recognised quality setting.
func (q Quality) IsValid() bool {
	switch q {
	case QualityLow, QualityMedium, QualityHigh:
		return true
	}
	return false
}

// Events bundles the lifecycle callbacks a caller may register on a
// [Connection]. Nil fields are simply not invoked. Callbacks run on the
// connection's internal goroutine and must not block.
type Events struct {
	// StreamReady fires once the remote video stream is established and the
	// avatar is visible.
	StreamReady func()

	// SpeakingStarted fires when the avatar begins voicing a chunk.
	SpeakingStarted func()

	// SpeakingStopped fires when the avatar finishes or is interrupted.
	SpeakingStopped func()

	// Disconnected fires when the remote side terminates the connection.
	// The session treats this as fatal; reason is vendor-supplied.
	Disconnected func(reason string)
}

// Playback is the completion handle for one Speak request.
//
// Done is closed when the avatar has finished voicing the chunk (or the
// attempt failed); after Done is closed, Err reports whether playback
// completed cleanly. Callers that tear down mid-playback may abandon the
// handle — implementations must not require it to be drained.
type Playback interface {
	// Done returns a channel closed when playback resolves.
	Done() <-chan struct{}

	// Err returns the playback error, or nil. Only meaningful after Done is
	// closed.
	Err() error
}

// Connection represents an active avatar streaming session.
//
// A Connection is obtained from [Service.Connect] and remains valid until
// [Connection.Close] is called or the remote side disconnects. Callers must
// call [Connection.Detach] before Close so that no callback fires into a
// torn-down session.
//
// Implementations must be safe for concurrent use.
type Connection interface {
	// Bind registers the event callbacks. Only one set may be registered at
	// a time; subsequent calls replace the previous registration.
	Bind(ev Events)

	// Detach removes all registered callbacks. After Detach returns, no
	// callback will be invoked.
	Detach()

	// Speak requests playback of a text chunk and returns a [Playback]
	// completion handle. Chunks are voiced in the order Speak is called;
	// callers wanting strict ordering must await each handle before issuing
	// the next request.
	Speak(ctx context.Context, text string) (Playback, error)

	// Interrupt cancels the avatar's current speech, if any. A subsequent
	// SpeakingStopped event confirms the interruption.
	Interrupt(ctx context.Context) error

	// SetMuted mutes or unmutes the avatar's input audio.
	SetMuted(muted bool) error

	// Close terminates the connection and releases all resources. Safe to
	// call multiple times; subsequent calls return nil.
	Close() error
}

// Service is the abstraction over any streaming-avatar backend.
//
// Implementations must be safe for concurrent use.
type Service interface {
	// Connect establishes an avatar streaming session using a short-lived
	// credential and the requested stream quality. The caller owns the
	// returned Connection and must call Close when done.
	Connect(ctx context.Context, cred token.Credential, quality Quality) (Connection, error)
}
