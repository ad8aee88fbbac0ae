// Package media defines the interfaces and types for local media device
// acquisition within CommuniQate.
//
// The two primary abstractions are:
//
//   - [Devices] — opens camera, microphone, and screen capture tracks.
//   - [Track] — represents one live capture stream that delivers [Frame]
//     values until it is stopped.
//
// Implementations of these interfaces wrap platform capture backends (a
// browser bridge, a test harness, a headless grabber). The interfaces are
// intentionally narrow so that the session orchestrator stays decoupled from
// capture details.
//
// This package lives under pkg/ because external capture adapters are
// expected to implement [Devices] and [Track].
package media

import (
	"context"
	"time"
)

// TrackKind classifies what a [Track] carries.
type TrackKind int

const (
	// TrackAudio delivers PCM audio frames.
	TrackAudio TrackKind = iota

	// TrackVideo delivers encoded video frames.
	TrackVideo
)

// String returns the human-readable name of the track kind.
func (k TrackKind) String() string {
	switch k {
	case TrackAudio:
		return "AUDIO"
	case TrackVideo:
		return "VIDEO"
	default:
		return "UNKNOWN"
	}
}

// Frame is a single unit of captured media flowing through a [Track].
type Frame struct {
	// Data is the raw payload: little-endian PCM for audio tracks, an
	// encoded video frame for video tracks.
	Data []byte

	// SampleRate in Hz for audio frames (e.g., 16000). Zero for video.
	SampleRate int

	// Channels is the audio channel count (1 = mono). Zero for video.
	Channels int

	// Timestamp marks when this frame was captured, relative to track start.
	Timestamp time.Duration
}

// Constraints describes the requested capture parameters. Zero values let the
// implementation pick its defaults.
type Constraints struct {
	// Width and Height request a video resolution in pixels.
	Width, Height int

	// FrameRate requests a video frame rate in frames per second.
	FrameRate int

	// SampleRate requests an audio sample rate in Hz.
	SampleRate int

	// Channels requests an audio channel count.
	Channels int
}

// Track represents one live capture stream.
//
// A Track is obtained from [Devices] and remains live until [Track.Stop] is
// called. The Frames channel is closed when the track stops, whether by an
// explicit Stop or by the underlying device going away.
//
// Implementations must be safe for concurrent use.
type Track interface {
	// Kind reports whether this track carries audio or video.
	Kind() TrackKind

	// Frames returns the read-only channel of captured frames. The channel
	// is closed when the track ends.
	Frames() <-chan Frame

	// Stop releases the underlying device. It is safe to call Stop more than
	// once; subsequent calls are no-ops and return nil.
	Stop() error
}

// Devices is the entry point for local media acquisition. Each Open call may
// fail — devices can be missing, busy, or denied by the user — and callers
// must treat every failure as reportable but non-panicking.
//
// Implementations must be safe for concurrent use.
type Devices interface {
	// OpenCamera acquires the camera as a video track.
	OpenCamera(ctx context.Context, c Constraints) (Track, error)

	// OpenMicrophone acquires the microphone as a mono PCM audio track.
	OpenMicrophone(ctx context.Context, c Constraints) (Track, error)

	// OpenScreen acquires a screen or window capture as a video track.
	OpenScreen(ctx context.Context, c Constraints) (Track, error)
}
