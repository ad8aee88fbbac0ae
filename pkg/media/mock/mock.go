// Package mock provides test doubles for the media.Devices and media.Track
// interfaces.
//
// Use Devices in unit tests to verify acquisition/release ordering and to
// inject device failures without real capture hardware.
//
// Example:
//
//	d := &mock.Devices{CameraErr: errors.New("permission denied")}
//	_, err := d.OpenCamera(ctx, media.Constraints{})
package mock

import (
	"context"
	"sync"

	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/media"
)

// Track is a mock implementation of media.Track. The zero value is usable;
// its Frames channel is created lazily on first use.
type Track struct {
	// TrackKind is returned by Kind.
	TrackKind media.TrackKind

	mu      sync.Mutex
	frames  chan media.Frame
	stopped bool

	// StopCount is the number of times Stop was called.
	StopCount int

	// StopErr, if non-nil, is returned by the first Stop call.
	StopErr error
}

// Kind returns TrackKind.
func (t *Track) Kind() media.TrackKind { return t.TrackKind }

// Frames returns the mock frame channel, creating it if needed.
func (t *Track) Frames() <-chan media.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frames == nil {
		t.frames = make(chan media.Frame, 64)
	}
	return t.frames
}

// Push delivers a frame to consumers of Frames. Pushing after Stop is a no-op.
func (t *Track) Push(f media.Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	if t.frames == nil {
		t.frames = make(chan media.Frame, 64)
	}
	select {
	case t.frames <- f:
	default:
	}
}

// Stop records the call, closes the frame channel, and returns StopErr on the
// first invocation only. Safe to call multiple times.
func (t *Track) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.StopCount++
	if t.stopped {
		return nil
	}
	t.stopped = true
	if t.frames == nil {
		t.frames = make(chan media.Frame, 64)
	}
	close(t.frames)
	return t.StopErr
}

// Stopped reports whether the track has been stopped. Thread-safe.
func (t *Track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// OpenCall records a single device acquisition.
type OpenCall struct {
	// Ctx is the context passed to the Open method.
	Ctx context.Context
	// Constraints is the constraint set passed to the Open method.
	Constraints media.Constraints
}

// Devices is a mock implementation of media.Devices. Each Open method
// returns a fresh *Track unless a fixed result or error is configured.
type Devices struct {
	mu sync.Mutex

	// --- Configurable results ---

	// CameraTrack, MicrophoneTrack, ScreenTrack, AvatarAudioTrack override
	// the track returned by the corresponding Open method. When nil, a new
	// *Track is created.
	CameraTrack      *Track
	MicrophoneTrack  *Track
	ScreenTrack      *Track
	AvatarAudioTrack *Track

	// CameraErr, MicrophoneErr, ScreenErr, AvatarAudioErr inject acquisition
	// failures.
	CameraErr      error
	MicrophoneErr  error
	ScreenErr      error
	AvatarAudioErr error

	// --- Call records (read after test) ---

	// CameraCalls, MicrophoneCalls, ScreenCalls, AvatarAudioCalls record
	// every invocation of the corresponding Open method in order.
	CameraCalls      []OpenCall
	MicrophoneCalls  []OpenCall
	ScreenCalls      []OpenCall
	AvatarAudioCalls []OpenCall

	// OpenedTracks lists every track handed out, in acquisition order.
	OpenedTracks []*Track
}

// OpenCamera records the call and returns CameraTrack (or a new video track)
// unless CameraErr is set.
func (d *Devices) OpenCamera(ctx context.Context, c media.Constraints) (media.Track, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CameraCalls = append(d.CameraCalls, OpenCall{Ctx: ctx, Constraints: c})
	if d.CameraErr != nil {
		return nil, d.CameraErr
	}
	tr := d.CameraTrack
	if tr == nil {
		tr = &Track{TrackKind: media.TrackVideo}
	}
	d.OpenedTracks = append(d.OpenedTracks, tr)
	return tr, nil
}

// OpenMicrophone records the call and returns MicrophoneTrack (or a new audio
// track) unless MicrophoneErr is set.
func (d *Devices) OpenMicrophone(ctx context.Context, c media.Constraints) (media.Track, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.MicrophoneCalls = append(d.MicrophoneCalls, OpenCall{Ctx: ctx, Constraints: c})
	if d.MicrophoneErr != nil {
		return nil, d.MicrophoneErr
	}
	tr := d.MicrophoneTrack
	if tr == nil {
		tr = &Track{TrackKind: media.TrackAudio}
	}
	d.OpenedTracks = append(d.OpenedTracks, tr)
	return tr, nil
}

// OpenScreen records the call and returns ScreenTrack (or a new video track)
// unless ScreenErr is set.
func (d *Devices) OpenScreen(ctx context.Context, c media.Constraints) (media.Track, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ScreenCalls = append(d.ScreenCalls, OpenCall{Ctx: ctx, Constraints: c})
	if d.ScreenErr != nil {
		return nil, d.ScreenErr
	}
	tr := d.ScreenTrack
	if tr == nil {
		tr = &Track{TrackKind: media.TrackVideo}
	}
	d.OpenedTracks = append(d.OpenedTracks, tr)
	return tr, nil
}

// OpenAvatarAudio records the call and returns AvatarAudioTrack (or a new
// audio track) unless AvatarAudioErr is set.
func (d *Devices) OpenAvatarAudio(ctx context.Context, c media.Constraints) (media.Track, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.AvatarAudioCalls = append(d.AvatarAudioCalls, OpenCall{Ctx: ctx, Constraints: c})
	if d.AvatarAudioErr != nil {
		return nil, d.AvatarAudioErr
	}
	tr := d.AvatarAudioTrack
	if tr == nil {
		tr = &Track{TrackKind: media.TrackAudio}
	}
	d.OpenedTracks = append(d.OpenedTracks, tr)
	return tr, nil
}

// LiveTracks returns the number of handed-out tracks that have not been
// stopped. Useful for leak assertions.
func (d *Devices) LiveTracks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, tr := range d.OpenedTracks {
		if !tr.Stopped() {
			n++
		}
	}
	return n
}

// Compile-time interface checks.
var (
	_ media.Devices = (*Devices)(nil)
	_ media.Track   = (*Track)(nil)
)
