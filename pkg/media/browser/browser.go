// Package browser provides a media.Devices implementation fed by the
// candidate's browser over WebSocket.
//
// The interview client opens one WebSocket per capture source against
// [Bridge.ServeHTTP] (conventionally mounted at /media/ingest) and streams
// raw frames as binary messages: little-endian PCM for the microphone,
// encoded video frames for camera and screen. The source is selected with
// the "source" query parameter; audio format is described by "sample_rate"
// and "channels".
//
// On the server side the session orchestrator acquires tracks through the
// standard media.Devices interface. An Open call blocks until the matching
// browser feed is connected or the context expires, so session start
// naturally waits for the client to come up.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/media"
)

// Source names accepted on the ingest endpoint. SourceAvatar carries the
// avatar playback audio looped back by the client so the recording mix can
// include the interviewer's voice.
const (
	SourceCamera     = "camera"
	SourceMicrophone = "microphone"
	SourceScreen     = "screen"
	SourceAvatar     = "avatar"
)

const (
	defaultSampleRate = 16000
	defaultChannels   = 1

	// trackBuffer is the per-track frame queue depth. When the consumer
	// falls behind, the oldest behaviour is to drop the incoming frame
	// rather than stall the WebSocket read loop.
	trackBuffer = 64
)

// Option is a functional option for configuring the Bridge.
type Option func(*Bridge)

// WithOriginPatterns sets the allowed WebSocket origin patterns. Without it
// the bridge only accepts same-origin connections.
func WithOriginPatterns(patterns ...string) Option {
	return func(b *Bridge) { b.originPatterns = patterns }
}

// Bridge accepts browser media feeds and exposes them as media tracks.
// It implements [media.Devices].
type Bridge struct {
	originPatterns []string

	mu      sync.Mutex
	sources map[string]*source
	tracks  map[string]*track
	arrival map[string]chan struct{}
}

// New returns a Bridge with no connected feeds.
func New(opts ...Option) *Bridge {
	b := &Bridge{
		sources: make(map[string]*source),
		tracks:  make(map[string]*track),
		arrival: make(map[string]chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// source is one connected browser feed.
type source struct {
	conn       *websocket.Conn
	sampleRate int
	channels   int
	started    time.Time
}

// ServeHTTP upgrades the request to a WebSocket and ingests frames until the
// client disconnects. A new connection for a source replaces the previous
// one; the replaced connection is closed.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("source")
	switch name {
	case SourceCamera, SourceMicrophone, SourceScreen, SourceAvatar:
	default:
		http.Error(w, fmt.Sprintf("unknown media source %q", name), http.StatusBadRequest)
		return
	}

	sampleRate := queryInt(r, "sample_rate", defaultSampleRate)
	channels := queryInt(r, "channels", defaultChannels)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: b.originPatterns,
	})
	if err != nil {
		slog.Warn("media ingest: websocket accept failed", "source", name, "error", err)
		return
	}

	src := &source{
		conn:       conn,
		sampleRate: sampleRate,
		channels:   channels,
		started:    time.Now(),
	}
	b.attach(name, src)
	slog.Info("media ingest: feed connected",
		"source", name, "sampleRate", sampleRate, "channels", channels)

	b.readFrames(r.Context(), name, src)

	b.detach(name, src)
	conn.Close(websocket.StatusNormalClosure, "feed closed")
	slog.Info("media ingest: feed disconnected", "source", name)
}

// readFrames pumps binary messages from src into the subscribed track, if
// any, until the connection fails or is replaced.
func (b *Bridge) readFrames(ctx context.Context, name string, src *source) {
	for {
		typ, data, err := src.conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageBinary || len(data) == 0 {
			continue
		}

		frame := media.Frame{
			Data:      data,
			Timestamp: time.Since(src.started),
		}
		if name == SourceMicrophone || name == SourceAvatar {
			frame.SampleRate = src.sampleRate
			frame.Channels = src.channels
		}
		b.deliver(name, frame)
	}
}

// deliver hands a frame to the track subscribed to the named source. Frames
// arriving with no subscriber, or with a full subscriber queue, are dropped.
func (b *Bridge) deliver(name string, frame media.Frame) {
	b.mu.Lock()
	t := b.tracks[name]
	b.mu.Unlock()
	if t == nil {
		return
	}
	t.send(frame)
}

// attach registers src as the feed for the named source, replacing and
// closing any previous connection, and wakes Open calls waiting for it.
func (b *Bridge) attach(name string, src *source) {
	b.mu.Lock()
	prev := b.sources[name]
	b.sources[name] = src
	if ch, ok := b.arrival[name]; ok {
		close(ch)
		delete(b.arrival, name)
	}
	b.mu.Unlock()

	if prev != nil {
		prev.conn.Close(websocket.StatusPolicyViolation, "replaced by new feed")
	}
}

// detach removes src as the feed for the named source and ends the
// subscribed track, if the feed was not already replaced.
func (b *Bridge) detach(name string, src *source) {
	b.mu.Lock()
	if b.sources[name] != src {
		b.mu.Unlock()
		return
	}
	delete(b.sources, name)
	t := b.tracks[name]
	delete(b.tracks, name)
	b.mu.Unlock()

	if t != nil {
		t.end()
	}
}

// OpenCamera acquires the camera feed as a video track.
func (b *Bridge) OpenCamera(ctx context.Context, c media.Constraints) (media.Track, error) {
	return b.open(ctx, SourceCamera, media.TrackVideo)
}

// OpenMicrophone acquires the microphone feed as a mono PCM audio track.
func (b *Bridge) OpenMicrophone(ctx context.Context, c media.Constraints) (media.Track, error) {
	return b.open(ctx, SourceMicrophone, media.TrackAudio)
}

// OpenScreen acquires the screen-share feed as a video track.
func (b *Bridge) OpenScreen(ctx context.Context, c media.Constraints) (media.Track, error) {
	return b.open(ctx, SourceScreen, media.TrackVideo)
}

// OpenAvatarAudio subscribes to the avatar playback loopback as a mono PCM
// audio track. Unlike the other Open methods it does not wait for the feed:
// the client only loops avatar audio back once the stream is up, so the track
// starts silent and carries frames from whenever the feed connects.
func (b *Bridge) OpenAvatarAudio(_ context.Context, _ media.Constraints) (media.Track, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tracks[SourceAvatar] != nil {
		return nil, fmt.Errorf("media: %s track already open", SourceAvatar)
	}
	t := newTrack(b, SourceAvatar, media.TrackAudio)
	b.tracks[SourceAvatar] = t
	return t, nil
}

// open subscribes a new track to the named source, waiting for the browser
// feed to connect if it has not yet.
func (b *Bridge) open(ctx context.Context, name string, kind media.TrackKind) (media.Track, error) {
	for {
		b.mu.Lock()
		if b.tracks[name] != nil {
			b.mu.Unlock()
			return nil, fmt.Errorf("media: %s track already open", name)
		}
		if b.sources[name] != nil {
			t := newTrack(b, name, kind)
			b.tracks[name] = t
			b.mu.Unlock()
			return t, nil
		}
		ch, ok := b.arrival[name]
		if !ok {
			ch = make(chan struct{})
			b.arrival[name] = ch
		}
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("media: waiting for %s feed: %w", name, ctx.Err())
		case <-ch:
		}
	}
}

// track is one consumer subscription to a browser feed.
type track struct {
	bridge *Bridge
	name   string
	kind   media.TrackKind
	frames chan media.Frame

	mu      sync.Mutex
	closed  bool
	dropped int64
}

func newTrack(b *Bridge, name string, kind media.TrackKind) *track {
	return &track{
		bridge: b,
		name:   name,
		kind:   kind,
		frames: make(chan media.Frame, trackBuffer),
	}
}

// Kind reports whether this track carries audio or video.
func (t *track) Kind() media.TrackKind { return t.kind }

// Frames returns the channel of captured frames.
func (t *track) Frames() <-chan media.Frame { return t.frames }

// Stop unsubscribes the track from its feed. The browser connection stays
// up; its frames are dropped until a new track is opened.
func (t *track) Stop() error {
	b := t.bridge
	b.mu.Lock()
	if b.tracks[t.name] == t {
		delete(b.tracks, t.name)
	}
	b.mu.Unlock()
	t.end()
	return nil
}

// send delivers a frame unless the track has ended or its queue is full. The
// closed check and the channel send share one lock, so a Stop racing the
// WebSocket read loop can never close the channel under a send.
func (t *track) send(f media.Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.frames <- f:
	default:
		t.dropped++
	}
}

// end closes the frame channel exactly once.
func (t *track) end() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.frames)
	n := t.dropped
	t.mu.Unlock()
	if n > 0 {
		slog.Warn("media ingest: frames dropped on slow consumer",
			"source", t.name, "dropped", n)
	}
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

var _ media.Devices = (*Bridge)(nil)
