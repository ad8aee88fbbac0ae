// Package listen implements the listening controller: it owns the single
// active speech-capture session, restarts listening in automatic mode, and
// hands final transcripts to the conversation turn pipeline.
package listen

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/commmmunkey/communiqate-ai-b2b-sub001/internal/observe"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/media"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/provider/capture"
)

// Timer keys used with the scheduler. One key per concern, so rescheduling
// always supersedes the pending timer.
const (
	restartKey      = "listen.restart"
	maxUtteranceKey = "listen.max-utterance"
)

// defaultHoldDebounce is the minimum press-and-hold duration in manual mode.
// Shorter releases are treated as accidental and ignored.
const defaultHoldDebounce = 250 * time.Millisecond

// Guard is the slice of the session state machine the controller consults.
// *session.State satisfies it.
type Guard interface {
	// BeginListening reports whether listening may start now. A false return
	// is a silent no-op: the avatar is speaking, a reply is composing, or a
	// capture is already active.
	BeginListening() bool

	// EndListening marks the capture as finished.
	EndListening()
}

// Scheduler is the keyed timer facility used for restarts and the
// max-utterance cap. *session.TimerSet satisfies it.
type Scheduler interface {
	Schedule(key string, d time.Duration, fn func())
	Cancel(key string)
}

// Interrupter cancels avatar speech when the candidate presses to talk.
// avatar.Connection satisfies it.
type Interrupter interface {
	Interrupt(ctx context.Context) error
}

// Config tunes a [Controller].
type Config struct {
	// Language is the recognition language passed to the capture provider.
	Language string

	// SampleRate is the microphone PCM sample rate in Hz.
	SampleRate int

	// AutoRestart enables automatic re-listening after an attempt ends
	// without a transcript or fails recoverably.
	AutoRestart bool

	// RestartDelay is the pause before an automatic restart.
	RestartDelay time.Duration

	// MaxUtterance caps a single listening attempt. Zero disables the cap.
	MaxUtterance time.Duration

	// HoldDebounce is the minimum press-and-hold duration in manual mode.
	// Zero selects the default.
	HoldDebounce time.Duration
}

// Option configures a [Controller].
type Option func(*Controller)

// WithMetrics attaches the metrics instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithInterrupter wires the avatar connection so a manual press can cut the
// avatar off before listening starts.
func WithInterrupter(i Interrupter) Option {
	return func(c *Controller) { c.interrupter = i }
}

// WithAudioSource wires the microphone track whose PCM frames are forwarded
// to the active capture session.
func WithAudioSource(t media.Track) Option {
	return func(c *Controller) { c.audio = t }
}

// Controller owns at most one active capture session at a time.
//
// Every started capture gets a fresh identity; callbacks carry the identity
// of the capture that registered them and are discarded when a newer capture
// (or a stop) has superseded it. All methods are safe for concurrent use.
type Controller struct {
	ctx     context.Context
	svc     capture.Service
	guard   Guard
	timers  Scheduler
	cfg     Config
	handoff func(transcript string)

	metrics     *observe.Metrics
	interrupter Interrupter
	audio       media.Track

	mu        sync.Mutex
	session   capture.Session
	captureID uint64
	finalText string
	startedAt time.Time
	pressedAt time.Time
	stopped   bool
}

// New creates a Controller bound to ctx, which should be the session-scoped
// context: cancelling it stops restarts from spawning new captures. Final
// non-empty transcripts are delivered to handoff on a fresh goroutine.
func New(ctx context.Context, svc capture.Service, guard Guard, timers Scheduler, cfg Config, handoff func(transcript string), opts ...Option) *Controller {
	if cfg.HoldDebounce <= 0 {
		cfg.HoldDebounce = defaultHoldDebounce
	}
	c := &Controller{
		ctx:     ctx,
		svc:     svc,
		guard:   guard,
		timers:  timers,
		cfg:     cfg,
		handoff: handoff,
	}
	for _, o := range opts {
		o(c)
	}
	if c.audio != nil {
		go c.pumpAudio()
	}
	return c
}

// pumpAudio forwards microphone frames to whichever capture session is
// active. Frames arriving between attempts are discarded. Exits when the
// audio track ends.
func (c *Controller) pumpAudio() {
	for frame := range c.audio.Frames() {
		c.mu.Lock()
		sess := c.session
		c.mu.Unlock()
		if sess == nil {
			continue
		}
		if err := sess.SendAudio(frame.Data); err != nil {
			// The attempt just finished under us; the frame is lost.
			slog.Debug("listen: audio send failed", "err", err)
		}
	}
}

// StartListening begins a listening attempt. All guard conditions are silent
// no-ops, not errors: the controller was stopped, a capture is already
// active, or the session phase forbids listening right now.
func (c *Controller) StartListening() {
	c.mu.Lock()
	if c.stopped || c.session != nil || c.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	if !c.guard.BeginListening() {
		c.mu.Unlock()
		return
	}

	c.captureID++
	id := c.captureID
	c.finalText = ""
	c.startedAt = time.Now()
	c.mu.Unlock()

	// Continuous keeps the vendor session open across endpoint pauses; the
	// controller, not the vendor, decides when an attempt is over.
	cfg := capture.Config{
		Continuous:     true,
		InterimResults: false,
		Language:       c.cfg.Language,
		SampleRate:     c.cfg.SampleRate,
	}
	handlers := capture.Handlers{
		OnAudioStart: func() {
			slog.Debug("listen: speech detected", "capture_id", id)
		},
		OnResult: func(tr capture.Transcript) {
			c.onResult(id, tr)
		},
		OnEnd: func() {
			c.finishAttempt(id, nil, "no_transcript")
		},
		OnError: func(err error) {
			c.finishAttempt(id, err, "recoverable_error")
		},
	}

	sess, err := c.svc.Start(c.ctx, cfg, handlers)
	if err != nil {
		c.guard.EndListening()
		if c.metrics != nil {
			c.metrics.RecordProviderError(c.ctx, "capture", "start")
		}
		if c.cfg.AutoRestart && capture.Recoverable(err) {
			slog.Warn("listen: capture start failed, retrying", "err", err)
			c.scheduleRestart("start_failed")
			return
		}
		slog.Error("listen: capture start failed", "err", err)
		return
	}

	c.mu.Lock()
	if id != c.captureID || c.stopped {
		// Superseded while starting; release the orphan and the phase guard,
		// which Stop could not release because the session was not stored yet.
		c.mu.Unlock()
		_ = sess.Close()
		c.guard.EndListening()
		return
	}
	c.session = sess
	c.mu.Unlock()

	if c.cfg.MaxUtterance > 0 {
		c.timers.Schedule(maxUtteranceKey, c.cfg.MaxUtterance, func() {
			c.finishAttempt(id, nil, "max_utterance")
		})
	}
	slog.Debug("listen: capture started", "capture_id", id)
}

// Press starts a manual push-to-talk attempt. If the avatar is speaking it
// is interrupted first so the session can transition to listening.
func (c *Controller) Press() {
	c.mu.Lock()
	c.pressedAt = time.Now()
	c.mu.Unlock()

	if c.interrupter != nil {
		if err := c.interrupter.Interrupt(c.ctx); err != nil {
			slog.Warn("listen: avatar interrupt failed", "err", err)
		}
	}
	c.StartListening()
}

// Release ends a manual push-to-talk attempt. Releases shorter than the
// debounce are ignored and the capture keeps running.
func (c *Controller) Release() {
	c.mu.Lock()
	held := time.Since(c.pressedAt)
	id := c.captureID
	c.mu.Unlock()

	if held < c.cfg.HoldDebounce {
		slog.Debug("listen: release ignored, held too briefly", "held", held)
		return
	}
	c.finishAttempt(id, nil, "manual_release")
}

// Stop tears the controller down: pending timers are cancelled, the active
// capture is closed, and no callback or restart can start a new one.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.captureID++ // invalidate in-flight callbacks
	sess := c.session
	c.session = nil
	c.mu.Unlock()

	c.timers.Cancel(restartKey)
	c.timers.Cancel(maxUtteranceKey)

	if sess != nil {
		_ = sess.Close()
		c.guard.EndListening()
	}
}

// Active reports whether a capture session is currently running.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// onResult handles a transcript from the current capture. A non-empty final
// ends the attempt: the transcript is handed off and listening stops. The
// finish runs on a fresh goroutine because it closes the capture session,
// which must not happen on the vendor's callback goroutine.
func (c *Controller) onResult(id uint64, tr capture.Transcript) {
	if !tr.IsFinal || tr.Text == "" {
		return
	}
	c.mu.Lock()
	if id != c.captureID {
		c.mu.Unlock()
		return
	}
	c.finalText = tr.Text
	c.mu.Unlock()

	go c.finishAttempt(id, nil, "final_result")
}

// finishAttempt completes one listening attempt: it releases the capture,
// hands off a pending transcript, or schedules a restart. Events from
// superseded or already-finished captures are discarded.
func (c *Controller) finishAttempt(id uint64, err error, reason string) {
	c.mu.Lock()
	if id != c.captureID || c.session == nil || c.stopped {
		c.mu.Unlock()
		return
	}
	sess := c.session
	c.session = nil
	text := c.finalText
	c.finalText = ""
	started := c.startedAt
	c.mu.Unlock()

	c.timers.Cancel(maxUtteranceKey)
	if sess != nil {
		_ = sess.Close()
	}
	c.guard.EndListening()

	if c.metrics != nil && !started.IsZero() {
		c.metrics.CaptureDuration.Record(c.ctx, time.Since(started).Seconds())
	}

	if err == nil && text != "" {
		// Deliver off the capture goroutine; the pipeline blocks for the
		// whole turn.
		go c.handoff(text)
		return
	}

	switch {
	case err == nil:
		// Ended without a usable transcript.
		if c.cfg.AutoRestart && reason != "manual_release" {
			c.scheduleRestart(reason)
		}
	case capture.Recoverable(err):
		slog.Warn("listen: capture ended with recoverable error", "err", err)
		if c.cfg.AutoRestart {
			if errors.Is(err, capture.ErrNoSpeech) {
				reason = "no_speech"
			}
			c.scheduleRestart(reason)
		}
	default:
		slog.Error("listen: capture failed", "err", err)
		if c.metrics != nil {
			c.metrics.RecordProviderError(c.ctx, "capture", "stream")
		}
	}
}

func (c *Controller) scheduleRestart(reason string) {
	if c.metrics != nil {
		c.metrics.RecordCaptureRestart(c.ctx, reason)
	}
	c.timers.Schedule(restartKey, c.cfg.RestartDelay, c.StartListening)
}
