// Package mock provides test doubles for the avatar.Service, avatar.Connection,
// and avatar.Playback interfaces.
//
// The Connection mock records each Speak invocation with a timestamp so tests
// can assert strict playback ordering, and playback completion can be resolved
// manually or automatically.
//
// Example:
//
//	conn := &mock.Connection{}
//	svc := &mock.Service{ConnectResult: conn}
//	conn.FireStreamReady() // deliver an event to the bound callbacks
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/provider/avatar"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/provider/token"
)

// Playback is a manually resolvable avatar.Playback handle.
type Playback struct {
	once sync.Once
	done chan struct{}

	mu  sync.Mutex
	err error
}

// NewPlayback returns an unresolved Playback handle.
func NewPlayback() *Playback {
	return &Playback{done: make(chan struct{})}
}

// Resolve completes the playback with the given error (nil for success).
// Safe to call multiple times; only the first call has effect.
func (p *Playback) Resolve(err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	})
}

// Done implements avatar.Playback.
func (p *Playback) Done() <-chan struct{} { return p.done }

// Err implements avatar.Playback.
func (p *Playback) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// SpeakCall records a single invocation of Speak.
type SpeakCall struct {
	// Text is the chunk passed to Speak.
	Text string
	// At is when the invocation was issued.
	At time.Time
	// Playback is the handle returned for this call.
	Playback *Playback
}

// Connection is a mock implementation of avatar.Connection.
type Connection struct {
	mu sync.Mutex

	// --- Configurable behaviour ---

	// SpeakErr, if non-nil, is returned by Speak instead of a handle.
	SpeakErr error

	// AutoResolve, when true, resolves each Speak's playback immediately.
	AutoResolve bool

	// InterruptErr, if non-nil, is returned by Interrupt.
	InterruptErr error

	// --- Call records (read after test) ---

	// SpeakCalls records every Speak invocation in order.
	SpeakCalls []SpeakCall

	// InterruptCount is the number of Interrupt invocations.
	InterruptCount int

	// MutedStates records every SetMuted argument in order.
	MutedStates []bool

	// CloseCount is the number of Close invocations.
	CloseCount int

	// DetachCount is the number of Detach invocations.
	DetachCount int

	events avatar.Events
	closed bool
}

// Bind stores the event callbacks.
func (c *Connection) Bind(ev avatar.Events) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = ev
}

// Detach clears the event callbacks and records the call.
func (c *Connection) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.DetachCount++
	c.events = avatar.Events{}
}

// Speak records the call and returns a fresh Playback handle, resolved
// immediately when AutoResolve is set.
func (c *Connection) Speak(_ context.Context, text string) (avatar.Playback, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SpeakErr != nil {
		c.SpeakCalls = append(c.SpeakCalls, SpeakCall{Text: text, At: time.Now()})
		return nil, c.SpeakErr
	}
	pb := NewPlayback()
	c.SpeakCalls = append(c.SpeakCalls, SpeakCall{Text: text, At: time.Now(), Playback: pb})
	if c.AutoResolve {
		pb.Resolve(nil)
	}
	return pb, nil
}

// Interrupt records the call.
func (c *Connection) Interrupt(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.InterruptCount++
	return c.InterruptErr
}

// SetMuted records the requested state.
func (c *Connection) SetMuted(muted bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.MutedStates = append(c.MutedStates, muted)
	return nil
}

// Close records the call. Safe to call multiple times.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCount++
	c.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Calls returns a copy of the recorded Speak invocations.
func (c *Connection) Calls() []SpeakCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SpeakCall, len(c.SpeakCalls))
	copy(out, c.SpeakCalls)
	return out
}

// SpokenTexts returns the Speak texts in invocation order.
func (c *Connection) SpokenTexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.SpeakCalls))
	for i, sc := range c.SpeakCalls {
		out[i] = sc.Text
	}
	return out
}

// FireStreamReady invokes the bound StreamReady callback, if any.
func (c *Connection) FireStreamReady() {
	c.mu.Lock()
	cb := c.events.StreamReady
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// FireSpeakingStarted invokes the bound SpeakingStarted callback, if any.
func (c *Connection) FireSpeakingStarted() {
	c.mu.Lock()
	cb := c.events.SpeakingStarted
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// FireSpeakingStopped invokes the bound SpeakingStopped callback, if any.
func (c *Connection) FireSpeakingStopped() {
	c.mu.Lock()
	cb := c.events.SpeakingStopped
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// FireDisconnected invokes the bound Disconnected callback, if any.
func (c *Connection) FireDisconnected(reason string) {
	c.mu.Lock()
	cb := c.events.Disconnected
	c.mu.Unlock()
	if cb != nil {
		cb(reason)
	}
}

// ConnectCall records a single invocation of Connect.
type ConnectCall struct {
	// Cred is the credential passed to Connect.
	Cred token.Credential
	// Quality is the quality setting passed to Connect.
	Quality avatar.Quality
}

// Service is a mock implementation of avatar.Service.
type Service struct {
	mu sync.Mutex

	// ConnectResult is returned by Connect. When nil a fresh *Connection is
	// created per call.
	ConnectResult *Connection

	// ConnectErr, if non-nil, is returned by Connect instead of a connection.
	ConnectErr error

	// ConnectCalls records every Connect invocation in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns ConnectResult or ConnectErr.
func (s *Service) Connect(_ context.Context, cred token.Credential, quality avatar.Quality) (avatar.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ConnectCalls = append(s.ConnectCalls, ConnectCall{Cred: cred, Quality: quality})
	if s.ConnectErr != nil {
		return nil, s.ConnectErr
	}
	if s.ConnectResult != nil {
		return s.ConnectResult, nil
	}
	return &Connection{}, nil
}

// Compile-time interface checks.
var (
	_ avatar.Service    = (*Service)(nil)
	_ avatar.Connection = (*Connection)(nil)
	_ avatar.Playback   = (*Playback)(nil)
)
