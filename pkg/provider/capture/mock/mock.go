// Package mock provides configurable in-memory implementations of the
// capture interfaces for testing.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/provider/capture"
)

// StartCall records one call to Service.Start.
type StartCall struct {
	Config  capture.Config
	Session *Session
}

// Service is a mock capture.Service. Every Start returns a fresh Session
// (or StartErr when set) and records the call.
type Service struct {
	mu sync.Mutex

	// StartErr, when set, is returned by Start instead of a session.
	StartErr error

	// StartHook, when set, runs during Start before a session is returned.
	// Useful for racing controller operations against an in-flight start.
	StartHook func()

	// StartCalls records every Start invocation in order.
	StartCalls []StartCall
}

// Start implements capture.Service.
func (s *Service) Start(_ context.Context, cfg capture.Config, h capture.Handlers) (capture.Session, error) {
	s.mu.Lock()
	hook := s.StartHook
	err := s.StartErr
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	sess := &Session{handlers: h}
	s.mu.Lock()
	s.StartCalls = append(s.StartCalls, StartCall{Config: cfg, Session: sess})
	s.mu.Unlock()
	return sess, nil
}

// Calls returns a copy of the recorded Start calls.
func (s *Service) Calls() []StartCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StartCall, len(s.StartCalls))
	copy(out, s.StartCalls)
	return out
}

// LastSession returns the session from the most recent Start, or nil.
func (s *Service) LastSession() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.StartCalls) == 0 {
		return nil
	}
	return s.StartCalls[len(s.StartCalls)-1].Session
}

// Session is a mock capture.Session. Tests drive it by emitting events
// through the Fire* methods, which invoke the handlers the caller registered.
type Session struct {
	mu       sync.Mutex
	handlers capture.Handlers
	closed   bool

	// SentChunks records every chunk passed to SendAudio.
	SentChunks [][]byte

	// CloseCount counts Close invocations.
	CloseCount int
}

// SendAudio implements capture.Session.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("mock: session is closed")
	}
	s.SentChunks = append(s.SentChunks, chunk)
	return nil
}

// Sent returns a copy of the chunks passed to SendAudio.
func (s *Session) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.SentChunks))
	copy(out, s.SentChunks)
	return out
}

// Close implements capture.Session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.CloseCount++
	return nil
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// FireAudioStart invokes the registered OnAudioStart handler.
func (s *Session) FireAudioStart() {
	if h := s.snapshot(); h.OnAudioStart != nil && !s.Closed() {
		h.OnAudioStart()
	}
}

// FireResult invokes the registered OnResult handler.
func (s *Session) FireResult(t capture.Transcript) {
	if h := s.snapshot(); h.OnResult != nil && !s.Closed() {
		h.OnResult(t)
	}
}

// FireEnd invokes the registered OnEnd handler.
func (s *Session) FireEnd() {
	if h := s.snapshot(); h.OnEnd != nil && !s.Closed() {
		h.OnEnd()
	}
}

// FireError invokes the registered OnError handler.
func (s *Session) FireError(err error) {
	if h := s.snapshot(); h.OnError != nil && !s.Closed() {
		h.OnError(err)
	}
}

func (s *Session) snapshot() capture.Handlers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handlers
}

// Compile-time interface checks.
var (
	_ capture.Service = (*Service)(nil)
	_ capture.Session = (*Session)(nil)
)
