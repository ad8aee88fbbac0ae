// Package session owns the interview session lifecycle: the phase state
// machine, the keyed restart timers, and the Manager that acquires and
// releases session resources.
package session

import (
	"fmt"
	"sync"
)

// Phase is the single tagged state of an interview session. It replaces the
// independent boolean guard flags the listening and turn logic would
// otherwise carry: every transition goes through [State] so conflicting
// combinations (listening while the avatar speaks, two turns composing at
// once) cannot be represented.
type Phase int

const (
	// PhaseIdle means no listening attempt or turn is running.
	PhaseIdle Phase = iota

	// PhaseListening means a capture session is active.
	PhaseListening

	// PhaseComposing means a transcript has been handed to the turn pipeline
	// and the assistant reply is streaming.
	PhaseComposing

	// PhaseSpeaking means the avatar is voicing reply chunks.
	PhaseSpeaking
)

// String returns the lowercase phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseListening:
		return "listening"
	case PhaseComposing:
		return "composing"
	case PhaseSpeaking:
		return "speaking"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// validTransitions is the full transition table. Reset is the only way to
// leave a phase outside this table.
var validTransitions = map[Phase][]Phase{
	PhaseIdle:      {PhaseListening, PhaseComposing},
	PhaseListening: {PhaseIdle, PhaseComposing},
	PhaseComposing: {PhaseSpeaking, PhaseIdle},
	PhaseSpeaking:  {PhaseIdle},
}

// State is the session phase machine plus the turn identity counter.
//
// The turn counter makes stale completions harmless: every composing turn
// gets a fresh id, and resolutions that arrive for an older id (a playback
// completing after teardown, a timer surviving a stop) are no-ops.
//
// All methods are safe for concurrent use.
type State struct {
	mu     sync.Mutex
	phase  Phase
	turnID uint64
}

// NewState returns a State in [PhaseIdle].
func NewState() *State {
	return &State{phase: PhaseIdle}
}

// Phase returns the current phase.
func (s *State) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// to attempts the transition and reports whether it was valid. Callers treat
// a false return as a guard no-op, never an error surfaced to the user.
func (s *State) to(target Phase) bool {
	for _, allowed := range validTransitions[s.phase] {
		if allowed == target {
			s.phase = target
			return true
		}
	}
	return false
}

// BeginListening moves Idle to Listening. Returns false when listening is
// not allowed right now (already listening, composing, or speaking).
func (s *State) BeginListening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseIdle {
		return false
	}
	return s.to(PhaseListening)
}

// EndListening moves Listening back to Idle. A no-op in any other phase,
// covering captures that end after a transcript already moved the session
// to Composing.
func (s *State) EndListening() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseListening {
		s.to(PhaseIdle)
	}
}

// BeginComposing starts a new turn from Idle or Listening and returns its
// fresh turn id. Returns ok=false when a turn is already in flight or the
// avatar is speaking, making Process single-flight by construction.
func (s *State) BeginComposing() (turn uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.to(PhaseComposing) {
		return 0, false
	}
	s.turnID++
	return s.turnID, true
}

// BeginSpeaking moves Composing to Speaking for the given turn. Returns
// false when the turn is stale or the phase already moved on.
func (s *State) BeginSpeaking(turn uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if turn != s.turnID {
		return false
	}
	return s.to(PhaseSpeaking)
}

// EndTurn returns the session to Idle when the given turn is still current.
// Late calls for superseded turns are no-ops.
func (s *State) EndTurn(turn uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if turn != s.turnID {
		return
	}
	if s.phase == PhaseComposing || s.phase == PhaseSpeaking {
		s.to(PhaseIdle)
	}
}

// CurrentTurn returns the id of the most recently started turn. A playback
// or timer resolution holding an older id must be discarded.
func (s *State) CurrentTurn() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnID
}

// Reset forces the session to Idle from any phase and invalidates all
// outstanding turn ids. Used during teardown so that nothing resolved later
// can resurrect session state.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseIdle
	s.turnID++
}
