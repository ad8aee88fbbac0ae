package recording

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Line is one transcript entry.
type Line struct {
	// Speaker is "candidate" or "interviewer".
	Speaker string `json:"speaker"`

	// Text is the spoken content.
	Text string `json:"text"`

	// Offset is the time since the transcript log was created.
	Offset time.Duration `json:"offset_ms"`
}

// MarshalJSON renders Offset in whole milliseconds.
func (l Line) MarshalJSON() ([]byte, error) {
	type alias struct {
		Speaker  string `json:"speaker"`
		Text     string `json:"text"`
		OffsetMs int64  `json:"offset_ms"`
	}
	return json.Marshal(alias{Speaker: l.Speaker, Text: l.Text, OffsetMs: l.Offset.Milliseconds()})
}

// TranscriptLog accumulates the ordered dialogue of one session. Appends may
// come from the turn pipeline and the listening path concurrently; the mutex
// fixes a total order.
type TranscriptLog struct {
	mu      sync.Mutex
	started time.Time
	lines   []Line
}

// NewTranscriptLog creates an empty log with its clock started now.
func NewTranscriptLog() *TranscriptLog {
	return &TranscriptLog{started: time.Now()}
}

// Append records one line in arrival order.
func (t *TranscriptLog) Append(speaker, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, Line{
		Speaker: speaker,
		Text:    text,
		Offset:  time.Since(t.started),
	})
}

// Lines returns a copy of the transcript so far.
func (t *TranscriptLog) Lines() []Line {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Line, len(t.lines))
	copy(out, t.lines)
	return out
}

// WriteFile writes the transcript as a JSON array.
func (t *TranscriptLog) WriteFile(path string) error {
	data, err := json.MarshalIndent(t.Lines(), "", "  ")
	if err != nil {
		return fmt.Errorf("recording: marshal transcript: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("recording: write transcript: %w", err)
	}
	return nil
}
