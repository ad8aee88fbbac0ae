// Package whisper provides a Transcriber backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/transcribe"
)

const defaultLanguage = "en"

// Option is a functional option for configuring a Transcriber.
type Option func(*Transcriber)

// WithLanguage sets the BCP-47 language code for transcription
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(t *Transcriber) { t.language = lang }
}

// Transcriber implements transcribe.Transcriber using whisper.cpp Go
// bindings (CGO). The model is loaded once at construction and shared across
// all Transcribe calls.
type Transcriber struct {
	language string

	mu     sync.Mutex
	model  whisperlib.Model
	closed bool
}

// New creates a Transcriber that loads the whisper.cpp model from the given
// file path. The caller must call Close when the transcriber is no longer
// needed.
func New(modelPath string, opts ...Option) (*Transcriber, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	t := &Transcriber{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Transcribe runs whisper.cpp inference over the full sample buffer and
// returns the transcript segments in order.
//
// Each call creates a fresh whisper context. Contexts are not thread-safe,
// but the shared model is, so concurrent Transcribe calls are allowed.
func (t *Transcriber) Transcribe(ctx context.Context, samples []float32) ([]transcribe.Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, errors.New("whisper: transcriber is closed")
	}
	model := t.model
	t.mu.Unlock()

	wctx, err := model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(t.language); err != nil {
		return nil, fmt.Errorf("whisper: set language %q: %w", t.language, err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	var segments []transcribe.Segment
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		segments = append(segments, transcribe.Segment{
			Text:  text,
			Start: segment.Start,
			End:   segment.End,
		})
	}

	return segments, nil
}

// Close releases the whisper model. Safe to call multiple times.
func (t *Transcriber) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.model.Close()
}

var _ transcribe.Transcriber = (*Transcriber)(nil)
