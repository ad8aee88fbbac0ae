// Package deepgram provides a Deepgram-backed capture provider using the
// Deepgram streaming WebSocket API. It implements the capture.Service
// interface.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/provider/capture"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000
)

// Option is a functional option for configuring the Deepgram Service.
type Option func(*Service)

// WithEndpoint overrides the default streaming endpoint. Useful for tests.
func WithEndpoint(endpoint string) Option {
	return func(s *Service) { s.endpoint = endpoint }
}

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(s *Service) { s.model = model }
}

// Service implements capture.Service backed by the Deepgram streaming API.
type Service struct {
	apiKey   string
	endpoint string
	model    string
}

// New creates a new Deepgram Service. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Service, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	s := &Service{
		apiKey:   apiKey,
		endpoint: deepgramEndpoint,
		model:    defaultModel,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Start opens a streaming recognition session with Deepgram.
func (s *Service) Start(ctx context.Context, cfg capture.Config, h capture.Handlers) (capture.Session, error) {
	wsURL, err := s.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+s.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	sess := &session{
		conn:       conn,
		handlers:   h,
		continuous: cfg.Continuous,
		audio:      make(chan []byte, 256),
		done:       make(chan struct{}),
	}

	sess.wg.Add(2)
	go sess.readLoop(ctx)
	go sess.writeLoop(ctx)

	return sess, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given config.
func (s *Service) buildURL(cfg capture.Config) (string, error) {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = defaultLanguage
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = defaultSampleRate
	}

	q := u.Query()
	q.Set("model", s.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("interim_results", strconv.FormatBool(cfg.InterimResults))
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("vad_events", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results
// or SpeechStarted event.
type deepgramResponse struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// session is a live Deepgram streaming session. It implements capture.Session.
type session struct {
	conn       *websocket.Conn
	handlers   capture.Handlers
	continuous bool
	audio      chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	mu       sync.Mutex
	sawFinal bool
	gotText  bool
}

// SendAudio queues a PCM audio chunk for delivery to Deepgram.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("deepgram: session is closed")
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errors.New("deepgram: session is closed")
	}
}

// Close terminates the session cleanly.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		// Ask Deepgram to flush pending audio before we tear down.
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
		s.wg.Wait()
	})
	return nil
}

// closed reports whether Close has begun.
func (s *session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// writeLoop reads from the audio channel and sends binary messages to Deepgram.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				return
			}
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			// Drain the audio channel before exiting.
			for {
				select {
				case chunk, ok := <-s.audio:
					if !ok {
						return
					}
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		}
	}
}

// readLoop receives JSON messages from Deepgram and dispatches them to the
// registered handlers.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			if s.closed() {
				return
			}
			s.finish(fmt.Errorf("deepgram: read: %w", err))
			return
		}

		var resp deepgramResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}

		switch resp.Type {
		case "SpeechStarted":
			if s.handlers.OnAudioStart != nil && !s.closed() {
				s.handlers.OnAudioStart()
			}
		case "Results":
			s.handleResults(resp)
		}
	}
}

// handleResults converts one Results message to a Transcript and, in
// non-continuous mode, ends the session after the first final result.
func (s *session) handleResults(resp deepgramResponse) {
	t, ok := parseResults(resp)
	if !ok {
		return
	}

	s.mu.Lock()
	if t.Text != "" {
		s.gotText = true
	}
	if t.IsFinal {
		s.sawFinal = true
	}
	s.mu.Unlock()

	if t.Text != "" && s.handlers.OnResult != nil && !s.closed() {
		s.handlers.OnResult(t)
	}

	if t.IsFinal && !s.continuous {
		s.mu.Lock()
		gotText := s.gotText
		s.mu.Unlock()
		if gotText {
			s.finish(nil)
		} else {
			s.finish(capture.ErrNoSpeech)
		}
	}
}

// finish ends the session exactly once and reports the outcome.
func (s *session) finish(err error) {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close(websocket.StatusNormalClosure, "session finished")
		if err != nil {
			if s.handlers.OnError != nil {
				s.handlers.OnError(err)
			}
			return
		}
		if s.handlers.OnEnd != nil {
			s.handlers.OnEnd()
		}
	})
}

// parseResults converts a Results message into a Transcript. Returns
// (zero, false) when the message carries no alternatives.
func parseResults(resp deepgramResponse) (capture.Transcript, bool) {
	if len(resp.Channel.Alternatives) == 0 {
		return capture.Transcript{}, false
	}
	alt := resp.Channel.Alternatives[0]
	return capture.Transcript{
		Text:       alt.Transcript,
		IsFinal:    resp.IsFinal,
		Confidence: alt.Confidence,
		Duration:   time.Duration(resp.Duration * float64(time.Second)),
	}, true
}

// Compile-time interface checks.
var (
	_ capture.Service = (*Service)(nil)
	_ capture.Session = (*session)(nil)
)
