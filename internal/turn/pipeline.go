package turn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/commmmunkey/communiqate-ai-b2b-sub001/internal/observe"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/provider/assistant"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/provider/avatar"
)

// Speaker labels for the transcript log.
const (
	SpeakerCandidate   = "candidate"
	SpeakerInterviewer = "interviewer"
)

// defaultApology is voiced when the assistant stream or avatar playback
// fails mid-turn.
const defaultApology = "I'm sorry, I didn't quite catch that. Could you say it again?"

// Phases is the slice of the session state machine the pipeline drives.
// *session.State satisfies it.
type Phases interface {
	// BeginComposing starts a new turn, returning its id. ok=false means a
	// turn is already in flight or the avatar is speaking.
	BeginComposing() (turn uint64, ok bool)

	// BeginSpeaking marks the first chunk playback for the turn.
	BeginSpeaking(turn uint64) bool

	// EndTurn returns the session to idle; stale turn ids are ignored.
	EndTurn(turn uint64)
}

// TranscriptLog receives the ordered conversation lines. The recording
// subsystem implements it; appends are best-effort from the pipeline's
// point of view.
type TranscriptLog interface {
	Append(speaker, text string)
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithChunkLimit overrides the character threshold for closing a chunk
// without a sentence boundary.
func WithChunkLimit(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.chunkLimit = n
		}
	}
}

// WithApology overrides the fallback utterance voiced on mid-turn failures.
func WithApology(text string) Option {
	return func(p *Pipeline) {
		if text != "" {
			p.apology = text
		}
	}
}

// WithTranscriptLog attaches the ordered transcript log.
func WithTranscriptLog(log TranscriptLog) Option {
	return func(p *Pipeline) { p.log = log }
}

// WithMetrics attaches the metrics instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithOnComplete registers a callback invoked after every turn, success or
// failure, once the session is back in idle. The session manager uses it to
// schedule the next automatic listening attempt.
func WithOnComplete(fn func()) Option {
	return func(p *Pipeline) { p.onComplete = fn }
}

// WithProfileKey tags chunk metrics with the session's profile.
func WithProfileKey(key string) Option {
	return func(p *Pipeline) { p.profileKey = key }
}

// Pipeline turns one final candidate transcript into one voiced interviewer
// reply. Process is single-flight: a call that arrives while a turn is in
// flight is a silent no-op.
type Pipeline struct {
	conn avatar.Connection
	conv assistant.Conversation

	phases     Phases
	log        TranscriptLog
	metrics    *observe.Metrics
	onComplete func()

	chunkLimit int
	apology    string
	profileKey string
}

// New creates a Pipeline speaking through conn with replies from conv.
func New(conn avatar.Connection, conv assistant.Conversation, phases Phases, opts ...Option) *Pipeline {
	p := &Pipeline{
		conn:       conn,
		conv:       conv,
		phases:     phases,
		chunkLimit: defaultChunkLimit,
		apology:    defaultApology,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Process runs one conversation turn: append the candidate line, stream the
// assistant reply, voice it chunk by chunk in strict order, and log the full
// reply. On stream or playback failure a fixed apology is voiced best-effort
// and logged as the interviewer's line.
//
// Every exit path returns the session to idle and fires the completion
// callback, so guard state can never survive a turn.
func (p *Pipeline) Process(ctx context.Context, transcript string) error {
	turn, ok := p.phases.BeginComposing()
	if !ok {
		slog.Debug("turn: dropped transcript, turn already in flight")
		return nil
	}

	start := time.Now()
	defer func() {
		p.phases.EndTurn(turn)
		if p.metrics != nil {
			p.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())
		}
		if p.onComplete != nil {
			p.onComplete()
		}
	}()

	p.logLine(SpeakerCandidate, transcript)

	deltas, err := p.conv.Send(ctx, transcript)
	if err != nil {
		p.apologize(ctx)
		return fmt.Errorf("turn: assistant send: %w", err)
	}

	reply, turnErr := p.speakStream(ctx, turn, deltas)
	if turnErr != nil {
		p.apologize(ctx)
		return turnErr
	}

	p.logLine(SpeakerInterviewer, reply)
	return nil
}

// speakStream consumes the delta stream, voicing complete chunks as they
// close. Chunk n+1 is not handed to the avatar until chunk n's playback
// resolves. Returns the full accumulated reply.
func (p *Pipeline) speakStream(ctx context.Context, turn uint64, deltas <-chan assistant.Delta) (string, error) {
	ch := newChunker(p.chunkLimit)
	var reply strings.Builder
	var prev avatar.Playback
	spoke := false

	speak := func(chunk string) error {
		if prev != nil {
			select {
			case <-prev.Done():
				if err := prev.Err(); err != nil {
					return fmt.Errorf("turn: chunk playback: %w", err)
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if !spoke {
			p.phases.BeginSpeaking(turn)
			spoke = true
		}
		pb, err := p.conn.Speak(ctx, chunk)
		if err != nil {
			return fmt.Errorf("turn: avatar speak: %w", err)
		}
		prev = pb
		if p.metrics != nil {
			p.metrics.ChunksSpoken.Add(ctx, 1,
				metric.WithAttributes(observe.Attr("profile", p.profileKey)))
		}
		return nil
	}

	for d := range deltas {
		if d.Err != nil {
			go drain(deltas)
			return "", fmt.Errorf("turn: assistant stream: %w", d.Err)
		}
		if d.Done {
			break
		}
		reply.WriteString(d.Text)
		for _, chunk := range ch.Feed(d.Text) {
			if err := speak(chunk); err != nil {
				go drain(deltas)
				return "", err
			}
		}
	}

	if rem := ch.Flush(); rem != "" {
		if err := speak(rem); err != nil {
			return "", err
		}
	}

	// Await the final chunk so the turn does not complete mid-playback.
	if prev != nil {
		select {
		case <-prev.Done():
			if err := prev.Err(); err != nil {
				return "", fmt.Errorf("turn: chunk playback: %w", err)
			}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	return reply.String(), nil
}

// apologize voices the fallback utterance and logs it as the interviewer's
// line. Its own failure is logged and swallowed; the turn's original error
// is what the caller reports.
func (p *Pipeline) apologize(ctx context.Context) {
	p.logLine(SpeakerInterviewer, p.apology)

	pb, err := p.conn.Speak(ctx, p.apology)
	if err != nil {
		slog.Warn("turn: apology playback failed", "err", err)
		return
	}
	select {
	case <-pb.Done():
		if err := pb.Err(); err != nil {
			slog.Warn("turn: apology playback failed", "err", err)
		}
	case <-ctx.Done():
	}
}

func (p *Pipeline) logLine(speaker, text string) {
	if p.log != nil {
		p.log.Append(speaker, text)
	}
}

// drain discards remaining deltas so the assistant's stream goroutine can
// finish after an early exit.
func drain(ch <-chan assistant.Delta) {
	for range ch {
	}
}
