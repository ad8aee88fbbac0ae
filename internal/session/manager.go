package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/commmmunkey/communiqate-ai-b2b-sub001/internal/listen"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/internal/observe"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/internal/profile"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/internal/recording"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/internal/report"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/internal/turn"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/internal/voicecmd"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/media"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/provider/assistant"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/provider/avatar"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/provider/capture"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/provider/token"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/transcribe"
)

// settleKey schedules the pause between the interviewer finishing speaking
// and auto-mode listening starting.
const settleKey = "session.settle"

var (
	// ErrSessionActive is returned by [Manager.Start] when a session is
	// already running. Only one interview session may be active at a time.
	ErrSessionActive = errors.New("session already active")

	// ErrNoSession is returned by [Manager.Stop] when no session is running.
	ErrNoSession = errors.New("no active session")
)

// Info holds metadata about an active session.
type Info struct {
	// SessionID is the unique identifier for this session.
	SessionID string

	// ProfileKey names the interview profile the session runs under.
	ProfileKey string

	// StartedAt is when the session was started.
	StartedAt time.Time
}

// ReportSink receives the record of a finished session. *report.Store
// satisfies it.
type ReportSink interface {
	SaveReport(ctx context.Context, r report.Report) error
}

// avatarAudioOpener is implemented by device backends that can tap the
// avatar playback audio for the recording mix. *browser.Bridge satisfies it.
type avatarAudioOpener interface {
	OpenAvatarAudio(ctx context.Context, c media.Constraints) (media.Track, error)
}

// ManagerConfig holds all dependencies for a [Manager].
type ManagerConfig struct {
	Profiles  *profile.Table
	Token     token.Service
	Devices   media.Devices
	Avatar    avatar.Service
	Assistant assistant.Service
	Capture   capture.Service

	// Listening tunes the listening controller shared by every session.
	Listening listen.Config

	// SettleDelay is the pause before auto-mode listening starts after the
	// interviewer finishes speaking.
	SettleDelay time.Duration

	// Recording enables artifact capture when non-nil.
	Recording *recording.Config

	// Transcriber, when set, re-transcribes the session audio after Stop to
	// produce the authoritative transcript.
	Transcriber transcribe.Transcriber

	// Reports, when set, persists finished sessions.
	Reports ReportSink

	// Metrics, when set, receives session instrumentation.
	Metrics *observe.Metrics
}

// Manager owns the lifecycle of interview sessions. Only one session can be
// active at a time. All exported methods are safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	active   bool
	info     Info
	prof     profile.Profile
	state    *State
	timers   *TimerSet
	conn     avatar.Connection
	conv     assistant.Conversation
	listener *listen.Controller
	pipeline *turn.Pipeline
	recorder *recording.Recorder
	tee      *transcriptTee
	cancel   context.CancelFunc

	// closers are called in reverse order during Stop and on partial Start
	// failure.
	closers []func() error

	cfg    ManagerConfig
	filter *voicecmd.Filter
}

// NewManager creates a Manager with the given dependencies.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		cfg:    cfg,
		filter: voicecmd.New(),
	}
}

// Start begins a new interview session under the given profile key. It
// issues the avatar credential, acquires media devices, connects the avatar
// stream, opens the assistant conversation, and starts recording.
//
// Acquisition order is fixed; a failure at any step releases everything
// acquired so far, in reverse order. A credential failure is fatal and never
// retried. Returns an error if a session is already active.
func (m *Manager) Start(ctx context.Context, profileKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active {
		return fmt.Errorf("session: %w (id=%s)", ErrSessionActive, m.info.SessionID)
	}

	prof, err := m.cfg.Profiles.Resolve(profileKey)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}

	started := time.Now()
	now := started.UTC()
	sessionID := fmt.Sprintf("session-%s-%s", sanitizeKey(prof.Key), now.Format("20060102T150405Z"))

	cred, err := m.cfg.Token.Issue(ctx)
	if err != nil {
		return fmt.Errorf("session: issue avatar credential: %w", err)
	}

	var closers []func() error
	fail := func(step string, err error) error {
		for i := len(closers) - 1; i >= 0; i-- {
			if cerr := closers[i](); cerr != nil {
				slog.Warn("session: release during failed start", "session_id", sessionID, "err", cerr)
			}
		}
		return fmt.Errorf("session: %s: %w", step, err)
	}

	camera, err := m.cfg.Devices.OpenCamera(ctx, media.Constraints{})
	if err != nil {
		return fail("open camera", err)
	}
	closers = append(closers, camera.Stop)

	mic, err := m.cfg.Devices.OpenMicrophone(ctx, media.Constraints{
		SampleRate: m.cfg.Listening.SampleRate,
		Channels:   1,
	})
	if err != nil {
		return fail("open microphone", err)
	}
	closers = append(closers, mic.Stop)

	// micFeed carries microphone PCM to the listening controller. With
	// recording enabled the mic is teed so the recorder sees the same frames.
	micFeed := mic

	conn, err := m.cfg.Avatar.Connect(ctx, cred, prof.Quality)
	if err != nil {
		return fail("connect avatar", err)
	}
	closers = append(closers, conn.Close)

	conv, err := m.cfg.Assistant.NewConversation(ctx, assistant.ConversationConfig{
		AssistantID:  prof.AssistantID,
		Instructions: prof.Instructions,
	})
	if err != nil {
		return fail("open conversation", err)
	}
	closers = append(closers, conv.Close)

	sessionCtx, cancel := context.WithCancel(context.Background())
	state := NewState()
	timers := NewTimerSet()
	tee := &transcriptTee{start: started}

	// Recording is independent of the conversation path: a leg that cannot
	// start is reported but never fails the session.
	var recorder *recording.Recorder
	if m.cfg.Recording != nil {
		recorder = recording.New(*m.cfg.Recording, sessionID)
		tee.sink = recorder.Transcript()
		var screen media.Track
		if s, err := m.cfg.Devices.OpenScreen(ctx, media.Constraints{}); err != nil {
			slog.Error("session: screen capture unavailable", "session_id", sessionID, "err", err)
		} else {
			screen = s
			closers = append(closers, s.Stop)
		}

		split := media.Tee(mic, 2)
		micFeed = split[0]
		audioTracks := []media.Track{split[1]}

		// The recording mix also carries the interviewer's voice when the
		// device backend can tap the avatar playback audio.
		if d, ok := m.cfg.Devices.(avatarAudioOpener); ok {
			av, err := d.OpenAvatarAudio(ctx, media.Constraints{
				SampleRate: m.cfg.Listening.SampleRate,
				Channels:   1,
			})
			if err != nil {
				slog.Warn("session: avatar audio unavailable", "session_id", sessionID, "err", err)
			} else {
				audioTracks = append(audioTracks, av)
				closers = append(closers, av.Stop)
			}
		}

		if err := recorder.Start(audioTracks, screen); err != nil {
			slog.Error("session: recording degraded", "session_id", sessionID, "err", err)
		}
	}

	var listener *listen.Controller
	pipeline := turn.New(conn, conv, state,
		turn.WithTranscriptLog(tee),
		turn.WithMetrics(m.cfg.Metrics),
		turn.WithProfileKey(prof.Key),
		turn.WithOnComplete(func() {
			if prof.AutoListen {
				timers.Schedule(settleKey, m.cfg.SettleDelay, listener.StartListening)
			}
		}),
	)

	listenCfg := m.cfg.Listening
	listenCfg.AutoRestart = prof.AutoListen
	listener = listen.New(sessionCtx, m.cfg.Capture, state, timers, listenCfg,
		func(text string) { m.handleTranscript(sessionCtx, text) },
		listen.WithInterrupter(conn),
		listen.WithAudioSource(micFeed),
		listen.WithMetrics(m.cfg.Metrics),
	)

	conn.Bind(avatar.Events{
		StreamReady: func() {
			slog.Info("session: avatar stream ready", "session_id", sessionID)
		},
		Disconnected: func(reason string) {
			slog.Error("session: avatar disconnected", "session_id", sessionID, "reason", reason)
			// Losing the race with another teardown is routine here.
			go func() {
				if err := m.Stop(context.Background()); err != nil && !errors.Is(err, ErrNoSession) {
					slog.Warn("session: teardown after disconnect", "err", err)
				}
			}()
		},
	})

	m.active = true
	m.prof = prof
	m.state = state
	m.timers = timers
	m.conn = conn
	m.conv = conv
	m.listener = listener
	m.pipeline = pipeline
	m.recorder = recorder
	m.tee = tee
	m.cancel = cancel
	m.closers = closers
	m.info = Info{SessionID: sessionID, ProfileKey: prof.Key, StartedAt: now}

	if m.cfg.Metrics != nil {
		m.cfg.Metrics.ActiveSessions.Add(ctx, 1)
		m.cfg.Metrics.SessionStartDuration.Record(ctx, time.Since(started).Seconds())
	}

	if prof.AutoListen {
		timers.Schedule(settleKey, m.cfg.SettleDelay, listener.StartListening)
	}

	slog.Info("session started",
		"session_id", sessionID,
		"profile", prof.Key,
		"auto_listen", prof.AutoListen,
		"recording", recorder != nil,
	)
	return nil
}

// Stop gracefully ends the active session: timers are cancelled, the capture
// and avatar paths are torn down, recording artifacts are finalized, and the
// report is persisted. Returns an error if no session is active.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return fmt.Errorf("session: %w", ErrNoSession)
	}

	info := m.info

	// Kill every scheduled action first so nothing resolves into the
	// teardown.
	m.timers.CancelAll()
	m.listener.Stop()

	// Detach before Close so no avatar callback fires into a dead session.
	m.conn.Detach()
	m.cancel()

	if m.recorder != nil {
		arts, err := m.recorder.Stop(ctx)
		if err != nil {
			slog.Warn("session: recording finalize error", "session_id", info.SessionID, "err", err)
		}
		m.finishReport(ctx, info, arts)
	} else if m.cfg.Reports != nil {
		m.finishReport(ctx, info, recording.Artifacts{})
	}

	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i](); err != nil {
			slog.Warn("session: closer error", "session_id", info.SessionID, "index", i, "err", err)
		}
	}

	m.state.Reset()
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.ActiveSessions.Add(ctx, -1)
	}

	m.active = false
	m.prof = profile.Profile{}
	m.state = nil
	m.timers = nil
	m.conn = nil
	m.conv = nil
	m.listener = nil
	m.pipeline = nil
	m.recorder = nil
	m.tee = nil
	m.cancel = nil
	m.closers = nil
	m.info = Info{}

	slog.Info("session stopped", "session_id", info.SessionID)
	return nil
}

// SetProfiles swaps the profile table, typically on a config hot reload.
// The active session, if any, keeps the profile it was started with.
func (m *Manager) SetProfiles(t *profile.Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Profiles = t
}

// IsActive reports whether a session is currently running.
func (m *Manager) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Info returns metadata about the active session, or the zero value when no
// session is active.
func (m *Manager) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info
}

// StartListening triggers a listening attempt on the active session. A
// no-op when no session is active or the session phase forbids it.
func (m *Manager) StartListening() {
	if l := m.currentListener(); l != nil {
		l.StartListening()
	}
}

// Press begins a push-to-talk attempt on the active session.
func (m *Manager) Press() {
	if l := m.currentListener(); l != nil {
		l.Press()
	}
}

// Release ends a push-to-talk attempt on the active session.
func (m *Manager) Release() {
	if l := m.currentListener(); l != nil {
		l.Release()
	}
}

func (m *Manager) currentListener() *listen.Controller {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listener
}

// handleTranscript routes one final transcript: voice commands act on the
// session, everything else becomes a conversation turn.
func (m *Manager) handleTranscript(ctx context.Context, text string) {
	m.mu.Lock()
	pipeline := m.pipeline
	conn := m.conn
	tee := m.tee
	info := m.info
	m.mu.Unlock()
	if pipeline == nil {
		return
	}

	cmd := m.filter.Match(text)
	if cmd != voicecmd.CmdNone {
		if m.cfg.Metrics != nil {
			m.cfg.Metrics.RecordVoiceCommand(ctx, cmd.String())
		}
		slog.Info("session: voice command", "session_id", info.SessionID, "command", cmd.String())
	}

	switch cmd {
	case voicecmd.CmdStop:
		if err := m.Stop(context.Background()); err != nil && !errors.Is(err, ErrNoSession) {
			slog.Warn("session: stop via voice command", "err", err)
		}
	case voicecmd.CmdRepeat:
		last := tee.lastInterviewerLine()
		if last == "" {
			return
		}
		if pb, err := conn.Speak(ctx, last); err != nil {
			slog.Warn("session: repeat failed", "err", err)
		} else {
			go func() { <-pb.Done() }()
		}
	case voicecmd.CmdSkip:
		m.runTurn(ctx, pipeline, "I'd rather skip this question. Could we move on to the next one?")
	default:
		m.runTurn(ctx, pipeline, text)
	}
}

func (m *Manager) runTurn(ctx context.Context, pipeline *turn.Pipeline, text string) {
	if err := pipeline.Process(ctx, text); err != nil {
		slog.Error("session: turn failed", "err", err)
	}
}

// finishReport runs offline re-transcription when configured and hands the
// session record to the report sink. Both steps are best-effort.
func (m *Manager) finishReport(ctx context.Context, info Info, arts recording.Artifacts) {
	lines := m.tee.reportLines()

	if m.cfg.Transcriber != nil && m.recorder != nil {
		segments, err := m.recorder.Retranscribe(ctx, m.cfg.Transcriber)
		if err != nil {
			slog.Warn("session: offline transcription failed", "session_id", info.SessionID, "err", err)
		} else {
			slog.Info("session: offline transcription complete",
				"session_id", info.SessionID, "segments", len(segments))
		}
	}

	if m.cfg.Reports == nil {
		return
	}
	rep := report.Report{
		SessionID:      info.SessionID,
		ProfileKey:     info.ProfileKey,
		StartedAt:      info.StartedAt,
		EndedAt:        time.Now().UTC(),
		AudioPath:      arts.AudioPath,
		VideoPath:      arts.VideoPath,
		TranscriptPath: arts.TranscriptPath,
		Lines:          lines,
	}
	if err := m.cfg.Reports.SaveReport(ctx, rep); err != nil {
		slog.Error("session: save report failed", "session_id", info.SessionID, "err", err)
	}
}

// transcriptTee records the dialogue for the report and forwards it to the
// recording transcript when one exists. Line offsets are measured from the
// session start.
type transcriptTee struct {
	start time.Time

	mu    sync.Mutex
	lines []report.Line
	sink  *recording.TranscriptLog
}

// Append implements the turn pipeline's transcript log.
func (t *transcriptTee) Append(speaker, text string) {
	t.mu.Lock()
	t.lines = append(t.lines, report.Line{
		Speaker:  speaker,
		Text:     text,
		OffsetMs: time.Since(t.start).Milliseconds(),
	})
	sink := t.sink
	t.mu.Unlock()
	if sink != nil {
		sink.Append(speaker, text)
	}
}

func (t *transcriptTee) lastInterviewerLine() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.lines) - 1; i >= 0; i-- {
		if t.lines[i].Speaker == turn.SpeakerInterviewer {
			return t.lines[i].Text
		}
	}
	return ""
}

func (t *transcriptTee) reportLines() []report.Line {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]report.Line, len(t.lines))
	copy(out, t.lines)
	return out
}

// sanitizeKey lowercases a profile key and replaces spaces with hyphens for
// use in session IDs.
func sanitizeKey(key string) string {
	key = strings.ToLower(key)
	return strings.ReplaceAll(key, " ", "-")
}
