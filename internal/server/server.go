// Package server exposes the interview orchestrator over a small JSON HTTP
// API. The interview client uses it to start and stop sessions, drive
// push-to-talk, and fetch finished reports.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/commmmunkey/communiqate-ai-b2b-sub001/internal/health"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/internal/profile"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/internal/report"
	"github.com/commmmunkey/communiqate-ai-b2b-sub001/internal/session"
)

// SessionControl is the slice of the session manager the HTTP API needs.
// *session.Manager satisfies it.
type SessionControl interface {
	Start(ctx context.Context, profileKey string) error
	Stop(ctx context.Context) error
	IsActive() bool
	Info() session.Info
	StartListening()
	Press()
	Release()
}

// ReportReader is the read side of the report store. *report.Store
// satisfies it.
type ReportReader interface {
	GetReport(ctx context.Context, sessionID string) (report.Report, error)
	ListSessions(ctx context.Context, limit int) ([]string, error)
	SearchAnswers(ctx context.Context, query string, topK int) ([]report.AnswerMatch, error)
}

// Option is a functional option for configuring the Server.
type Option func(*Server)

// WithReports enables the report endpoints.
func WithReports(r ReportReader) Option {
	return func(s *Server) { s.reports = r }
}

// WithHealth registers liveness and readiness endpoints.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts the given handler at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithMediaIngest mounts the given handler at /media/ingest for browser
// media feeds.
func WithMediaIngest(h http.Handler) Option {
	return func(s *Server) { s.ingest = h }
}

// WithMiddleware wraps the whole API in the given middleware.
func WithMiddleware(mw func(http.Handler) http.Handler) Option {
	return func(s *Server) { s.middleware = mw }
}

// Server routes the interview control API.
type Server struct {
	sessions   SessionControl
	reports    ReportReader
	health     *health.Handler
	metrics    http.Handler
	ingest     http.Handler
	middleware func(http.Handler) http.Handler
}

// New creates a Server controlling the given session manager.
func New(sessions SessionControl, opts ...Option) *Server {
	s := &Server{sessions: sessions}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler builds the HTTP routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/session", s.startSession)
	mux.HandleFunc("DELETE /v1/session", s.stopSession)
	mux.HandleFunc("GET /v1/session", s.sessionStatus)
	mux.HandleFunc("POST /v1/session/listen", s.startListening)
	mux.HandleFunc("POST /v1/session/press", s.press)
	mux.HandleFunc("POST /v1/session/release", s.release)

	if s.reports != nil {
		mux.HandleFunc("GET /v1/reports", s.listReports)
		mux.HandleFunc("GET /v1/reports/{sessionID}", s.getReport)
		mux.HandleFunc("GET /v1/answers/search", s.searchAnswers)
	}
	if s.ingest != nil {
		mux.Handle("/media/ingest", s.ingest)
	}
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	if s.health != nil {
		s.health.Register(mux)
	}

	var h http.Handler = mux
	if s.middleware != nil {
		h = s.middleware(h)
	}
	return h
}

// ──────────────────────────────────────────────────────────────────────────────
// Session endpoints
// ──────────────────────────────────────────────────────────────────────────────

type startSessionRequest struct {
	ProfileKey string `json:"profile_key"`
}

type sessionResponse struct {
	Active     bool      `json:"active"`
	SessionID  string    `json:"session_id,omitempty"`
	ProfileKey string    `json:"profile_key,omitempty"`
	StartedAt  time.Time `json:"started_at,omitzero"`
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProfileKey == "" {
		writeError(w, http.StatusBadRequest, "profile_key is required")
		return
	}

	if err := s.sessions.Start(r.Context(), req.ProfileKey); err != nil {
		switch {
		case errors.Is(err, profile.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, session.ErrSessionActive):
			writeError(w, http.StatusConflict, err.Error())
		default:
			slog.Error("start session failed", "profile_key", req.ProfileKey, "error", err)
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}

	info := s.sessions.Info()
	writeJSON(w, http.StatusCreated, sessionResponse{
		Active:     true,
		SessionID:  info.SessionID,
		ProfileKey: info.ProfileKey,
		StartedAt:  info.StartedAt,
	})
}

func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Stop(r.Context()); err != nil {
		if errors.Is(err, session.ErrNoSession) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		slog.Error("stop session failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Active: false})
}

func (s *Server) sessionStatus(w http.ResponseWriter, _ *http.Request) {
	if !s.sessions.IsActive() {
		writeJSON(w, http.StatusOK, sessionResponse{Active: false})
		return
	}
	info := s.sessions.Info()
	writeJSON(w, http.StatusOK, sessionResponse{
		Active:     true,
		SessionID:  info.SessionID,
		ProfileKey: info.ProfileKey,
		StartedAt:  info.StartedAt,
	})
}

func (s *Server) startListening(w http.ResponseWriter, _ *http.Request) {
	if !s.requireSession(w) {
		return
	}
	s.sessions.StartListening()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) press(w http.ResponseWriter, _ *http.Request) {
	if !s.requireSession(w) {
		return
	}
	s.sessions.Press()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) release(w http.ResponseWriter, _ *http.Request) {
	if !s.requireSession(w) {
		return
	}
	s.sessions.Release()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) requireSession(w http.ResponseWriter) bool {
	if !s.sessions.IsActive() {
		writeError(w, http.StatusConflict, "no active session")
		return false
	}
	return true
}

// ──────────────────────────────────────────────────────────────────────────────
// Report endpoints
// ──────────────────────────────────────────────────────────────────────────────

type reportLine struct {
	Speaker  string `json:"speaker"`
	Text     string `json:"text"`
	OffsetMs int64  `json:"offset_ms"`
}

type reportResponse struct {
	SessionID      string       `json:"session_id"`
	ProfileKey     string       `json:"profile_key"`
	StartedAt      time.Time    `json:"started_at"`
	EndedAt        time.Time    `json:"ended_at"`
	AudioPath      string       `json:"audio_path,omitempty"`
	VideoPath      string       `json:"video_path,omitempty"`
	TranscriptPath string       `json:"transcript_path,omitempty"`
	Lines          []reportLine `json:"lines"`
}

func (s *Server) listReports(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 0)
	ids, err := s.reports.ListSessions(r.Context(), limit)
	if err != nil {
		slog.Error("list reports failed", "error", err)
		writeError(w, http.StatusInternalServerError, "listing reports failed")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": ids})
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("sessionID")
	rep, err := s.reports.GetReport(r.Context(), id)
	if err != nil {
		if errors.Is(err, report.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		slog.Error("get report failed", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "loading report failed")
		return
	}

	resp := reportResponse{
		SessionID:      rep.SessionID,
		ProfileKey:     rep.ProfileKey,
		StartedAt:      rep.StartedAt,
		EndedAt:        rep.EndedAt,
		AudioPath:      rep.AudioPath,
		VideoPath:      rep.VideoPath,
		TranscriptPath: rep.TranscriptPath,
		Lines:          make([]reportLine, 0, len(rep.Lines)),
	}
	for _, l := range rep.Lines {
		resp.Lines = append(resp.Lines, reportLine{Speaker: l.Speaker, Text: l.Text, OffsetMs: l.OffsetMs})
	}
	writeJSON(w, http.StatusOK, resp)
}

type answerMatch struct {
	SessionID  string  `json:"session_id"`
	ProfileKey string  `json:"profile_key"`
	Answer     string  `json:"answer"`
	Distance   float64 `json:"distance"`
}

func (s *Server) searchAnswers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	topK := queryInt(r, "k", 0)

	matches, err := s.reports.SearchAnswers(r.Context(), query, topK)
	if err != nil {
		slog.Error("answer search failed", "error", err)
		writeError(w, http.StatusInternalServerError, "answer search failed")
		return
	}

	out := make([]answerMatch, 0, len(matches))
	for _, m := range matches {
		out = append(out, answerMatch{
			SessionID:  m.SessionID,
			ProfileKey: m.ProfileKey,
			Answer:     m.Answer,
			Distance:   m.Distance,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": out})
}

// ──────────────────────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writing response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// Compile-time interface checks.
var (
	_ SessionControl = (*session.Manager)(nil)
	_ ReportReader   = (*report.Store)(nil)
)
