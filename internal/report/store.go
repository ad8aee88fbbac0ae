package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/provider/embeddings"
)

// SpeakerCandidate marks transcript lines spoken by the interviewee. Only
// these lines are embedded for answer search.
const SpeakerCandidate = "candidate"

// ErrNotFound is returned by [Store.GetReport] when no report exists for the
// requested session id.
var ErrNotFound = errors.New("report not found")

// Line is one transcript entry of a finished session.
type Line struct {
	Speaker  string
	Text     string
	OffsetMs int64
}

// Report is the persisted record of one finished interview session.
type Report struct {
	SessionID      string
	ProfileKey     string
	StartedAt      time.Time
	EndedAt        time.Time
	AudioPath      string
	VideoPath      string
	TranscriptPath string
	Lines          []Line
}

// AnswerMatch is one semantic search hit.
type AnswerMatch struct {
	SessionID  string
	ProfileKey string
	Answer     string
	// Distance is the cosine distance to the query; smaller is closer.
	Distance float64
}

// Option configures a [Store].
type Option func(*Store)

// WithEmbeddings enables answer indexing and [Store.SearchAnswers]. The
// provider's dimensionality must match the dimension the schema was migrated
// with.
func WithEmbeddings(p embeddings.Provider) Option {
	return func(s *Store) { s.embed = p }
}

// Store is the PostgreSQL-backed report store. All operations are safe for
// concurrent use.
type Store struct {
	pool  *pgxpool.Pool
	embed embeddings.Provider
}

// NewStore connects to the database at dsn, registers pgvector types on
// every connection, and runs [Migrate].
func NewStore(ctx context.Context, dsn string, embeddingDimensions int, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("report store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("report store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("report store: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, err
	}

	s := &Store{pool: pool}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Ping verifies database connectivity. Satisfies the health checker's Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// SaveReport persists the session record and its transcript lines in one
// transaction, then indexes the candidate's answers. Indexing is best-effort:
// an embedding failure is logged and does not fail the save.
func (s *Store) SaveReport(ctx context.Context, r Report) error {
	if r.SessionID == "" {
		return errors.New("report store: session id must not be empty")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("report store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const upsert = `
		INSERT INTO interview_reports
		    (session_id, profile_key, started_at, ended_at, audio_path, video_path, transcript_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id) DO UPDATE SET
		    profile_key     = EXCLUDED.profile_key,
		    started_at      = EXCLUDED.started_at,
		    ended_at        = EXCLUDED.ended_at,
		    audio_path      = EXCLUDED.audio_path,
		    video_path      = EXCLUDED.video_path,
		    transcript_path = EXCLUDED.transcript_path`
	if _, err := tx.Exec(ctx, upsert,
		r.SessionID, r.ProfileKey, r.StartedAt, r.EndedAt,
		r.AudioPath, r.VideoPath, r.TranscriptPath,
	); err != nil {
		return fmt.Errorf("report store: upsert report: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM interview_lines WHERE session_id = $1`, r.SessionID); err != nil {
		return fmt.Errorf("report store: clear lines: %w", err)
	}
	for i, line := range r.Lines {
		const ins = `
			INSERT INTO interview_lines (session_id, seq, speaker, text, offset_ms)
			VALUES ($1, $2, $3, $4, $5)`
		if _, err := tx.Exec(ctx, ins, r.SessionID, i, line.Speaker, line.Text, line.OffsetMs); err != nil {
			return fmt.Errorf("report store: insert line %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("report store: commit: %w", err)
	}

	if s.embed != nil {
		if err := s.indexAnswers(ctx, r); err != nil {
			slog.Warn("report store: answer indexing failed, report saved without search index",
				"session_id", r.SessionID, "err", err)
		}
	}
	return nil
}

// GetReport loads a persisted report including its transcript lines.
func (s *Store) GetReport(ctx context.Context, sessionID string) (Report, error) {
	var r Report
	const q = `
		SELECT session_id, profile_key, started_at, ended_at,
		       audio_path, video_path, transcript_path
		FROM interview_reports WHERE session_id = $1`
	err := s.pool.QueryRow(ctx, q, sessionID).Scan(
		&r.SessionID, &r.ProfileKey, &r.StartedAt, &r.EndedAt,
		&r.AudioPath, &r.VideoPath, &r.TranscriptPath,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Report{}, fmt.Errorf("report store: session %q: %w", sessionID, ErrNotFound)
		}
		return Report{}, fmt.Errorf("report store: get report: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT speaker, text, offset_ms FROM interview_lines WHERE session_id = $1 ORDER BY seq`,
		sessionID)
	if err != nil {
		return Report{}, fmt.Errorf("report store: get lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.Speaker, &l.Text, &l.OffsetMs); err != nil {
			return Report{}, fmt.Errorf("report store: scan line: %w", err)
		}
		r.Lines = append(r.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return Report{}, fmt.Errorf("report store: iterate lines: %w", err)
	}
	return r, nil
}

// ListSessions returns the ids of persisted reports, newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT session_id FROM interview_reports ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("report store: list sessions: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("report store: scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SearchAnswers finds past candidate answers semantically closest to query.
// Requires an embeddings provider; results are ordered by ascending cosine
// distance.
func (s *Store) SearchAnswers(ctx context.Context, query string, topK int) ([]AnswerMatch, error) {
	if s.embed == nil {
		return nil, errors.New("report store: no embeddings provider configured")
	}
	if topK <= 0 {
		topK = 10
	}
	vec, err := s.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("report store: embed query: %w", err)
	}

	const q = `
		SELECT session_id, profile_key, answer, embedding <=> $1 AS distance
		FROM answer_embeddings
		ORDER BY embedding <=> $1
		LIMIT $2`
	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(vec), topK)
	if err != nil {
		return nil, fmt.Errorf("report store: search answers: %w", err)
	}
	defer rows.Close()

	var matches []AnswerMatch
	for rows.Next() {
		var m AnswerMatch
		if err := rows.Scan(&m.SessionID, &m.ProfileKey, &m.Answer, &m.Distance); err != nil {
			return nil, fmt.Errorf("report store: scan match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// indexAnswers embeds the candidate's lines in one batch and replaces the
// session's rows in answer_embeddings.
func (s *Store) indexAnswers(ctx context.Context, r Report) error {
	var answers []string
	for _, line := range r.Lines {
		if line.Speaker == SpeakerCandidate && line.Text != "" {
			answers = append(answers, line.Text)
		}
	}
	if len(answers) == 0 {
		return nil
	}

	vectors, err := s.embed.EmbedBatch(ctx, answers)
	if err != nil {
		return fmt.Errorf("embed answers: %w", err)
	}
	if len(vectors) != len(answers) {
		return fmt.Errorf("embed answers: got %d vectors for %d answers", len(vectors), len(answers))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM answer_embeddings WHERE session_id = $1`, r.SessionID); err != nil {
		return fmt.Errorf("clear answers: %w", err)
	}
	for i, answer := range answers {
		const ins = `
			INSERT INTO answer_embeddings (session_id, profile_key, answer, embedding)
			VALUES ($1, $2, $3, $4)`
		if _, err := tx.Exec(ctx, ins, r.SessionID, r.ProfileKey, answer, pgvector.NewVector(vectors[i])); err != nil {
			return fmt.Errorf("insert answer %d: %w", i, err)
		}
	}
	return tx.Commit(ctx)
}
