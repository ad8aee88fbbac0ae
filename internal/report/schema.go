// Package report persists finished interview sessions to PostgreSQL and
// indexes candidate answers with pgvector for semantic search across past
// sessions.
//
// The pgvector extension must be available in the target database; [Migrate]
// installs it via CREATE EXTENSION IF NOT EXISTS.
package report

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// DDL — session reports and transcript lines
// ─────────────────────────────────────────────────────────────────────────────

const ddlReports = `
CREATE TABLE IF NOT EXISTS interview_reports (
    session_id      TEXT         PRIMARY KEY,
    profile_key     TEXT         NOT NULL,
    started_at      TIMESTAMPTZ  NOT NULL,
    ended_at        TIMESTAMPTZ  NOT NULL,
    audio_path      TEXT         NOT NULL DEFAULT '',
    video_path      TEXT         NOT NULL DEFAULT '',
    transcript_path TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_interview_reports_profile
    ON interview_reports (profile_key);

CREATE INDEX IF NOT EXISTS idx_interview_reports_started
    ON interview_reports (started_at);
`

const ddlLines = `
CREATE TABLE IF NOT EXISTS interview_lines (
    id         BIGSERIAL  PRIMARY KEY,
    session_id TEXT       NOT NULL,
    seq        INT        NOT NULL,
    speaker    TEXT       NOT NULL,
    text       TEXT       NOT NULL,
    offset_ms  BIGINT     NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_interview_lines_session
    ON interview_lines (session_id, seq);

CREATE INDEX IF NOT EXISTS idx_interview_lines_fts
    ON interview_lines USING GIN (to_tsvector('english', text));
`

// ─────────────────────────────────────────────────────────────────────────────
// DDL — answer embeddings
// ─────────────────────────────────────────────────────────────────────────────

const ddlAnswersFmt = `
CREATE TABLE IF NOT EXISTS answer_embeddings (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    profile_key TEXT         NOT NULL DEFAULT '',
    answer      TEXT         NOT NULL,
    embedding   vector(%d)   NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_answer_embeddings_session
    ON answer_embeddings (session_id);
`

const ddlAnswersIndex = `
CREATE INDEX IF NOT EXISTS idx_answer_embeddings_hnsw
    ON answer_embeddings USING hnsw (embedding vector_cosine_ops);
`

// Migrate ensures the pgvector extension and all report tables exist.
// embeddingDimensions must match the embedding provider's output dimension;
// changing it after the first migration requires a manual schema change.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []struct {
		name string
		sql  string
	}{
		{"vector extension", `CREATE EXTENSION IF NOT EXISTS vector`},
		{"reports", ddlReports},
		{"lines", ddlLines},
		{"answers", fmt.Sprintf(ddlAnswersFmt, embeddingDimensions)},
		{"answers hnsw index", ddlAnswersIndex},
	}
	for _, st := range statements {
		if _, err := pool.Exec(ctx, st.sql); err != nil {
			return fmt.Errorf("report: migrate %s: %w", st.name, err)
		}
	}
	return nil
}
