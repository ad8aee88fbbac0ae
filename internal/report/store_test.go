package report_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/commmmunkey/communiqate-ai-b2b-sub001/internal/report"
	embedmock "github.com/commmmunkey/communiqate-ai-b2b-sub001/pkg/provider/embeddings/mock"
)

const testEmbeddingDim = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if COMMUNIQATE_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("COMMUNIQATE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("COMMUNIQATE_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [report.Store] with a clean schema and the
// given embeddings provider.
func newTestStore(t *testing.T, opts ...report.Option) *report.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	cleanPool := mustPool(t, ctx, dsn)
	t.Cleanup(cleanPool.Close)
	dropSchema(t, ctx, cleanPool)

	store, err := report.NewStore(ctx, dsn, testEmbeddingDim, opts...)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func mustPool(t *testing.T, ctx context.Context, dsn string) *pgxpool.Pool {
	t.Helper()
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	return pool
}

func dropSchema(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	for _, table := range []string{"answer_embeddings", "interview_lines", "interview_reports"} {
		if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE"); err != nil {
			t.Fatalf("drop %s: %v", table, err)
		}
	}
}

func sampleReport() report.Report {
	started := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	return report.Report{
		SessionID:      "session-20260314T1000Z",
		ProfileKey:     "software-engineer-screen",
		StartedAt:      started,
		EndedAt:        started.Add(25 * time.Minute),
		AudioPath:      "/var/recordings/session-20260314T1000Z/audio.ogg",
		TranscriptPath: "/var/recordings/session-20260314T1000Z/transcript.json",
		Lines: []report.Line{
			{Speaker: "interviewer", Text: "Tell me about a project you led.", OffsetMs: 1200},
			{Speaker: "candidate", Text: "I led the billing migration to event sourcing.", OffsetMs: 6400},
			{Speaker: "interviewer", Text: "What was the hardest part?", OffsetMs: 22000},
			{Speaker: "candidate", Text: "Backfilling six years of ledger data without downtime.", OffsetMs: 27500},
		},
	}
}

func TestSaveAndGetReport(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveReport(ctx, sampleReport()); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}

	got, err := store.GetReport(ctx, "session-20260314T1000Z")
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if got.ProfileKey != "software-engineer-screen" {
		t.Errorf("ProfileKey = %q", got.ProfileKey)
	}
	if len(got.Lines) != 4 {
		t.Fatalf("lines = %d, want 4", len(got.Lines))
	}
	if got.Lines[1].Speaker != "candidate" || got.Lines[1].OffsetMs != 6400 {
		t.Errorf("line 1 = %+v", got.Lines[1])
	}
}

func TestSaveReport_UpsertReplacesLines(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rep := sampleReport()
	if err := store.SaveReport(ctx, rep); err != nil {
		t.Fatalf("first SaveReport: %v", err)
	}
	rep.Lines = rep.Lines[:2]
	rep.EndedAt = rep.EndedAt.Add(5 * time.Minute)
	if err := store.SaveReport(ctx, rep); err != nil {
		t.Fatalf("second SaveReport: %v", err)
	}

	got, err := store.GetReport(ctx, rep.SessionID)
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if len(got.Lines) != 2 {
		t.Errorf("lines = %d after upsert, want 2", len(got.Lines))
	}
}

func TestSaveReport_EmptySessionID(t *testing.T) {
	store := newTestStore(t)
	if err := store.SaveReport(context.Background(), report.Report{}); err == nil {
		t.Fatal("SaveReport accepted an empty session id")
	}
}

func TestListSessions_NewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	older := sampleReport()
	newer := sampleReport()
	newer.SessionID = "session-20260315T0900Z"
	newer.StartedAt = older.StartedAt.Add(24 * time.Hour)

	for _, r := range []report.Report{older, newer} {
		if err := store.SaveReport(ctx, r); err != nil {
			t.Fatalf("SaveReport(%s): %v", r.SessionID, err)
		}
	}

	ids, err := store.ListSessions(ctx, 10)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(ids) != 2 || ids[0] != newer.SessionID {
		t.Errorf("ids = %v", ids)
	}
}

func TestSearchAnswers_RanksByDistance(t *testing.T) {
	embed := &embedmock.Provider{
		DimensionsValue: testEmbeddingDim,
		EmbedBatchResult: [][]float32{
			{1, 0, 0, 0},
			{0, 1, 0, 0},
		},
		EmbedResult: []float32{1, 0, 0, 0},
	}
	store := newTestStore(t, report.WithEmbeddings(embed))
	ctx := context.Background()

	if err := store.SaveReport(ctx, sampleReport()); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}

	matches, err := store.SearchAnswers(ctx, "billing migration", 2)
	if err != nil {
		t.Fatalf("SearchAnswers: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("matches = %d, want 2", len(matches))
	}
	if matches[0].Answer != "I led the billing migration to event sourcing." {
		t.Errorf("closest answer = %q", matches[0].Answer)
	}
	if matches[0].Distance > matches[1].Distance {
		t.Error("matches not ordered by ascending distance")
	}
}

func TestSearchAnswers_WithoutProvider(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.SearchAnswers(context.Background(), "anything", 5); err == nil {
		t.Fatal("SearchAnswers succeeded without an embeddings provider")
	}
}

func TestPing(t *testing.T) {
	store := newTestStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
