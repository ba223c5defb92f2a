package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"apex/internal/domain"
	"apex/internal/domain/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ============================================================================
// UNIT TESTS
// ============================================================================

func TestNewTableNames(t *testing.T) {
	tables := NewTableNames("test_")
	if tables.Threads != "test_threads" || tables.Messages != "test_messages" ||
		tables.Runs != "test_runs" || tables.Assistants != "test_assistants" {
		t.Errorf("unexpected table names: %+v", tables)
	}
}

func TestSchemaSQL_AppliesPrefix(t *testing.T) {
	sql := SchemaSQL("ci_")
	if strings.Contains(sql, "{{prefix}}") {
		t.Fatal("placeholder left in schema")
	}
	for _, table := range []string{"ci_threads", "ci_messages", "ci_runs", "ci_assistants"} {
		if !strings.Contains(sql, "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("schema missing table %s", table)
		}
	}
}

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		want  bool
	}{
		{"duplicate", &pgconn.PgError{Code: "23505"}, IsPgDuplicateError, true},
		{"wrapped duplicate", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), IsPgDuplicateError, true},
		{"foreign key", &pgconn.PgError{Code: "23503"}, IsPgForeignKeyError, true},
		{"invalid text", &pgconn.PgError{Code: "22P02"}, IsPgInvalidTextError, true},
		{"no rows", fmt.Errorf("get: %w", pgx.ErrNoRows), IsPgNoRowsError, true},
		{"other code", &pgconn.PgError{Code: "42P01"}, IsPgDuplicateError, false},
		{"plain error", errors.New("boom"), IsPgForeignKeyError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.check(tt.err); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJSONBHelpers(t *testing.T) {
	data, err := marshalJSONB(nil)
	if err != nil || string(data) != "{}" {
		t.Errorf("expected {} for nil, got %s (%v)", data, err)
	}

	var blocks []models.ContentBlock
	if err := unmarshalJSONB(nil, &blocks); err != nil || blocks != nil {
		t.Errorf("expected NULL to decode to nil, got %v (%v)", blocks, err)
	}

	encoded, err := marshalJSONB(models.TextContent("hi"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := unmarshalJSONB(encoded, &blocks); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(blocks) != 1 || blocks[0].Text != "hi" {
		t.Errorf("unexpected blocks %+v", blocks)
	}
}

// ============================================================================
// INTEGRATION TESTS - require TEST_DATABASE_URL
// ============================================================================

func setupIntegration(t *testing.T) *RepositoryConfig {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := CreateConnectionPool(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	prefix := fmt.Sprintf("it%d_", time.Now().UnixNano()%1_000_000)
	if err := EnsureSchema(ctx, pool, prefix, logger); err != nil {
		t.Fatalf("schema: %v", err)
	}
	tables := NewTableNames(prefix)
	t.Cleanup(func() {
		pool.Exec(context.Background(), fmt.Sprintf("DROP TABLE IF EXISTS %s, %s, %s, %s CASCADE",
			tables.Messages, tables.Runs, tables.Threads, tables.Assistants))
	})

	return &RepositoryConfig{Pool: pool, Tables: tables, Logger: logger}
}

func TestIntegration_ThreadMessageRun(t *testing.T) {
	cfg := setupIntegration(t)
	ctx := context.Background()

	threads := NewThreadRepository(cfg)
	messages := NewMessageRepository(cfg)
	runs := NewRunRepository(cfg)
	assistants := NewAssistantRepository(cfg)
	txm := NewTransactionManager(cfg.Pool, cfg.Logger)

	now := time.Now().UTC()
	thread := &models.Thread{ID: uuid.NewString(), UserID: "user-1", Status: models.ThreadStatusActive, CreatedAt: now, UpdatedAt: now}
	thread.SyncMetadata()
	if err := threads.Create(ctx, thread); err != nil {
		t.Fatalf("create thread: %v", err)
	}

	if _, err := threads.Get(ctx, thread.ID, "someone-else"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected not found for other user, got %v", err)
	}

	for i := 0; i < 3; i++ {
		msg := &models.Message{ID: uuid.NewString(), ThreadID: thread.ID, Role: models.RoleUser,
			Content: models.TextContent(fmt.Sprintf("m%d", i)), CreatedAt: now}
		if err := messages.Create(ctx, msg); err != nil {
			t.Fatalf("create message: %v", err)
		}
	}

	latest, err := messages.ListByThread(ctx, thread.ID, 2)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(latest) != 2 || latest[0].Text() != "m1" || latest[1].Text() != "m2" {
		t.Errorf("expected [m1 m2], got %+v", latest)
	}

	if _, err := assistants.GetOrCreate(ctx, &models.Assistant{ID: "apex-assistant", Name: "Apex", Model: "lorem-fast", CreatedAt: now}); err != nil {
		t.Fatalf("ensure assistant: %v", err)
	}

	run := &models.Run{ID: uuid.NewString(), ThreadID: thread.ID, AssistantID: "apex-assistant", Status: models.RunStatusQueued, CreatedAt: now}
	err = txm.ExecTx(ctx, func(txCtx context.Context) error {
		if err := runs.Create(txCtx, run); err != nil {
			return err
		}
		run.ApplyStatus(models.RunStatusInProgress, nil, now)
		return runs.UpdateStatus(txCtx, run, models.RunStatusQueued)
	})
	if err != nil {
		t.Fatalf("run tx: %v", err)
	}

	active, err := runs.ListActiveByThread(ctx, thread.ID)
	if err != nil || len(active) != 1 || active[0].StartedAt == nil {
		t.Fatalf("expected one started active run, got %+v (%v)", active, err)
	}

	run.ApplyStatus(models.RunStatusCancelled, nil, now)
	if err := runs.UpdateStatus(ctx, run, models.RunStatusQueued); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("expected stale status update to be rejected, got %v", err)
	}

	errAbort := errors.New("abort")
	orphan := &models.Run{ID: uuid.NewString(), ThreadID: thread.ID, AssistantID: "apex-assistant", Status: models.RunStatusQueued, CreatedAt: now}
	err = txm.ExecTx(ctx, func(outer context.Context) error {
		if err := txm.ExecTx(outer, func(inner context.Context) error {
			return runs.Create(inner, orphan)
		}); err != nil {
			return err
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("expected outer error, got %v", err)
	}
	if _, err := runs.Get(ctx, orphan.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected nested write to roll back with the outer tx, got %v", err)
	}

	if _, err := threads.Delete(ctx, thread.ID, "user-1"); err != nil {
		t.Fatalf("delete thread: %v", err)
	}
	if _, err := threads.GetByIDOnly(ctx, thread.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected deleted thread to be hidden, got %v", err)
	}
}
