package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"apex/internal/domain"
	"apex/internal/domain/models"
	"apex/internal/domain/repositories"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRunRepository implements RunRepository using PostgreSQL
type PostgresRunRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewRunRepository creates a new PostgresRunRepository
func NewRunRepository(config *RepositoryConfig) repositories.RunRepository {
	return &PostgresRunRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

const runColumns = `id, thread_id, assistant_id, status, model, instructions, last_error, metadata,
	created_at, started_at, completed_at, failed_at, cancelled_at`

// Create inserts a new run
func (r *PostgresRunRepository) Create(ctx context.Context, run *models.Run) error {
	metadata, err := marshalJSONB(run.Metadata)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, thread_id, assistant_id, status, model, instructions, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.tables.Runs)

	executor := GetExecutor(ctx, r.pool)
	_, err = executor.Exec(ctx, query,
		run.ID,
		run.ThreadID,
		run.AssistantID,
		run.Status,
		run.Model,
		run.Instructions,
		metadata,
		run.CreatedAt,
	)
	if err != nil {
		if IsPgForeignKeyError(err) {
			return fmt.Errorf("run %s references a missing thread or assistant: %w", run.ID, domain.ErrNotFound)
		}
		return fmt.Errorf("create run: %w", err)
	}

	return nil
}

// Get retrieves a run by ID
func (r *PostgresRunRepository) Get(ctx context.Context, runID string) (*models.Run, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, runColumns, r.tables.Runs)

	executor := GetExecutor(ctx, r.pool)
	run, err := scanRun(executor.QueryRow(ctx, query, runID))
	if err != nil {
		if IsPgNoRowsError(err) || IsPgInvalidTextError(err) {
			return nil, fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListActiveByThread returns queued and in-progress runs
func (r *PostgresRunRepository) ListActiveByThread(ctx context.Context, threadID string) ([]models.Run, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE thread_id = $1 AND status IN ('queued', 'in_progress')
		ORDER BY created_at
	`, runColumns, r.tables.Runs)

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("list active runs: %w", err)
	}
	defer rows.Close()

	runs := []models.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, nil
}

// UpdateStatus persists status, last_error and lifecycle timestamps.
// The status guard makes concurrent transitions from the same state race
// for a single row update.
func (r *PostgresRunRepository) UpdateStatus(ctx context.Context, run *models.Run, from models.RunStatus) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1, last_error = $2, started_at = $3, completed_at = $4, failed_at = $5, cancelled_at = $6
		WHERE id = $7 AND status = $8
	`, r.tables.Runs)

	executor := GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query,
		run.Status,
		run.LastError,
		run.StartedAt,
		run.CompletedAt,
		run.FailedAt,
		run.CancelledAt,
		run.ID,
		from,
	)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("run %s is no longer %s: %w", run.ID, from, domain.ErrInvalidTransition)
	}

	return nil
}

func scanRun(row pgx.Row) (*models.Run, error) {
	var run models.Run
	var metadata []byte
	err := row.Scan(
		&run.ID,
		&run.ThreadID,
		&run.AssistantID,
		&run.Status,
		&run.Model,
		&run.Instructions,
		&run.LastError,
		&metadata,
		&run.CreatedAt,
		&run.StartedAt,
		&run.CompletedAt,
		&run.FailedAt,
		&run.CancelledAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(metadata, &run.Metadata); err != nil {
		return nil, err
	}
	return &run, nil
}
