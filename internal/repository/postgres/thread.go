package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"apex/internal/domain"
	"apex/internal/domain/models"
	"apex/internal/domain/repositories"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresThreadRepository implements ThreadRepository using PostgreSQL
type PostgresThreadRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewThreadRepository creates a new PostgresThreadRepository
func NewThreadRepository(config *RepositoryConfig) repositories.ThreadRepository {
	return &PostgresThreadRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

const threadColumns = `id, user_id, title, status, metadata, created_at, updated_at, deleted_at`

// Create inserts a new thread
func (r *PostgresThreadRepository) Create(ctx context.Context, thread *models.Thread) error {
	metadata, err := marshalJSONB(thread.Metadata)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, user_id, title, status, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.tables.Threads)

	executor := GetExecutor(ctx, r.pool)
	_, err = executor.Exec(ctx, query,
		thread.ID,
		thread.UserID,
		thread.Title,
		thread.Status,
		metadata,
		thread.CreatedAt,
		thread.UpdatedAt,
	)
	if err != nil {
		if IsPgDuplicateError(err) {
			return &domain.ConflictError{
				Message:      fmt.Sprintf("thread %s already exists", thread.ID),
				ResourceType: "thread",
				ResourceID:   thread.ID,
			}
		}
		return fmt.Errorf("create thread: %w", err)
	}

	return nil
}

// Get retrieves a thread by ID scoped to its owner
func (r *PostgresThreadRepository) Get(ctx context.Context, threadID, userID string) (*models.Thread, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
	`, threadColumns, r.tables.Threads)

	executor := GetExecutor(ctx, r.pool)
	thread, err := scanThread(executor.QueryRow(ctx, query, threadID, userID))
	if err != nil {
		return nil, r.notFound(err, threadID, "get thread")
	}
	return thread, nil
}

// GetByIDOnly retrieves a thread by ID without owner scoping
func (r *PostgresThreadRepository) GetByIDOnly(ctx context.Context, threadID string) (*models.Thread, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE id = $1 AND deleted_at IS NULL
	`, threadColumns, r.tables.Threads)

	executor := GetExecutor(ctx, r.pool)
	thread, err := scanThread(executor.QueryRow(ctx, query, threadID))
	if err != nil {
		return nil, r.notFound(err, threadID, "get thread")
	}
	return thread, nil
}

// ListByUser returns the user's threads, most recently updated first
func (r *PostgresThreadRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Thread, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY updated_at DESC, id
		LIMIT $2 OFFSET $3
	`, threadColumns, r.tables.Threads)

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	threads := []models.Thread{}
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		threads = append(threads, *thread)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate threads: %w", err)
	}

	return threads, nil
}

// Update persists the mutable fields of a thread
func (r *PostgresThreadRepository) Update(ctx context.Context, thread *models.Thread) error {
	metadata, err := marshalJSONB(thread.Metadata)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET title = $1, status = $2, metadata = $3, updated_at = $4
		WHERE id = $5 AND user_id = $6 AND deleted_at IS NULL
	`, r.tables.Threads)

	executor := GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query,
		thread.Title,
		thread.Status,
		metadata,
		thread.UpdatedAt,
		thread.ID,
		thread.UserID,
	)
	if err != nil {
		return fmt.Errorf("update thread: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("thread %s: %w", thread.ID, domain.ErrNotFound)
	}

	return nil
}

// Delete soft-deletes a thread and returns it
func (r *PostgresThreadRepository) Delete(ctx context.Context, threadID, userID string) (*models.Thread, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET deleted_at = $1, updated_at = $1
		WHERE id = $2 AND user_id = $3 AND deleted_at IS NULL
		RETURNING %s
	`, r.tables.Threads, threadColumns)

	executor := GetExecutor(ctx, r.pool)
	thread, err := scanThread(executor.QueryRow(ctx, query, time.Now().UTC(), threadID, userID))
	if err != nil {
		return nil, r.notFound(err, threadID, "delete thread")
	}
	return thread, nil
}

func (r *PostgresThreadRepository) notFound(err error, threadID, op string) error {
	if IsPgNoRowsError(err) || IsPgInvalidTextError(err) {
		return fmt.Errorf("thread %s: %w", threadID, domain.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func scanThread(row pgx.Row) (*models.Thread, error) {
	var thread models.Thread
	var metadata []byte
	err := row.Scan(
		&thread.ID,
		&thread.UserID,
		&thread.Title,
		&thread.Status,
		&metadata,
		&thread.CreatedAt,
		&thread.UpdatedAt,
		&thread.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(metadata, &thread.Metadata); err != nil {
		return nil, err
	}
	return &thread, nil
}
