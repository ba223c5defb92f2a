package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"apex/internal/domain"
	"apex/internal/domain/models"
	"apex/internal/domain/repositories"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresMessageRepository implements MessageRepository using PostgreSQL
type PostgresMessageRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewMessageRepository creates a new PostgresMessageRepository
func NewMessageRepository(config *RepositoryConfig) repositories.MessageRepository {
	return &PostgresMessageRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// Create inserts a new message
func (r *PostgresMessageRepository) Create(ctx context.Context, msg *models.Message) error {
	content, err := marshalJSONB(msg.Content)
	if err != nil {
		return err
	}
	metadata, err := marshalJSONB(msg.Metadata)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, thread_id, role, content, assistant_id, run_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.tables.Messages)

	executor := GetExecutor(ctx, r.pool)
	_, err = executor.Exec(ctx, query,
		msg.ID,
		msg.ThreadID,
		msg.Role,
		content,
		msg.AssistantID,
		msg.RunID,
		metadata,
		msg.CreatedAt,
	)
	if err != nil {
		if IsPgForeignKeyError(err) {
			return fmt.Errorf("thread %s: %w", msg.ThreadID, domain.ErrNotFound)
		}
		return fmt.Errorf("create message: %w", err)
	}

	return nil
}

// ListByThread returns the latest limit messages, oldest first
func (r *PostgresMessageRepository) ListByThread(ctx context.Context, threadID string, limit int) ([]models.Message, error) {
	query := fmt.Sprintf(`
		SELECT id, thread_id, role, content, assistant_id, run_id, metadata, created_at
		FROM (
			SELECT * FROM %s
			WHERE thread_id = $1
			ORDER BY seq DESC
			LIMIT $2
		) latest
		ORDER BY seq ASC
	`, r.tables.Messages)

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, threadID, limit)
	if err != nil {
		if IsPgInvalidTextError(err) {
			return nil, fmt.Errorf("thread %s: %w", threadID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var msg models.Message
		var content, metadata []byte
		err := rows.Scan(
			&msg.ID,
			&msg.ThreadID,
			&msg.Role,
			&content,
			&msg.AssistantID,
			&msg.RunID,
			&metadata,
			&msg.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if err := unmarshalJSONB(content, &msg.Content); err != nil {
			return nil, err
		}
		if err := unmarshalJSONB(metadata, &msg.Metadata); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}

// CountByThread returns how many messages a thread has
func (r *PostgresMessageRepository) CountByThread(ctx context.Context, threadID string) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE thread_id = $1`, r.tables.Messages)

	var count int
	executor := GetExecutor(ctx, r.pool)
	if err := executor.QueryRow(ctx, query, threadID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}
