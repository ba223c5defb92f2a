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

// PostgresAssistantRepository implements AssistantRepository using PostgreSQL
type PostgresAssistantRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewAssistantRepository creates a new PostgresAssistantRepository
func NewAssistantRepository(config *RepositoryConfig) repositories.AssistantRepository {
	return &PostgresAssistantRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// Get retrieves an assistant by ID
func (r *PostgresAssistantRepository) Get(ctx context.Context, assistantID string) (*models.Assistant, error) {
	query := fmt.Sprintf(`
		SELECT id, name, description, model, instructions, tools, metadata, created_at
		FROM %s WHERE id = $1
	`, r.tables.Assistants)

	var assistant models.Assistant
	var tools, metadata []byte
	executor := GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query, assistantID).Scan(
		&assistant.ID,
		&assistant.Name,
		&assistant.Description,
		&assistant.Model,
		&assistant.Instructions,
		&tools,
		&metadata,
		&assistant.CreatedAt,
	)
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("assistant %s: %w", assistantID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get assistant: %w", err)
	}

	if err := unmarshalJSONB(tools, &assistant.Tools); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(metadata, &assistant.Metadata); err != nil {
		return nil, err
	}

	return &assistant, nil
}

// GetOrCreate inserts the assistant unless one with the same ID exists,
// then returns the stored row
func (r *PostgresAssistantRepository) GetOrCreate(ctx context.Context, assistant *models.Assistant) (*models.Assistant, error) {
	tools := assistant.Tools
	if tools == nil {
		tools = []string{}
	}
	toolsJSON, err := marshalJSONB(tools)
	if err != nil {
		return nil, err
	}
	metadata, err := marshalJSONB(assistant.Metadata)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, name, description, model, instructions, tools, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, r.tables.Assistants)

	executor := GetExecutor(ctx, r.pool)
	_, err = executor.Exec(ctx, query,
		assistant.ID,
		assistant.Name,
		assistant.Description,
		assistant.Model,
		assistant.Instructions,
		toolsJSON,
		metadata,
		assistant.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("ensure assistant: %w", err)
	}

	return r.Get(ctx, assistant.ID)
}
