package repositories

import (
	"context"

	"apex/internal/domain/models"
)

// MessageRepository defines the interface for message data access
type MessageRepository interface {
	// Create inserts a new message
	Create(ctx context.Context, msg *models.Message) error

	// ListByThread returns the latest limit messages of a thread,
	// ordered oldest to newest
	ListByThread(ctx context.Context, threadID string, limit int) ([]models.Message, error)

	// CountByThread returns how many messages a thread has
	CountByThread(ctx context.Context, threadID string) (int, error)
}
