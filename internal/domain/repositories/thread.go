package repositories

import (
	"context"

	"apex/internal/domain/models"
)

// ThreadRepository defines the interface for thread data access
type ThreadRepository interface {
	// Create inserts a new thread
	Create(ctx context.Context, thread *models.Thread) error

	// Get retrieves a thread by ID (scoped to user)
	// Returns domain.ErrNotFound if not found or deleted
	Get(ctx context.Context, threadID, userID string) (*models.Thread, error)

	// GetByIDOnly retrieves a thread by ID without user scoping
	// Returns domain.ErrNotFound if not found or deleted
	GetByIDOnly(ctx context.Context, threadID string) (*models.Thread, error)

	// ListByUser returns the user's threads, most recently updated first
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Thread, error)

	// Update persists title, status, metadata and updated_at
	// Returns domain.ErrNotFound if not found
	Update(ctx context.Context, thread *models.Thread) error

	// Delete soft-deletes a thread and returns it
	// Returns domain.ErrNotFound if not found or already deleted
	Delete(ctx context.Context, threadID, userID string) (*models.Thread, error)
}
