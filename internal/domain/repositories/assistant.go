package repositories

import (
	"context"

	"apex/internal/domain/models"
)

// AssistantRepository defines the interface for assistant data access
type AssistantRepository interface {
	// Get returns domain.ErrNotFound if the assistant does not exist
	Get(ctx context.Context, assistantID string) (*models.Assistant, error)

	// GetOrCreate returns the stored assistant with the given ID, inserting
	// it first when it does not exist yet
	GetOrCreate(ctx context.Context, assistant *models.Assistant) (*models.Assistant, error)
}
