package repositories

import (
	"context"

	"apex/internal/domain/models"
)

// RunRepository defines the interface for run data access
type RunRepository interface {
	Create(ctx context.Context, run *models.Run) error

	// Get returns domain.ErrNotFound if the run does not exist
	Get(ctx context.Context, runID string) (*models.Run, error)

	// ListActiveByThread returns queued and in-progress runs of a thread
	ListActiveByThread(ctx context.Context, threadID string) ([]models.Run, error)

	// UpdateStatus persists status, last_error and the lifecycle timestamps,
	// but only while the stored status is still from. Returns
	// domain.ErrInvalidTransition when another writer moved the run first.
	UpdateStatus(ctx context.Context, run *models.Run, from models.RunStatus) error
}
