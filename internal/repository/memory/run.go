package memory

import (
	"context"
	"fmt"
	"sort"

	"apex/internal/domain"
	"apex/internal/domain/models"
	"apex/internal/domain/repositories"
)

// RunRepository implements repositories.RunRepository in memory
type RunRepository struct {
	store *Store
}

// NewRunRepository creates a run repository over store
func NewRunRepository(store *Store) repositories.RunRepository {
	return &RunRepository{store: store}
}

func (r *RunRepository) Create(ctx context.Context, run *models.Run) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.threads[run.ThreadID]; !ok {
		return fmt.Errorf("thread %s: %w", run.ThreadID, domain.ErrNotFound)
	}
	if _, ok := r.store.assistants[run.AssistantID]; !ok {
		return fmt.Errorf("assistant %s: %w", run.AssistantID, domain.ErrNotFound)
	}
	r.store.runs[run.ID] = copyRun(run)
	return nil
}

func (r *RunRepository) Get(ctx context.Context, runID string) (*models.Run, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	run, ok := r.store.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
	}
	return copyRun(run), nil
}

func (r *RunRepository) ListActiveByThread(ctx context.Context, threadID string) ([]models.Run, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	runs := []models.Run{}
	for _, run := range r.store.runs {
		if run.ThreadID == threadID && run.Status.IsActive() {
			runs = append(runs, *copyRun(run))
		}
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.Before(runs[j].CreatedAt) })
	return runs, nil
}

func (r *RunRepository) UpdateStatus(ctx context.Context, run *models.Run, from models.RunStatus) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stored, ok := r.store.runs[run.ID]
	if !ok {
		return fmt.Errorf("run %s: %w", run.ID, domain.ErrNotFound)
	}
	if stored.Status != from {
		return fmt.Errorf("run %s is %s, not %s: %w", run.ID, stored.Status, from, domain.ErrInvalidTransition)
	}
	stored.Status = run.Status
	stored.LastError = run.LastError
	stored.StartedAt = run.StartedAt
	stored.CompletedAt = run.CompletedAt
	stored.FailedAt = run.FailedAt
	stored.CancelledAt = run.CancelledAt
	return nil
}
