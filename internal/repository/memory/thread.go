package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"apex/internal/domain"
	"apex/internal/domain/models"
	"apex/internal/domain/repositories"
)

// ThreadRepository implements repositories.ThreadRepository in memory
type ThreadRepository struct {
	store *Store
}

// NewThreadRepository creates a thread repository over store
func NewThreadRepository(store *Store) repositories.ThreadRepository {
	return &ThreadRepository{store: store}
}

func (r *ThreadRepository) Create(ctx context.Context, thread *models.Thread) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, exists := r.store.threads[thread.ID]; exists {
		return &domain.ConflictError{
			Message:      fmt.Sprintf("thread %s already exists", thread.ID),
			ResourceType: "thread",
			ResourceID:   thread.ID,
		}
	}
	r.store.threads[thread.ID] = copyThread(thread)
	return nil
}

func (r *ThreadRepository) Get(ctx context.Context, threadID, userID string) (*models.Thread, error) {
	thread, err := r.GetByIDOnly(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !thread.IsOwnedBy(userID) {
		return nil, fmt.Errorf("thread %s: %w", threadID, domain.ErrNotFound)
	}
	return thread, nil
}

func (r *ThreadRepository) GetByIDOnly(ctx context.Context, threadID string) (*models.Thread, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	thread, ok := r.store.threads[threadID]
	if !ok || thread.DeletedAt != nil {
		return nil, fmt.Errorf("thread %s: %w", threadID, domain.ErrNotFound)
	}
	return copyThread(thread), nil
}

func (r *ThreadRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Thread, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	threads := []models.Thread{}
	for _, thread := range r.store.threads {
		if thread.UserID == userID && thread.DeletedAt == nil {
			threads = append(threads, *copyThread(thread))
		}
	}

	sort.Slice(threads, func(i, j int) bool {
		if threads[i].UpdatedAt.Equal(threads[j].UpdatedAt) {
			return threads[i].ID < threads[j].ID
		}
		return threads[i].UpdatedAt.After(threads[j].UpdatedAt)
	})

	if offset >= len(threads) {
		return []models.Thread{}, nil
	}
	threads = threads[offset:]
	if limit > 0 && len(threads) > limit {
		threads = threads[:limit]
	}
	return threads, nil
}

func (r *ThreadRepository) Update(ctx context.Context, thread *models.Thread) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stored, ok := r.store.threads[thread.ID]
	if !ok || stored.DeletedAt != nil || stored.UserID != thread.UserID {
		return fmt.Errorf("thread %s: %w", thread.ID, domain.ErrNotFound)
	}

	stored.Title = thread.Title
	stored.Status = thread.Status
	stored.Metadata = copyMap(thread.Metadata)
	stored.UpdatedAt = thread.UpdatedAt
	return nil
}

func (r *ThreadRepository) Delete(ctx context.Context, threadID, userID string) (*models.Thread, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stored, ok := r.store.threads[threadID]
	if !ok || stored.DeletedAt != nil || !stored.IsOwnedBy(userID) {
		return nil, fmt.Errorf("thread %s: %w", threadID, domain.ErrNotFound)
	}

	now := time.Now().UTC()
	stored.DeletedAt = &now
	stored.UpdatedAt = now
	return copyThread(stored), nil
}
