package memory

import (
	"context"
	"fmt"

	"apex/internal/domain"
	"apex/internal/domain/models"
	"apex/internal/domain/repositories"
)

// AssistantRepository implements repositories.AssistantRepository in memory
type AssistantRepository struct {
	store *Store
}

// NewAssistantRepository creates an assistant repository over store
func NewAssistantRepository(store *Store) repositories.AssistantRepository {
	return &AssistantRepository{store: store}
}

func (r *AssistantRepository) Get(ctx context.Context, assistantID string) (*models.Assistant, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	assistant, ok := r.store.assistants[assistantID]
	if !ok {
		return nil, fmt.Errorf("assistant %s: %w", assistantID, domain.ErrNotFound)
	}
	c := *assistant
	return &c, nil
}

func (r *AssistantRepository) GetOrCreate(ctx context.Context, assistant *models.Assistant) (*models.Assistant, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if existing, ok := r.store.assistants[assistant.ID]; ok {
		c := *existing
		return &c, nil
	}
	c := *assistant
	r.store.assistants[assistant.ID] = &c
	out := c
	return &out, nil
}
