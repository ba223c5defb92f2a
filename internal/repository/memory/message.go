package memory

import (
	"context"
	"fmt"

	"apex/internal/domain"
	"apex/internal/domain/models"
	"apex/internal/domain/repositories"
)

// MessageRepository implements repositories.MessageRepository in memory
type MessageRepository struct {
	store *Store
}

// NewMessageRepository creates a message repository over store
func NewMessageRepository(store *Store) repositories.MessageRepository {
	return &MessageRepository{store: store}
}

func (r *MessageRepository) Create(ctx context.Context, msg *models.Message) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.threads[msg.ThreadID]; !ok {
		return fmt.Errorf("thread %s: %w", msg.ThreadID, domain.ErrNotFound)
	}
	r.store.messages[msg.ThreadID] = append(r.store.messages[msg.ThreadID], copyMessage(*msg))
	return nil
}

func (r *MessageRepository) ListByThread(ctx context.Context, threadID string, limit int) ([]models.Message, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	msgs := r.store.messages[threadID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	out := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, copyMessage(m))
	}
	return out, nil
}

func (r *MessageRepository) CountByThread(ctx context.Context, threadID string) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return len(r.store.messages[threadID]), nil
}
