package memory

import (
	"context"
	"sync"

	"apex/internal/domain/models"
	"apex/internal/domain/repositories"
)

// Store is the shared in-memory backing for every repository in this
// package. Records are copied on the way in and out so callers never alias
// stored state.
type Store struct {
	mu         sync.RWMutex
	threads    map[string]*models.Thread
	messages   map[string][]models.Message // keyed by thread ID, insertion order
	runs       map[string]*models.Run
	assistants map[string]*models.Assistant
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		threads:    make(map[string]*models.Thread),
		messages:   make(map[string][]models.Message),
		runs:       make(map[string]*models.Run),
		assistants: make(map[string]*models.Assistant),
	}
}

// TransactionManager runs units of work directly; every repository call is
// already atomic under the store lock.
type TransactionManager struct{}

// NewTransactionManager creates a memory transaction manager
func NewTransactionManager() repositories.TransactionManager {
	return TransactionManager{}
}

// ExecTx executes fn
func (TransactionManager) ExecTx(ctx context.Context, fn repositories.TxFn) error {
	return fn(ctx)
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyThread(t *models.Thread) *models.Thread {
	c := *t
	c.Metadata = copyMap(t.Metadata)
	return &c
}

func copyMessage(m models.Message) models.Message {
	m.Content = append([]models.ContentBlock(nil), m.Content...)
	m.Metadata = copyMap(m.Metadata)
	return m
}

func copyRun(r *models.Run) *models.Run {
	c := *r
	c.Metadata = copyMap(r.Metadata)
	return &c
}
