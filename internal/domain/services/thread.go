package services

import (
	"context"

	"apex/internal/domain/models"
)

// ThreadService defines the business logic for threads, messages and runs
type ThreadService interface {
	// GetOrCreateThread returns the user's thread with threadID, or creates a
	// fresh thread when threadID is empty. created reports whether a new
	// thread was made.
	GetOrCreateThread(ctx context.Context, userID, threadID string) (thread *models.Thread, created bool, err error)

	// CreateThread creates a new thread owned by req.UserID
	CreateThread(ctx context.Context, req *CreateThreadRequest) (*models.Thread, error)

	// GetThread retrieves a thread by ID
	// Returns domain.ErrNotFound when the thread is missing or owned by someone else
	GetThread(ctx context.Context, threadID, userID string) (*models.Thread, error)

	// ListThreads pages through the user's threads, most recently updated first
	ListThreads(ctx context.Context, userID string, limit, offset int) ([]models.Thread, error)

	// UpdateThread changes title, status or metadata
	UpdateThread(ctx context.Context, threadID, userID string, req *UpdateThreadRequest) (*models.Thread, error)

	// DeleteThread soft-deletes a thread and cancels its active runs
	DeleteThread(ctx context.Context, threadID, userID string) error

	// CreateMessage appends a message to a thread
	// The first user message of an untitled thread becomes its title
	CreateMessage(ctx context.Context, req *CreateMessageRequest) (*models.Message, error)

	// GetThreadMessages returns the latest limit messages, oldest first
	GetThreadMessages(ctx context.Context, threadID, userID string, limit int) ([]models.Message, error)

	// CreateRun queues a run on a thread
	CreateRun(ctx context.Context, req *CreateRunRequest) (*models.Run, error)

	// UpdateRunStatus validates and applies a run status transition
	// Returns domain.ErrInvalidTransition for moves the lifecycle forbids
	UpdateRunStatus(ctx context.Context, runID string, status models.RunStatus, lastError *string) (*models.Run, error)

	// GetRun returns a run of one of the user's threads
	GetRun(ctx context.Context, runID, userID string) (*models.Run, error)

	// ActiveRuns returns the queued and in-progress runs of a thread
	ActiveRuns(ctx context.Context, threadID string) ([]models.Run, error)
}

// Notifier pushes an event to every live connection of a user
type Notifier interface {
	Notify(ctx context.Context, userID, eventType string, payload interface{})
}

// RunCanceller stops the executing runs of a thread
type RunCanceller interface {
	StopThread(threadID string) int
}

// CreateThreadRequest is the DTO for creating a thread
type CreateThreadRequest struct {
	UserID   string                 `json:"-"` // Set by handler from auth context
	Title    string                 `json:"title"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// UpdateThreadRequest is the DTO for updating a thread.
// Nil fields are left unchanged; an empty Title clears it.
type UpdateThreadRequest struct {
	Title    *string
	Status   *string
	Metadata map[string]interface{}
}

// CreateMessageRequest is the DTO for appending a message
type CreateMessageRequest struct {
	ThreadID    string                 `json:"-"`
	UserID      string                 `json:"-"`
	Role        string                 `json:"role"`
	Content     []models.ContentBlock  `json:"content"`
	AssistantID *string                `json:"assistant_id,omitempty"`
	RunID       *string                `json:"run_id,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// CreateRunRequest is the DTO for queuing a run
type CreateRunRequest struct {
	ThreadID     string
	UserID       string
	AssistantID  string // Empty selects the default assistant
	Instructions string
	Metadata     map[string]interface{}
}
