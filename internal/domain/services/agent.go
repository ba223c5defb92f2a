package services

import (
	"context"

	"apex/internal/domain/models"
)

// RunJob is a run handed to the executor
type RunJob struct {
	Run          *models.Run
	UserID       string
	Input        string
	Instructions string
}

// RunExecutor executes runs in the background
type RunExecutor interface {
	// Start launches the run; it returns once the run is registered
	Start(ctx context.Context, job RunJob) error

	// Stop cancels a run; it reports whether the run was executing
	Stop(runID string) bool

	// StopThread cancels every run of a thread and returns how many stopped
	StopThread(threadID string) int

	// Active reports whether a run is executing on the thread
	Active(threadID string) bool
}
