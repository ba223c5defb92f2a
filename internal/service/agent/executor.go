package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"apex/internal/config"
	"apex/internal/domain"
	"apex/internal/domain/models"
	"apex/internal/domain/services"
	"apex/internal/errmap"

	mstream "github.com/haowjy/meridian-stream-go"
)

// Stream event types
const (
	EventAgentStarted   = "agent_started"
	EventAgentCompleted = "agent_completed"
	EventAgentError     = "agent_error"
	EventAgentStopped   = "agent_stopped"
)

const defaultRunTimeout = 5 * time.Minute

type activeRun struct {
	threadID string
	ctx      context.Context
	cancel   context.CancelFunc
}

// RunExecutor executes runs on mstream streams, one stream per run
type RunExecutor struct {
	threads    services.ThreadService
	supervisor *Supervisor
	registry   *mstream.Registry
	notifier   services.Notifier
	errors     *errmap.Mapper
	logger     *slog.Logger
	debug      bool
	timeout    time.Duration

	mu     sync.Mutex
	active map[string]*activeRun
	wg     sync.WaitGroup
}

var _ services.RunExecutor = (*RunExecutor)(nil)

// NewRunExecutor creates an executor. registry cleanup is started by the caller.
func NewRunExecutor(
	threads services.ThreadService,
	supervisor *Supervisor,
	registry *mstream.Registry,
	notifier services.Notifier,
	mapper *errmap.Mapper,
	logger *slog.Logger,
	debug bool,
) *RunExecutor {
	return &RunExecutor{
		threads:    threads,
		supervisor: supervisor,
		registry:   registry,
		notifier:   notifier,
		errors:     mapper,
		logger:     logger,
		debug:      debug,
		timeout:    defaultRunTimeout,
		active:     make(map[string]*activeRun),
	}
}

// Start registers the run's stream and begins execution in the background.
// The run keeps going after ctx ends; use Stop to cancel it.
func (e *RunExecutor) Start(ctx context.Context, job services.RunJob) error {
	if job.Run == nil {
		return fmt.Errorf("%w: run is required", domain.ErrValidation)
	}
	runID := job.Run.ID

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ar := &activeRun{threadID: job.Run.ThreadID, ctx: runCtx, cancel: cancel}

	e.mu.Lock()
	if _, exists := e.active[runID]; exists {
		e.mu.Unlock()
		cancel()
		return fmt.Errorf("run %s: %w", runID, domain.ErrBusy)
	}
	e.active[runID] = ar
	e.mu.Unlock()

	stream := mstream.NewStream(
		runID,
		func(ctx context.Context, send func(mstream.Event)) error {
			return e.work(ctx, send, ar, job)
		},
		mstream.WithEventIDs(e.debug),
	)
	if err := e.registry.Register(stream); err != nil {
		e.mu.Lock()
		delete(e.active, runID)
		e.mu.Unlock()
		cancel()
		return fmt.Errorf("run %s: %v: %w", runID, err, domain.ErrBusy)
	}

	e.logger.Info("run registered, starting background execution",
		"run_id", runID,
		"thread_id", job.Run.ThreadID,
		"model", job.Run.Model,
	)

	e.wg.Add(1)
	go stream.Start()
	return nil
}

// Stop cancels a run and reports whether it was executing
func (e *RunExecutor) Stop(runID string) bool {
	e.mu.Lock()
	ar, ok := e.active[runID]
	e.mu.Unlock()
	if !ok {
		return false
	}

	ar.cancel()
	if stream := e.registry.Get(runID); stream != nil {
		stream.Cancel()
	}

	e.logger.Info("run stop requested", "run_id", runID)
	return true
}

// StopThread cancels every run of threadID
func (e *RunExecutor) StopThread(threadID string) int {
	e.mu.Lock()
	var ids []string
	for id, ar := range e.active {
		if ar.threadID == threadID {
			ids = append(ids, id)
		}
	}
	e.mu.Unlock()

	stopped := 0
	for _, id := range ids {
		if e.Stop(id) {
			stopped++
		}
	}
	return stopped
}

// Active reports whether a run is executing on threadID
func (e *RunExecutor) Active(threadID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ar := range e.active {
		if ar.threadID == threadID {
			return true
		}
	}
	return false
}

// Shutdown cancels every run and waits for them to record their outcome
func (e *RunExecutor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		e.Stop(id)
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *RunExecutor) work(streamCtx context.Context, send func(mstream.Event), ar *activeRun, job services.RunJob) error {
	defer e.wg.Done()
	run := job.Run
	defer e.finish(run.ID)

	ctx, cancel := context.WithTimeout(streamCtx, e.timeout)
	defer cancel()
	stopWatch := context.AfterFunc(ar.ctx, cancel)
	defer stopWatch()

	// Status updates must land even after the run is cancelled
	bg := context.WithoutCancel(streamCtx)

	// AfterFunc fires asynchronously, so check the run's own context too
	if ar.ctx.Err() != nil || ctx.Err() != nil {
		e.stopped(bg, send, job)
		return nil
	}

	if _, err := e.threads.UpdateRunStatus(ctx, run.ID, models.RunStatusInProgress, nil); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			// Cancelled before it began, typically by a thread delete
			e.logger.Info("run no longer queued, skipping", "run_id", run.ID)
			return nil
		}
		e.failed(bg, send, job, err)
		return err
	}
	e.emit(send, EventAgentStarted, map[string]string{"thread_id": run.ThreadID, "run_id": run.ID})

	history, err := e.threads.GetThreadMessages(ctx, run.ThreadID, job.UserID, config.DefaultHistoryLimit)
	if err != nil {
		return e.handleRunError(ctx, bg, send, ar, job, err)
	}

	instructions := job.Instructions
	if instructions == "" {
		instructions = run.Instructions
	}

	result, err := e.supervisor.Execute(ctx, AgentRequest{
		ThreadID:     run.ThreadID,
		RunID:        run.ID,
		UserID:       job.UserID,
		Model:        run.Model,
		Instructions: instructions,
		History:      history,
		Input:        job.Input,
	})
	if err != nil {
		return e.handleRunError(ctx, bg, send, ar, job, err)
	}

	runID := run.ID
	assistantID := run.AssistantID
	msg, err := e.threads.CreateMessage(bg, &services.CreateMessageRequest{
		ThreadID:    run.ThreadID,
		UserID:      job.UserID,
		Role:        string(models.RoleAssistant),
		Content:     models.TextContent(result.Text),
		AssistantID: &assistantID,
		RunID:       &runID,
		Metadata: map[string]interface{}{
			"model":      result.Model,
			"rounds":     result.Rounds,
			"tool_calls": result.ToolCalls,
		},
	})
	if err != nil {
		e.failed(bg, send, job, err)
		return err
	}

	if _, err := e.threads.UpdateRunStatus(bg, run.ID, models.RunStatusCompleted, nil); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			// Stopped while the reply was being stored
			e.stopped(bg, send, job)
			return nil
		}
		e.logger.Error("failed to complete run", "run_id", run.ID, "error", err)
		return err
	}

	payload := map[string]interface{}{
		"thread_id": run.ThreadID,
		"run_id":    run.ID,
		"message":   msg,
		"model":     result.Model,
		"rounds":    result.Rounds,
	}
	e.notify(bg, job.UserID, models.WSAgentCompleted, payload)
	e.emit(send, EventAgentCompleted, payload)

	e.logger.Info("run completed",
		"run_id", run.ID,
		"thread_id", run.ThreadID,
		"rounds", result.Rounds,
		"tool_calls", len(result.ToolCalls),
	)
	return nil
}

// handleRunError records a cancelled or failed run
func (e *RunExecutor) handleRunError(ctx, bg context.Context, send func(mstream.Event), ar *activeRun, job services.RunJob, err error) error {
	if ar.ctx.Err() != nil || errors.Is(ctx.Err(), context.Canceled) {
		e.stopped(bg, send, job)
		return nil
	}
	e.failed(bg, send, job, err)
	return err
}

func (e *RunExecutor) stopped(ctx context.Context, send func(mstream.Event), job services.RunJob) {
	run := job.Run
	if _, err := e.threads.UpdateRunStatus(ctx, run.ID, models.RunStatusCancelled, nil); err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
		e.logger.Error("failed to mark run cancelled", "run_id", run.ID, "error", err)
	}

	payload := map[string]string{"thread_id": run.ThreadID, "run_id": run.ID}
	e.notify(ctx, job.UserID, models.WSAgentStopped, payload)
	e.emit(send, EventAgentStopped, payload)
	e.logger.Info("run cancelled", "run_id", run.ID, "thread_id", run.ThreadID)
}

// errorPayload is the error event of a run
type errorPayload struct {
	ThreadID string `json:"thread_id"`
	RunID    string `json:"run_id"`
	errmap.UserFriendlyError
}

func (e *RunExecutor) failed(ctx context.Context, send func(mstream.Event), job services.RunJob, cause error) {
	run := job.Run
	e.logger.Error("run failed", "run_id", run.ID, "thread_id", run.ThreadID, "error", cause)

	lastError := cause.Error()
	if _, err := e.threads.UpdateRunStatus(ctx, run.ID, models.RunStatusFailed, &lastError); err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
		e.logger.Error("failed to mark run failed", "run_id", run.ID, "error", err)
	}

	payload := errorPayload{ThreadID: run.ThreadID, RunID: run.ID, UserFriendlyError: e.errors.Map(cause)}
	e.notify(ctx, job.UserID, models.WSError, payload)
	e.emit(send, EventAgentError, payload)
}

// finish forgets the run. Cancelled streams never reach the registry's
// completion hook, so the stream is removed here as well.
func (e *RunExecutor) finish(runID string) {
	e.registry.Remove(runID)

	e.mu.Lock()
	ar, ok := e.active[runID]
	delete(e.active, runID)
	e.mu.Unlock()
	if ok {
		ar.cancel()
	}
}

func (e *RunExecutor) notify(ctx context.Context, userID, eventType string, payload interface{}) {
	if e.notifier != nil {
		e.notifier.Notify(ctx, userID, eventType, payload)
	}
}

func (e *RunExecutor) emit(send func(mstream.Event), eventType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.Error("failed to encode stream event", "type", eventType, "error", err)
		return
	}
	send(mstream.NewEvent(data).WithType(eventType))
}
