// Package thread implements conversation threads, their messages and the
// runs executed against them.
package thread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"apex/internal/config"
	"apex/internal/domain"
	"apex/internal/domain/models"
	"apex/internal/domain/repositories"
	"apex/internal/domain/services"
	"apex/internal/runstate"
	"apex/internal/security"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
)

// Service implements services.ThreadService
type Service struct {
	threadRepo    repositories.ThreadRepository
	messageRepo   repositories.MessageRepository
	runRepo       repositories.RunRepository
	assistantRepo repositories.AssistantRepository
	txManager     repositories.TransactionManager
	validator     *security.InputValidator
	sanitizer     *security.DataSanitizer
	notifier      services.Notifier
	canceller     services.RunCanceller
	defaultModel  string
	logger        *slog.Logger
	now           func() time.Time
}

// Deps groups the collaborators of the thread service
type Deps struct {
	Threads      repositories.ThreadRepository
	Messages     repositories.MessageRepository
	Runs         repositories.RunRepository
	Assistants   repositories.AssistantRepository
	TxManager    repositories.TransactionManager
	Validator    *security.InputValidator
	Sanitizer    *security.DataSanitizer
	Notifier     services.Notifier // optional
	DefaultModel string
	Logger       *slog.Logger
}

// NewService creates a thread service
func NewService(deps Deps) *Service {
	return &Service{
		threadRepo:    deps.Threads,
		messageRepo:   deps.Messages,
		runRepo:       deps.Runs,
		assistantRepo: deps.Assistants,
		txManager:     deps.TxManager,
		validator:     deps.Validator,
		sanitizer:     deps.Sanitizer,
		notifier:      deps.Notifier,
		defaultModel:  deps.DefaultModel,
		logger:        deps.Logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SetRunCanceller wires the executor that owns running agents. The executor
// depends on this service, so it is attached after both exist.
func (s *Service) SetRunCanceller(c services.RunCanceller) {
	s.canceller = c
}

var _ services.ThreadService = (*Service)(nil)

func (s *Service) GetOrCreateThread(ctx context.Context, userID, threadID string) (*models.Thread, bool, error) {
	if threadID != "" {
		thread, err := s.GetThread(ctx, threadID, userID)
		if err != nil {
			return nil, false, err
		}
		return thread, false, nil
	}

	thread, err := s.CreateThread(ctx, &services.CreateThreadRequest{UserID: userID})
	if err != nil {
		return nil, false, err
	}
	return thread, true, nil
}

func (s *Service) CreateThread(ctx context.Context, req *services.CreateThreadRequest) (*models.Thread, error) {
	if err := validation.ValidateStruct(req,
		validation.Field(&req.UserID, validation.Required),
	); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if err := s.validator.ValidateTitle(req.Title); err != nil {
		return nil, err
	}

	now := s.now()
	thread := &models.Thread{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Title:     s.sanitizer.SanitizeTitle(req.Title),
		Status:    models.ThreadStatusActive,
		Metadata:  copyMetadata(req.Metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}
	thread.SyncMetadata()

	if err := s.threadRepo.Create(ctx, thread); err != nil {
		return nil, err
	}

	s.logger.Info("thread created", "thread_id", thread.ID, "user_id", thread.UserID)
	s.notify(ctx, thread.UserID, models.WSThreadCreated, thread)
	return thread, nil
}

func (s *Service) GetThread(ctx context.Context, threadID, userID string) (*models.Thread, error) {
	if threadID == "" {
		return nil, domain.NewServiceError("get_thread", "thread id is required")
	}
	return s.threadRepo.Get(ctx, threadID, userID)
}

func (s *Service) ListThreads(ctx context.Context, userID string, limit, offset int) ([]models.Thread, error) {
	if limit <= 0 {
		limit = config.DefaultThreadPageSize
	}
	if limit > config.MaxThreadPageSize {
		limit = config.MaxThreadPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return s.threadRepo.ListByUser(ctx, userID, limit, offset)
}

func (s *Service) UpdateThread(ctx context.Context, threadID, userID string, req *services.UpdateThreadRequest) (*models.Thread, error) {
	if req.Title != nil {
		if err := s.validator.ValidateTitle(*req.Title); err != nil {
			return nil, err
		}
	}
	if req.Status != nil {
		if err := validation.Validate(*req.Status,
			validation.In(string(models.ThreadStatusActive), string(models.ThreadStatusArchived)),
		); err != nil {
			return nil, fmt.Errorf("%w: status: %v", domain.ErrValidation, err)
		}
	}

	thread, err := s.threadRepo.Get(ctx, threadID, userID)
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		thread.Title = s.sanitizer.SanitizeTitle(*req.Title)
	}
	if req.Status != nil {
		thread.Status = models.ThreadStatus(*req.Status)
	}
	if req.Metadata != nil {
		if thread.Metadata == nil {
			thread.Metadata = make(map[string]interface{})
		}
		for k, v := range req.Metadata {
			thread.Metadata[k] = v
		}
	}
	thread.UpdatedAt = s.now()
	thread.SyncMetadata()

	if err := s.threadRepo.Update(ctx, thread); err != nil {
		return nil, err
	}

	s.logger.Info("thread updated", "thread_id", thread.ID, "user_id", userID)
	s.notify(ctx, userID, models.WSThreadUpdated, thread)
	return thread, nil
}

func (s *Service) DeleteThread(ctx context.Context, threadID, userID string) error {
	var cancelled []models.Run

	err := s.txManager.ExecTx(ctx, func(ctx context.Context) error {
		if _, err := s.threadRepo.Delete(ctx, threadID, userID); err != nil {
			return err
		}

		active, err := s.runRepo.ListActiveByThread(ctx, threadID)
		if err != nil {
			return err
		}
		now := s.now()
		for i := range active {
			run := &active[i]
			if err := runstate.Transition(run.Status, models.RunStatusCancelled); err != nil {
				continue
			}
			from := run.Status
			run.ApplyStatus(models.RunStatusCancelled, nil, now)
			if err := s.runRepo.UpdateStatus(ctx, run, from); err != nil {
				if errors.Is(err, domain.ErrInvalidTransition) {
					continue
				}
				return err
			}
			cancelled = append(cancelled, *run)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.canceller != nil {
		if stopped := s.canceller.StopThread(threadID); stopped > 0 {
			s.logger.Info("stopped runs of deleted thread", "thread_id", threadID, "count", stopped)
		}
	}

	s.logger.Info("thread deleted", "thread_id", threadID, "user_id", userID, "cancelled_runs", len(cancelled))
	s.notify(ctx, userID, models.WSThreadDeleted, map[string]string{"thread_id": threadID})
	for i := range cancelled {
		s.notify(ctx, userID, models.WSRunStatusChanged, &cancelled[i])
	}
	return nil
}

func (s *Service) CreateMessage(ctx context.Context, req *services.CreateMessageRequest) (*models.Message, error) {
	role := models.MessageRole(req.Role)
	if err := validation.ValidateStruct(req,
		validation.Field(&req.ThreadID, validation.Required),
		validation.Field(&req.UserID, validation.Required),
		validation.Field(&req.Role, validation.Required, validation.By(func(interface{}) error {
			if !role.Valid() {
				return fmt.Errorf("must be user, assistant or system")
			}
			return nil
		})),
		validation.Field(&req.Content, validation.Required),
	); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	content := make([]models.ContentBlock, 0, len(req.Content))
	for i, block := range req.Content {
		if err := block.Validate(); err != nil {
			return nil, fmt.Errorf("%w: content[%d]: %v", domain.ErrValidation, i, err)
		}
		if block.Type == models.ContentTypeText {
			text := block.Text
			if role == models.RoleUser {
				if err := s.validator.ValidateMessage(text); err != nil {
					return nil, err
				}
				text = s.sanitizer.SanitizeText(text)
			}
			block.Text = text
		}
		content = append(content, block)
	}

	msg := &models.Message{
		ID:          uuid.NewString(),
		ThreadID:    req.ThreadID,
		Role:        role,
		Content:     content,
		AssistantID: req.AssistantID,
		RunID:       req.RunID,
		Metadata:    copyMetadata(req.Metadata),
		CreatedAt:   s.now(),
	}

	var thread *models.Thread
	retitled := false
	err := s.txManager.ExecTx(ctx, func(ctx context.Context) error {
		var err error
		thread, err = s.threadRepo.Get(ctx, req.ThreadID, req.UserID)
		if err != nil {
			return err
		}

		if err := s.messageRepo.Create(ctx, msg); err != nil {
			return err
		}

		if thread.Title == "" && role == models.RoleUser {
			if title := autoTitle(s.sanitizer.SanitizeTitle(msg.Text())); title != "" {
				thread.Title = title
				retitled = true
			}
		}
		thread.UpdatedAt = msg.CreatedAt
		thread.SyncMetadata()
		return s.threadRepo.Update(ctx, thread)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("message created",
		"message_id", msg.ID,
		"thread_id", msg.ThreadID,
		"role", msg.Role,
		"blocks", len(msg.Content),
	)
	s.notify(ctx, req.UserID, models.WSMessageCreated, msg)
	if retitled {
		s.notify(ctx, req.UserID, models.WSThreadUpdated, thread)
	}
	return msg, nil
}

func (s *Service) GetThreadMessages(ctx context.Context, threadID, userID string, limit int) ([]models.Message, error) {
	if _, err := s.threadRepo.Get(ctx, threadID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = config.DefaultHistoryLimit
	}
	if limit > config.MaxHistoryLimit {
		limit = config.MaxHistoryLimit
	}
	return s.messageRepo.ListByThread(ctx, threadID, limit)
}

func (s *Service) CreateRun(ctx context.Context, req *services.CreateRunRequest) (*models.Run, error) {
	if err := validation.ValidateStruct(req,
		validation.Field(&req.ThreadID, validation.Required),
		validation.Field(&req.UserID, validation.Required),
	); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	var run *models.Run
	err := s.txManager.ExecTx(ctx, func(ctx context.Context) error {
		if _, err := s.threadRepo.Get(ctx, req.ThreadID, req.UserID); err != nil {
			return err
		}

		assistant, err := s.resolveAssistant(ctx, req.AssistantID)
		if err != nil {
			return err
		}

		instructions := req.Instructions
		if instructions == "" {
			instructions = assistant.Instructions
		}

		run = &models.Run{
			ID:           uuid.NewString(),
			ThreadID:     req.ThreadID,
			AssistantID:  assistant.ID,
			Status:       models.RunStatusQueued,
			Model:        assistant.Model,
			Instructions: instructions,
			Metadata:     copyMetadata(req.Metadata),
			CreatedAt:    s.now(),
		}
		return s.runRepo.Create(ctx, run)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("run created",
		"run_id", run.ID,
		"thread_id", run.ThreadID,
		"assistant_id", run.AssistantID,
		"model", run.Model,
	)
	s.notify(ctx, req.UserID, models.WSRunStatusChanged, run)
	return run, nil
}

func (s *Service) UpdateRunStatus(ctx context.Context, runID string, status models.RunStatus, lastError *string) (*models.Run, error) {
	var run *models.Run
	var ownerID string

	err := s.txManager.ExecTx(ctx, func(ctx context.Context) error {
		var err error
		run, err = s.runRepo.Get(ctx, runID)
		if err != nil {
			return err
		}
		if err := runstate.Transition(run.Status, status); err != nil {
			return fmt.Errorf("run %s: %w", runID, err)
		}

		var errText *string
		if lastError != nil {
			redacted := s.sanitizer.Redact(*lastError)
			errText = &redacted
		}
		from := run.Status
		run.ApplyStatus(status, errText, s.now())
		if err := s.runRepo.UpdateStatus(ctx, run, from); err != nil {
			return err
		}

		thread, err := s.threadRepo.GetByIDOnly(ctx, run.ThreadID)
		if err == nil {
			ownerID = thread.UserID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("run status changed", "run_id", runID, "status", status)
	if ownerID != "" {
		s.notify(ctx, ownerID, models.WSRunStatusChanged, run)
	}
	return run, nil
}

func (s *Service) GetRun(ctx context.Context, runID, userID string) (*models.Run, error) {
	run, err := s.runRepo.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	// Runs of someone else's thread look missing
	if _, err := s.threadRepo.Get(ctx, run.ThreadID, userID); err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
	}
	return run, nil
}

func (s *Service) ActiveRuns(ctx context.Context, threadID string) ([]models.Run, error) {
	return s.runRepo.ListActiveByThread(ctx, threadID)
}

// EnsureDefaultAssistant stores the default assistant if it is missing
func (s *Service) EnsureDefaultAssistant(ctx context.Context) (*models.Assistant, error) {
	return s.resolveAssistant(ctx, "")
}

// resolveAssistant loads assistantID, or the default assistant when empty
func (s *Service) resolveAssistant(ctx context.Context, assistantID string) (*models.Assistant, error) {
	if assistantID != "" && assistantID != config.DefaultAssistantID {
		return s.assistantRepo.Get(ctx, assistantID)
	}
	return s.assistantRepo.GetOrCreate(ctx, &models.Assistant{
		ID:           config.DefaultAssistantID,
		Name:         "Apex Assistant",
		Description:  "General purpose assistant",
		Model:        s.defaultModel,
		Instructions: "You are a helpful assistant. Answer clearly and use the available tools when they help.",
		CreatedAt:    s.now(),
	})
}

func (s *Service) notify(ctx context.Context, userID, eventType string, payload interface{}) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, userID, eventType, payload)
}

// autoTitle shortens text to a title, cutting at a word boundary when one is
// close to the limit
func autoTitle(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= config.AutoTitleLength {
		return text
	}
	runes := []rune(text)
	cut := string(runes[:config.AutoTitleLength])
	if i := strings.LastIndex(cut, " "); i > config.AutoTitleLength/2 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut) + "…"
}

func copyMetadata(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
