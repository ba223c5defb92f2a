// Package messaging dispatches inbound WebSocket messages to the thread
// service and the run executor.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"apex/internal/domain"
	"apex/internal/domain/models"
	"apex/internal/domain/services"
	"apex/internal/errmap"
	"apex/internal/security"
)

// Inbound payloads
type (
	startAgentPayload struct {
		Request     string                 `json:"request"`
		Query       string                 `json:"query"`
		ThreadID    string                 `json:"thread_id"`
		AssistantID string                 `json:"assistant_id"`
		Metadata    map[string]interface{} `json:"metadata"`
	}

	userMessagePayload struct {
		Text        string                `json:"text"`
		Content     json.RawMessage       `json:"content"`
		ThreadID    string                `json:"thread_id"`
		AssistantID string                `json:"assistant_id"`
		References  []interface{}         `json:"references"`
		blocks      []models.ContentBlock
	}

	historyPayload struct {
		ThreadID string `json:"thread_id"`
		Limit    int    `json:"limit"`
	}

	stopPayload struct {
		RunID    string `json:"run_id"`
		ThreadID string `json:"thread_id"`
	}

	switchPayload struct {
		ThreadID string `json:"thread_id"`
	}
)

// errorPayload is sent to the client for any failed request
type errorPayload struct {
	RequestType string `json:"request_type,omitempty"`
	errmap.UserFriendlyError
}

// Handler implements services.MessageHandlerService
type Handler struct {
	threads   services.ThreadService
	runs      services.RunExecutor
	validator *security.InputValidator
	threats   *security.ThreatDetector
	errors    *errmap.Mapper
	logger    *slog.Logger
}

var _ services.MessageHandlerService = (*Handler)(nil)

func NewHandler(
	threads services.ThreadService,
	runs services.RunExecutor,
	validator *security.InputValidator,
	threats *security.ThreatDetector,
	mapper *errmap.Mapper,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		threads:   threads,
		runs:      runs,
		validator: validator,
		threats:   threats,
		errors:    mapper,
		logger:    logger,
	}
}

// HandleMessage decodes one frame and dispatches it. Failures are reported
// to the client as error messages and never returned.
func (h *Handler) HandleMessage(ctx context.Context, client services.Client, raw []byte) {
	var msg models.WSMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Type == "" {
		h.sendError(client, "", domain.NewServiceError("handle_message", "invalid message format"))
		return
	}

	h.logger.Debug("websocket message received",
		"type", msg.Type,
		"conn_id", client.ID(),
		"user_id", client.UserID(),
	)

	var err error
	switch msg.Type {
	case models.WSStartAgent:
		err = h.handleStartAgent(ctx, client, msg.Payload)
	case models.WSUserMessage:
		err = h.handleUserMessage(ctx, client, msg.Payload)
	case models.WSGetThreadHistory:
		err = h.handleHistory(ctx, client, msg.Payload)
	case models.WSStopAgent:
		err = h.handleStop(ctx, client, msg.Payload)
	case models.WSSwitchThread:
		err = h.handleSwitch(ctx, client, msg.Payload)
	case models.WSPing:
		err = h.send(client, models.WSPong, map[string]interface{}{"timestamp": time.Now().UTC()})
	default:
		err = domain.NewServiceError("handle_message", fmt.Sprintf("unknown message type %q", msg.Type))
	}

	if err != nil {
		h.sendError(client, msg.Type, err)
	}
}

func (h *Handler) handleStartAgent(ctx context.Context, client services.Client, raw json.RawMessage) error {
	var p startAgentPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	text := p.Request
	if text == "" {
		text = p.Query
	}

	return h.startRun(ctx, client, runInput{
		text:        text,
		content:     models.TextContent(text),
		threadID:    p.ThreadID,
		assistantID: p.AssistantID,
		metadata:    p.Metadata,
	})
}

func (h *Handler) handleUserMessage(ctx context.Context, client services.Client, raw json.RawMessage) error {
	var p userMessagePayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	if err := p.parseContent(); err != nil {
		return err
	}

	text := p.Text
	content := p.blocks
	if len(content) == 0 {
		content = models.TextContent(text)
	} else if text == "" {
		text = (&models.Message{Content: content}).Text()
	}

	var metadata map[string]interface{}
	if len(p.References) > 0 {
		metadata = map[string]interface{}{"references": p.References}
	}

	return h.startRun(ctx, client, runInput{
		text:        text,
		content:     content,
		threadID:    p.ThreadID,
		assistantID: p.AssistantID,
		metadata:    metadata,
	})
}

// parseContent accepts content as a string or as a list of blocks
func (p *userMessagePayload) parseContent() error {
	if len(p.Content) == 0 || string(p.Content) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(p.Content, &s); err == nil {
		if p.Text == "" {
			p.Text = s
		}
		return nil
	}
	if err := json.Unmarshal(p.Content, &p.blocks); err != nil {
		return domain.NewServiceError("user_message", "content must be text or a list of content blocks")
	}
	return nil
}

type runInput struct {
	text        string
	content     []models.ContentBlock
	threadID    string
	assistantID string
	metadata    map[string]interface{}
}

// startRun is the shared pipeline of start_agent and user_message:
// validate, screen, resolve thread, persist, queue and start the run
func (h *Handler) startRun(ctx context.Context, client services.Client, in runInput) error {
	if err := h.validator.ValidateMessage(in.text); err != nil {
		return err
	}
	assessment, err := h.threats.Screen(client.UserID(), in.text)
	if err != nil {
		h.logger.Warn("message blocked by threat screening",
			"user_id", client.UserID(),
			"level", assessment.Level,
			"score", assessment.Score,
			"findings", len(assessment.Findings),
			"recent_offenses", assessment.RecentOffenses,
		)
		return err
	}

	threadID := in.threadID
	if threadID == "" {
		threadID = client.CurrentThread()
	}
	thread, _, err := h.threads.GetOrCreateThread(ctx, client.UserID(), threadID)
	if err != nil {
		return err
	}

	if h.runs.Active(thread.ID) {
		return fmt.Errorf("thread %s already has a running agent: %w", thread.ID, domain.ErrBusy)
	}
	client.SetCurrentThread(thread.ID)

	if _, err := h.threads.CreateMessage(ctx, &services.CreateMessageRequest{
		ThreadID: thread.ID,
		UserID:   client.UserID(),
		Role:     string(models.RoleUser),
		Content:  in.content,
		Metadata: in.metadata,
	}); err != nil {
		return err
	}

	run, err := h.threads.CreateRun(ctx, &services.CreateRunRequest{
		ThreadID:    thread.ID,
		UserID:      client.UserID(),
		AssistantID: in.assistantID,
		Metadata:    map[string]interface{}{"conn_id": client.ID()},
	})
	if err != nil {
		return err
	}

	if err := h.send(client, models.WSAgentStarted, map[string]string{
		"thread_id": thread.ID,
		"run_id":    run.ID,
	}); err != nil {
		h.logger.Warn("failed to send agent_started", "run_id", run.ID, "error", err)
	}

	if err := h.runs.Start(ctx, services.RunJob{Run: run, UserID: client.UserID(), Input: in.text}); err != nil {
		reason := err.Error()
		if _, uerr := h.threads.UpdateRunStatus(context.WithoutCancel(ctx), run.ID, models.RunStatusFailed, &reason); uerr != nil {
			h.logger.Error("failed to mark run failed", "run_id", run.ID, "error", uerr)
		}
		return err
	}
	return nil
}

func (h *Handler) handleHistory(ctx context.Context, client services.Client, raw json.RawMessage) error {
	var p historyPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	threadID := p.ThreadID
	if threadID == "" {
		threadID = client.CurrentThread()
	}
	if threadID == "" {
		return domain.NewServiceError("get_thread_history", "thread_id is required")
	}
	return h.sendHistory(ctx, client, threadID, p.Limit)
}

func (h *Handler) sendHistory(ctx context.Context, client services.Client, threadID string, limit int) error {
	messages, err := h.threads.GetThreadMessages(ctx, threadID, client.UserID(), limit)
	if err != nil {
		return err
	}
	return h.send(client, models.WSThreadHistory, map[string]interface{}{
		"thread_id": threadID,
		"messages":  messages,
	})
}

func (h *Handler) handleStop(ctx context.Context, client services.Client, raw json.RawMessage) error {
	var p stopPayload
	if err := decode(raw, &p); err != nil {
		return err
	}

	stopped := 0
	threadID := p.ThreadID

	switch {
	case p.RunID != "":
		run, err := h.threads.GetRun(ctx, p.RunID, client.UserID())
		if err != nil {
			return err
		}
		threadID = run.ThreadID
		if h.runs.Stop(run.ID) {
			stopped = 1
		} else if run.Status.IsActive() {
			// Queued but never picked up
			if _, err := h.threads.UpdateRunStatus(ctx, run.ID, models.RunStatusCancelled, nil); err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
				return err
			}
		}

	default:
		if threadID == "" {
			threadID = client.CurrentThread()
		}
		if threadID == "" {
			return domain.NewServiceError("stop_agent", "run_id or thread_id is required")
		}
		if _, err := h.threads.GetThread(ctx, threadID, client.UserID()); err != nil {
			return err
		}
		stopped = h.runs.StopThread(threadID)
	}

	h.logger.Info("agent stop requested", "thread_id", threadID, "run_id", p.RunID, "stopped", stopped)

	// Stopped runs announce agent_stopped themselves once they wind down
	if stopped == 0 {
		return h.send(client, models.WSAgentStopped, map[string]interface{}{
			"thread_id": threadID,
			"run_id":    p.RunID,
			"stopped":   0,
		})
	}
	return nil
}

func (h *Handler) handleSwitch(ctx context.Context, client services.Client, raw json.RawMessage) error {
	var p switchPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	if p.ThreadID == "" {
		return domain.NewServiceError("switch_thread", "thread_id is required")
	}

	thread, err := h.threads.GetThread(ctx, p.ThreadID, client.UserID())
	if err != nil {
		return err
	}
	client.SetCurrentThread(thread.ID)

	if err := h.send(client, models.WSThreadSwitched, map[string]interface{}{
		"thread_id": thread.ID,
		"thread":    thread,
	}); err != nil {
		return err
	}
	return h.sendHistory(ctx, client, thread.ID, 0)
}

func (h *Handler) send(client services.Client, msgType string, payload interface{}) error {
	msg, err := models.NewWSMessage(msgType, payload)
	if err != nil {
		return err
	}
	return client.Send(msg)
}

func (h *Handler) sendError(client services.Client, requestType string, err error) {
	mapped := h.errors.Map(err)

	switch mapped.Type {
	case errmap.TypeValidation, errmap.TypeNotFound, errmap.TypeConflict:
		h.logger.Debug("websocket request rejected", "type", requestType, "error_type", mapped.Type, "error", err)
	case errmap.TypeSecurity:
		h.logger.Warn("websocket request blocked", "type", requestType, "user_id", client.UserID())
	default:
		h.logger.Error("websocket request failed", "type", requestType, "error_type", mapped.Type, "error", err)
	}

	if sendErr := h.send(client, models.WSError, errorPayload{RequestType: requestType, UserFriendlyError: mapped}); sendErr != nil {
		h.logger.Debug("failed to deliver error message", "conn_id", client.ID(), "error", sendErr)
	}
}

func decode(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || strings.TrimSpace(string(raw)) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return domain.NewServiceError("decode_payload", "invalid message payload")
	}
	return nil
}
