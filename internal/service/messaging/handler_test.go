package messaging

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"apex/internal/config"
	"apex/internal/domain"
	"apex/internal/domain/models"
	"apex/internal/domain/services"
	"apex/internal/errmap"
	"apex/internal/repository/memory"
	"apex/internal/security"
	"apex/internal/service/thread"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu      sync.Mutex
	id      string
	userID  string
	current string
	sent    []*models.WSMessage
}

func newFakeClient(userID string) *fakeClient {
	return &fakeClient{id: "conn-" + userID, userID: userID}
}

func (c *fakeClient) ID() string     { return c.id }
func (c *fakeClient) UserID() string { return c.userID }

func (c *fakeClient) CurrentThread() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *fakeClient) SetCurrentThread(threadID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = threadID
}

func (c *fakeClient) Send(msg *models.WSMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeClient) last(t *testing.T) *models.WSMessage {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.sent, "no message sent")
	return c.sent[len(c.sent)-1]
}

func (c *fakeClient) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sent))
	for _, m := range c.sent {
		out = append(out, m.Type)
	}
	return out
}

type fakeExecutor struct {
	mu       sync.Mutex
	started  []services.RunJob
	active   map[string]bool
	stopped  []string
	startErr error
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{active: make(map[string]bool)}
}

func (e *fakeExecutor) Start(ctx context.Context, job services.RunJob) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.startErr != nil {
		return e.startErr
	}
	e.started = append(e.started, job)
	e.active[job.Run.ThreadID] = true
	return nil
}

func (e *fakeExecutor) Stop(runID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, job := range e.started {
		if job.Run.ID == runID && e.active[job.Run.ThreadID] {
			e.active[job.Run.ThreadID] = false
			e.stopped = append(e.stopped, runID)
			return true
		}
	}
	return false
}

func (e *fakeExecutor) StopThread(threadID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active[threadID] {
		return 0
	}
	e.active[threadID] = false
	return 1
}

func (e *fakeExecutor) Active(threadID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active[threadID]
}

type fixture struct {
	handler  *Handler
	threads  *thread.Service
	executor *fakeExecutor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	validator := security.NewInputValidator(config.MaxMessageLength)

	threads := thread.NewService(thread.Deps{
		Threads:      memory.NewThreadRepository(store),
		Messages:     memory.NewMessageRepository(store),
		Runs:         memory.NewRunRepository(store),
		Assistants:   memory.NewAssistantRepository(store),
		TxManager:    memory.NewTransactionManager(),
		Validator:    validator,
		Sanitizer:    security.NewDataSanitizer(),
		DefaultModel: "lorem-fast",
		Logger:       logger,
	})
	mapper, err := errmap.NewMapper()
	require.NoError(t, err)

	executor := newFakeExecutor()
	h := NewHandler(
		threads,
		executor,
		validator,
		security.NewThreatDetector(security.NewInjectionDetector(), 0),
		mapper,
		logger,
	)
	return &fixture{handler: h, threads: threads, executor: executor}
}

func frame(t *testing.T, msgType string, payload interface{}) []byte {
	t.Helper()
	msg, err := models.NewWSMessage(msgType, payload)
	require.NoError(t, err)
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	return data
}

func decodePayload(t *testing.T, msg *models.WSMessage) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Payload, &out))
	return out
}

func TestHandleMessage_InvalidFrames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		raw  []byte
	}{
		{"not json", []byte("{nope")},
		{"missing type", []byte(`{"payload":{}}`)},
		{"unknown type", frame(t, "launch_rockets", nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeClient("user-1")
			f.handler.HandleMessage(ctx, client, tt.raw)

			msg := client.last(t)
			assert.Equal(t, models.WSError, msg.Type)
			payload := decodePayload(t, msg)
			assert.Equal(t, string(errmap.TypeValidation), payload["error_type"])
			assert.Equal(t, true, payload["recoverable"])
		})
	}
}

func TestHandleMessage_Ping(t *testing.T) {
	f := newFixture(t)
	client := newFakeClient("user-1")

	f.handler.HandleMessage(context.Background(), client, frame(t, models.WSPing, nil))

	assert.Equal(t, models.WSPong, client.last(t).Type)
}

func TestHandleMessage_StartAgent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	client := newFakeClient("user-1")

	f.handler.HandleMessage(ctx, client, frame(t, models.WSStartAgent, map[string]string{
		"request": "Summarise the latest release notes",
	}))

	require.Equal(t, []string{models.WSAgentStarted}, client.types())
	started := decodePayload(t, client.last(t))
	threadID, _ := started["thread_id"].(string)
	require.NotEmpty(t, threadID)
	assert.Equal(t, threadID, client.CurrentThread())

	require.Len(t, f.executor.started, 1)
	job := f.executor.started[0]
	assert.Equal(t, started["run_id"], job.Run.ID)
	assert.Equal(t, "Summarise the latest release notes", job.Input)
	assert.Equal(t, "user-1", job.UserID)

	messages, err := f.threads.GetThreadMessages(ctx, threadID, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, models.RoleUser, messages[0].Role)
	assert.Equal(t, "Summarise the latest release notes", messages[0].Text())

	th, err := f.threads.GetThread(ctx, threadID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Summarise the latest release notes", th.Title)
}

func TestHandleMessage_UserMessageUsesCurrentThread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	client := newFakeClient("user-1")

	th, err := f.threads.CreateThread(ctx, &services.CreateThreadRequest{UserID: "user-1", Title: "Planning"})
	require.NoError(t, err)
	client.SetCurrentThread(th.ID)

	f.handler.HandleMessage(ctx, client, frame(t, models.WSUserMessage, map[string]interface{}{
		"content":    "What is left for the launch?",
		"references": []string{"doc-1"},
	}))

	require.Equal(t, models.WSAgentStarted, client.last(t).Type)
	require.Len(t, f.executor.started, 1)
	assert.Equal(t, th.ID, f.executor.started[0].Run.ThreadID)

	messages, err := f.threads.GetThreadMessages(ctx, th.ID, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "What is left for the launch?", messages[0].Text())
	assert.Contains(t, messages[0].Metadata, "references")
}

func TestHandleMessage_UserMessageRejectedWhileBusy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	client := newFakeClient("user-1")

	f.handler.HandleMessage(ctx, client, frame(t, models.WSUserMessage, map[string]string{"text": "first"}))
	require.Len(t, f.executor.started, 1)

	f.handler.HandleMessage(ctx, client, frame(t, models.WSUserMessage, map[string]string{"text": "second"}))

	msg := client.last(t)
	assert.Equal(t, models.WSError, msg.Type)
	assert.Equal(t, string(errmap.TypeConflict), decodePayload(t, msg)["error_type"])
	assert.Len(t, f.executor.started, 1)
}

func TestHandleMessage_ValidationAndSecurity(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantType errmap.ErrorType
	}{
		{"empty request", "", errmap.TypeValidation},
		{"script payload", "<script>alert(document.cookie)</script>", errmap.TypeSecurity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			client := newFakeClient("user-1")

			f.handler.HandleMessage(context.Background(), client, frame(t, models.WSStartAgent, map[string]string{"request": tt.text}))

			msg := client.last(t)
			assert.Equal(t, models.WSError, msg.Type)
			payload := decodePayload(t, msg)
			assert.Equal(t, string(tt.wantType), payload["error_type"])
			assert.Equal(t, models.WSStartAgent, payload["request_type"])
			assert.Empty(t, f.executor.started)
		})
	}
}

func TestHandleMessage_ForeignThreadIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	th, err := f.threads.CreateThread(ctx, &services.CreateThreadRequest{UserID: "owner"})
	require.NoError(t, err)

	intruder := newFakeClient("intruder")
	f.handler.HandleMessage(ctx, intruder, frame(t, models.WSUserMessage, map[string]string{
		"text":      "hello",
		"thread_id": th.ID,
	}))

	msg := intruder.last(t)
	assert.Equal(t, models.WSError, msg.Type)
	assert.Equal(t, string(errmap.TypeNotFound), decodePayload(t, msg)["error_type"])
	assert.Empty(t, intruder.CurrentThread())
}

func TestHandleMessage_StartFailureMarksRunFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.executor.startErr = domain.ErrUnavailable
	client := newFakeClient("user-1")

	f.handler.HandleMessage(ctx, client, frame(t, models.WSStartAgent, map[string]string{"request": "hello"}))

	assert.Equal(t, []string{models.WSAgentStarted, models.WSError}, client.types())
	runs, err := f.threads.ActiveRuns(ctx, client.CurrentThread())
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestHandleMessage_HistoryAndSwitch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	client := newFakeClient("user-1")

	th, err := f.threads.CreateThread(ctx, &services.CreateThreadRequest{UserID: "user-1"})
	require.NoError(t, err)
	for _, text := range []string{"one", "two", "three"} {
		_, err := f.threads.CreateMessage(ctx, &services.CreateMessageRequest{
			ThreadID: th.ID,
			UserID:   "user-1",
			Role:     string(models.RoleUser),
			Content:  models.TextContent(text),
		})
		require.NoError(t, err)
	}

	t.Run("history requires a thread", func(t *testing.T) {
		f.handler.HandleMessage(ctx, client, frame(t, models.WSGetThreadHistory, nil))
		assert.Equal(t, models.WSError, client.last(t).Type)
	})

	t.Run("history honours limit", func(t *testing.T) {
		f.handler.HandleMessage(ctx, client, frame(t, models.WSGetThreadHistory, map[string]interface{}{
			"thread_id": th.ID,
			"limit":     2,
		}))
		msg := client.last(t)
		require.Equal(t, models.WSThreadHistory, msg.Type)
		var payload struct {
			ThreadID string           `json:"thread_id"`
			Messages []models.Message `json:"messages"`
		}
		require.NoError(t, json.Unmarshal(msg.Payload, &payload))
		assert.Equal(t, th.ID, payload.ThreadID)
		require.Len(t, payload.Messages, 2)
		assert.Equal(t, "two", payload.Messages[0].Text())
		assert.Equal(t, "three", payload.Messages[1].Text())
	})

	t.Run("switch sends thread and history", func(t *testing.T) {
		before := len(client.types())
		f.handler.HandleMessage(ctx, client, frame(t, models.WSSwitchThread, map[string]string{"thread_id": th.ID}))

		assert.Equal(t, th.ID, client.CurrentThread())
		assert.Equal(t, []string{models.WSThreadSwitched, models.WSThreadHistory}, client.types()[before:])
	})

	t.Run("switch to foreign thread fails", func(t *testing.T) {
		other := newFakeClient("user-2")
		f.handler.HandleMessage(ctx, other, frame(t, models.WSSwitchThread, map[string]string{"thread_id": th.ID}))
		assert.Equal(t, models.WSError, other.last(t).Type)
		assert.Empty(t, other.CurrentThread())
	})
}

func TestHandleMessage_StopAgent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	client := newFakeClient("user-1")

	f.handler.HandleMessage(ctx, client, frame(t, models.WSStartAgent, map[string]string{"request": "long task"}))
	require.Len(t, f.executor.started, 1)
	runID := f.executor.started[0].Run.ID

	t.Run("running agent stops without immediate ack", func(t *testing.T) {
		before := len(client.types())
		f.handler.HandleMessage(ctx, client, frame(t, models.WSStopAgent, map[string]string{"run_id": runID}))
		assert.Equal(t, []string{runID}, f.executor.stopped)
		assert.Len(t, client.types(), before)
	})

	t.Run("idle thread acknowledges", func(t *testing.T) {
		f.handler.HandleMessage(ctx, client, frame(t, models.WSStopAgent, nil))
		msg := client.last(t)
		require.Equal(t, models.WSAgentStopped, msg.Type)
		assert.Equal(t, float64(0), decodePayload(t, msg)["stopped"])
	})

	t.Run("foreign run is not found", func(t *testing.T) {
		other := newFakeClient("user-2")
		f.handler.HandleMessage(ctx, other, frame(t, models.WSStopAgent, map[string]string{"run_id": runID}))
		msg := other.last(t)
		assert.Equal(t, models.WSError, msg.Type)
		assert.Equal(t, string(errmap.TypeNotFound), decodePayload(t, msg)["error_type"])
	})
}
