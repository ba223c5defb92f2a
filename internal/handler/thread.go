package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"apex/internal/domain/models"
	"apex/internal/domain/services"
	"apex/internal/httputil"
	"apex/internal/security"
)

// ThreadHandler handles thread, message and run HTTP requests
type ThreadHandler struct {
	threadService services.ThreadService
	threats       *security.ThreatDetector
	logger        *slog.Logger
}

// NewThreadHandler creates a new thread handler
func NewThreadHandler(threadService services.ThreadService, threats *security.ThreatDetector, logger *slog.Logger) *ThreadHandler {
	return &ThreadHandler{
		threadService: threadService,
		threats:       threats,
		logger:        logger,
	}
}

// updateThreadBody distinguishes an absent title from a cleared one
type updateThreadBody struct {
	Title    httputil.OptionalString `json:"title"`
	Status   *string                 `json:"status"`
	Metadata map[string]interface{}  `json:"metadata"`
}

// createMessageBody accepts either content blocks or plain text
type createMessageBody struct {
	Role     string                 `json:"role"`
	Text     string                 `json:"text"`
	Content  []models.ContentBlock  `json:"content"`
	Metadata map[string]interface{} `json:"metadata"`
}

// ListThreads returns the user's threads, most recently updated first
// GET /api/threads?limit=&offset=
func (h *ThreadHandler) ListThreads(w http.ResponseWriter, r *http.Request) {
	limit, ok := QueryInt(w, r, "limit", 0)
	if !ok {
		return
	}
	offset, ok := QueryInt(w, r, "offset", 0)
	if !ok {
		return
	}

	threads, err := h.threadService.ListThreads(r.Context(), httputil.GetUserID(r), limit, offset)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, threads)
}

// CreateThread creates a new thread
// POST /api/threads
func (h *ThreadHandler) CreateThread(w http.ResponseWriter, r *http.Request) {
	var req services.CreateThreadRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondParseError(w, err)
		return
	}
	req.UserID = httputil.GetUserID(r)

	thread, err := h.threadService.CreateThread(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, thread)
}

// GetThread retrieves a single thread
// GET /api/threads/{id}
func (h *ThreadHandler) GetThread(w http.ResponseWriter, r *http.Request) {
	threadID, ok := PathParam(w, r, "id", "Thread ID")
	if !ok {
		return
	}

	thread, err := h.threadService.GetThread(r.Context(), threadID, httputil.GetUserID(r))
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, thread)
}

// UpdateThread changes title, status or metadata
// PATCH /api/threads/{id}
func (h *ThreadHandler) UpdateThread(w http.ResponseWriter, r *http.Request) {
	threadID, ok := PathParam(w, r, "id", "Thread ID")
	if !ok {
		return
	}

	var body updateThreadBody
	if err := httputil.ParseJSON(w, r, &body); err != nil {
		httputil.RespondParseError(w, err)
		return
	}

	req := services.UpdateThreadRequest{
		Title:    body.Title.Patch(),
		Status:   body.Status,
		Metadata: body.Metadata,
	}

	thread, err := h.threadService.UpdateThread(r.Context(), threadID, httputil.GetUserID(r), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, thread)
}

// DeleteThread soft-deletes a thread and stops its runs
// DELETE /api/threads/{id}
func (h *ThreadHandler) DeleteThread(w http.ResponseWriter, r *http.Request) {
	threadID, ok := PathParam(w, r, "id", "Thread ID")
	if !ok {
		return
	}

	if err := h.threadService.DeleteThread(r.Context(), threadID, httputil.GetUserID(r)); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetMessages returns the latest messages of a thread, oldest first
// GET /api/threads/{id}/messages?limit=
func (h *ThreadHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	threadID, ok := PathParam(w, r, "id", "Thread ID")
	if !ok {
		return
	}
	limit, ok := QueryInt(w, r, "limit", 0)
	if !ok {
		return
	}

	messages, err := h.threadService.GetThreadMessages(r.Context(), threadID, httputil.GetUserID(r), limit)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, messages)
}

// CreateMessage appends a message without starting an agent
// POST /api/threads/{id}/messages
func (h *ThreadHandler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	threadID, ok := PathParam(w, r, "id", "Thread ID")
	if !ok {
		return
	}

	var body createMessageBody
	if err := httputil.ParseJSON(w, r, &body); err != nil {
		httputil.RespondParseError(w, err)
		return
	}

	// Assistant and system messages are only written by runs
	if body.Role != "" && body.Role != string(models.RoleUser) {
		httputil.RespondError(w, http.StatusBadRequest, "Only user messages can be posted")
		return
	}
	content := body.Content
	if len(content) == 0 && body.Text != "" {
		content = models.TextContent(body.Text)
	}

	userID := httputil.GetUserID(r)
	var text strings.Builder
	for _, block := range content {
		if block.Type == models.ContentTypeText {
			text.WriteString(block.Text)
			text.WriteString("\n")
		}
	}
	if assessment, err := h.threats.Screen(userID, text.String()); err != nil {
		h.logger.Warn("message blocked by security screening",
			"thread_id", threadID,
			"user_id", userID,
			"level", assessment.Level,
			"score", assessment.Score,
		)
		handleError(w, err)
		return
	}

	message, err := h.threadService.CreateMessage(r.Context(), &services.CreateMessageRequest{
		ThreadID: threadID,
		UserID:   userID,
		Role:     string(models.RoleUser),
		Content:  content,
		Metadata: body.Metadata,
	})
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, message)
}

// GetRun returns one run of a thread
// GET /api/threads/{id}/runs/{run_id}
func (h *ThreadHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	threadID, ok := PathParam(w, r, "id", "Thread ID")
	if !ok {
		return
	}
	runID, ok := PathParam(w, r, "run_id", "Run ID")
	if !ok {
		return
	}

	run, err := h.threadService.GetRun(r.Context(), runID, httputil.GetUserID(r))
	if err != nil {
		handleError(w, err)
		return
	}
	if run.ThreadID != threadID {
		httputil.RespondError(w, http.StatusNotFound, "run not found")
		return
	}

	httputil.RespondJSON(w, http.StatusOK, run)
}
