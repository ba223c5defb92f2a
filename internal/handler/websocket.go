package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"apex/internal/domain/models"
	"apex/internal/domain/services"
	"apex/internal/httputil"
	apexws "apex/internal/websocket"
)

// WebSocketHandler upgrades authenticated requests into chat connections
type WebSocketHandler struct {
	manager      *apexws.Manager
	messages     services.MessageHandlerService
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	logger       *slog.Logger
}

// NewWebSocketHandler creates a handler accepting upgrades from allowedOrigins.
// A "*" entry allows any origin.
func NewWebSocketHandler(
	manager *apexws.Manager,
	messages services.MessageHandlerService,
	allowedOrigins []string,
	pingInterval time.Duration,
	logger *slog.Logger,
) *WebSocketHandler {
	return &WebSocketHandler{
		manager:  manager,
		messages: messages,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		pingInterval: pingInterval,
		logger:       logger,
	}
}

// ServeWS handles the upgrade and blocks until the connection ends
// GET /ws
func (h *WebSocketHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r)
	if userID == "" {
		httputil.RespondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		h.logger.Warn("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}

	client := apexws.NewConnection(conn, userID, h.pingInterval, h.logger)
	h.manager.Add(client)
	defer h.manager.Remove(client)

	h.logger.Info("websocket connected", "conn_id", client.ID(), "user_id", userID)

	if msg, err := models.NewWSMessage(models.WSConnected, map[string]string{
		"connection_id": client.ID(),
		"user_id":       userID,
	}); err == nil {
		_ = client.Send(msg)
	}

	client.Serve(r.Context(), h.messages)

	h.logger.Info("websocket disconnected", "conn_id", client.ID(), "user_id", userID)
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		if origin != "" {
			set[origin] = true
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// Non-browser clients send no Origin
		return origin == "" || set[origin]
	}
}
