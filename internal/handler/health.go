package handler

import (
	"net/http"
	"time"

	"apex/internal/httputil"
)

// ConnectionCounter reports live WebSocket connections
type ConnectionCounter interface {
	ConnectionCount() int
}

// HealthHandler serves the unauthenticated health check
type HealthHandler struct {
	storageBackend string
	connections    ConnectionCounter
	started        time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(storageBackend string, connections ConnectionCounter) *HealthHandler {
	return &HealthHandler{
		storageBackend: storageBackend,
		connections:    connections,
		started:        time.Now(),
	}
}

// HealthCheck is a simple health check endpoint
// GET /health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"status":                "ok",
		"time":                  time.Now().UTC(),
		"uptime_seconds":        int(time.Since(h.started).Seconds()),
		"storage_backend":       h.storageBackend,
		"websocket_connections": h.connections.ConnectionCount(),
	})
}
