package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"apex/internal/config"
	"apex/internal/domain"
	"apex/internal/domain/services"
	"apex/internal/httputil"
)

// MCPClientHandler exposes the MCP client service over HTTP
type MCPClientHandler struct {
	mcpService services.MCPClientService
	logger     *slog.Logger
}

// NewMCPClientHandler creates a new MCP client handler
func NewMCPClientHandler(mcpService services.MCPClientService, logger *slog.Logger) *MCPClientHandler {
	return &MCPClientHandler{
		mcpService: mcpService,
		logger:     logger,
	}
}

// executeToolBody is the request for running one tool
type executeToolBody struct {
	Server    string                 `json:"server"`
	Tool      string                 `json:"tool"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Status summarises the MCP connections
// GET /api/mcp-client/status
func (h *MCPClientHandler) Status(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, h.mcpService.Status())
}

// ListServers returns every registered server
// GET /api/mcp-client/servers
func (h *MCPClientHandler) ListServers(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, h.mcpService.ListServers())
}

// RegisterServer adds a server to the registry
// POST /api/mcp-client/servers
// Returns 201 if registered, 409 with the existing server on a duplicate name
func (h *MCPClientHandler) RegisterServer(w http.ResponseWriter, r *http.Request) {
	var cfg config.MCPServerConfig
	if err := httputil.ParseJSON(w, r, &cfg); err != nil {
		httputil.RespondParseError(w, err)
		return
	}

	info, err := h.mcpService.RegisterServer(r.Context(), cfg)
	if err != nil {
		HandleCreateConflict(w, err, h.findServer)
		return
	}

	h.logger.Info("mcp server registered", "name", info.Name, "type", info.Type, "user_id", httputil.GetUserID(r))
	httputil.RespondJSON(w, http.StatusCreated, info)
}

// RemoveServer disconnects and forgets a server
// DELETE /api/mcp-client/servers/{name}
func (h *MCPClientHandler) RemoveServer(w http.ResponseWriter, r *http.Request) {
	name, ok := PathParam(w, r, "name", "Server name")
	if !ok {
		return
	}

	if err := h.mcpService.RemoveServer(name); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ConnectServer (re)connects a server
// POST /api/mcp-client/servers/{name}/connect
func (h *MCPClientHandler) ConnectServer(w http.ResponseWriter, r *http.Request) {
	name, ok := PathParam(w, r, "name", "Server name")
	if !ok {
		return
	}

	info, err := h.mcpService.ConnectServer(r.Context(), name)
	if err != nil {
		if info != nil {
			// Report the server state alongside the failure
			httputil.RespondErrorWithExtras(w, http.StatusServiceUnavailable, "could not connect to mcp server", map[string]interface{}{
				"server": info,
			})
			return
		}
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, info)
}

// ListTools returns the tools of one server
// GET /api/mcp-client/servers/{name}/tools
func (h *MCPClientHandler) ListTools(w http.ResponseWriter, r *http.Request) {
	name, ok := PathParam(w, r, "name", "Server name")
	if !ok {
		return
	}

	tools, err := h.mcpService.ListTools(r.Context(), name)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, tools)
}

// ExecuteTool calls a tool on a server
// POST /api/mcp-client/tools/execute
func (h *MCPClientHandler) ExecuteTool(w http.ResponseWriter, r *http.Request) {
	var body executeToolBody
	if err := httputil.ParseJSON(w, r, &body); err != nil {
		httputil.RespondParseError(w, err)
		return
	}
	if body.Server == "" || body.Tool == "" {
		httputil.RespondError(w, http.StatusBadRequest, "server and tool are required")
		return
	}

	result, err := h.mcpService.CallTool(r.Context(), body.Server, body.Tool, body.Arguments)
	if err != nil {
		handleError(w, err)
		return
	}

	h.logger.Debug("mcp tool executed",
		"server", body.Server,
		"tool", body.Tool,
		"is_error", result.IsError,
		"user_id", httputil.GetUserID(r),
	)
	httputil.RespondJSON(w, http.StatusOK, result)
}

// ClearCache drops the cached tool lists
// POST /api/mcp-client/cache/clear
func (h *MCPClientHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	h.mcpService.ClearCache()
	httputil.RespondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (h *MCPClientHandler) findServer(name string) (*services.MCPServerInfo, error) {
	for _, info := range h.mcpService.ListServers() {
		if info.Name == name {
			return &info, nil
		}
	}
	return nil, fmt.Errorf("mcp server %s: %w", name, domain.ErrNotFound)
}
