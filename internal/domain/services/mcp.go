package services

import (
	"context"

	"apex/internal/config"
)

// MCP server connection states
const (
	MCPStatusDisconnected = "disconnected"
	MCPStatusConnected    = "connected"
	MCPStatusError        = "error"
)

// MCPClientService manages connections to MCP servers and their tools
type MCPClientService interface {
	ListServers() []MCPServerInfo
	RegisterServer(ctx context.Context, cfg config.MCPServerConfig) (*MCPServerInfo, error)
	RemoveServer(name string) error
	ConnectServer(ctx context.Context, name string) (*MCPServerInfo, error)

	// ListTools returns a server's tools, connecting on first use
	ListTools(ctx context.Context, name string) ([]MCPTool, error)

	// ListAllTools returns the tools of every connected server
	ListAllTools(ctx context.Context) []MCPTool

	CallTool(ctx context.Context, server, tool string, args map[string]interface{}) (*ToolResult, error)
	Status() MCPStatus
	ClearCache()
	Close() error
}

// MCPServerInfo is the public view of a registered server
type MCPServerInfo struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	URL       string `json:"url,omitempty"`
	Command   string `json:"command,omitempty"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	ToolCount int    `json:"tool_count"`
}

// MCPTool describes one tool exposed by a server
type MCPTool struct {
	Server      string                 `json:"server"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
}

// ToolResult is the flattened output of a tool call
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error"`
}

// MCPStatus summarises the client's connections
type MCPStatus struct {
	TotalServers     int `json:"total_servers"`
	ConnectedServers int `json:"connected_servers"`
	ErrorServers     int `json:"error_servers"`
	CachedToolSets   int `json:"cached_tool_sets"`
}
