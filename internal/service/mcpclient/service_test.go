package mcpclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"apex/internal/config"
	"apex/internal/domain"
	"apex/internal/domain/services"
	"apex/internal/security"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockMCPClient struct {
	InitializeFunc func(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListToolsFunc  func(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallToolFunc   func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)

	mu        sync.Mutex
	listCalls int
	closed    bool
}

func (m *mockMCPClient) Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	if m.InitializeFunc != nil {
		return m.InitializeFunc(ctx, req)
	}
	return &mcp.InitializeResult{}, nil
}

func (m *mockMCPClient) ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	m.mu.Lock()
	m.listCalls++
	m.mu.Unlock()
	if m.ListToolsFunc != nil {
		return m.ListToolsFunc(ctx, req)
	}
	return &mcp.ListToolsResult{Tools: []mcp.Tool{
		{Name: "read_file", Description: "Reads a file", RawInputSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}}}`)},
		{Name: "list_dir", Description: "Lists a directory"},
	}}, nil
}

func (m *mockMCPClient) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if m.CallToolFunc != nil {
		return m.CallToolFunc(ctx, req)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "result of " + req.Params.Name}},
	}, nil
}

func (m *mockMCPClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func newTestService(t *testing.T, mock *mockMCPClient, configs ...config.MCPServerConfig) *Service {
	t.Helper()
	factory := func(ctx context.Context, cfg config.MCPServerConfig) (Client, error) {
		if cfg.Name == "broken" {
			return nil, errors.New("connection refused")
		}
		return mock, nil
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(configs, factory, security.NewInputValidator(config.MaxMessageLength), logger)
}

func filesServer() config.MCPServerConfig {
	return config.MCPServerConfig{Name: "files", Type: config.MCPTransportStdio, Command: "mcp-files"}
}

func TestRegisterServer_Validation(t *testing.T) {
	svc := newTestService(t, &mockMCPClient{})
	ctx := context.Background()

	tests := []struct {
		name string
		cfg  config.MCPServerConfig
		want error
	}{
		{"bad name", config.MCPServerConfig{Name: "bad name!", URL: "http://localhost:9000"}, domain.ErrValidation},
		{"missing url", config.MCPServerConfig{Name: "search", Type: config.MCPTransportSSE}, domain.ErrValidation},
		{"stdio without command", config.MCPServerConfig{Name: "files", Type: config.MCPTransportStdio}, domain.ErrValidation},
		{"stdio at runtime", filesServer(), domain.ErrValidation},
		{"unknown transport", config.MCPServerConfig{Name: "x", Type: "carrier-pigeon", URL: "http://x"}, domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.RegisterServer(ctx, tt.cfg)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	info, err := svc.RegisterServer(ctx, config.MCPServerConfig{Name: "search", URL: "http://localhost:9000/mcp"})
	require.NoError(t, err)
	assert.Equal(t, config.MCPTransportStreamableHTTP, info.Type)
	assert.Equal(t, services.MCPStatusDisconnected, info.Status)

	_, err = svc.RegisterServer(ctx, config.MCPServerConfig{Name: "search", URL: "http://localhost:9001/mcp"})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestRegisterServer_RejectsStdio(t *testing.T) {
	var spawned bool
	factory := func(ctx context.Context, cfg config.MCPServerConfig) (Client, error) {
		spawned = true
		return &mockMCPClient{}, nil
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(nil, factory, security.NewInputValidator(config.MaxMessageLength), logger)

	cfg := config.MCPServerConfig{Name: "shell", Type: config.MCPTransportStdio, Command: "sh", Args: []string{"-c", "true"}, AutoConnect: true}
	_, err := svc.RegisterServer(context.Background(), cfg)

	var svcErr *domain.ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.False(t, spawned)
	assert.Empty(t, svc.ListServers())
}

func TestConnectAndListTools(t *testing.T) {
	mock := &mockMCPClient{}
	svc := newTestService(t, mock, filesServer())
	ctx := context.Background()

	info, err := svc.ConnectServer(ctx, "files")
	require.NoError(t, err)
	assert.Equal(t, services.MCPStatusConnected, info.Status)

	tools, err := svc.ListTools(ctx, "files")
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "files", tools[0].Server)
	assert.Equal(t, "object", tools[0].InputSchema["type"])

	// Served from cache
	_, err = svc.ListTools(ctx, "files")
	require.NoError(t, err)
	assert.Equal(t, 1, mock.listCalls)
	assert.Equal(t, 1, svc.Status().CachedToolSets)

	svc.ClearCache()
	_, err = svc.ListTools(ctx, "files")
	require.NoError(t, err)
	assert.Equal(t, 2, mock.listCalls)

	all := svc.ListAllTools(ctx)
	assert.Len(t, all, 2)
}

func TestListTools_ConnectsLazily(t *testing.T) {
	svc := newTestService(t, &mockMCPClient{}, filesServer())

	tools, err := svc.ListTools(context.Background(), "files")
	require.NoError(t, err)
	assert.Len(t, tools, 2)
	assert.Equal(t, 1, svc.Status().ConnectedServers)
}

func TestConnectServer_Failure(t *testing.T) {
	broken := config.MCPServerConfig{Name: "broken", Type: config.MCPTransportSSE, URL: "http://localhost:1"}
	svc := newTestService(t, &mockMCPClient{}, broken)

	info, err := svc.ConnectServer(context.Background(), "broken")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	require.NotNil(t, info)
	assert.Equal(t, services.MCPStatusError, info.Status)
	assert.Contains(t, info.Error, "connection refused")

	st := svc.Status()
	assert.Equal(t, 1, st.TotalServers)
	assert.Equal(t, 1, st.ErrorServers)

	_, err = svc.ConnectServer(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCallTool(t *testing.T) {
	mock := &mockMCPClient{
		CallToolFunc: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if req.Params.Name == "fail" {
				return &mcp.CallToolResult{
					IsError: true,
					Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "no such file"}},
				}, nil
			}
			return &mcp.CallToolResult{Content: []mcp.Content{
				mcp.TextContent{Type: "text", Text: "line 1"},
				mcp.TextContent{Type: "text", Text: "line 2"},
			}}, nil
		},
	}
	svc := newTestService(t, mock, filesServer())
	ctx := context.Background()

	res, err := svc.CallTool(ctx, "files", "read_file", map[string]interface{}{"path": "/tmp/a"})
	require.NoError(t, err)
	assert.Equal(t, "line 1\nline 2", res.Content)
	assert.False(t, res.IsError)

	res, err = svc.CallTool(ctx, "files", "fail", nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "no such file", res.Content)

	_, err = svc.CallTool(ctx, "nope", "x", nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRemoveAndClose(t *testing.T) {
	mock := &mockMCPClient{}
	svc := newTestService(t, mock, filesServer())
	ctx := context.Background()

	_, err := svc.ConnectServer(ctx, "files")
	require.NoError(t, err)
	require.NoError(t, svc.Close())
	assert.True(t, mock.closed)
	assert.Equal(t, 0, svc.Status().ConnectedServers)

	require.NoError(t, svc.RemoveServer("files"))
	assert.Empty(t, svc.ListServers())
	assert.ErrorIs(t, svc.RemoveServer("files"), domain.ErrNotFound)
}

func TestNewService_SkipsInvalidConfigs(t *testing.T) {
	svc := newTestService(t, &mockMCPClient{},
		filesServer(),
		config.MCPServerConfig{Name: "", Type: config.MCPTransportSSE},
	)
	servers := svc.ListServers()
	require.Len(t, servers, 1)
	assert.Equal(t, "files", servers[0].Name)
}
