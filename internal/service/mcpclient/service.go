package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"apex/internal/config"
	"apex/internal/domain"
	"apex/internal/domain/services"
	"apex/internal/security"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/mark3labs/mcp-go/mcp"
)

const connectTimeout = 30 * time.Second

type server struct {
	cfg    config.MCPServerConfig
	client Client
	status string
	err    string
	tools  []services.MCPTool // nil until listed
}

func (s *server) info() services.MCPServerInfo {
	return services.MCPServerInfo{
		Name:      s.cfg.Name,
		Type:      s.cfg.Type,
		URL:       s.cfg.URL,
		Command:   s.cfg.Command,
		Status:    s.status,
		Error:     s.err,
		ToolCount: len(s.tools),
	}
}

// Service implements services.MCPClientService
type Service struct {
	mu        sync.RWMutex
	servers   map[string]*server
	factory   ClientFactory
	validator *security.InputValidator
	logger    *slog.Logger
}

var _ services.MCPClientService = (*Service)(nil)

// NewService creates the service with the given servers registered but not
// yet connected. A nil factory uses NewClient.
func NewService(configs []config.MCPServerConfig, factory ClientFactory, validator *security.InputValidator, logger *slog.Logger) *Service {
	if factory == nil {
		factory = NewClient
	}
	s := &Service{
		servers:   make(map[string]*server),
		factory:   factory,
		validator: validator,
		logger:    logger,
	}
	for _, cfg := range configs {
		if err := s.validate(cfg); err != nil {
			logger.Warn("skipping invalid mcp server config", "name", cfg.Name, "error", err)
			continue
		}
		s.servers[cfg.Name] = &server{cfg: cfg, status: services.MCPStatusDisconnected}
	}
	return s
}

// ConnectAutoServers connects every server marked auto_connect. Failures are
// logged and leave the server in the error state.
func (s *Service) ConnectAutoServers(ctx context.Context) {
	s.mu.RLock()
	var names []string
	for name, srv := range s.servers {
		if srv.cfg.AutoConnect {
			names = append(names, name)
		}
	}
	s.mu.RUnlock()

	for _, name := range names {
		if _, err := s.ConnectServer(ctx, name); err != nil {
			s.logger.Warn("mcp auto-connect failed", "name", name, "error", err)
		}
	}
}

func (s *Service) ListServers() []services.MCPServerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]services.MCPServerInfo, 0, len(s.servers))
	for _, srv := range s.servers {
		out = append(out, srv.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RegisterServer adds a server at runtime. Stdio servers spawn local
// processes, so they are only accepted from the MCP server file.
func (s *Service) RegisterServer(ctx context.Context, cfg config.MCPServerConfig) (*services.MCPServerInfo, error) {
	if cfg.Type == "" {
		cfg.Type = config.MCPTransportStreamableHTTP
	}
	if cfg.Type == config.MCPTransportStdio {
		return nil, domain.NewServiceError("register_mcp_server", "stdio servers can only be configured in the MCP server file")
	}
	if err := s.validate(cfg); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if _, exists := s.servers[cfg.Name]; exists {
		s.mu.Unlock()
		return nil, &domain.ConflictError{
			Message:      fmt.Sprintf("mcp server %s already registered", cfg.Name),
			ResourceType: "mcp_server",
			ResourceID:   cfg.Name,
		}
	}
	srv := &server{cfg: cfg, status: services.MCPStatusDisconnected}
	s.servers[cfg.Name] = srv
	info := srv.info()
	s.mu.Unlock()

	s.logger.Info("mcp server registered", "name", cfg.Name, "type", cfg.Type)

	if cfg.AutoConnect {
		return s.ConnectServer(ctx, cfg.Name)
	}
	return &info, nil
}

func (s *Service) RemoveServer(name string) error {
	s.mu.Lock()
	srv, ok := s.servers[name]
	if ok {
		delete(s.servers, name)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("mcp server %s: %w", name, domain.ErrNotFound)
	}
	if srv.client != nil {
		if err := srv.client.Close(); err != nil {
			s.logger.Warn("mcp client close error", "name", name, "error", err)
		}
	}
	s.logger.Info("mcp server removed", "name", name)
	return nil
}

// ConnectServer (re)connects a server and initializes the session
func (s *Service) ConnectServer(ctx context.Context, name string) (*services.MCPServerInfo, error) {
	s.mu.RLock()
	srv, ok := s.servers[name]
	var cfg config.MCPServerConfig
	if ok {
		cfg = srv.cfg
	}
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("mcp server %s: %w", name, domain.ErrNotFound)
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	c, err := s.factory(ctx, cfg)
	if err == nil {
		_, err = c.Initialize(ctx, mcp.InitializeRequest{
			Params: mcp.InitializeParams{
				ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
				ClientInfo:      mcp.Implementation{Name: "apex", Version: "1.0.0"},
				Capabilities:    mcp.ClientCapabilities{},
			},
		})
		if err != nil {
			_ = c.Close()
			err = fmt.Errorf("initialize: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, still := s.servers[name]
	if !still || current != srv {
		// Removed while connecting
		if err == nil {
			_ = c.Close()
		}
		return nil, fmt.Errorf("mcp server %s: %w", name, domain.ErrNotFound)
	}

	if srv.client != nil {
		_ = srv.client.Close()
		srv.client = nil
	}
	srv.tools = nil

	if err != nil {
		srv.status = services.MCPStatusError
		srv.err = err.Error()
		info := srv.info()
		s.logger.Error("mcp server connection failed", "name", name, "type", cfg.Type, "error", err)
		return &info, fmt.Errorf("connect mcp server %s: %w: %w", name, domain.ErrUnavailable, err)
	}

	srv.client = c
	srv.status = services.MCPStatusConnected
	srv.err = ""
	info := srv.info()
	s.logger.Info("mcp server connected", "name", name, "type", cfg.Type)
	return &info, nil
}

// ListTools returns the cached tool list of a server, connecting and
// listing on first use
func (s *Service) ListTools(ctx context.Context, name string) ([]services.MCPTool, error) {
	c, cached, err := s.clientFor(ctx, name)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return cached, nil
	}

	res, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools of %s: %w: %w", name, domain.ErrUnavailable, err)
	}

	tools := make([]services.MCPTool, 0, len(res.Tools))
	for _, t := range res.Tools {
		tools = append(tools, services.MCPTool{
			Server:      name,
			Name:        t.Name,
			Description: t.Description,
			InputSchema: toolSchema(t),
		})
	}

	s.mu.Lock()
	if srv, ok := s.servers[name]; ok && srv.client == c {
		srv.tools = tools
	}
	s.mu.Unlock()

	s.logger.Debug("mcp tools listed", "name", name, "count", len(tools))
	return copyTools(tools), nil
}

// ListAllTools returns the tools of every connected server
func (s *Service) ListAllTools(ctx context.Context) []services.MCPTool {
	s.mu.RLock()
	var names []string
	for name, srv := range s.servers {
		if srv.status == services.MCPStatusConnected {
			names = append(names, name)
		}
	}
	s.mu.RUnlock()
	sort.Strings(names)

	var all []services.MCPTool
	for _, name := range names {
		tools, err := s.ListTools(ctx, name)
		if err != nil {
			s.logger.Warn("failed to list mcp tools", "name", name, "error", err)
			continue
		}
		all = append(all, tools...)
	}
	return all
}

func (s *Service) CallTool(ctx context.Context, serverName, tool string, args map[string]interface{}) (*services.ToolResult, error) {
	c, _, err := s.clientFor(ctx, serverName)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("calling mcp tool", "server", serverName, "tool", tool)
	res, err := c.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: tool, Arguments: args},
	})
	if err != nil {
		return nil, fmt.Errorf("call %s/%s: %w: %w", serverName, tool, domain.ErrUnavailable, err)
	}

	return &services.ToolResult{Content: flattenContent(res), IsError: res.IsError}, nil
}

func (s *Service) Status() services.MCPStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := services.MCPStatus{TotalServers: len(s.servers)}
	for _, srv := range s.servers {
		switch srv.status {
		case services.MCPStatusConnected:
			st.ConnectedServers++
		case services.MCPStatusError:
			st.ErrorServers++
		}
		if srv.tools != nil {
			st.CachedToolSets++
		}
	}
	return st
}

func (s *Service) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, srv := range s.servers {
		srv.tools = nil
	}
	s.logger.Info("mcp tool cache cleared")
}

// Close disconnects every server
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []string
	for name, srv := range s.servers {
		if srv.client == nil {
			continue
		}
		if err := srv.client.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		}
		srv.client = nil
		srv.tools = nil
		srv.status = services.MCPStatusDisconnected
	}
	if len(errs) > 0 {
		return fmt.Errorf("close mcp clients: %s", strings.Join(errs, "; "))
	}
	return nil
}

// clientFor returns the connected client of a server, connecting when needed,
// plus the cached tool list if there is one
func (s *Service) clientFor(ctx context.Context, name string) (Client, []services.MCPTool, error) {
	s.mu.RLock()
	srv, ok := s.servers[name]
	var c Client
	var tools []services.MCPTool
	if ok {
		c = srv.client
		if srv.tools != nil {
			tools = copyTools(srv.tools)
		}
	}
	s.mu.RUnlock()

	if !ok {
		return nil, nil, fmt.Errorf("mcp server %s: %w", name, domain.ErrNotFound)
	}
	if c != nil {
		return c, tools, nil
	}

	if _, err := s.ConnectServer(ctx, name); err != nil {
		return nil, nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if srv, ok := s.servers[name]; ok && srv.client != nil {
		return srv.client, nil, nil
	}
	return nil, nil, fmt.Errorf("mcp server %s: %w", name, domain.ErrUnavailable)
}

func (s *Service) validate(cfg config.MCPServerConfig) error {
	if err := s.validator.ValidateIdentifier(cfg.Name); err != nil {
		return err
	}
	err := validation.ValidateStruct(&cfg,
		validation.Field(&cfg.Type, validation.Required, validation.In(
			config.MCPTransportSSE, config.MCPTransportStreamableHTTP, config.MCPTransportStdio,
		)),
		validation.Field(&cfg.URL,
			validation.When(cfg.Type != config.MCPTransportStdio, validation.Required, is.URL),
		),
		validation.Field(&cfg.Command,
			validation.When(cfg.Type == config.MCPTransportStdio, validation.Required),
		),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

// toolSchema prefers the raw schema a server sent and falls back to the
// structured one
func toolSchema(t mcp.Tool) map[string]interface{} {
	var schema map[string]interface{}
	if len(t.RawInputSchema) > 0 && string(t.RawInputSchema) != "null" {
		if err := json.Unmarshal(t.RawInputSchema, &schema); err == nil {
			return schema
		}
	}
	data, err := json.Marshal(t.InputSchema)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil
	}
	return schema
}

// flattenContent joins the text parts of a result; non-text results are
// returned as JSON
func flattenContent(res *mcp.CallToolResult) string {
	var parts []string
	for _, item := range res.Content {
		if text, ok := item.(mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, "\n")
	}
	if len(res.Content) == 0 {
		return ""
	}
	data, err := json.Marshal(res.Content)
	if err != nil {
		return "tool returned content that could not be displayed"
	}
	return string(data)
}

func copyTools(tools []services.MCPTool) []services.MCPTool {
	out := make([]services.MCPTool, len(tools))
	copy(out, tools)
	return out
}
