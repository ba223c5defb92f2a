// Package mcpclient connects to Model Context Protocol servers and exposes
// their tools to the assistant.
package mcpclient

import (
	"context"
	"fmt"

	"apex/internal/config"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// Client is the part of an mcp-go client the service uses
type Client interface {
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// ClientFactory creates and starts a client for cfg. The returned client is
// ready for Initialize.
type ClientFactory func(ctx context.Context, cfg config.MCPServerConfig) (Client, error)

// NewClient builds an mcp-go client for the configured transport
func NewClient(ctx context.Context, cfg config.MCPServerConfig) (Client, error) {
	var c *client.Client
	var err error

	switch cfg.Type {
	case config.MCPTransportSSE:
		var opts []transport.ClientOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(cfg.Headers))
		}
		c, err = client.NewSSEMCPClient(cfg.URL, opts...)
	case config.MCPTransportStreamableHTTP:
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
		}
		c, err = client.NewStreamableHttpClient(cfg.URL, opts...)
	case config.MCPTransportStdio:
		var env []string
		for k, v := range cfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		// Stdio clients start their subprocess on creation
		c, err = client.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported MCP transport %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("start transport: %w", err)
	}
	return c, nil
}
