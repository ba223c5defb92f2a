package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/viper"
)

// MCP transport types
const (
	MCPTransportSSE            = "sse"
	MCPTransportStreamableHTTP = "streamable_http"
	MCPTransportStdio          = "stdio"
)

// MCPServerConfig describes one MCP server the backend can connect to
type MCPServerConfig struct {
	Name    string            `mapstructure:"name" json:"name"`
	Type    string            `mapstructure:"type" json:"type"`
	URL     string            `mapstructure:"url" json:"url,omitempty"`
	Command string            `mapstructure:"command" json:"command,omitempty"`
	Args    []string          `mapstructure:"args" json:"args,omitempty"`
	Env     map[string]string `mapstructure:"env" json:"env,omitempty"`
	Headers map[string]string `mapstructure:"headers" json:"headers,omitempty"`
	// AutoConnect connects the server at startup
	AutoConnect bool `mapstructure:"auto_connect" json:"auto_connect"`
}

type mcpFile struct {
	Servers []MCPServerConfig `mapstructure:"servers"`
}

// LoadMCPServers reads the MCP server list from a YAML file.
// A missing file is not an error and yields no servers.
func LoadMCPServers(path string) ([]MCPServerConfig, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read mcp config %s: %w", path, err)
	}

	var file mcpFile
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("decode mcp config %s: %w", path, err)
	}

	for i := range file.Servers {
		if file.Servers[i].Type == "" {
			file.Servers[i].Type = MCPTransportStreamableHTTP
		}
	}

	return file.Servers, nil
}
