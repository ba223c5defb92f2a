package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"ENVIRONMENT", "DATABASE_URL", "STORAGE_BACKEND", "TABLE_PREFIX", "WS_PING_INTERVAL", "MAX_MESSAGE_LENGTH", "DEBUG"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Environment != "dev" {
		t.Errorf("expected dev environment, got %s", cfg.Environment)
	}
	if cfg.TablePrefix != "dev_" {
		t.Errorf("expected dev_ prefix, got %s", cfg.TablePrefix)
	}
	if cfg.StorageBackend != "memory" {
		t.Errorf("expected memory backend without DATABASE_URL, got %s", cfg.StorageBackend)
	}
	if cfg.WSPingInterval != DefaultPingInterval {
		t.Errorf("expected default ping interval, got %s", cfg.WSPingInterval)
	}
	if cfg.MaxMessageLength != MaxMessageLength {
		t.Errorf("expected default max message length, got %d", cfg.MaxMessageLength)
	}
	if !cfg.Debug {
		t.Error("expected debug enabled in dev")
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("expected debug level in dev, got %s", cfg.SlogLevel())
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "prod")
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/apex")
	t.Setenv("STORAGE_BACKEND", "")
	t.Setenv("TABLE_PREFIX", "")
	t.Setenv("WS_PING_INTERVAL", "5s")
	t.Setenv("MAX_MESSAGE_LENGTH", "not-a-number")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("DEBUG", "")

	cfg := Load()

	if cfg.TablePrefix != "prod_" {
		t.Errorf("expected prod_ prefix, got %s", cfg.TablePrefix)
	}
	if !cfg.UsesPostgres() {
		t.Error("expected postgres backend when DATABASE_URL is set")
	}
	if cfg.WSPingInterval != 5*time.Second {
		t.Errorf("expected 5s ping interval, got %s", cfg.WSPingInterval)
	}
	if cfg.MaxMessageLength != MaxMessageLength {
		t.Errorf("expected fallback for invalid int, got %d", cfg.MaxMessageLength)
	}
	if cfg.Debug {
		t.Error("expected debug disabled in prod")
	}
	if cfg.SlogLevel() != slog.LevelWarn {
		t.Errorf("expected warn level, got %s", cfg.SlogLevel())
	}
}

func TestLoadMCPServers(t *testing.T) {
	t.Run("missing file yields nothing", func(t *testing.T) {
		servers, err := LoadMCPServers(filepath.Join(t.TempDir(), "absent.yaml"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(servers) != 0 {
			t.Errorf("expected no servers, got %d", len(servers))
		}
	})

	t.Run("parses servers", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "mcp.yaml")
		content := `servers:
  - name: files
    type: stdio
    command: mcp-files
    args: ["--root", "/tmp"]
  - name: search
    url: http://localhost:9000/mcp
    headers:
      X-Api-Key: abc
`
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}

		servers, err := LoadMCPServers(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(servers) != 2 {
			t.Fatalf("expected 2 servers, got %d", len(servers))
		}
		if servers[0].Type != MCPTransportStdio || servers[0].Command != "mcp-files" || len(servers[0].Args) != 2 {
			t.Errorf("unexpected stdio server: %+v", servers[0])
		}
		if servers[1].Type != MCPTransportStreamableHTTP {
			t.Errorf("expected default transport, got %s", servers[1].Type)
		}
		if servers[1].URL != "http://localhost:9000/mcp" {
			t.Errorf("unexpected url %s", servers[1].URL)
		}
	})
}

func TestSetupLogFile_PrunesOldFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"apex-2020-01-01T00-00-00.000.log", "apex-2020-01-02T00-00-00.000.log", "apex-2020-01-03T00-00-00.000.log"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("seed log: %v", err)
		}
	}

	f, err := SetupLogFile(dir, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer f.Close()

	files, _ := filepath.Glob(filepath.Join(dir, "apex-*.log"))
	if len(files) != 2 {
		t.Errorf("expected 2 log files after pruning, got %d", len(files))
	}
}
