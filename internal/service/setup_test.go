package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	mstream "github.com/haowjy/meridian-stream-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apex/internal/config"
	"apex/internal/domain/services"
	"apex/internal/locator"
	"apex/internal/service/agent"
)

func TestRegisterAndResolve(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{
		DefaultProvider:  "lorem",
		DefaultModel:     "lorem-fast",
		MaxMessageLength: config.MaxMessageLength,
	}
	repos := MemoryRepositories()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	l := locator.New()
	Register(l, cfg, repos, nil, mstream.NewRegistry(), logger)

	svc, err := Resolve(ctx, l)
	require.NoError(t, err)
	assert.NotNil(t, svc.Threads)
	assert.NotNil(t, svc.Messages)
	assert.NotNil(t, svc.WebSocket)
	assert.Equal(t, 0, svc.MCP.Status().TotalServers)

	assistant, err := repos.Assistants.Get(ctx, config.DefaultAssistantID)
	require.NoError(t, err)
	assert.Equal(t, "lorem-fast", assistant.Model)

	// Interfaces resolve to the same singletons
	executor, err := locator.Resolve[services.RunExecutor](l)
	require.NoError(t, err)
	assert.Same(t, svc.Executor, executor.(*agent.RunExecutor))
}

func TestResolveFailsForUnknownProvider(t *testing.T) {
	cfg := &config.Config{DefaultProvider: "carrier-pigeon"}
	l := locator.New()
	Register(l, cfg, MemoryRepositories(), nil, mstream.NewRegistry(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := Resolve(context.Background(), l)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported provider")
}
