package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mstream "github.com/haowjy/meridian-stream-go"
	"github.com/jackc/pgx/v5/pgxpool"

	"apex/internal/config"
	"apex/internal/domain/repositories"
	"apex/internal/domain/services"
	"apex/internal/errmap"
	"apex/internal/locator"
	"apex/internal/repository/memory"
	"apex/internal/repository/postgres"
	"apex/internal/security"
	"apex/internal/service/agent"
	"apex/internal/service/mcpclient"
	"apex/internal/service/messaging"
	"apex/internal/service/thread"
	"apex/internal/websocket"
)

// threatWindow is how long injection offenses count against a user
const threatWindow = 15 * time.Minute

// Repositories holds the repositories of one storage backend
type Repositories struct {
	Threads    repositories.ThreadRepository
	Messages   repositories.MessageRepository
	Runs       repositories.RunRepository
	Assistants repositories.AssistantRepository
	TxManager  repositories.TransactionManager
}

// MemoryRepositories returns repositories over a fresh in-process store
func MemoryRepositories() *Repositories {
	store := memory.NewStore()
	return &Repositories{
		Threads:    memory.NewThreadRepository(store),
		Messages:   memory.NewMessageRepository(store),
		Runs:       memory.NewRunRepository(store),
		Assistants: memory.NewAssistantRepository(store),
		TxManager:  memory.NewTransactionManager(),
	}
}

// PostgresRepositories returns repositories over pool using prefixed tables
func PostgresRepositories(pool *pgxpool.Pool, tablePrefix string, logger *slog.Logger) *Repositories {
	repoConfig := &postgres.RepositoryConfig{
		Pool:   pool,
		Tables: postgres.NewTableNames(tablePrefix),
		Logger: logger,
	}
	return &Repositories{
		Threads:    postgres.NewThreadRepository(repoConfig),
		Messages:   postgres.NewMessageRepository(repoConfig),
		Runs:       postgres.NewRunRepository(repoConfig),
		Assistants: postgres.NewAssistantRepository(repoConfig),
		TxManager:  postgres.NewTransactionManager(pool, logger),
	}
}

// Services holds the resolved services the HTTP layer needs
type Services struct {
	Threads   services.ThreadService
	MCP       *mcpclient.Service
	Executor  *agent.RunExecutor
	Messages  services.MessageHandlerService
	WebSocket *websocket.Manager
	Errors    *errmap.Mapper
	Validator *security.InputValidator
	Threats   *security.ThreatDetector
}

// Register adds every service factory to l. Nothing is constructed until
// the first Resolve.
func Register(
	l *locator.Locator,
	cfg *config.Config,
	repos *Repositories,
	mcpServers []config.MCPServerConfig,
	streams *mstream.Registry,
	logger *slog.Logger,
) {
	locator.Register(l, cfg)
	locator.Register(l, logger)
	locator.Register(l, streams)
	locator.Register(l, repos.Threads)
	locator.Register(l, repos.Messages)
	locator.Register(l, repos.Runs)
	locator.Register(l, repos.Assistants)
	locator.Register(l, repos.TxManager)

	// Security
	locator.RegisterFactory(l, func(*locator.Locator) (*security.InputValidator, error) {
		return security.NewInputValidator(cfg.MaxMessageLength), nil
	})
	locator.RegisterFactory(l, func(*locator.Locator) (*security.DataSanitizer, error) {
		return security.NewDataSanitizer(), nil
	})
	locator.RegisterFactory(l, func(*locator.Locator) (*security.InjectionDetector, error) {
		return security.NewInjectionDetector(), nil
	})
	locator.RegisterFactory(l, func(l *locator.Locator) (*security.ThreatDetector, error) {
		detector, err := locator.Resolve[*security.InjectionDetector](l)
		if err != nil {
			return nil, err
		}
		return security.NewThreatDetector(detector, threatWindow), nil
	})
	locator.RegisterFactory(l, func(*locator.Locator) (*errmap.Mapper, error) {
		return errmap.NewMapper()
	})

	// Transport
	locator.RegisterFactory(l, func(*locator.Locator) (*websocket.Manager, error) {
		return websocket.NewManager(logger.With("component", "websocket")), nil
	})

	// Threads
	locator.RegisterFactory(l, func(l *locator.Locator) (*thread.Service, error) {
		validator, err := locator.Resolve[*security.InputValidator](l)
		if err != nil {
			return nil, err
		}
		sanitizer, err := locator.Resolve[*security.DataSanitizer](l)
		if err != nil {
			return nil, err
		}
		manager, err := locator.Resolve[*websocket.Manager](l)
		if err != nil {
			return nil, err
		}
		return thread.NewService(thread.Deps{
			Threads:      repos.Threads,
			Messages:     repos.Messages,
			Runs:         repos.Runs,
			Assistants:   repos.Assistants,
			TxManager:    repos.TxManager,
			Validator:    validator,
			Sanitizer:    sanitizer,
			Notifier:     manager,
			DefaultModel: cfg.DefaultModel,
			Logger:       logger.With("component", "threads"),
		}), nil
	})
	locator.RegisterFactory(l, func(l *locator.Locator) (services.ThreadService, error) {
		return locator.Resolve[*thread.Service](l)
	})

	// MCP
	locator.RegisterFactory(l, func(l *locator.Locator) (*mcpclient.Service, error) {
		validator, err := locator.Resolve[*security.InputValidator](l)
		if err != nil {
			return nil, err
		}
		return mcpclient.NewService(mcpServers, mcpclient.NewClient, validator, logger.With("component", "mcp")), nil
	})
	locator.RegisterFactory(l, func(l *locator.Locator) (services.MCPClientService, error) {
		return locator.Resolve[*mcpclient.Service](l)
	})

	// Agent
	locator.RegisterFactory(l, func(*locator.Locator) (agent.ChatModel, error) {
		return agent.NewChatModel(cfg)
	})
	locator.RegisterFactory(l, func(l *locator.Locator) (*agent.Supervisor, error) {
		model, err := locator.Resolve[agent.ChatModel](l)
		if err != nil {
			return nil, err
		}
		mcp, err := locator.Resolve[services.MCPClientService](l)
		if err != nil {
			return nil, err
		}
		return agent.NewSupervisor(model, agent.NewToolRegistry(), mcp, logger.With("component", "supervisor")), nil
	})
	locator.RegisterFactory(l, func(l *locator.Locator) (*agent.RunExecutor, error) {
		threads, err := locator.Resolve[*thread.Service](l)
		if err != nil {
			return nil, err
		}
		supervisor, err := locator.Resolve[*agent.Supervisor](l)
		if err != nil {
			return nil, err
		}
		manager, err := locator.Resolve[*websocket.Manager](l)
		if err != nil {
			return nil, err
		}
		mapper, err := locator.Resolve[*errmap.Mapper](l)
		if err != nil {
			return nil, err
		}
		executor := agent.NewRunExecutor(threads, supervisor, streams, manager, mapper, logger.With("component", "executor"), cfg.Debug)
		// Deleting a thread stops its runs
		threads.SetRunCanceller(executor)
		return executor, nil
	})
	locator.RegisterFactory(l, func(l *locator.Locator) (services.RunExecutor, error) {
		return locator.Resolve[*agent.RunExecutor](l)
	})

	// Messaging
	locator.RegisterFactory(l, func(l *locator.Locator) (services.MessageHandlerService, error) {
		threads, err := locator.Resolve[services.ThreadService](l)
		if err != nil {
			return nil, err
		}
		executor, err := locator.Resolve[services.RunExecutor](l)
		if err != nil {
			return nil, err
		}
		validator, err := locator.Resolve[*security.InputValidator](l)
		if err != nil {
			return nil, err
		}
		threats, err := locator.Resolve[*security.ThreatDetector](l)
		if err != nil {
			return nil, err
		}
		mapper, err := locator.Resolve[*errmap.Mapper](l)
		if err != nil {
			return nil, err
		}
		return messaging.NewHandler(threads, executor, validator, threats, mapper, logger.With("component", "messaging")), nil
	})
}

// Resolve builds the services and ensures the default assistant exists
func Resolve(ctx context.Context, l *locator.Locator) (*Services, error) {
	var (
		svc = &Services{}
		err error
	)

	if svc.Executor, err = locator.Resolve[*agent.RunExecutor](l); err != nil {
		return nil, fmt.Errorf("resolve run executor: %w", err)
	}
	if svc.Threads, err = locator.Resolve[services.ThreadService](l); err != nil {
		return nil, fmt.Errorf("resolve thread service: %w", err)
	}
	if svc.MCP, err = locator.Resolve[*mcpclient.Service](l); err != nil {
		return nil, fmt.Errorf("resolve mcp client service: %w", err)
	}
	if svc.Messages, err = locator.Resolve[services.MessageHandlerService](l); err != nil {
		return nil, fmt.Errorf("resolve message handler: %w", err)
	}
	if svc.WebSocket, err = locator.Resolve[*websocket.Manager](l); err != nil {
		return nil, fmt.Errorf("resolve websocket manager: %w", err)
	}
	if svc.Errors, err = locator.Resolve[*errmap.Mapper](l); err != nil {
		return nil, fmt.Errorf("resolve error mapper: %w", err)
	}
	if svc.Validator, err = locator.Resolve[*security.InputValidator](l); err != nil {
		return nil, fmt.Errorf("resolve input validator: %w", err)
	}
	if svc.Threats, err = locator.Resolve[*security.ThreatDetector](l); err != nil {
		return nil, fmt.Errorf("resolve threat detector: %w", err)
	}

	threads, err := locator.Resolve[*thread.Service](l)
	if err != nil {
		return nil, fmt.Errorf("resolve thread service: %w", err)
	}
	if _, err := threads.EnsureDefaultAssistant(ctx); err != nil {
		return nil, fmt.Errorf("ensure default assistant: %w", err)
	}

	return svc, nil
}
