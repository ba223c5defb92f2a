package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mstream "github.com/haowjy/meridian-stream-go"
	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"apex/internal/auth"
	"apex/internal/config"
	"apex/internal/handler"
	"apex/internal/locator"
	"apex/internal/domain/models"
	"apex/internal/middleware"
	"apex/internal/repository/postgres"
	"apex/internal/service"
)

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	// Load configuration
	cfg := config.Load()

	// Setup structured logging
	logger, closeLog, err := config.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to setup logging: %v", err)
	}
	defer closeLog()
	slog.SetDefault(logger) // Set as default logger

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"storage_backend", cfg.StorageBackend,
		"table_prefix", cfg.TablePrefix,
		"provider", cfg.DefaultProvider,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Create JWT verifier (JWKS when configured, otherwise shared secret)
	jwtVerifier, err := auth.NewVerifier(cfg.JWKSURL, cfg.JWTSecret, logger)
	if err != nil {
		log.Fatalf("Failed to create JWT verifier: %v", err)
	}
	defer jwtVerifier.Close()

	// Repositories
	var repos *service.Repositories
	if cfg.UsesPostgres() {
		pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to create connection pool: %v", err)
		}
		defer pool.Close()

		if err := postgres.EnsureSchema(ctx, pool, cfg.TablePrefix, logger); err != nil {
			log.Fatalf("Failed to prepare database schema: %v", err)
		}
		logger.Info("database connected", "max_conns", 25, "min_conns", 2)

		repos = service.PostgresRepositories(pool, cfg.TablePrefix, logger)
	} else {
		logger.Warn("DATABASE_URL not set - using in-memory storage, data is lost on restart")
		repos = service.MemoryRepositories()
	}

	// MCP servers from file
	mcpServers, err := config.LoadMCPServers(cfg.MCPConfigPath)
	if err != nil {
		log.Fatalf("Failed to load MCP servers: %v", err)
	}

	// Run streams
	streamRegistry := mstream.NewRegistry()
	go streamRegistry.StartCleanup(ctx)

	// Services
	l := locator.Default()
	service.Register(l, cfg, repos, mcpServers, streamRegistry, logger)
	services, err := service.Resolve(ctx, l)
	if err != nil {
		log.Fatalf("Failed to setup services: %v", err)
	}
	services.MCP.ConnectAutoServers(ctx)

	logger.Info("services initialized", "mcp_servers", len(mcpServers))

	// Handlers
	corsOrigins := strings.Split(cfg.CORSOrigins, ",")
	healthHandler := handler.NewHealthHandler(cfg.StorageBackend, services.WebSocket)
	threadHandler := handler.NewThreadHandler(services.Threads, services.Threats, logger)
	mcpHandler := handler.NewMCPClientHandler(services.MCP, logger)
	wsHandler := handler.NewWebSocketHandler(services.WebSocket, services.Messages, corsOrigins, cfg.WSPingInterval, logger)

	// Create HTTP router (Go 1.22+ enhanced patterns)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", healthHandler.HealthCheck)

	// Thread routes
	mux.HandleFunc("GET /api/threads", threadHandler.ListThreads)
	mux.HandleFunc("POST /api/threads", threadHandler.CreateThread)
	mux.HandleFunc("GET /api/threads/{id}", threadHandler.GetThread)
	mux.HandleFunc("PATCH /api/threads/{id}", threadHandler.UpdateThread)
	mux.HandleFunc("DELETE /api/threads/{id}", threadHandler.DeleteThread)
	mux.HandleFunc("GET /api/threads/{id}/messages", threadHandler.GetMessages)
	mux.HandleFunc("POST /api/threads/{id}/messages", threadHandler.CreateMessage)
	mux.HandleFunc("GET /api/threads/{id}/runs/{run_id}", threadHandler.GetRun)

	// MCP client routes
	mux.HandleFunc("GET /api/mcp-client/status", mcpHandler.Status)
	mux.HandleFunc("GET /api/mcp-client/servers", mcpHandler.ListServers)
	mux.HandleFunc("POST /api/mcp-client/servers", mcpHandler.RegisterServer)
	mux.HandleFunc("DELETE /api/mcp-client/servers/{name}", mcpHandler.RemoveServer)
	mux.HandleFunc("POST /api/mcp-client/servers/{name}/connect", mcpHandler.ConnectServer)
	mux.HandleFunc("GET /api/mcp-client/servers/{name}/tools", mcpHandler.ListTools)
	mux.HandleFunc("POST /api/mcp-client/tools/execute", mcpHandler.ExecuteTool)
	mux.HandleFunc("POST /api/mcp-client/cache/clear", mcpHandler.ClearCache)

	// WebSocket chat
	mux.HandleFunc("GET /ws", wsHandler.ServeWS)

	// Build middleware chain
	var handler http.Handler = mux

	// Apply middleware in reverse order (they wrap each other)
	// Order: CORS → Recovery → RequestLogger → Auth → Routes
	handler = middleware.AuthMiddleware(jwtVerifier, logger)(handler)
	handler = middleware.RequestLogger(logger)(handler)
	handler = middleware.Recovery(logger)(handler)

	// CORS - Must be before auth to handle OPTIONS pre-flight requests
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
	})
	handler = corsHandler.Handler(handler)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // Disabled for long-lived WebSocket connections
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	// Hijacked WebSocket connections are not covered by server.Shutdown
	if notice, err := models.NewWSMessage(models.WSServerShutdown, nil); err == nil {
		logger.Info("notifying websocket clients", "connections", services.WebSocket.Broadcast(notice))
	}
	services.WebSocket.CloseAll()
	if err := services.Executor.Shutdown(shutdownCtx); err != nil {
		logger.Error("run executor shutdown failed", "error", err)
	}
	if err := services.MCP.Close(); err != nil {
		logger.Error("mcp client shutdown failed", "error", err)
	}

	logger.Info("server stopped")
}
