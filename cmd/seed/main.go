package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"

	"apex/internal/config"
	"apex/internal/repository/postgres"
	"apex/internal/security"
	"apex/internal/seed"
	"apex/internal/service"
	"apex/internal/service/thread"
)

func main() {
	// Parse command-line flags
	dropTables := flag.Bool("drop-tables", false, "Drop all tables before seeding (fresh start)")
	schemaOnly := flag.Bool("schema-only", false, "Only set up schema, don't seed conversations")
	userID := flag.String("user", os.Getenv("SEED_USER_ID"), "User ID that owns the seeded threads")
	flag.Parse()

	// Load .env file
	_ = godotenv.Load()

	// Load configuration
	cfg := config.Load()

	// SAFETY: Prevent destructive operations in production
	if cfg.Environment == "prod" && *dropTables {
		log.Fatalf("BLOCKED: cannot run --drop-tables in production environment")
	}
	if !cfg.UsesPostgres() {
		log.Fatalf("seeding needs DATABASE_URL; the in-memory backend does not outlive the process")
	}
	if !*schemaOnly && *userID == "" {
		log.Fatalf("--user (or SEED_USER_ID) is required when seeding conversations")
	}

	logger, closeLog, err := config.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to setup logging: %v", err)
	}
	defer closeLog()

	logger.Info("seeding database", "environment", cfg.Environment, "prefix", cfg.TablePrefix)

	// Create database connection pool
	ctx := context.Background()
	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	// Drop tables if requested
	if *dropTables {
		if err := postgres.DropSchema(ctx, pool, cfg.TablePrefix, logger); err != nil {
			log.Fatalf("Failed to drop tables: %v", err)
		}
	}

	// Run schema to ensure tables exist
	if err := postgres.EnsureSchema(ctx, pool, cfg.TablePrefix, logger); err != nil {
		log.Fatalf("Failed to run schema: %v", err)
	}

	// Exit early if schema-only mode
	if *schemaOnly {
		logger.Info("schema setup complete (schema-only mode)")
		return
	}

	// Create repositories
	repos := service.PostgresRepositories(pool, cfg.TablePrefix, logger)
	threads := thread.NewService(thread.Deps{
		Threads:      repos.Threads,
		Messages:     repos.Messages,
		Runs:         repos.Runs,
		Assistants:   repos.Assistants,
		TxManager:    repos.TxManager,
		Validator:    security.NewInputValidator(cfg.MaxMessageLength),
		Sanitizer:    security.NewDataSanitizer(),
		DefaultModel: cfg.DefaultModel,
		Logger:       logger,
	})

	created, err := seed.NewSeeder(threads, logger).SeedConversations(ctx, *userID)
	if err != nil {
		log.Fatalf("Failed to seed conversations: %v", err)
	}

	logger.Info("seeding complete", "threads", len(created), "user_id", *userID)
}
