// Package seed fills a store with sample conversations for local development.
package seed

import (
	"context"
	"fmt"
	"log/slog"

	"apex/internal/domain/models"
	"apex/internal/domain/services"
)

// exchange is one user turn and the assistant's reply
type exchange struct {
	user      string
	assistant string
}

// conversation is a sample thread
type conversation struct {
	title     string
	exchanges []exchange
}

var sampleConversations = []conversation{
	{
		title: "Release planning",
		exchanges: []exchange{
			{
				user:      "What is still open before the 2.0 release?",
				assistant: "Three items remain: the migration guide, the websocket reconnect fix and the final load test.",
			},
			{
				user:      "Which of those blocks the others?",
				assistant: "The load test depends on the reconnect fix, so that one should land first.",
			},
		},
	},
	{
		title: "Onboarding notes",
		exchanges: []exchange{
			{
				user:      "Summarise how a new engineer gets a local environment running.",
				assistant: "Copy .env.example to .env, start Postgres, then run the server. Without DATABASE_URL it falls back to in-memory storage.",
			},
		},
	},
	{
		// Left untitled so the first message names it
		exchanges: []exchange{
			{
				user:      "Draft a short status update for the weekly sync",
				assistant: "This week: thread search shipped, MCP tool calls are stable, and the next focus is run cancellation.",
			},
		},
	},
}

// Seeder writes sample data through the thread service so every invariant
// of the normal write path holds
type Seeder struct {
	threads services.ThreadService
	logger  *slog.Logger
}

// NewSeeder creates a new seeder
func NewSeeder(threads services.ThreadService, logger *slog.Logger) *Seeder {
	return &Seeder{
		threads: threads,
		logger:  logger,
	}
}

// SeedConversations creates the sample threads for userID
func (s *Seeder) SeedConversations(ctx context.Context, userID string) ([]*models.Thread, error) {
	created := make([]*models.Thread, 0, len(sampleConversations))

	for _, conv := range sampleConversations {
		thread, err := s.threads.CreateThread(ctx, &services.CreateThreadRequest{
			UserID:   userID,
			Title:    conv.title,
			Metadata: map[string]interface{}{"seeded": true},
		})
		if err != nil {
			return nil, fmt.Errorf("create thread %q: %w", conv.title, err)
		}

		for i, ex := range conv.exchanges {
			if err := s.seedExchange(ctx, thread.ID, userID, ex); err != nil {
				return nil, fmt.Errorf("seed exchange %d of thread %s: %w", i, thread.ID, err)
			}
		}

		// Reload to pick up the auto-title
		thread, err = s.threads.GetThread(ctx, thread.ID, userID)
		if err != nil {
			return nil, err
		}
		created = append(created, thread)

		s.logger.Info("seeded thread",
			"thread_id", thread.ID,
			"title", thread.Title,
			"exchanges", len(conv.exchanges),
		)
	}

	return created, nil
}

// seedExchange stores the user message, a completed run and its reply
func (s *Seeder) seedExchange(ctx context.Context, threadID, userID string, ex exchange) error {
	if _, err := s.threads.CreateMessage(ctx, &services.CreateMessageRequest{
		ThreadID: threadID,
		UserID:   userID,
		Role:     string(models.RoleUser),
		Content:  models.TextContent(ex.user),
	}); err != nil {
		return err
	}

	run, err := s.threads.CreateRun(ctx, &services.CreateRunRequest{
		ThreadID: threadID,
		UserID:   userID,
	})
	if err != nil {
		return err
	}
	if _, err := s.threads.UpdateRunStatus(ctx, run.ID, models.RunStatusInProgress, nil); err != nil {
		return err
	}

	assistantID := run.AssistantID
	runID := run.ID
	if _, err := s.threads.CreateMessage(ctx, &services.CreateMessageRequest{
		ThreadID:    threadID,
		UserID:      userID,
		Role:        string(models.RoleAssistant),
		Content:     models.TextContent(ex.assistant),
		AssistantID: &assistantID,
		RunID:       &runID,
		Metadata:    map[string]interface{}{"model": run.Model},
	}); err != nil {
		return err
	}

	_, err = s.threads.UpdateRunStatus(ctx, run.ID, models.RunStatusCompleted, nil)
	return err
}
