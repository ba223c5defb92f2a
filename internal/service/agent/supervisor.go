package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"apex/internal/config"
	"apex/internal/domain"
	"apex/internal/domain/models"
	"apex/internal/domain/services"
)

// AgentRequest is everything the supervisor needs for one run
type AgentRequest struct {
	ThreadID     string
	RunID        string
	UserID       string
	Model        string
	Instructions string
	History      []models.Message
	Input        string
}

// ToolCallRecord is a tool call made during a run, for the message metadata
type ToolCallRecord struct {
	ID      string                 `json:"id"`
	Name    string                 `json:"name"`
	Input   map[string]interface{} `json:"input"`
	Output  string                 `json:"output"`
	IsError bool                   `json:"is_error"`
}

// AgentResult is the outcome of a successful run
type AgentResult struct {
	Text      string           `json:"text"`
	Model     string           `json:"model"`
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`
	Rounds    int              `json:"rounds"`
}

// Supervisor drives the model and tool loop of a run
type Supervisor struct {
	model     ChatModel
	tools     *ToolRegistry
	mcp       services.MCPClientService // optional
	maxRounds int
	logger    *slog.Logger
}

// NewSupervisor creates a supervisor. tools holds the built-in tools; MCP
// tools are added per run when mcp is set.
func NewSupervisor(model ChatModel, tools *ToolRegistry, mcp services.MCPClientService, logger *slog.Logger) *Supervisor {
	if tools == nil {
		tools = NewToolRegistry()
	}
	return &Supervisor{
		model:     model,
		tools:     tools,
		mcp:       mcp,
		maxRounds: config.MaxToolRounds,
		logger:    logger,
	}
}

// Execute runs the conversation until the model answers without tool calls
// or the tool round limit is reached
func (s *Supervisor) Execute(ctx context.Context, req AgentRequest) (*AgentResult, error) {
	registry := s.tools
	if s.mcp != nil {
		registry = s.tools.Clone()
		if n := RegisterMCPTools(ctx, registry, s.mcp); n > 0 {
			s.logger.Debug("mcp tools available to run", "run_id", req.RunID, "count", n)
		}
	}
	defs := registry.Definitions()

	messages := buildMessages(req.History, req.Input)
	if len(messages) == 0 {
		return nil, fmt.Errorf("%w: nothing to respond to", domain.ErrAgentFailure)
	}

	result := &AgentResult{Model: req.Model}
	for round := 0; ; round++ {
		modelReq := ModelRequest{
			Model:    req.Model,
			System:   req.Instructions,
			Messages: messages,
		}
		// The last round gets no tools so the model has to answer
		finalRound := round >= s.maxRounds
		if !finalRound {
			modelReq.Tools = defs
		}

		resp, err := s.model.Complete(ctx, modelReq)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: model call: %w", domain.ErrAgentFailure, err)
		}
		result.Rounds = round + 1
		if resp.Model != "" {
			result.Model = resp.Model
		}

		if len(resp.ToolCalls) == 0 || finalRound {
			result.Text = resp.Text
			break
		}

		s.logger.Info("executing tool calls",
			"run_id", req.RunID,
			"round", round+1,
			"count", len(resp.ToolCalls),
		)

		results := registry.ExecuteParallel(ctx, resp.ToolCalls)
		messages = append(messages,
			ModelMessage{Role: RoleAssistant, Text: resp.Text, ToolCalls: resp.ToolCalls},
			ModelMessage{Role: RoleTool, ToolResults: results},
		)
		for i, r := range results {
			result.ToolCalls = append(result.ToolCalls, ToolCallRecord{
				ID:      r.ID,
				Name:    r.Name,
				Input:   resp.ToolCalls[i].Input,
				Output:  resultText(r),
				IsError: r.IsError,
			})
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	if result.Text == "" {
		return nil, fmt.Errorf("%w: empty response", domain.ErrAgentFailure)
	}
	return result, nil
}

// buildMessages converts stored history to model messages and appends input
// unless it is already the last user message. Stored system messages are
// dropped; instructions only come from the assistant.
func buildMessages(history []models.Message, input string) []ModelMessage {
	messages := make([]ModelMessage, 0, len(history)+1)
	for i := range history {
		text := history[i].Text()
		if text == "" || history[i].Role == models.RoleSystem {
			continue
		}
		messages = append(messages, ModelMessage{Role: string(history[i].Role), Text: text})
	}

	if input != "" {
		last := len(messages) - 1
		if last < 0 || messages[last].Role != RoleUser || messages[last].Text != input {
			messages = append(messages, ModelMessage{Role: RoleUser, Text: input})
		}
	}
	return messages
}
