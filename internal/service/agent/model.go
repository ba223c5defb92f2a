// Package agent runs assistant turns: it calls a chat model, executes the
// tools the model asks for and records the outcome of each run.
package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"apex/internal/config"
)

// Model message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ModelMessage is one conversation entry sent to a model. Assistant entries
// may carry the tool calls they made; tool entries carry their results.
type ModelMessage struct {
	Role        string
	Text        string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// ToolDefinition describes a tool the model may call
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]interface{} // JSON schema
}

// ModelRequest is a single completion request
type ModelRequest struct {
	Model    string
	System   string
	Messages []ModelMessage
	Tools    []ToolDefinition
}

// ModelResponse is the model's reply to a ModelRequest
type ModelResponse struct {
	Text       string
	Model      string
	ToolCalls  []ToolCall
	StopReason string
}

// ChatModel is a completion backend
type ChatModel interface {
	Complete(ctx context.Context, req ModelRequest) (*ModelResponse, error)
}

// NewChatModel builds the backend named by cfg.DefaultProvider
func NewChatModel(cfg *config.Config) (ChatModel, error) {
	switch cfg.DefaultProvider {
	case "lorem", "":
		return NewLoremModel(), nil
	case "anthropic":
		return NewAnthropicModel(cfg.AnthropicAPIKey)
	case "openai":
		return NewOpenAIModel(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
	default:
		return nil, fmt.Errorf("unsupported provider: %s (supported: lorem, anthropic, openai)", cfg.DefaultProvider)
	}
}

// defaultSchema is used when a tool publishes no input schema
func defaultSchema() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

// resultText renders a tool result the way it is fed back to the model
func resultText(r ToolResult) string {
	if r.IsError {
		if r.Error != nil {
			return "Error: " + r.Error.Error()
		}
		return "Error: tool failed"
	}
	switch v := r.Result.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
