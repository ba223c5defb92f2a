package agent

import (
	"context"
	"fmt"
	"strings"

	llmprovider "github.com/haowjy/meridian-llm-go"
	"github.com/haowjy/meridian-llm-go/providers/anthropic"
	"github.com/haowjy/meridian-llm-go/providers/lorem"
)

// Block types understood by meridian-llm-go providers
const (
	blockTypeText       = "text"
	blockTypeToolUse    = "tool_use"
	blockTypeToolResult = "tool_result"
)

// LibraryModel adapts a meridian-llm-go provider to ChatModel
type LibraryModel struct {
	provider llmprovider.Provider
}

// NewLibraryModel wraps an existing provider
func NewLibraryModel(provider llmprovider.Provider) *LibraryModel {
	return &LibraryModel{provider: provider}
}

// NewLoremModel returns the offline lorem ipsum provider
func NewLoremModel() *LibraryModel {
	return NewLibraryModel(lorem.NewProvider())
}

// NewAnthropicModel returns a Claude backed model
func NewAnthropicModel(apiKey string) (*LibraryModel, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable not set")
	}
	provider, err := anthropic.NewProvider(apiKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Anthropic provider: %w", err)
	}
	return NewLibraryModel(provider), nil
}

func (m *LibraryModel) Complete(ctx context.Context, req ModelRequest) (*ModelResponse, error) {
	libReq := toLibraryRequest(req)

	resp, err := m.provider.GenerateResponse(ctx, libReq)
	if err != nil {
		return nil, err
	}

	out := &ModelResponse{Model: resp.Model, StopReason: resp.StopReason}
	var texts []string
	for _, block := range resp.Blocks {
		switch block.BlockType {
		case blockTypeText:
			if block.TextContent != nil {
				texts = append(texts, *block.TextContent)
			}
		case blockTypeToolUse:
			if call, ok := toolCallFromBlock(block.Content); ok {
				out.ToolCalls = append(out.ToolCalls, call)
			}
		}
	}
	out.Text = strings.Join(texts, "")
	return out, nil
}

// toLibraryRequest converts a ModelRequest. System messages are folded into
// the system prompt since providers take it as a parameter.
func toLibraryRequest(req ModelRequest) *llmprovider.GenerateRequest {
	system := req.System
	messages := make([]llmprovider.Message, 0, len(req.Messages))

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += msg.Text

		case RoleTool:
			blocks := make([]*llmprovider.Block, 0, len(msg.ToolResults))
			for i, r := range msg.ToolResults {
				blocks = append(blocks, &llmprovider.Block{
					BlockType: blockTypeToolResult,
					Sequence:  i,
					Content: map[string]interface{}{
						"tool_use_id": r.ID,
						"is_error":    r.IsError,
						"result":      resultText(r),
					},
				})
			}
			messages = append(messages, llmprovider.Message{Role: RoleUser, Blocks: blocks})

		default:
			var blocks []*llmprovider.Block
			if msg.Text != "" {
				text := msg.Text
				blocks = append(blocks, &llmprovider.Block{BlockType: blockTypeText, Sequence: 0, TextContent: &text})
			}
			for _, call := range msg.ToolCalls {
				blocks = append(blocks, &llmprovider.Block{
					BlockType: blockTypeToolUse,
					Sequence:  len(blocks),
					Content: map[string]interface{}{
						"tool_use_id": call.ID,
						"tool_name":   call.Name,
						"input":       call.Input,
					},
				})
			}
			messages = append(messages, llmprovider.Message{Role: msg.Role, Blocks: blocks})
		}
	}

	libReq := &llmprovider.GenerateRequest{
		Messages: messages,
		Model:    req.Model,
	}
	if system != "" {
		libReq.Params = &llmprovider.RequestParams{System: &system}
	}
	return libReq
}

// toolCallFromBlock reads {"tool_use_id", "tool_name", "input"} content
func toolCallFromBlock(content map[string]interface{}) (ToolCall, bool) {
	id, _ := content["tool_use_id"].(string)
	name, ok := content["tool_name"].(string)
	if !ok || name == "" {
		return ToolCall{}, false
	}
	input, _ := content["input"].(map[string]interface{})
	if input == nil {
		input = map[string]interface{}{}
	}
	return ToolCall{ID: id, Name: name, Input: input}, true
}
