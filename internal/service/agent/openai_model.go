package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// ChatCompletionClient is the part of the go-openai client OpenAIModel uses
type ChatCompletionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIModel talks to any OpenAI compatible chat completions endpoint
type OpenAIModel struct {
	client ChatCompletionClient
}

// NewOpenAIModel creates a model for apiKey. baseURL may point at a
// compatible gateway; empty uses api.openai.com.
func NewOpenAIModel(apiKey, baseURL string) (*OpenAIModel, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIModel{client: openai.NewClientWithConfig(cfg)}, nil
}

// NewOpenAIModelWithClient wraps an existing client
func NewOpenAIModelWithClient(client ChatCompletionClient) *OpenAIModel {
	return &OpenAIModel{client: client}
}

func (m *OpenAIModel) Complete(ctx context.Context, req ModelRequest) (*ModelResponse, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: toOpenAIMessages(req),
	}
	for _, def := range req.Tools {
		params := def.Parameters
		if params == nil {
			params = defaultSchema()
		}
		schema, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode schema of tool %s: %w", def.Name, err)
		}
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  json.RawMessage(schema),
			},
		})
	}

	resp, err := m.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("model returned no choices")
	}

	choice := resp.Choices[0]
	out := &ModelResponse{
		Text:       choice.Message.Content,
		Model:      resp.Model,
		StopReason: string(choice.FinishReason),
	}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]interface{}
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			// Keep the call so the tool reports the bad arguments back
			args = map[string]interface{}{"_raw_arguments": tc.Function.Arguments}
		}
		if args == nil {
			args = map[string]interface{}{}
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Input: args})
	}
	return out, nil
}

func toOpenAIMessages(req ModelRequest) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleTool:
			for _, r := range msg.ToolResults {
				messages = append(messages, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    resultText(r),
					ToolCallID: r.ID,
					Name:       r.Name,
				})
			}

		case RoleAssistant:
			out := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Text}
			for _, call := range msg.ToolCalls {
				args, _ := json.Marshal(call.Input)
				out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: string(args),
					},
				})
			}
			messages = append(messages, out)

		case RoleSystem:
			messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: msg.Text})

		default:
			messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: msg.Text})
		}
	}
	return messages
}
