package models

import (
	"fmt"
	"strings"
	"time"
)

// MessageRole identifies who authored a message
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Valid reports whether r is a known role
func (r MessageRole) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Content block types
const (
	ContentTypeText       = "text"
	ContentTypeImageURL   = "image_url"
	ContentTypeToolResult = "tool_result"
)

// ContentBlock is one typed piece of message content
type ContentBlock struct {
	Type string                 `json:"type"`
	Text string                 `json:"text,omitempty"`
	Data map[string]interface{} `json:"data,omitempty"`
}

// TextContent returns a content list holding a single text block
func TextContent(text string) []ContentBlock {
	return []ContentBlock{{Type: ContentTypeText, Text: text}}
}

// Validate checks the block's type-specific requirements
func (b ContentBlock) Validate() error {
	switch b.Type {
	case ContentTypeText:
		if strings.TrimSpace(b.Text) == "" {
			return fmt.Errorf("text block requires text")
		}
	case ContentTypeImageURL:
		url, _ := b.Data["url"].(string)
		if url == "" {
			return fmt.Errorf("image_url block requires data.url")
		}
	case ContentTypeToolResult:
		if _, ok := b.Data["tool_name"].(string); !ok {
			return fmt.Errorf("tool_result block requires data.tool_name")
		}
	default:
		return fmt.Errorf("unknown content type %q", b.Type)
	}
	return nil
}

// Message is a single entry of a thread's conversation
type Message struct {
	ID          string                 `json:"id" db:"id"`
	ThreadID    string                 `json:"thread_id" db:"thread_id"`
	Role        MessageRole            `json:"role" db:"role"`
	Content     []ContentBlock         `json:"content" db:"content"`
	AssistantID *string                `json:"assistant_id,omitempty" db:"assistant_id"`
	RunID       *string                `json:"run_id,omitempty" db:"run_id"`
	Metadata    map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt   time.Time              `json:"created_at" db:"created_at"`
}

// Text joins the text blocks of the message
func (m *Message) Text() string {
	var parts []string
	for _, block := range m.Content {
		if block.Type == ContentTypeText && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}
