package services

import (
	"context"

	"apex/internal/domain/models"
)

// Client is the per-connection view the message handler works with
type Client interface {
	ID() string
	UserID() string
	CurrentThread() string
	SetCurrentThread(threadID string)
	Send(msg *models.WSMessage) error
}

// MessageHandlerService dispatches inbound WebSocket messages
type MessageHandlerService interface {
	HandleMessage(ctx context.Context, client Client, raw []byte)
}
