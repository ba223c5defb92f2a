// Package websocket tracks live WebSocket connections and pushes events to
// them.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"apex/internal/config"
	"apex/internal/domain/models"
	"apex/internal/domain/services"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 64
)

// Connection is one live WebSocket of a user. Frames are written by a single
// goroutine fed through a buffered channel.
type Connection struct {
	id     string
	userID string
	conn   *websocket.Conn
	logger *slog.Logger

	pingInterval time.Duration
	pongWait     time.Duration

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu            sync.RWMutex
	currentThread string
}

// NewConnection wraps an upgraded gorilla connection
func NewConnection(conn *websocket.Conn, userID string, pingInterval time.Duration, logger *slog.Logger) *Connection {
	if pingInterval <= 0 {
		pingInterval = config.DefaultPingInterval
	}
	id := uuid.NewString()
	return &Connection{
		id:           id,
		userID:       userID,
		conn:         conn,
		logger:       logger.With("conn_id", id, "user_id", userID),
		pingInterval: pingInterval,
		pongWait:     pingInterval * 2,
		send:         make(chan []byte, sendBufferSize),
		done:         make(chan struct{}),
	}
}

func (c *Connection) ID() string     { return c.id }
func (c *Connection) UserID() string { return c.userID }

func (c *Connection) CurrentThread() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentThread
}

func (c *Connection) SetCurrentThread(threadID string) {
	c.mu.Lock()
	c.currentThread = threadID
	c.mu.Unlock()
}

// Send queues msg without blocking. A full buffer means the client stopped
// reading.
func (c *Connection) Send(msg *models.WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// Done is closed once the connection is closed
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Close sends a close frame and releases the socket. Safe to call more than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = c.conn.Close()
	})
}

// Serve runs the write pump in the background and the read pump until the
// peer goes away. Every text frame is passed to handler.
func (c *Connection) Serve(ctx context.Context, handler services.MessageHandlerService) {
	defer c.Close()

	go c.writePump()
	c.readPump(ctx, handler)
}

func (c *Connection) readPump(ctx context.Context, handler services.MessageHandlerService) {
	c.conn.SetReadLimit(config.MaxWSFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))

		if msgType != websocket.TextMessage {
			continue
		}
		handler.HandleMessage(ctx, c, data)
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("websocket write failed, closing", "error", err)
				c.Close()
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug("keep-alive ping failed, closing", "error", err)
				c.Close()
				return
			}

		case <-c.done:
			return
		}
	}
}
