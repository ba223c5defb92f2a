package websocket

import (
	"context"
	"log/slog"
	"sync"

	"apex/internal/domain/models"
)

// Manager indexes live connections by user and by connection id
type Manager struct {
	mu     sync.RWMutex
	byUser map[string]map[string]*Connection
	byID   map[string]*Connection
	logger *slog.Logger
}

func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		byUser: make(map[string]map[string]*Connection),
		byID:   make(map[string]*Connection),
		logger: logger,
	}
}

func (m *Manager) Add(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conns, ok := m.byUser[c.UserID()]
	if !ok {
		conns = make(map[string]*Connection)
		m.byUser[c.UserID()] = conns
	}
	conns[c.ID()] = c
	m.byID[c.ID()] = c

	m.logger.Debug("websocket connection added",
		"conn_id", c.ID(),
		"user_id", c.UserID(),
		"total", len(m.byID),
	)
}

// Remove forgets c. It does not close the socket.
func (m *Manager) Remove(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(c)
}

func (m *Manager) removeLocked(c *Connection) {
	if _, ok := m.byID[c.ID()]; !ok {
		return
	}
	delete(m.byID, c.ID())
	if conns, ok := m.byUser[c.UserID()]; ok {
		delete(conns, c.ID())
		if len(conns) == 0 {
			delete(m.byUser, c.UserID())
		}
	}
	m.logger.Debug("websocket connection removed", "conn_id", c.ID(), "user_id", c.UserID())
}

// SendToUser delivers msg to every connection of userID and returns how many
// accepted it. Connections that cannot take the message are dropped.
func (m *Manager) SendToUser(ctx context.Context, userID string, msg *models.WSMessage) int {
	m.mu.RLock()
	targets := make([]*Connection, 0, len(m.byUser[userID]))
	for _, c := range m.byUser[userID] {
		targets = append(targets, c)
	}
	m.mu.RUnlock()

	return m.deliver(targets, msg)
}

// SendToConnection delivers msg to a single connection
func (m *Manager) SendToConnection(connID string, msg *models.WSMessage) error {
	m.mu.RLock()
	c, ok := m.byID[connID]
	m.mu.RUnlock()
	if !ok {
		return ErrConnectionClosed
	}

	if err := c.Send(msg); err != nil {
		m.drop(c, err)
		return err
	}
	return nil
}

// Broadcast delivers msg to every connection
func (m *Manager) Broadcast(msg *models.WSMessage) int {
	m.mu.RLock()
	targets := make([]*Connection, 0, len(m.byID))
	for _, c := range m.byID {
		targets = append(targets, c)
	}
	m.mu.RUnlock()

	return m.deliver(targets, msg)
}

// Notify implements services.Notifier
func (m *Manager) Notify(ctx context.Context, userID, eventType string, payload interface{}) {
	msg, err := models.NewWSMessage(eventType, payload)
	if err != nil {
		m.logger.Error("failed to encode notification", "type", eventType, "error", err)
		return
	}
	m.SendToUser(ctx, userID, msg)
}

func (m *Manager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

func (m *Manager) UserCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byUser)
}

// CloseAll closes and forgets every connection
func (m *Manager) CloseAll() {
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.byID))
	for _, c := range m.byID {
		conns = append(conns, c)
	}
	m.byID = make(map[string]*Connection)
	m.byUser = make(map[string]map[string]*Connection)
	m.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	m.logger.Info("closed websocket connections", "count", len(conns))
}

func (m *Manager) deliver(targets []*Connection, msg *models.WSMessage) int {
	sent := 0
	for _, c := range targets {
		if err := c.Send(msg); err != nil {
			m.drop(c, err)
			continue
		}
		sent++
	}
	return sent
}

func (m *Manager) drop(c *Connection, reason error) {
	m.logger.Warn("dropping websocket connection",
		"conn_id", c.ID(),
		"user_id", c.UserID(),
		"reason", reason,
	)
	m.Remove(c)
	c.Close()
}
