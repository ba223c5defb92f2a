package models

import (
	"encoding/json"
	"time"
)

// Inbound WebSocket message types
const (
	WSStartAgent       = "start_agent"
	WSUserMessage      = "user_message"
	WSGetThreadHistory = "get_thread_history"
	WSStopAgent        = "stop_agent"
	WSSwitchThread     = "switch_thread"
	WSPing             = "ping"
)

// Outbound WebSocket message types
const (
	WSThreadCreated    = "thread_created"
	WSThreadUpdated    = "thread_updated"
	WSThreadDeleted    = "thread_deleted"
	WSThreadSwitched   = "thread_switched"
	WSThreadHistory    = "thread_history"
	WSMessageCreated   = "message_created"
	WSRunStatusChanged = "run_status_changed"
	WSAgentStarted     = "agent_started"
	WSAgentCompleted   = "agent_completed"
	WSAgentStopped     = "agent_stopped"
	WSError            = "error"
	WSPong             = "pong"
	WSConnected        = "connected"
	WSServerShutdown   = "server_shutdown"
)

// WSMessage is the envelope for every WebSocket frame
type WSMessage struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewWSMessage marshals payload into an envelope of the given type
func NewWSMessage(msgType string, payload interface{}) (*WSMessage, error) {
	msg := &WSMessage{Type: msgType, Timestamp: time.Now().UTC()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Payload = data
	}
	return msg, nil
}
