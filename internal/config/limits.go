package config

import "time"

const (
	// MaxThreadTitleLength is the maximum length for thread titles.
	// Limited to 255 to fit in PostgreSQL VARCHAR(255).
	MaxThreadTitleLength = 255

	// AutoTitleLength is how much of the first user message becomes the
	// title of an untitled thread.
	AutoTitleLength = 60

	// MaxMessageLength is the default maximum size of a single chat message.
	MaxMessageLength = 50_000

	// DefaultHistoryLimit is how many messages are returned when the caller
	// does not ask for a specific amount.
	DefaultHistoryLimit = 50

	// MaxHistoryLimit caps any history request.
	MaxHistoryLimit = 200

	// DefaultThreadPageSize and MaxThreadPageSize bound thread listings.
	DefaultThreadPageSize = 20
	MaxThreadPageSize     = 100

	// MaxToolRounds bounds the model/tool loop of a single run.
	MaxToolRounds = 5

	// MaxRequestBodySize caps JSON request bodies on the REST API.
	MaxRequestBodySize = 1 << 20

	// MaxWSFrameSize is the largest inbound WebSocket frame accepted.
	MaxWSFrameSize = 1 << 20

	// DefaultPingInterval is how often idle WebSocket clients are pinged.
	DefaultPingInterval = 30 * time.Second

	// DefaultLogMaxFiles is how many log files SetupLogFile keeps.
	DefaultLogMaxFiles = 10

	// DefaultAssistantID names the assistant used when a run does not pick one.
	DefaultAssistantID = "apex-assistant"
)
