package events

import (
	"time"

	commands "greenhouse-cloud/internal/commands/domain"
)

// Report sources.
const (
	SourceHTTP = "http"
	SourceMQTT = "mqtt"
)

// CommandStatusChanged is emitted when an edge node reports a command transition.
type CommandStatusChanged struct {
	EventID    string               `json:"event_id"`
	Status     commands.StatusEvent `json:"status"`
	Source     string               `json:"source"`
	ReceivedAt time.Time            `json:"received_at"`
}
