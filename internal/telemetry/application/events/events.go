package events

import (
	"time"

	telemetry "greenhouse-cloud/internal/telemetry/domain"
)

// TelemetryAdmitted is raised per zone after a batch has been persisted.
type TelemetryAdmitted struct {
	EventID    string                      `json:"event_id"`
	ZoneID     int64                       `json:"zone_id"`
	Updates    []telemetry.TelemetryUpdate `json:"updates"`
	Source     string                      `json:"source"`
	ReceivedAt time.Time                   `json:"received_at"`
}
