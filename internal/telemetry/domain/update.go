package telemetry

import "context"

const (
	// MaxChannelLength bounds the optional node sub-channel.
	MaxChannelLength = 64
	// MaxMetricTypeLength bounds the metric type name.
	MaxMetricTypeLength = 64
)

// TelemetryUpdate is one sensor reading reported by an edge node.
type TelemetryUpdate struct {
	ZoneID     int64   `json:"zoneId"`
	NodeID     int64   `json:"nodeId"`
	Channel    string  `json:"channel,omitempty"`
	MetricType string  `json:"metricType"`
	Value      float64 `json:"value"`
	// Timestamp is the producer capture time in epoch seconds; it is not checked against the server clock.
	Timestamp int64 `json:"timestamp"`
}

// Batch is an admitted, fully validated sequence of updates.
type Batch []TelemetryUpdate

// Zones returns the distinct zone ids in first-seen order.
func (b Batch) Zones() []int64 {
	seen := make(map[int64]struct{}, len(b))
	zones := make([]int64, 0, 1)
	for _, update := range b {
		if _, ok := seen[update.ZoneID]; ok {
			continue
		}
		seen[update.ZoneID] = struct{}{}
		zones = append(zones, update.ZoneID)
	}
	return zones
}

// ByZone groups updates per zone, keeping batch order inside each group.
func (b Batch) ByZone() map[int64][]TelemetryUpdate {
	groups := make(map[int64][]TelemetryUpdate)
	for _, update := range b {
		groups[update.ZoneID] = append(groups[update.ZoneID], update)
	}
	return groups
}

// Sink persists admitted batches.
type Sink interface {
	WriteBatch(ctx context.Context, batch Batch) error
}
