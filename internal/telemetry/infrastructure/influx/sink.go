package influx

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"greenhouse-cloud/internal/config"
	telemetry "greenhouse-cloud/internal/telemetry/domain"
)

const defaultMeasurement = "greenhouse_telemetry"

// Sink writes admitted batches to an InfluxDB v2 bucket.
type Sink struct {
	client      influxdb2.Client
	writeAPI    api.WriteAPIBlocking
	measurement string
}

// NewSink connects a blocking write API for cfg.
func NewSink(cfg config.InfluxConfig) (*Sink, error) {
	if cfg.URL == "" || cfg.Token == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, errors.New("telemetry influx: config incomplete")
	}
	measurement := sanitizeMeasurement(cfg.Measurement)
	if measurement == "" {
		measurement = defaultMeasurement
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Sink{
		client:      client,
		writeAPI:    client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: measurement,
	}, nil
}

// WriteBatch writes one point per update in a single request.
func (s *Sink) WriteBatch(ctx context.Context, batch telemetry.Batch) error {
	if len(batch) == 0 {
		return nil
	}
	points := make([]*write.Point, 0, len(batch))
	for _, u := range batch {
		points = append(points, s.point(u))
	}
	return s.writeAPI.WritePoint(ctx, points...)
}

func (s *Sink) point(u telemetry.TelemetryUpdate) *write.Point {
	tags := map[string]string{
		"zone_id":     strconv.FormatInt(u.ZoneID, 10),
		"node_id":     strconv.FormatInt(u.NodeID, 10),
		"metric_type": u.MetricType,
	}
	if u.Channel != "" {
		tags["channel"] = u.Channel
	}
	fields := map[string]interface{}{
		"value": u.Value,
	}
	return influxdb2.NewPoint(s.measurement, tags, fields, time.Unix(u.Timestamp, 0).UTC())
}

// Close releases the client.
func (s *Sink) Close() {
	s.client.Close()
}

func sanitizeMeasurement(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '_', r == ':', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
