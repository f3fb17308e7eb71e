package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"greenhouse-cloud/internal/eventbus"
	"greenhouse-cloud/internal/realtime"
	telemetry "greenhouse-cloud/internal/telemetry/domain"
)

type recordingSink struct {
	batches []telemetry.Batch
	err     error
}

func (s *recordingSink) WriteBatch(_ context.Context, batch telemetry.Batch) error {
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, batch)
	return nil
}

func newService(t *testing.T, max int, sink telemetry.Sink, bus eventbus.EventBus) *IngestService {
	t.Helper()
	validator, err := telemetry.NewValidator(max)
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	svc, err := NewIngestService(validator, sink, bus, nil)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return svc
}

func batchBody(n int) []byte {
	items := make([]string, n)
	for i := range items {
		items[i] = fmt.Sprintf(`{"zoneId":%d,"nodeId":3,"metricType":"ph","value":6.1,"timestamp":1700000000}`, 7+i%2)
	}
	return []byte(`{"updates":[` + strings.Join(items, ",") + `]}`)
}

func TestNewIngestServiceValidates(t *testing.T) {
	if _, err := NewIngestService(telemetry.Validator{}, &recordingSink{}, nil, nil); !errors.Is(err, telemetry.ErrInvalidMaxUpdates) {
		t.Fatalf("expected ErrInvalidMaxUpdates, got %v", err)
	}
	validator, _ := telemetry.NewValidator(10)
	if _, err := NewIngestService(validator, nil, nil, nil); err == nil {
		t.Fatalf("expected nil sink error")
	}
}

func TestIngestAdmitsAndAnnouncesPerZone(t *testing.T) {
	sink := &recordingSink{}
	bus := eventbus.NewInMemoryBus()
	hub := realtime.NewHub(nil)
	zone7 := hub.Register(ZoneChannel(7))
	zone8 := hub.Register(ZoneChannel(8))
	live, err := NewLiveBroadcaster(hub, nil)
	if err != nil {
		t.Fatalf("broadcaster: %v", err)
	}
	live.Register(bus)

	svc := newService(t, 500, sink, bus)
	res, err := svc.Ingest(context.Background(), SourceHTTP, batchBody(3))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Accepted != 3 || len(res.Zones) != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(sink.batches) != 1 || len(sink.batches[0]) != 3 {
		t.Fatalf("unexpected sink writes %+v", sink.batches)
	}

	var msg realtime.Message
	if err := json.Unmarshal(<-zone7.Messages(), &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var payload LivePayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if msg.Type != EventTelemetryAdmitted || payload.ZoneID != 7 || len(payload.Updates) != 2 {
		t.Fatalf("unexpected zone 7 message %+v %+v", msg, payload)
	}
	select {
	case <-zone8.Messages():
	default:
		t.Fatalf("zone 8 subscriber got nothing")
	}
}

func TestIngestRejectsOversizedBatchWithoutWriting(t *testing.T) {
	sink := &recordingSink{}
	svc := newService(t, 500, sink, nil)

	_, err := svc.Ingest(context.Background(), SourceMQTT, batchBody(501))
	verr, ok := telemetry.AsValidationError(err)
	if !ok || verr.Kind != telemetry.KindBatchTooLarge {
		t.Fatalf("expected batch_too_large, got %v", err)
	}
	if len(verr.FieldErrors) != 0 {
		t.Fatalf("expected no per-item errors, got %d", len(verr.FieldErrors))
	}
	if len(sink.batches) != 0 {
		t.Fatalf("rejected batch must not be written")
	}
}

func TestIngestRejectsWholeBatchOnFieldErrors(t *testing.T) {
	sink := &recordingSink{}
	svc := newService(t, 10, sink, nil)
	body := []byte(`{"updates":[
		{"zoneId":7,"nodeId":3,"metricType":"ph","value":6.1,"timestamp":1700000000},
		{"zoneId":0,"nodeId":3,"value":6.1,"timestamp":1700000000}
	]}`)

	_, err := svc.Ingest(context.Background(), SourceHTTP, body)
	verr, ok := telemetry.AsValidationError(err)
	if !ok || verr.Kind != telemetry.KindInvalidFields {
		t.Fatalf("expected invalid_fields, got %v", err)
	}
	fields := verr.Fields()
	if _, ok := fields["updates.1.zoneId"]; !ok {
		t.Fatalf("expected zoneId error, got %v", fields)
	}
	if _, ok := fields["updates.1.metricType"]; !ok {
		t.Fatalf("expected metricType error, got %v", fields)
	}
	if len(sink.batches) != 0 {
		t.Fatalf("no item may be admitted from an invalid batch")
	}
}

func TestIngestWrapsSinkFailure(t *testing.T) {
	svc := newService(t, 10, &recordingSink{err: errors.New("disk full")}, nil)
	if _, err := svc.Ingest(context.Background(), SourceHTTP, batchBody(1)); !errors.Is(err, ErrSinkWrite) {
		t.Fatalf("expected ErrSinkWrite, got %v", err)
	}
}
