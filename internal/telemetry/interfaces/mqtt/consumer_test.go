package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	telemetryapp "greenhouse-cloud/internal/telemetry/application"
	telemetry "greenhouse-cloud/internal/telemetry/domain"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type fakeIngester struct {
	validator telemetry.Validator
	err       error
	sources   []string
}

func (f *fakeIngester) Ingest(_ context.Context, source string, body []byte) (telemetryapp.Result, error) {
	f.sources = append(f.sources, source)
	if f.err != nil {
		return telemetryapp.Result{}, f.err
	}
	batch, err := f.validator.ValidateRequest(body)
	if err != nil {
		return telemetryapp.Result{}, err
	}
	return telemetryapp.Result{Accepted: len(batch)}, nil
}

type published struct {
	topic   string
	payload []byte
}

type fakePublisher struct {
	sent []published
}

func (p *fakePublisher) Publish(topic string, payload []byte) error {
	p.sent = append(p.sent, published{topic: topic, payload: payload})
	return nil
}

func newIngester(t *testing.T, max int) *fakeIngester {
	t.Helper()
	v, err := telemetry.NewValidator(max)
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	return &fakeIngester{validator: v}
}

func TestIngestConsumerAccepts(t *testing.T) {
	ing := newIngester(t, 5)
	pub := &fakePublisher{}
	c, err := NewIngestConsumer(ing, pub, "greenhouse", nil)
	if err != nil {
		t.Fatalf("consumer: %v", err)
	}
	if c.Topic() != "greenhouse/+/telemetry" {
		t.Fatalf("unexpected topic %q", c.Topic())
	}
	msg := fakeMessage{topic: "greenhouse/node-3/telemetry", payload: []byte(`{"updates":[{"zoneId":7,"nodeId":3,"metricType":"ph","value":6.1,"timestamp":1700000000}]}`)}
	if err := c.Handle(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(pub.sent) != 0 || ing.sources[0] != telemetryapp.SourceMQTT {
		t.Fatalf("unexpected state sent=%v sources=%v", pub.sent, ing.sources)
	}
}

func TestIngestConsumerPublishesRejection(t *testing.T) {
	pub := &fakePublisher{}
	c, _ := NewIngestConsumer(newIngester(t, 5), pub, "greenhouse", nil)
	msg := fakeMessage{topic: "greenhouse/node-3/telemetry", payload: []byte(`{"updates":[{"zoneId":7}]}`)}
	if err := c.Handle(context.Background(), msg); err != nil {
		t.Fatalf("validation failure must not be a handler error: %v", err)
	}
	if len(pub.sent) != 1 || pub.sent[0].topic != "greenhouse/node-3/telemetry/rejected" {
		t.Fatalf("unexpected publications %+v", pub.sent)
	}
	var rej Rejection
	if err := json.Unmarshal(pub.sent[0].payload, &rej); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rej.Error != string(telemetry.KindInvalidFields) || len(rej.Errors["updates.0.nodeId"]) == 0 {
		t.Fatalf("unexpected rejection %+v", rej)
	}
}

func TestIngestConsumerReturnsInfrastructureErrors(t *testing.T) {
	ing := newIngester(t, 5)
	ing.err = errors.New("sink down")
	pub := &fakePublisher{}
	c, _ := NewIngestConsumer(ing, pub, "greenhouse", nil)
	if err := c.Handle(context.Background(), fakeMessage{topic: "greenhouse/n/telemetry", payload: []byte(`{}`)}); err == nil {
		t.Fatalf("expected error")
	}
	if len(pub.sent) != 0 {
		t.Fatalf("infrastructure errors must not be published as rejections")
	}
}
