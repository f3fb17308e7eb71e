package mqtt

import (
	"context"
	"errors"
	"testing"

	commands "greenhouse-cloud/internal/commands/domain"
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

type fakeReporter struct {
	events []commands.StatusEvent
	source string
}

func (f *fakeReporter) Report(_ context.Context, source string, evt commands.StatusEvent) (string, error) {
	if err := evt.Validate(); err != nil {
		return "", err
	}
	f.source = source
	f.events = append(f.events, evt)
	return commands.RouteChannel(evt), nil
}

func TestStatusConsumerTopic(t *testing.T) {
	c, _ := NewStatusConsumer(&fakeReporter{}, "greenhouse", nil)
	if got := c.Topic(); got != "greenhouse/+/commands/status" {
		t.Fatalf("unexpected topic %q", got)
	}
}

func TestStatusConsumerReports(t *testing.T) {
	reporter := &fakeReporter{}
	c, err := NewStatusConsumer(reporter, "greenhouse", nil)
	if err != nil {
		t.Fatalf("consumer: %v", err)
	}
	msg := fakeMessage{
		topic:   "greenhouse/node-1/commands/status",
		payload: []byte(`{"commandId":"cmd-1","status":"failed","message":null,"error":"Timeout","zoneId":null}`),
	}
	if err := c.Handle(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(reporter.events) != 1 || reporter.source != "mqtt" {
		t.Fatalf("unexpected reports %+v", reporter)
	}
	if got := commands.RouteChannel(reporter.events[0]); got != commands.ChannelGlobal {
		t.Fatalf("unexpected channel %q", got)
	}
}

func TestStatusConsumerErrors(t *testing.T) {
	c, _ := NewStatusConsumer(&fakeReporter{}, "greenhouse", nil)
	if err := c.Handle(context.Background(), fakeMessage{topic: "greenhouse/n/commands/status", payload: []byte("{")}); err == nil {
		t.Fatalf("expected decode error")
	}
	err := c.Handle(context.Background(), fakeMessage{topic: "greenhouse/n/commands/status", payload: []byte(`{"status":"pending"}`)})
	if !errors.Is(err, commands.ErrMissingCommandID) {
		t.Fatalf("expected ErrMissingCommandID, got %v", err)
	}
	if _, err := NewStatusConsumer(nil, "", nil); err == nil {
		t.Fatalf("expected nil reporter error")
	}
}
