package commands

import (
	"encoding/json"
	"testing"
)

func TestRouteChannelZoneScoped(t *testing.T) {
	evt := StatusEvent{CommandID: NumericID(42), Status: StatusCompleted, Message: StringPtr("OK"), ZoneID: Int64Ptr(7)}
	if got := RouteChannel(evt); got != "commands.7" {
		t.Fatalf("expected commands.7, got %s", got)
	}
}

func TestRouteChannelGlobalWhenUnscoped(t *testing.T) {
	evt := StatusEvent{CommandID: OpaqueID("cmd-1"), Status: StatusFailed, Error: StringPtr("Timeout")}
	if got := RouteChannel(evt); got != ChannelGlobal {
		t.Fatalf("expected %s, got %s", ChannelGlobal, got)
	}
}

func TestRouteChannelNonPositiveZoneFallsBackToGlobal(t *testing.T) {
	for _, zone := range []int64{0, -3} {
		evt := StatusEvent{CommandID: NumericID(1), Status: StatusRunning, ZoneID: Int64Ptr(zone)}
		if got := RouteChannel(evt); got != ChannelGlobal {
			t.Fatalf("zone %d: expected global, got %s", zone, got)
		}
	}
}

func TestRouteChannelDeterministic(t *testing.T) {
	evt := StatusEvent{CommandID: NumericID(9), Status: "queued", ZoneID: Int64Ptr(12)}
	first := RouteChannel(evt)
	second := RouteChannel(evt)
	if first != second {
		t.Fatalf("expected stable routing, got %s then %s", first, second)
	}
	if evt.ZoneID == nil || *evt.ZoneID != 12 {
		t.Fatal("routing must not modify the event")
	}
}

func TestZoneFromChannel(t *testing.T) {
	cases := map[string]struct {
		zone int64
		ok   bool
	}{
		"commands.7":      {7, true},
		"commands.global": {0, false},
		"commands.0":      {0, false},
		"commands.-1":     {0, false},
		"commands.007":    {0, false},
		"commands.":       {0, false},
		"telemetry.7":     {0, false},
	}
	for name, want := range cases {
		zone, ok := ZoneFromChannel(name)
		if zone != want.zone || ok != want.ok {
			t.Fatalf("%s: expected (%d,%v), got (%d,%v)", name, want.zone, want.ok, zone, ok)
		}
	}
}

func TestStatusPayloadZoneScopedJSON(t *testing.T) {
	evt := StatusEvent{CommandID: NumericID(42), Status: StatusCompleted, Message: StringPtr("OK"), ZoneID: Int64Ptr(7)}
	data, err := json.Marshal(NewStatusPayload(evt))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"commandId":42,"status":"completed","message":"OK","error":null,"zoneId":7}`
	if string(data) != want {
		t.Fatalf("expected %s, got %s", want, data)
	}
}

func TestStatusPayloadGlobalKeepsNullZone(t *testing.T) {
	evt := StatusEvent{CommandID: OpaqueID("cmd-1"), Status: StatusFailed, Error: StringPtr("Timeout")}
	data, err := json.Marshal(NewStatusPayload(evt))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"commandId":"cmd-1","status":"failed","message":null,"error":"Timeout","zoneId":null}`
	if string(data) != want {
		t.Fatalf("expected %s, got %s", want, data)
	}
}

func TestStatusPayloadKeepsMalformedZoneAsReceived(t *testing.T) {
	cases := map[string]string{
		`{"commandId":5,"status":"running","zoneId":"abc"}`: `"abc"`,
		`{"commandId":5,"status":"running","zoneId":7.5}`:   `7.5`,
		`{"commandId":5,"status":"running","zoneId":"9"}`:   `"9"`,
	}
	for in, zone := range cases {
		var evt StatusEvent
		if err := json.Unmarshal([]byte(in), &evt); err != nil {
			t.Fatalf("decode %s: %v", in, err)
		}
		data, err := json.Marshal(NewStatusPayload(evt))
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		want := `{"commandId":5,"status":"running","message":null,"error":null,"zoneId":` + zone + `}`
		if string(data) != want {
			t.Fatalf("expected %s, got %s", want, data)
		}
	}
}
