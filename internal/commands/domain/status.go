package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// Status is a command lifecycle state. The vocabulary is open: producers may send
// states this service does not know, and those are passed through unchanged.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Known reports whether the status is part of the recognised lifecycle.
func (s Status) Known() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status ends the command lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var (
	ErrMissingCommandID = errors.New("commands: commandId is required")
	ErrMissingStatus    = errors.New("commands: status is required")
)

// StatusEvent is a snapshot of one command status transition.
type StatusEvent struct {
	CommandID CommandID `json:"commandId"`
	Status    Status    `json:"status"`
	Message   *string   `json:"message"`
	Error     *string   `json:"error"`
	// ZoneID is nil for fleet-level commands.
	ZoneID *int64 `json:"zoneId"`

	// rawZone is the zoneId exactly as decoded, kept for the broadcast payload.
	rawZone json.RawMessage
}

// Validate checks the fields every producer must send.
func (e StatusEvent) Validate() error {
	if e.CommandID.IsZero() {
		return ErrMissingCommandID
	}
	if strings.TrimSpace(string(e.Status)) == "" {
		return ErrMissingStatus
	}
	return nil
}

// Zone returns the zone the command is scoped to. Non-positive ids count as unscoped.
func (e StatusEvent) Zone() (int64, bool) {
	if e.ZoneID == nil || *e.ZoneID <= 0 {
		return 0, false
	}
	return *e.ZoneID, true
}

// ZoneValue returns the zoneId as the producer sent it, or the encoded ZoneID
// for events built in code. Nil means null.
func (e StatusEvent) ZoneValue() json.RawMessage {
	if e.rawZone != nil {
		return e.rawZone
	}
	if e.ZoneID == nil {
		return nil
	}
	return json.RawMessage(strconv.FormatInt(*e.ZoneID, 10))
}

// UnmarshalJSON decodes an event leniently: a zoneId that is not an integer
// (or integer string) leaves ZoneID nil so the event routes to the global
// channel. The received value is still kept for ZoneValue.
func (e *StatusEvent) UnmarshalJSON(data []byte) error {
	type wire struct {
		CommandID CommandID       `json:"commandId"`
		Status    Status          `json:"status"`
		Message   *string         `json:"message"`
		Error     *string         `json:"error"`
		ZoneID    json.RawMessage `json:"zoneId"`
	}
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = StatusEvent{
		CommandID: w.CommandID,
		Status:    w.Status,
		Message:   w.Message,
		Error:     w.Error,
		ZoneID:    parseZoneID(w.ZoneID),
		rawZone:   compactZone(w.ZoneID),
	}
	return nil
}

func compactZone(raw json.RawMessage) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil
	}
	return json.RawMessage(buf.Bytes())
}

func parseZoneID(raw json.RawMessage) *int64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil
		}
	}
	value, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil {
		return nil
	}
	return &value
}

// Int64Ptr is a small helper for building events.
func Int64Ptr(v int64) *int64 { return &v }

// StringPtr is a small helper for building events.
func StringPtr(v string) *string { return &v }
