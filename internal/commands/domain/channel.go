package commands

import (
	"encoding/json"
	"strconv"
	"strings"
)

const (
	// ChannelPrefix starts every command broadcast channel name.
	ChannelPrefix = "commands."
	// ChannelGlobal receives fleet-level commands.
	ChannelGlobal = ChannelPrefix + "global"
	// EventCommandStatusUpdated is the broadcast event name on every command channel.
	EventCommandStatusUpdated = "CommandStatusUpdated"
)

// RouteChannel maps a status event to its one broadcast channel.
func RouteChannel(evt StatusEvent) string {
	if zoneID, ok := evt.Zone(); ok {
		return ZoneChannel(zoneID)
	}
	return ChannelGlobal
}

// ZoneChannel names the channel of one zone.
func ZoneChannel(zoneID int64) string {
	return ChannelPrefix + strconv.FormatInt(zoneID, 10)
}

// ZoneFromChannel parses a zone channel name; the global channel is not a zone channel.
func ZoneFromChannel(name string) (int64, bool) {
	suffix, ok := strings.CutPrefix(name, ChannelPrefix)
	if !ok || suffix == "" {
		return 0, false
	}
	zoneID, err := strconv.ParseInt(suffix, 10, 64)
	if err != nil || zoneID <= 0 || strconv.FormatInt(zoneID, 10) != suffix {
		return 0, false
	}
	return zoneID, true
}

// StatusPayload is the body broadcast with EventCommandStatusUpdated.
// Nil fields are emitted as JSON null.
type StatusPayload struct {
	CommandID CommandID       `json:"commandId"`
	Status    Status          `json:"status"`
	Message   *string         `json:"message"`
	Error     *string         `json:"error"`
	ZoneID    json.RawMessage `json:"zoneId"`
}

// NewStatusPayload copies an event into its broadcast payload, zoneId included as received.
func NewStatusPayload(evt StatusEvent) StatusPayload {
	return StatusPayload{
		CommandID: evt.CommandID,
		Status:    evt.Status,
		Message:   evt.Message,
		Error:     evt.Error,
		ZoneID:    evt.ZoneValue(),
	}
}
