package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
)

// ErrInvalidCommandID is returned when a command id is neither an integer nor a string.
var ErrInvalidCommandID = errors.New("commands: command id must be an integer or a string")

// CommandID identifies a command. Producers use either a numeric database id or an
// opaque string such as a client-generated correlation token; both forms round-trip as sent.
type CommandID struct {
	numeric bool
	num     int64
	opaque  string
}

// NumericID builds a numeric command id.
func NumericID(id int64) CommandID {
	return CommandID{numeric: true, num: id}
}

// OpaqueID builds a string command id.
func OpaqueID(id string) CommandID {
	return CommandID{opaque: id}
}

// IsZero reports whether no id was set.
func (id CommandID) IsZero() bool {
	return !id.numeric && id.opaque == ""
}

// Numeric returns the numeric form when the id is numeric.
func (id CommandID) Numeric() (int64, bool) {
	return id.num, id.numeric
}

// Opaque returns the string form when the id is opaque.
func (id CommandID) Opaque() (string, bool) {
	return id.opaque, !id.numeric && id.opaque != ""
}

func (id CommandID) String() string {
	if id.numeric {
		return strconv.FormatInt(id.num, 10)
	}
	return id.opaque
}

// MarshalJSON emits a JSON number for numeric ids, a string for opaque ids and null when unset.
func (id CommandID) MarshalJSON() ([]byte, error) {
	switch {
	case id.numeric:
		return []byte(strconv.FormatInt(id.num, 10)), nil
	case id.opaque != "":
		return json.Marshal(id.opaque)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts an integer, a string or null.
func (id *CommandID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = CommandID{}
		return nil
	}
	if data[0] == '"' {
		var value string
		if err := json.Unmarshal(data, &value); err != nil {
			return ErrInvalidCommandID
		}
		*id = OpaqueID(value)
		return nil
	}
	value, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return ErrInvalidCommandID
	}
	*id = NumericID(value)
	return nil
}
