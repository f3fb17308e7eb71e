package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"unicode/utf8"
)

// Item field names as they appear on the wire.
const (
	FieldZoneID     = "zoneId"
	FieldNodeID     = "nodeId"
	FieldChannel    = "channel"
	FieldMetricType = "metricType"
	FieldValue      = "value"
	FieldTimestamp  = "timestamp"
	FieldUpdates    = "updates"
)

// Validator admits or rejects telemetry batches against structural and size bounds.
// It holds no mutable state and is safe for concurrent use.
type Validator struct {
	maxUpdates int
}

// NewValidator constructs a validator bounded by maxUpdates.
func NewValidator(maxUpdates int) (Validator, error) {
	if maxUpdates <= 0 {
		return Validator{}, ErrInvalidMaxUpdates
	}
	return Validator{maxUpdates: maxUpdates}, nil
}

// MaxUpdates returns the configured batch bound.
func (v Validator) MaxUpdates() int {
	return v.maxUpdates
}

// ValidateRequest validates a request body shaped as {"updates": [...]}.
func (v Validator) ValidateRequest(body []byte) (Batch, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, malformed(CodeObject, "request body must be a JSON object")
	}
	raw, ok := envelope[FieldUpdates]
	if !ok || isNull(raw) {
		return nil, malformed(CodeRequired, "updates is required")
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, malformed(CodeType, "updates must be an array")
	}
	return v.Validate(items)
}

// Validate checks every item and returns either the whole batch or every problem found.
// The size bound is checked first so oversized batches are never decoded item by item.
func (v Validator) Validate(items []json.RawMessage) (Batch, error) {
	if v.maxUpdates <= 0 {
		return nil, ErrInvalidMaxUpdates
	}
	if len(items) == 0 {
		return nil, &ValidationError{Kind: KindBatchEmpty, MaxUpdates: v.maxUpdates}
	}
	if len(items) > v.maxUpdates {
		return nil, &ValidationError{Kind: KindBatchTooLarge, Size: len(items), MaxUpdates: v.maxUpdates}
	}

	batch := make(Batch, 0, len(items))
	var fieldErrors []FieldError
	for i, item := range items {
		update, errs := validateItem(i, item)
		if len(errs) > 0 {
			fieldErrors = append(fieldErrors, errs...)
			continue
		}
		batch = append(batch, update)
	}
	if len(fieldErrors) > 0 {
		return nil, &ValidationError{
			Kind:        KindInvalidFields,
			Size:        len(items),
			MaxUpdates:  v.maxUpdates,
			FieldErrors: fieldErrors,
		}
	}
	return batch, nil
}

func validateItem(index int, raw json.RawMessage) (TelemetryUpdate, []FieldError) {
	var fields map[string]json.RawMessage
	if isNull(raw) || json.Unmarshal(raw, &fields) != nil {
		return TelemetryUpdate{}, []FieldError{{
			Index:   index,
			Code:    CodeObject,
			Message: "update must be an object",
		}}
	}

	c := itemChecker{index: index, fields: fields}
	update := TelemetryUpdate{
		ZoneID:     c.positiveID(FieldZoneID),
		NodeID:     c.positiveID(FieldNodeID),
		Channel:    c.optionalString(FieldChannel, MaxChannelLength),
		MetricType: c.requiredString(FieldMetricType, MaxMetricTypeLength),
		Value:      c.number(FieldValue),
		Timestamp:  c.integer(FieldTimestamp),
	}
	return update, c.errs
}

type itemChecker struct {
	index  int
	fields map[string]json.RawMessage
	errs   []FieldError
}

func (c *itemChecker) fail(field, code, message string) {
	c.errs = append(c.errs, FieldError{Index: c.index, Field: field, Code: code, Message: message})
}

// present returns the trimmed raw value, reporting a required error when absent or null.
func (c *itemChecker) present(field string) ([]byte, bool) {
	raw, ok := c.fields[field]
	if !ok || isNull(raw) {
		c.fail(field, CodeRequired, field+" is required")
		return nil, false
	}
	return bytes.TrimSpace(raw), true
}

func (c *itemChecker) integer(field string) int64 {
	raw, ok := c.present(field)
	if !ok {
		return 0
	}
	value, ok := parseInteger(raw)
	if !ok {
		c.fail(field, CodeType, field+" must be an integer")
		return 0
	}
	return value
}

func (c *itemChecker) positiveID(field string) int64 {
	before := len(c.errs)
	value := c.integer(field)
	if len(c.errs) == before && value <= 0 {
		c.fail(field, CodePositive, field+" must be a positive integer")
	}
	return value
}

func (c *itemChecker) number(field string) float64 {
	raw, ok := c.present(field)
	if !ok {
		return 0
	}
	if !isJSONNumber(raw) {
		c.fail(field, CodeType, field+" must be a number")
		return 0
	}
	value, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		c.fail(field, CodeType, field+" must be a finite number")
		return 0
	}
	return value
}

func (c *itemChecker) requiredString(field string, maxLen int) string {
	raw, ok := c.present(field)
	if !ok {
		return ""
	}
	value, ok := c.stringValue(field, raw, maxLen)
	if ok && value == "" {
		c.fail(field, CodeRequired, field+" is required")
	}
	return value
}

func (c *itemChecker) optionalString(field string, maxLen int) string {
	raw, ok := c.fields[field]
	if !ok || isNull(raw) {
		return ""
	}
	value, _ := c.stringValue(field, bytes.TrimSpace(raw), maxLen)
	return value
}

func (c *itemChecker) stringValue(field string, raw []byte, maxLen int) (string, bool) {
	var value string
	if len(raw) == 0 || raw[0] != '"' || json.Unmarshal(raw, &value) != nil {
		c.fail(field, CodeType, field+" must be a string")
		return "", false
	}
	if utf8.RuneCountInString(value) > maxLen {
		c.fail(field, CodeMaxLength, fmt.Sprintf("%s may not be greater than %d characters", field, maxLen))
		return "", false
	}
	return value, true
}

func parseInteger(raw []byte) (int64, bool) {
	if !isJSONNumber(raw) {
		return 0, false
	}
	value, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

func isJSONNumber(raw []byte) bool {
	if len(raw) == 0 {
		return false
	}
	first := raw[0]
	return first == '-' || (first >= '0' && first <= '9')
}

func isNull(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func malformed(code, message string) *ValidationError {
	return &ValidationError{
		Kind:        KindMalformed,
		FieldErrors: []FieldError{{Index: -1, Field: FieldUpdates, Code: code, Message: message}},
	}
}
