package telemetry

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// ErrInvalidMaxUpdates is returned when a validator is built with a non-positive bound.
var ErrInvalidMaxUpdates = errors.New("telemetry: max updates must be positive")

// Kind classifies a batch rejection.
type Kind string

const (
	KindMalformed     Kind = "malformed"
	KindBatchEmpty    Kind = "batch_empty"
	KindBatchTooLarge Kind = "batch_too_large"
	KindInvalidFields Kind = "invalid_fields"
)

// Field error codes.
const (
	CodeRequired  = "required"
	CodeType      = "type"
	CodeMaxLength = "max_length"
	CodePositive  = "positive"
	CodeObject    = "object"
)

// FieldError describes one violated constraint of one item.
type FieldError struct {
	// Index is the item position, or -1 for errors on the request itself.
	Index   int    `json:"index"`
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Path addresses the field the way the request body does, e.g. "updates.3.zoneId".
func (e FieldError) Path() string {
	if e.Index < 0 {
		return e.Field
	}
	if e.Field == "" {
		return "updates." + strconv.Itoa(e.Index)
	}
	return "updates." + strconv.Itoa(e.Index) + "." + e.Field
}

// ValidationError rejects a whole batch. Size errors carry no field errors.
type ValidationError struct {
	Kind        Kind
	Size        int
	MaxUpdates  int
	FieldErrors []FieldError
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case KindBatchTooLarge:
		return fmt.Sprintf("telemetry: batch of %d updates exceeds maximum %d", e.Size, e.MaxUpdates)
	case KindBatchEmpty:
		return "telemetry: batch is empty"
	case KindMalformed:
		return "telemetry: malformed batch"
	default:
		return fmt.Sprintf("telemetry: %d invalid fields", len(e.FieldErrors))
	}
}

// Fields returns messages keyed by field path, suitable for a response body.
func (e *ValidationError) Fields() map[string][]string {
	out := make(map[string][]string, len(e.FieldErrors))
	for _, fe := range e.FieldErrors {
		out[fe.Path()] = append(out[fe.Path()], fe.Message)
	}
	return out
}

// Paths returns the sorted distinct field paths.
func (e *ValidationError) Paths() []string {
	fields := e.Fields()
	paths := make([]string, 0, len(fields))
	for path := range fields {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// AsValidationError unwraps err into a *ValidationError.
func AsValidationError(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}
