package credential

import (
	"context"
	"errors"
)

var (
	ErrNilSource  = errors.New("credential: nil source")
	ErrNilClient  = errors.New("credential: nil redis client")
	ErrEmptyToken = errors.New("credential: empty token")
)

// Value is a possibly absent access token.
type Value struct {
	Token   string
	Present bool
}

// Absent is the value observed when no credential is stored.
func Absent() Value {
	return Value{}
}

// Present wraps a stored token.
func Present(token string) Value {
	return Value{Token: token, Present: true}
}

func (v Value) String() string {
	if !v.Present {
		return "absent"
	}
	return "present"
}

// Source publishes the persisted credential. Watch emits the current value
// first and then every change until ctx is done. A nil return after ctx is
// cancelled is a clean stop; any other return is treated as a failure.
type Source interface {
	Watch(ctx context.Context, emit func(Value)) error
}

// Store is the persistence boundary for the single credential value.
type Store interface {
	Source
	Get(ctx context.Context) (Value, error)
	Set(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}
