package eventbus

import (
	"context"

	"greenhouse-cloud/internal/logging"

	"github.com/google/uuid"
)

type contextKey string

const contextKeyEventID contextKey = "eventbus.event_id"

// NewEventID generates a random event identifier.
func NewEventID() string {
	return uuid.NewString()
}

// WithEventID sets the event id in context.
func WithEventID(ctx context.Context, eventID string) context.Context {
	return context.WithValue(ctx, contextKeyEventID, eventID)
}

// EventIDFromContext extracts the event id set by WithEventID.
func EventIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(contextKeyEventID).(string); ok {
		return id
	}
	return ""
}

// Subscribe registers a typed handler under a consumer name. Events of another
// type are rejected with ErrInvalidEventType; handler errors are logged and returned.
func Subscribe[T any](bus EventBus, consumer string, handler func(ctx context.Context, event T) error, logger logging.Logger) {
	logger = logging.OrDiscard(logger)
	bus.Subscribe(EventTypeOf[T](), func(ctx context.Context, event any) error {
		evt, ok := event.(T)
		if !ok {
			if ptr, isPtr := event.(*T); isPtr && ptr != nil {
				evt = *ptr
			} else {
				return ErrInvalidEventType
			}
		}
		if err := handler(ctx, evt); err != nil {
			logger.WithFields(logging.Fields{
				"consumer": consumer,
				"event_id": EventIDFromContext(ctx),
			}).WithError(err).Warn("event handler failed")
			return err
		}
		return nil
	})
}
