package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"greenhouse-cloud/internal/eventbus"
	"greenhouse-cloud/internal/logging"
	"greenhouse-cloud/internal/observability/metrics"
	telemetryevents "greenhouse-cloud/internal/telemetry/application/events"
	telemetry "greenhouse-cloud/internal/telemetry/domain"
)

// Ingest sources.
const (
	SourceHTTP = "http"
	SourceMQTT = "mqtt"
)

// ErrSinkWrite wraps failures of the configured sink.
var ErrSinkWrite = errors.New("telemetry: sink write failed")

// Result summarises an admitted batch.
type Result struct {
	Accepted int     `json:"accepted"`
	Zones    []int64 `json:"-"`
}

// IngestService validates, persists and announces telemetry batches.
type IngestService struct {
	validator telemetry.Validator
	sink      telemetry.Sink
	bus       eventbus.EventBus
	logger    logging.Logger
	now       func() time.Time
}

// NewIngestService constructs an ingest service. bus may be nil when no
// consumer needs admitted batches.
func NewIngestService(validator telemetry.Validator, sink telemetry.Sink, bus eventbus.EventBus, logger logging.Logger) (*IngestService, error) {
	if validator.MaxUpdates() <= 0 {
		return nil, telemetry.ErrInvalidMaxUpdates
	}
	if sink == nil {
		return nil, errors.New("telemetry: nil sink")
	}
	return &IngestService{
		validator: validator,
		sink:      sink,
		bus:       bus,
		logger:    logging.OrDiscard(logger),
		now:       time.Now,
	}, nil
}

// Ingest admits the batch in body or rejects it whole. Validation failures
// are returned as *telemetry.ValidationError.
func (s *IngestService) Ingest(ctx context.Context, source string, body []byte) (Result, error) {
	start := s.now()
	batch, err := s.validator.ValidateRequest(body)
	if err != nil {
		s.recordRejection(source, err, s.now().Sub(start))
		return Result{}, err
	}

	if err := s.sink.WriteBatch(ctx, batch); err != nil {
		metrics.ObserveIngest(source, metrics.ResultFailed, "", s.now().Sub(start))
		s.logger.WithFields(logging.Fields{
			"source":  source,
			"updates": len(batch),
		}).WithError(err).Error("telemetry sink write failed")
		return Result{}, fmt.Errorf("%w: %v", ErrSinkWrite, err)
	}

	metrics.ObserveIngest(source, metrics.ResultAccepted, "", s.now().Sub(start))
	metrics.AddAdmittedUpdates(len(batch))
	zones := batch.Zones()
	s.announce(ctx, source, batch)

	s.logger.WithFields(logging.Fields{
		"source":  source,
		"updates": len(batch),
		"zones":   zones,
	}).Debug("telemetry batch admitted")
	return Result{Accepted: len(batch), Zones: zones}, nil
}

func (s *IngestService) recordRejection(source string, err error, elapsed time.Duration) {
	verr, ok := telemetry.AsValidationError(err)
	if !ok {
		metrics.ObserveIngest(source, metrics.ResultRejected, "unknown", elapsed)
		return
	}
	metrics.ObserveIngest(source, metrics.ResultRejected, string(verr.Kind), elapsed)
	for _, fe := range verr.FieldErrors {
		metrics.IncFieldError(fe.Field, fe.Code)
	}
	s.logger.WithFields(logging.Fields{
		"source":       source,
		"kind":         string(verr.Kind),
		"size":         verr.Size,
		"field_errors": len(verr.FieldErrors),
	}).Info("telemetry batch rejected")
}

func (s *IngestService) announce(ctx context.Context, source string, batch telemetry.Batch) {
	if s.bus == nil {
		return
	}
	receivedAt := s.now().UTC()
	groups := batch.ByZone()
	for _, zoneID := range batch.Zones() {
		eventID := eventbus.NewEventID()
		evt := telemetryevents.TelemetryAdmitted{
			EventID:    eventID,
			ZoneID:     zoneID,
			Updates:    groups[zoneID],
			Source:     source,
			ReceivedAt: receivedAt,
		}
		if err := s.bus.Publish(eventbus.WithEventID(ctx, eventID), evt); err != nil {
			s.logger.WithFields(logging.Fields{
				"event_id": eventID,
				"zone_id":  zoneID,
			}).WithError(err).Warn("telemetry admitted event not delivered")
		}
	}
}
