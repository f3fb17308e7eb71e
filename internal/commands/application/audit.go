package application

import (
	"context"
	"encoding/json"
	"errors"

	"greenhouse-cloud/internal/audit"
	commandsevents "greenhouse-cloud/internal/commands/application/events"
	commands "greenhouse-cloud/internal/commands/domain"
	"greenhouse-cloud/internal/eventbus"
	"greenhouse-cloud/internal/logging"
)

const (
	auditConsumer     = "commands.status_audit"
	auditResourceType = "command"
)

// AuditRecorder keeps an audit trail of reported command transitions.
type AuditRecorder struct {
	audit  audit.Logger
	logger logging.Logger
}

// NewAuditRecorder constructs a recorder.
func NewAuditRecorder(auditLogger audit.Logger, logger logging.Logger) (*AuditRecorder, error) {
	if auditLogger == nil {
		return nil, errors.New("commands: nil audit logger")
	}
	return &AuditRecorder{audit: auditLogger, logger: logging.OrDiscard(logger)}, nil
}

// Register subscribes the recorder to bus.
func (r *AuditRecorder) Register(bus eventbus.EventBus) {
	eventbus.Subscribe(bus, auditConsumer, r.Handle, r.logger)
}

// Handle writes one audit entry. Write failures are logged only.
func (r *AuditRecorder) Handle(ctx context.Context, event commandsevents.CommandStatusChanged) error {
	evt := event.Status
	metadata, err := json.Marshal(commands.NewStatusPayload(evt))
	if err != nil {
		return err
	}
	entry := audit.Entry{
		Actor:        event.Source,
		Action:       "command.status." + string(evt.Status),
		ResourceType: auditResourceType,
		ResourceID:   evt.CommandID.String(),
		Metadata:     metadata,
		CreatedAt:    event.ReceivedAt,
	}
	if zone, ok := evt.Zone(); ok {
		entry.ZoneID = &zone
	}
	if err := r.audit.Log(ctx, entry); err != nil {
		r.logger.WithFields(logging.Fields{
			"event_id":   event.EventID,
			"command_id": entry.ResourceID,
		}).WithError(err).Warn("command status audit failed")
	}
	return nil
}
