package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	commandsevents "greenhouse-cloud/internal/commands/application/events"
	commands "greenhouse-cloud/internal/commands/domain"
	"greenhouse-cloud/internal/logging"
)

const maxStatusBodyBytes = 64 << 10

// Reporter accepts command status reports.
type Reporter interface {
	Report(ctx context.Context, source string, evt commands.StatusEvent) (string, error)
}

// StatusHandler serves POST /api/v1/commands/status.
type StatusHandler struct {
	reporter Reporter
	logger   logging.Logger
}

// NewStatusHandler constructs a handler.
func NewStatusHandler(reporter Reporter, logger logging.Logger) (*StatusHandler, error) {
	if reporter == nil {
		return nil, errors.New("commands handler: nil reporter")
	}
	return &StatusHandler{reporter: reporter, logger: logging.OrDiscard(logger)}, nil
}

type reportResponse struct {
	Channel string `json:"channel"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxStatusBodyBytes))
	if err != nil {
		http.Error(w, "read body error", http.StatusRequestEntityTooLarge)
		return
	}
	defer r.Body.Close()

	var evt commands.StatusEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return
	}

	channel, err := h.reporter.Report(r.Context(), commandsevents.SourceHTTP, evt)
	switch {
	case errors.Is(err, commands.ErrMissingCommandID), errors.Is(err, commands.ErrMissingStatus):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
		return
	case err != nil:
		h.logger.WithError(err).Error("command status report failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "report failed"})
		return
	}
	writeJSON(w, http.StatusAccepted, reportResponse{Channel: channel})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
