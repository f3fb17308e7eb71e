package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"greenhouse-cloud/internal/logging"
	telemetryapp "greenhouse-cloud/internal/telemetry/application"
	telemetry "greenhouse-cloud/internal/telemetry/domain"
)

// An update at its largest: both strings at full length with every rune
// escaped as a surrogate pair, plus keys and numbers. bytesPerUpdate doubles
// that to leave room for whitespace.
const (
	escapedRuneBytes     = len(`\ud83c\udf31`)
	worstCaseUpdateBytes = (telemetry.MaxChannelLength+telemetry.MaxMetricTypeLength)*escapedRuneBytes + 512
	bytesPerUpdate       = 2 * worstCaseUpdateBytes
)

// errBodyTooLarge reports a request body over the byte limit, independent of
// how many updates it holds.
const errBodyTooLarge = "body_too_large"

// Ingester admits telemetry batches.
type Ingester interface {
	Ingest(ctx context.Context, source string, body []byte) (telemetryapp.Result, error)
}

// IngestHandler serves POST /api/v1/telemetry.
type IngestHandler struct {
	ingester     Ingester
	maxBodyBytes int64
	logger       logging.Logger
}

// NewIngestHandler constructs an ingest handler. maxUpdates sizes the body limit.
func NewIngestHandler(ingester Ingester, maxUpdates int, logger logging.Logger) (*IngestHandler, error) {
	if ingester == nil {
		return nil, errors.New("telemetry ingest: nil ingester")
	}
	if maxUpdates <= 0 {
		return nil, telemetry.ErrInvalidMaxUpdates
	}
	return &IngestHandler{
		ingester:     ingester,
		maxBodyBytes: int64(maxUpdates+1) * int64(bytesPerUpdate),
		logger:       logging.OrDiscard(logger),
	}, nil
}

type rejection struct {
	Error      string              `json:"error"`
	Errors     map[string][]string `json:"errors,omitempty"`
	MaxUpdates int                 `json:"maxUpdates,omitempty"`
	MaxBytes   int64               `json:"maxBytes,omitempty"`
}

func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.WithField("limit", h.maxBodyBytes).Warn("telemetry ingest: body too large")
			writeJSON(w, http.StatusRequestEntityTooLarge, rejection{Error: errBodyTooLarge, MaxBytes: h.maxBodyBytes})
			return
		}
		h.logger.WithError(err).Warn("telemetry ingest: read body error")
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	res, err := h.ingester.Ingest(r.Context(), telemetryapp.SourceHTTP, body)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (h *IngestHandler) writeError(w http.ResponseWriter, err error) {
	verr, ok := telemetry.AsValidationError(err)
	if !ok {
		h.logger.WithError(err).Error("telemetry ingest failed")
		writeJSON(w, http.StatusInternalServerError, rejection{Error: "ingest_failed"})
		return
	}
	switch verr.Kind {
	case telemetry.KindBatchTooLarge:
		writeJSON(w, http.StatusRequestEntityTooLarge, rejection{Error: string(verr.Kind), MaxUpdates: verr.MaxUpdates})
	default:
		writeJSON(w, http.StatusUnprocessableEntity, rejection{Error: string(verr.Kind), Errors: verr.Fields()})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
