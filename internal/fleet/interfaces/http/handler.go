package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"greenhouse-cloud/internal/auth"
	fleet "greenhouse-cloud/internal/fleet/domain"
	"greenhouse-cloud/internal/logging"
)

// ListResponse is the body of GET /api/v1/greenhouses.
type ListResponse struct {
	Greenhouses []fleet.Greenhouse `json:"greenhouses"`
}

// GreenhouseHandler serves GET /api/v1/greenhouses, trimmed to the zones the
// caller may see.
type GreenhouseHandler struct {
	lister fleet.Lister
	logger logging.Logger
}

// NewGreenhouseHandler constructs a handler.
func NewGreenhouseHandler(lister fleet.Lister, logger logging.Logger) (*GreenhouseHandler, error) {
	if lister == nil {
		return nil, errors.New("fleet handler: nil lister")
	}
	return &GreenhouseHandler{lister: lister, logger: logging.OrDiscard(logger)}, nil
}

func (h *GreenhouseHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	list, err := h.lister.List(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("greenhouse list failed")
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	visible := fleet.Visible(list, identity.HasZone)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ListResponse{Greenhouses: visible})
}
