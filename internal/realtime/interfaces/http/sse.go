package http

import (
	"net/http"

	"greenhouse-cloud/internal/auth"
	"greenhouse-cloud/internal/logging"
	"greenhouse-cloud/internal/realtime"
)

// StreamHandler serves GET /api/v1/realtime/stream?channel=<name> as server-sent events.
type StreamHandler struct {
	hub       *realtime.Hub
	authorize ChannelAuthorizer
	logger    logging.Logger
}

// NewStreamHandler constructs an SSE handler. A nil authorizer uses auth.AuthorizeChannel.
func NewStreamHandler(hub *realtime.Hub, authorize ChannelAuthorizer, logger logging.Logger) (*StreamHandler, error) {
	if hub == nil {
		return nil, ErrNilHub
	}
	if authorize == nil {
		authorize = auth.AuthorizeChannel
	}
	return &StreamHandler{hub: hub, authorize: authorize, logger: logging.OrDiscard(logger)}, nil
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	channels := r.URL.Query()["channel"]
	if len(channels) == 0 {
		http.Error(w, "channel is required", http.StatusBadRequest)
		return
	}
	for _, ch := range channels {
		if err := h.authorize(identity, ch); err != nil {
			http.Error(w, "forbidden: "+ch, http.StatusForbidden)
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := h.hub.Register(channels...)
	defer h.hub.Unregister(sub)

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	notify := r.Context().Done()
	for {
		select {
		case payload, ok := <-sub.Messages():
			if !ok {
				return
			}
			_, _ = w.Write([]byte("event: message\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-notify:
			return
		}
	}
}
