package handler

import (
	"net/http"

	natsclient "github.com/capitalize-ai/chat-demo/internal/nats"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	natsClient   *natsclient.Client
	natsRequired bool
}

// NewHealthHandler creates a new health handler. When natsRequired is false
// the service reports ready without an event log connection.
func NewHealthHandler(natsClient *natsclient.Client, natsRequired bool) *HealthHandler {
	return &HealthHandler{
		natsClient:   natsClient,
		natsRequired: natsRequired,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.natsRequired && !h.natsClient.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "NATS not connected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
