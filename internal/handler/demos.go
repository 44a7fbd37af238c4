package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-demo/internal/middleware"
	"github.com/capitalize-ai/chat-demo/internal/model"
	"github.com/capitalize-ai/chat-demo/internal/service"
	"github.com/capitalize-ai/chat-demo/pkg/logger"
)

// DemoHandler handles demo session endpoints.
type DemoHandler struct {
	service *service.DemoService
	logger  *logger.Logger
}

// NewDemoHandler creates a new demo handler.
func NewDemoHandler(svc *service.DemoService, log *logger.Logger) *DemoHandler {
	return &DemoHandler{
		service: svc,
		logger:  log,
	}
}

// Create handles POST /api/v1/demos
func (h *DemoHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateDemoRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := h.service.Create(r.Context(), &req)
	if err != nil {
		h.fail(w, r, "failed to create demo session", err)
		return
	}

	writeJSON(w, http.StatusCreated, sess)
}

// List handles GET /api/v1/admin/demos
func (h *DemoHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions := h.service.List(r.Context())
	writeJSON(w, http.StatusOK, &model.ListSessionsResponse{
		Sessions: sessions,
		Total:    len(sessions),
	})
}

// Get handles GET /api/v1/demos/{id}
func (h *DemoHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	sess, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "failed to get demo session", err)
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// Delete handles DELETE /api/v1/demos/{id}
func (h *DemoHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		h.fail(w, r, "failed to delete demo session", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Start handles POST /api/v1/demos/{id}/start
func (h *DemoHandler) Start(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	sess, err := h.service.Start(r.Context(), id)
	if err != nil {
		h.fail(w, r, "failed to start demo session", err)
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// Stop handles POST /api/v1/demos/{id}/stop
func (h *DemoHandler) Stop(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	sess, err := h.service.Stop(r.Context(), id)
	if err != nil {
		h.fail(w, r, "failed to stop demo session", err)
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// History handles GET /api/v1/demos/{id}/history
// Supports ?after_sequence=N and ?limit=N for paging.
func (h *DemoHandler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	var afterSequence uint64
	if seqStr := r.URL.Query().Get("after_sequence"); seqStr != "" {
		seq, err := strconv.ParseUint(seqStr, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after_sequence")
			return
		}
		afterSequence = seq
	}

	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = l
	}

	resp, err := h.service.History(r.Context(), id, afterSequence, limit)
	if err != nil {
		h.fail(w, r, "failed to read demo history", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// fail writes the error response for a service error, logging unexpected ones.
func (h *DemoHandler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(msg,
			zap.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		writeError(w, status, msg)
		return
	}
	writeError(w, status, err.Error())
}

// sessionID reads and validates the {id} path parameter.
func sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return id, true
}
