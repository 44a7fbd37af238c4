// Package handler provides HTTP handlers for the API.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-demo/internal/middleware"
	"github.com/capitalize-ai/chat-demo/internal/model"
	"github.com/capitalize-ai/chat-demo/internal/script"
	"github.com/capitalize-ai/chat-demo/internal/service"
	"github.com/capitalize-ai/chat-demo/pkg/logger"
)

// ScriptHandler handles script catalog endpoints.
type ScriptHandler struct {
	catalog   *script.Catalog
	generator *service.ScriptGenerator
	logger    *logger.Logger
}

// NewScriptHandler creates a new script handler.
func NewScriptHandler(catalog *script.Catalog, generator *service.ScriptGenerator, log *logger.Logger) *ScriptHandler {
	return &ScriptHandler{
		catalog:   catalog,
		generator: generator,
		logger:    log,
	}
}

// List handles GET /api/v1/scripts
func (h *ScriptHandler) List(w http.ResponseWriter, r *http.Request) {
	scripts := h.catalog.List()
	writeJSON(w, http.StatusOK, &model.ListScriptsResponse{
		Scripts: scripts,
		Total:   len(scripts),
	})
}

// Get handles GET /api/v1/scripts/{scriptID}
func (h *ScriptHandler) Get(w http.ResponseWriter, r *http.Request) {
	scriptID := chi.URLParam(r, "scriptID")
	if err := middleware.ValidateScriptID(scriptID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sc, ok := h.catalog.Get(scriptID)
	if !ok {
		writeError(w, http.StatusNotFound, "script not found")
		return
	}

	writeJSON(w, http.StatusOK, sc)
}

// Generate handles POST /api/v1/admin/scripts/generate
func (h *ScriptHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req model.GenerateScriptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sc, err := h.generator.Generate(r.Context(), &req)
	if err != nil {
		status := errorStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("failed to generate script", zap.String("script_id", req.ID), zap.Error(err))
			writeError(w, http.StatusBadGateway, "script generation failed")
			return
		}
		writeError(w, status, err.Error())
		return
	}

	h.logger.Info("script added to catalog",
		zap.String("script_id", sc.ID),
		zap.String("subject", middleware.GetSubject(r.Context())),
	)
	writeJSON(w, http.StatusCreated, sc)
}
