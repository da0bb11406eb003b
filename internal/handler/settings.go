package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/livechat-router/internal/middleware"
	"github.com/capitalize-ai/livechat-router/internal/model"
	"github.com/capitalize-ai/livechat-router/internal/settings"
	"github.com/capitalize-ai/livechat-router/pkg/logger"
)

// SettingsHandler exposes the routing configuration.
type SettingsHandler struct {
	provider settings.Provider
	logger   *logger.Logger
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(provider settings.Provider, log *logger.Logger) *SettingsHandler {
	return &SettingsHandler{
		provider: provider,
		logger:   log,
	}
}

// GetRouting handles GET /api/v1/settings/routing
func (h *SettingsHandler) GetRouting(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.provider.RoutingConfig(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, "failed to load routing settings", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// PutRouting handles PUT /api/v1/settings/routing
func (h *SettingsHandler) PutRouting(w http.ResponseWriter, r *http.Request) {
	updater, ok := h.provider.(settings.Updater)
	if !ok {
		writeError(w, http.StatusNotImplemented, "routing settings are read-only")
		return
	}

	var cfg model.RoutingConfig
	if err := decodeJSON(r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := updater.UpdateRoutingConfig(r.Context(), &cfg); err != nil {
		writeServiceError(w, h.logger, "failed to save routing settings", err)
		return
	}

	h.logger.Info("routing settings updated",
		zap.String("mode", string(cfg.Mode)),
		zap.String("by", middleware.GetAgentID(r.Context())),
	)
	writeJSON(w, http.StatusOK, &cfg)
}
