package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"valet/internal/httputil"
	"valet/internal/toolconn"
)

// ToolProviderHandler exposes the tool-connection manager: provider status,
// explicit connects, and config reloads.
type ToolProviderHandler struct {
	manager    *toolconn.Manager
	configPath string
	logger     *slog.Logger
}

// NewToolProviderHandler creates a new tool provider handler. configPath is
// re-read on reload requests.
func NewToolProviderHandler(manager *toolconn.Manager, configPath string, logger *slog.Logger) *ToolProviderHandler {
	return &ToolProviderHandler{
		manager:    manager,
		configPath: configPath,
		logger:     logger,
	}
}

// ListProviders returns every configured provider's connection status
// GET /api/tools/providers
func (h *ToolProviderHandler) ListProviders(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, h.manager.Status())
}

// ConnectProvider connects one provider (or serves its cached tools) and
// returns the provider's tool list
// POST /api/tools/providers/{id}/connect
func (h *ToolProviderHandler) ConnectProvider(w http.ResponseWriter, r *http.Request) {
	providerID := r.PathValue("id")
	if providerID == "" {
		httputil.RespondError(w, http.StatusBadRequest, "provider ID is required")
		return
	}

	tools, err := h.manager.GetOrCreate(r.Context(), providerID)
	if err != nil {
		h.handleManagerError(w, providerID, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]any{
		"provider_id": providerID,
		"tools":       tools,
	})
}

// ReloadConfig re-reads the provider config file and reconciles connections
// POST /api/tools/reload
func (h *ToolProviderHandler) ReloadConfig(w http.ResponseWriter, r *http.Request) {
	configs, err := toolconn.LoadConfigFile(h.configPath)
	if err != nil {
		h.logger.Error("provider config reload failed", "path", h.configPath, "error", err)
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.manager.Reconcile(r.Context(), configs); err != nil {
		h.logger.Error("provider reconcile failed", "error", err)
		httputil.RespondError(w, http.StatusInternalServerError, "reconcile failed")
		return
	}

	h.logger.Info("provider config reloaded", "providers", len(configs))
	httputil.RespondJSON(w, http.StatusOK, h.manager.Status())
}

func (h *ToolProviderHandler) handleManagerError(w http.ResponseWriter, providerID string, err error) {
	var (
		unknownErr *toolconn.UnknownProviderError
		configErr  *toolconn.ConfigError
		connectErr *toolconn.ConnectError
	)
	switch {
	case errors.As(err, &unknownErr):
		httputil.RespondError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &configErr):
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &connectErr):
		h.logger.Warn("provider connect failed", "provider_id", providerID, "error", err)
		httputil.RespondError(w, http.StatusBadGateway, err.Error())
	default:
		handleError(w, err)
	}
}
