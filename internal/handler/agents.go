package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/livechat-router/internal/middleware"
	"github.com/capitalize-ai/livechat-router/internal/model"
	"github.com/capitalize-ai/livechat-router/pkg/logger"
)

// AgentDirectory is the part of the agent directory the console uses.
type AgentDirectory interface {
	Create(ctx context.Context, req model.CreateAgentRequest) (*model.Agent, error)
	Get(ctx context.Context, id string) (*model.Agent, error)
	SetActive(ctx context.Context, id string, active bool) error
	SetOnline(ctx context.Context, agentID string, online bool) error
	Availability(ctx context.Context) ([]model.AgentAvailability, error)
}

// AgentHandler handles agent management and presence.
type AgentHandler struct {
	directory AgentDirectory
	logger    *logger.Logger
}

// NewAgentHandler creates a new agent handler.
func NewAgentHandler(dir AgentDirectory, log *logger.Logger) *AgentHandler {
	return &AgentHandler{
		directory: dir,
		logger:    log,
	}
}

// List handles GET /api/v1/agents
func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	agents, err := h.directory.Availability(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, "failed to list agents", err)
		return
	}
	if agents == nil {
		agents = []model.AgentAvailability{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agents": agents,
	})
}

// Create handles POST /api/v1/agents
func (h *AgentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID != "" {
		if err := middleware.ValidateAgentID(req.ID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	agent, err := h.directory.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, "failed to create agent", err)
		return
	}

	writeJSON(w, http.StatusCreated, agent)
}

// SetActive handles PUT /api/v1/agents/{id}/active
func (h *AgentHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	if err := middleware.ValidateAgentID(agentID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.SetActiveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.directory.SetActive(r.Context(), agentID, req.Active); err != nil {
		writeServiceError(w, h.logger, "failed to update agent", err)
		return
	}
	agent, err := h.directory.Get(r.Context(), agentID)
	if err != nil {
		writeServiceError(w, h.logger, "failed to load agent", err)
		return
	}

	h.logger.Info("agent availability changed",
		zap.String("agent_id", agentID),
		zap.Bool("active", req.Active),
		zap.String("by", middleware.GetAgentID(r.Context())),
	)
	writeJSON(w, http.StatusOK, agent)
}

// Presence handles POST /api/v1/agents/me/presence
func (h *AgentHandler) Presence(w http.ResponseWriter, r *http.Request) {
	var req model.PresenceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.directory.SetOnline(r.Context(), middleware.GetAgentID(r.Context()), req.Online); err != nil {
		writeServiceError(w, h.logger, "failed to record presence", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
