// Package handler provides HTTP handlers for the API.
package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/livechat-router/internal/middleware"
	"github.com/capitalize-ai/livechat-router/internal/model"
	"github.com/capitalize-ai/livechat-router/internal/notify"
	"github.com/capitalize-ai/livechat-router/internal/router"
	"github.com/capitalize-ai/livechat-router/pkg/logger"
)

// ConversationHandler handles console conversation endpoints.
type ConversationHandler struct {
	router *router.Router
	logger *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(rt *router.Router, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		router: rt,
		logger: log,
	}
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.ConversationFilter{
		Channel: model.Channel(q.Get("channel")),
		Status:  model.Status(q.Get("status")),
		AgentID: q.Get("agent_id"),
		Limit:   queryInt(r, "limit", 50, 200),
	}
	if filter.Channel != "" && !filter.Channel.Valid() {
		writeError(w, http.StatusBadRequest, "unknown channel")
		return
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}
	if s := q.Get("needs_human"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "needs_human must be a boolean")
			return
		}
		filter.NeedsHuman = &b
	}

	convs, err := h.router.ListConversations(r.Context(), filter)
	if err != nil {
		writeServiceError(w, h.logger, "failed to list conversations", err)
		return
	}
	if convs == nil {
		convs = []model.Conversation{}
	}

	writeJSON(w, http.StatusOK, &model.ListConversationsResponse{
		Conversations: convs,
		Total:         len(convs),
	})
}

// Get handles GET /api/v1/conversations/{id}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.router.GetConversation(r.Context(), conversationID)
	if err != nil {
		writeServiceError(w, h.logger, "failed to load conversation", err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Assign handles POST /api/v1/conversations/{id}/assign
func (h *ConversationHandler) Assign(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.AssignRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AgentID == "" {
		req.AgentID = middleware.GetAgentID(r.Context())
	}
	if err := middleware.ValidateAgentID(req.AgentID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.router.AssignAgent(r.Context(), conversationID, req.AgentID)
	if err != nil {
		writeServiceError(w, h.logger, "failed to assign agent", err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Close handles POST /api/v1/conversations/{id}/close
func (h *ConversationHandler) Close(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.router.Close(r.Context(), conversationID)
	if err != nil {
		writeServiceError(w, h.logger, "failed to close conversation", err)
		return
	}

	h.logger.Info("conversation closed by agent",
		zap.String("conversation_id", conversationID),
		zap.String("agent_id", middleware.GetAgentID(r.Context())),
	)
	writeJSON(w, http.StatusOK, conv)
}

// MarkRead handles POST /api/v1/conversations/{id}/read
func (h *ConversationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.router.MarkRead(r.Context(), conversationID); err != nil {
		writeServiceError(w, h.logger, "failed to mark conversation read", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Transcript handles GET /api/v1/conversations/{id}/transcript.xlsx
func (h *ConversationHandler) Transcript(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	transcript, err := h.router.Transcript(r.Context(), conversationID)
	if err != nil {
		writeServiceError(w, h.logger, "failed to load transcript", err)
		return
	}

	data, err := notify.BuildWorkbook(transcript)
	if err != nil {
		writeServiceError(w, h.logger, "failed to build transcript", err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", notify.TranscriptFileName(transcript)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
