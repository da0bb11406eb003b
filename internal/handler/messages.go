package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/livechat-router/internal/middleware"
	"github.com/capitalize-ai/livechat-router/internal/model"
	"github.com/capitalize-ai/livechat-router/internal/router"
	"github.com/capitalize-ai/livechat-router/pkg/logger"
)

// MessageHandler handles console message endpoints.
type MessageHandler struct {
	router *router.Router
	logger *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(rt *router.Router, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		router: rt,
		logger: log,
	}
}

// List handles GET /api/v1/conversations/{id}/messages
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	listMessages(w, r, h.router, h.logger, conversationID)
}

func listMessages(w http.ResponseWriter, r *http.Request, rt *router.Router, log *logger.Logger, conversationID string) {
	msgs, err := rt.GetMessages(r.Context(), conversationID)
	if err != nil {
		writeServiceError(w, log, "failed to get messages", err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	writeJSON(w, http.StatusOK, &model.ListMessagesResponse{Messages: msgs})
}

// Send handles POST /api/v1/conversations/{id}/messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.SendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.router.SendAgentReply(r.Context(), conversationID, middleware.GetAgentID(r.Context()), req.Content)
	if err != nil {
		writeServiceError(w, h.logger, "failed to send message", err)
		return
	}

	writeJSON(w, http.StatusCreated, &model.SendMessageResponse{Message: msg})
}
