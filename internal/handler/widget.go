package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/livechat-router/internal/middleware"
	"github.com/capitalize-ai/livechat-router/internal/model"
	"github.com/capitalize-ai/livechat-router/internal/router"
	"github.com/capitalize-ai/livechat-router/pkg/logger"
)

// WidgetHandler serves the website chat widget.
type WidgetHandler struct {
	router    *router.Router
	jwtSecret string
	tokenTTL  time.Duration
	logger    *logger.Logger
}

// NewWidgetHandler creates a new widget handler.
func NewWidgetHandler(rt *router.Router, jwtSecret string, tokenTTL time.Duration, log *logger.Logger) *WidgetHandler {
	return &WidgetHandler{
		router:    rt,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
		logger:    log,
	}
}

// widgetAllowed rejects requests whose token was issued for another conversation.
func widgetAllowed(w http.ResponseWriter, r *http.Request, conversationID string) bool {
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	if middleware.GetWidgetConversationID(r.Context()) != conversationID {
		writeError(w, http.StatusForbidden, "token does not grant access to this conversation")
		return false
	}
	return true
}

// Start handles POST /widget/conversations
func (h *WidgetHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req model.StartConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateCustomer(req.Customer); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Message != "" {
		if err := middleware.ValidateMessageContent(req.Message); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	resp, err := h.router.StartConversation(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, "failed to start conversation", err)
		return
	}

	token, err := middleware.IssueWidgetToken(h.jwtSecret, resp.Conversation.ID, h.tokenTTL)
	if err != nil {
		h.logger.Error("failed to issue widget token", zap.Error(err), zap.String("conversation_id", resp.Conversation.ID))
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	resp.Token = token
	if resp.Messages == nil {
		resp.Messages = []model.Message{}
	}

	writeJSON(w, http.StatusCreated, resp)
}

// Send handles POST /widget/conversations/{id}/messages
func (h *WidgetHandler) Send(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if !widgetAllowed(w, r, conversationID) {
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

	res, err := h.router.HandleInbound(r.Context(), conversationID, req.Content, "")
	if err != nil {
		writeServiceError(w, h.logger, "failed to send message", err)
		return
	}

	writeJSON(w, http.StatusCreated, &model.SendMessageResponse{
		Message: res.Message,
		Replies: res.Replies,
	})
}

// List handles GET /widget/conversations/{id}/messages
func (h *WidgetHandler) List(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if !widgetAllowed(w, r, conversationID) {
		return
	}

	listMessages(w, r, h.router, h.logger, conversationID)
}
