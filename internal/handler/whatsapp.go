package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/livechat-router/internal/channel"
	"github.com/capitalize-ai/livechat-router/internal/model"
	"github.com/capitalize-ai/livechat-router/internal/router"
	"github.com/capitalize-ai/livechat-router/pkg/logger"
)

const inboundTimeout = 2 * time.Minute

// WhatsAppHandler receives WhatsApp Cloud API webhooks.
type WhatsAppHandler struct {
	router         *router.Router
	verifyToken    string
	appSecret      string
	businessNumber string
	logger         *logger.Logger
	wg             sync.WaitGroup
}

// NewWhatsAppHandler creates a new WhatsApp webhook handler.
func NewWhatsAppHandler(rt *router.Router, verifyToken, appSecret, businessNumber string, log *logger.Logger) *WhatsAppHandler {
	return &WhatsAppHandler{
		router:         rt,
		verifyToken:    verifyToken,
		appSecret:      appSecret,
		businessNumber: businessNumber,
		logger:         log,
	}
}

// Verify handles GET /webhooks/whatsapp
func (h *WhatsAppHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if h.verifyToken == "" || q.Get("hub.mode") != "subscribe" || q.Get("hub.verify_token") != h.verifyToken {
		writeError(w, http.StatusForbidden, "verification failed")
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, q.Get("hub.challenge"))
}

// Receive handles POST /webhooks/whatsapp
// Meta retries unacknowledged deliveries, so the webhook answers as soon as the
// payload is verified and routes the messages in the background.
func (h *WhatsAppHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if !channel.VerifySignature(h.appSecret, body, r.Header.Get("X-Hub-Signature-256")) {
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	inbound, err := channel.ParseWhatsApp(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	supported := make([]channel.Inbound, 0, len(inbound))
	for _, in := range inbound {
		if !in.Supported {
			h.logger.Info("ignoring unsupported whatsapp message",
				zap.String("from", in.From),
				zap.String("message_id", in.MessageID),
			)
			continue
		}
		supported = append(supported, in)
	}
	if len(supported) > 0 {
		h.wg.Add(1)
		go h.routeAll(supported)
	}

	w.WriteHeader(http.StatusOK)
}

// routeAll routes one delivery's messages in payload order.
func (h *WhatsAppHandler) routeAll(inbound []channel.Inbound) {
	defer h.wg.Done()
	for _, in := range inbound {
		h.route(in)
	}
}

func (h *WhatsAppHandler) route(in channel.Inbound) {
	ctx, cancel := context.WithTimeout(context.Background(), inboundTimeout)
	defer cancel()

	res, err := h.router.HandleChannelInbound(ctx, in)
	if err != nil {
		level := h.logger.Error
		if errors.Is(err, model.ErrValidation) {
			level = h.logger.Warn
		}
		level("failed to route whatsapp message",
			zap.String("from", in.From),
			zap.String("message_id", in.MessageID),
			zap.Error(err),
		)
		return
	}
	if res.Duplicate {
		h.logger.Debug("duplicate whatsapp delivery", zap.String("message_id", in.MessageID))
	}
}

// Wait blocks until in-flight webhook messages are routed.
func (h *WhatsAppHandler) Wait() {
	h.wg.Wait()
}

// QRCode handles GET /widget/whatsapp/qr
func (h *WhatsAppHandler) QRCode(w http.ResponseWriter, r *http.Request) {
	if h.businessNumber == "" {
		writeError(w, http.StatusNotFound, "whatsapp channel not configured")
		return
	}
	size := queryInt(r, "size", 256, 1024)

	png, err := channel.ClickToChatQR(h.businessNumber, r.URL.Query().Get("text"), size)
	if err != nil {
		writeServiceError(w, h.logger, "failed to render qr code", err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}
