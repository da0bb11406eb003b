package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/capitalize-ai/livechat-router/internal/model"
)

// Webhook posts Slack-compatible JSON payloads to an incoming-webhook URL.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a webhook notifier.
func NewWebhook(url string) *Webhook {
	return &Webhook{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

type webhookPayload struct {
	Text           string `json:"text"`
	Event          string `json:"event"`
	ConversationID string `json:"conversation_id"`
	Customer       string `json:"customer"`
	Channel        string `json:"channel"`
	Reason         string `json:"reason,omitempty"`
	Transcript     string `json:"transcript,omitempty"`
}

// SendAlert implements fanout.Notifier.
func (w *Webhook) SendAlert(ctx context.Context, conv *model.Conversation, reason string) error {
	return w.post(ctx, webhookPayload{
		Text:           alertText(conv, reason),
		Event:          "needs_human",
		ConversationID: conv.ID,
		Customer:       conv.Customer.Name,
		Channel:        string(conv.Channel),
		Reason:         reason,
	})
}

// SendTranscript implements fanout.Notifier. The transcript is sent as plain text.
func (w *Webhook) SendTranscript(ctx context.Context, t *model.Transcript) error {
	var b bytes.Buffer
	for _, m := range t.Messages {
		name := m.SenderName
		if name == "" {
			name = string(m.SenderType)
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", m.CreatedAt.UTC().Format(timeLayout), name, m.Body)
	}

	return w.post(ctx, webhookPayload{
		Text:           transcriptCaption(t),
		Event:          "transcript",
		ConversationID: t.Conversation.ID,
		Customer:       t.Conversation.Customer.Name,
		Channel:        string(t.Conversation.Channel),
		Transcript:     b.String(),
	})
}

func (w *Webhook) post(ctx context.Context, payload webhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return model.UpstreamError("webhook", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return model.UpstreamError("webhook", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(b)))
	}
	return nil
}
