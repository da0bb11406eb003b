package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/capitalize-ai/livechat-router/internal/model"
)

// GraphAPIBaseURL is a var so tests can point it at an httptest.Server.
var GraphAPIBaseURL = "https://graph.facebook.com"

const graphAPIVersion = "v18.0"

// WhatsApp sends text messages through the WhatsApp Cloud API.
type WhatsApp struct {
	phoneNumberID string
	accessToken   string
	client        *http.Client
}

// NewWhatsApp creates a Cloud API sender.
func NewWhatsApp(phoneNumberID, accessToken string) *WhatsApp {
	return &WhatsApp{
		phoneNumberID: phoneNumberID,
		accessToken:   accessToken,
		client:        &http.Client{Timeout: 10 * time.Second},
	}
}

// Send implements Sender. The recipient is the conversation's external id.
func (w *WhatsApp) Send(ctx context.Context, conv *model.Conversation, msg *model.Message) error {
	to := conv.ExternalID
	if to == "" {
		to = conv.Customer.Phone
	}
	if to == "" {
		return model.ValidationError("whatsapp conversation has no recipient")
	}

	payload, err := json.Marshal(map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": msg.Body},
	})
	if err != nil {
		return fmt.Errorf("whatsapp: encode payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/%s/messages", GraphAPIBaseURL, graphAPIVersion, w.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("whatsapp: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.accessToken)

	resp, err := w.client.Do(req)
	if err != nil {
		return model.UpstreamError("whatsapp", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return model.UpstreamError("whatsapp", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body)))
	}
	return nil
}

// Webhook payload, reduced to the fields the router reads.
type waPayload struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Value waValue `json:"value"`
}

type waValue struct {
	Contacts []waContact `json:"contacts"`
	Messages []waMessage `json:"messages"`
}

type waContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type waMessage struct {
	From      string  `json:"from"`
	ID        string  `json:"id"`
	Timestamp string  `json:"timestamp"`
	Type      string  `json:"type"`
	Text      *waText `json:"text,omitempty"`
}

type waText struct {
	Body string `json:"body"`
}

// Inbound is one customer message received from a channel webhook.
type Inbound struct {
	Channel    model.Channel
	From       string
	Name       string
	MessageID  string
	Text       string
	Supported  bool
	ReceivedAt time.Time
}

// ParseWhatsApp extracts messages from a Cloud API webhook body. Status
// receipts yield no messages. Non-text messages are returned with
// Supported false so the caller can answer them.
func ParseWhatsApp(body []byte) ([]Inbound, error) {
	var payload waPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, model.ValidationError("invalid whatsapp payload")
	}

	var out []Inbound
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range change.Value.Messages {
				in := Inbound{
					Channel:   model.ChannelWhatsApp,
					From:      m.From,
					Name:      names[m.From],
					MessageID: m.ID,
				}
				if m.Type == "text" && m.Text != nil && strings.TrimSpace(m.Text.Body) != "" {
					in.Text = m.Text.Body
					in.Supported = true
				}
				if ts, err := parseUnix(m.Timestamp); err == nil {
					in.ReceivedAt = ts
				}
				out = append(out, in)
			}
		}
	}
	return out, nil
}

func parseUnix(s string) (time.Time, error) {
	var sec int64
	if _, err := fmt.Sscanf(s, "%d", &sec); err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}

// VerifySignature checks the X-Hub-Signature-256 header against the app secret.
func VerifySignature(secret string, body []byte, header string) bool {
	if secret == "" || header == "" {
		return false
	}
	expected := strings.TrimPrefix(header, "sha256=")
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(computed), []byte(expected))
}

// ClickToChatLink builds the wa.me link that opens a chat with number,
// optionally prefilled with text.
func ClickToChatLink(number, text string) string {
	number = strings.TrimPrefix(strings.TrimSpace(number), "+")
	link := "https://wa.me/" + number
	if text != "" {
		link += "?text=" + url.QueryEscape(text)
	}
	return link
}

// ClickToChatQR renders the click-to-chat link as a PNG QR code.
func ClickToChatQR(number, text string, size int) ([]byte, error) {
	if number == "" {
		return nil, model.ValidationError("whatsapp business number is not configured")
	}
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(ClickToChatLink(number, text), qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}
	return png, nil
}
