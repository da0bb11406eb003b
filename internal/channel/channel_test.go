package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/capitalize-ai/livechat-router/internal/model"
)

// ─── Sending ──────────────────────────────────────────────────────────────────

func TestWhatsAppSend(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v18.0/PHONE_ID/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer TOKEN" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	orig := GraphAPIBaseURL
	GraphAPIBaseURL = srv.URL
	defer func() { GraphAPIBaseURL = orig }()

	conv := &model.Conversation{ID: "c1", Channel: model.ChannelWhatsApp, ExternalID: "6281234567890"}
	if err := NewWhatsApp("PHONE_ID", "TOKEN").Send(context.Background(), conv, &model.Message{Body: "Halo Budi"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if got["to"] != "6281234567890" || got["messaging_product"] != "whatsapp" {
		t.Errorf("unexpected payload: %v", got)
	}
	text, _ := got["text"].(map[string]any)
	if text["body"] != "Halo Budi" {
		t.Errorf("unexpected text: %v", got["text"])
	}
}

func TestWhatsAppSend_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"invalid token"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	orig := GraphAPIBaseURL
	GraphAPIBaseURL = srv.URL
	defer func() { GraphAPIBaseURL = orig }()

	conv := &model.Conversation{Channel: model.ChannelWhatsApp, ExternalID: "628"}
	err := NewWhatsApp("P", "bad").Send(context.Background(), conv, &model.Message{Body: "x"})
	if !errors.Is(err, model.ErrUpstream) {
		t.Errorf("expected ErrUpstream, got %v", err)
	}
}

func TestWhatsAppSend_NoRecipient(t *testing.T) {
	err := NewWhatsApp("P", "T").Send(context.Background(), &model.Conversation{}, &model.Message{Body: "x"})
	if !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

type recordingSender struct{ calls int }

func (s *recordingSender) Send(ctx context.Context, conv *model.Conversation, msg *model.Message) error {
	s.calls++
	return nil
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()

	if err := reg.Send(ctx, &model.Conversation{Channel: model.ChannelWebsite}, &model.Message{Body: "x"}); err != nil {
		t.Errorf("website sender should be a no-op, got %v", err)
	}
	if err := reg.Send(ctx, &model.Conversation{Channel: model.ChannelWhatsApp}, &model.Message{Body: "x"}); err == nil {
		t.Error("expected error for unregistered channel")
	}

	rec := &recordingSender{}
	reg.Register(model.ChannelWhatsApp, rec)
	if err := reg.Send(ctx, &model.Conversation{Channel: model.ChannelWhatsApp}, &model.Message{Body: "x"}); err != nil {
		t.Fatal(err)
	}
	if rec.calls != 1 {
		t.Errorf("expected 1 call, got %d", rec.calls)
	}
}

// ─── Webhook parsing ──────────────────────────────────────────────────────────

const textPayload = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "changes": [{
      "value": {
        "contacts": [{"wa_id": "6281234567890", "profile": {"name": "Budi"}}],
        "messages": [
          {"from": "6281234567890", "id": "wamid.A", "timestamp": "1760864400", "type": "text", "text": {"body": "Halo"}},
          {"from": "6281234567890", "id": "wamid.B", "timestamp": "1760864401", "type": "image"}
        ]
      }
    }]
  }]
}`

func TestParseWhatsApp(t *testing.T) {
	msgs, err := ParseWhatsApp([]byte(textPayload))
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}

	first := msgs[0]
	if first.From != "6281234567890" || first.Name != "Budi" || first.MessageID != "wamid.A" || first.Text != "Halo" || !first.Supported {
		t.Errorf("unexpected text message: %+v", first)
	}
	if first.Channel != model.ChannelWhatsApp {
		t.Errorf("unexpected channel %s", first.Channel)
	}
	if first.ReceivedAt.Unix() != 1760864400 {
		t.Errorf("unexpected timestamp %v", first.ReceivedAt)
	}
	if msgs[1].Supported {
		t.Error("image message should be unsupported")
	}
}

func TestParseWhatsApp_StatusOnly(t *testing.T) {
	msgs, err := ParseWhatsApp([]byte(`{"entry":[{"changes":[{"value":{"statuses":[{"id":"wamid.A","status":"read"}]}}]}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("status receipts carry no messages, got %d", len(msgs))
	}
}

func TestParseWhatsApp_Invalid(t *testing.T) {
	if _, err := ParseWhatsApp([]byte("not json")); !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

// ─── Signature ────────────────────────────────────────────────────────────────

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(textPayload)

	if !VerifySignature("s3cret", body, sign("s3cret", body)) {
		t.Error("valid signature rejected")
	}
	if VerifySignature("s3cret", body, sign("other", body)) {
		t.Error("wrong secret accepted")
	}
	if VerifySignature("s3cret", append(body, ' '), sign("s3cret", body)) {
		t.Error("tampered body accepted")
	}
	if VerifySignature("", body, sign("", body)) {
		t.Error("empty secret must never verify")
	}
	if VerifySignature("s3cret", body, "") {
		t.Error("missing header accepted")
	}
}

// ─── Click to chat ────────────────────────────────────────────────────────────

func TestClickToChatLink(t *testing.T) {
	tests := []struct {
		number, text, want string
	}{
		{"+6281234567890", "", "https://wa.me/6281234567890"},
		{"6281234567890", "Halo admin", "https://wa.me/6281234567890?text=Halo+admin"},
	}
	for _, tt := range tests {
		if got := ClickToChatLink(tt.number, tt.text); got != tt.want {
			t.Errorf("ClickToChatLink(%q, %q) = %q, want %q", tt.number, tt.text, got, tt.want)
		}
	}
}

func TestClickToChatQR(t *testing.T) {
	data, err := ClickToChatQR("6281234567890", "Halo", 128)
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("not a PNG: %v", err)
	}
	if img.Bounds().Dx() != 128 {
		t.Errorf("expected 128px image, got %d", img.Bounds().Dx())
	}

	if _, err := ClickToChatQR("", "", 0); !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected ErrValidation without a number, got %v", err)
	}
}
