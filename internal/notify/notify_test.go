package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/OvyFlash/telegram-bot-api"
	"github.com/xuri/excelize/v2"

	"github.com/capitalize-ai/livechat-router/internal/model"
	"github.com/capitalize-ai/livechat-router/pkg/logger"
)

func testTranscript() *model.Transcript {
	created := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	ended := created.Add(10 * time.Minute)
	return &model.Transcript{
		Conversation: model.Conversation{
			ID:        "0192a0b4-conv",
			Customer:  model.Customer{Name: "Budi", Phone: "6281234567890"},
			Channel:   model.ChannelWhatsApp,
			Status:    model.StatusClosed,
			CreatedAt: created,
			EndedAt:   &ended,
		},
		Messages: []model.Message{
			{Seq: 1, SenderType: model.SenderCustomer, SenderName: "Budi", Source: model.SourceCustomer, Body: "Halo", CreatedAt: created},
			{Seq: 2, SenderType: model.SenderAgent, SenderName: "Rina", Source: model.SourceAgent, Body: "Halo Budi, ada yang bisa dibantu?", CreatedAt: created.Add(time.Minute)},
		},
	}
}

// ─── Workbook ─────────────────────────────────────────────────────────────────

func TestBuildWorkbook(t *testing.T) {
	data, err := BuildWorkbook(testTranscript())
	if err != nil {
		t.Fatalf("BuildWorkbook: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()

	if got, _ := f.GetCellValue(summarySheet, "B1"); got != "0192a0b4-conv" {
		t.Errorf("summary conversation id: %q", got)
	}
	if got, _ := f.GetCellValue(summarySheet, "B4"); got != "Budi" {
		t.Errorf("summary customer: %q", got)
	}
	if got, _ := f.GetCellValue(messagesSheet, "F3"); got != "Halo Budi, ada yang bisa dibantu?" {
		t.Errorf("second message body: %q", got)
	}
	if got, _ := f.GetCellValue(messagesSheet, "D2"); got != "Budi" {
		t.Errorf("first message sender: %q", got)
	}
	if idx, _ := f.GetSheetIndex("Sheet1"); idx != -1 {
		t.Error("default sheet should be removed")
	}
}

// ─── Telegram ─────────────────────────────────────────────────────────────────

type fakeBot struct {
	sent []tgbotapi.Chattable
	err  error
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.sent = append(b.sent, c)
	return tgbotapi.Message{}, b.err
}

func TestTelegram_SendAlert(t *testing.T) {
	bot := &fakeBot{}
	n := &Telegram{bot: bot, chatID: -100123, logger: logger.NewNop()}

	conv := &model.Conversation{ID: "c1", Customer: model.Customer{Name: "Budi"}, Channel: model.ChannelWebsite, LastMessageText: "saya minta refund"}
	if err := n.SendAlert(context.Background(), conv, "refund"); err != nil {
		t.Fatal(err)
	}

	if len(bot.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(bot.sent))
	}
	msg, ok := bot.sent[0].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("expected MessageConfig, got %T", bot.sent[0])
	}
	for _, part := range []string{"Budi", "refund", "c1", "saya minta refund"} {
		if !strings.Contains(msg.Text, part) {
			t.Errorf("alert text missing %q: %s", part, msg.Text)
		}
	}
}

func TestTelegram_SendTranscript(t *testing.T) {
	bot := &fakeBot{}
	n := &Telegram{bot: bot, chatID: -100123, logger: logger.NewNop()}

	if err := n.SendTranscript(context.Background(), testTranscript()); err != nil {
		t.Fatal(err)
	}
	doc, ok := bot.sent[0].(tgbotapi.DocumentConfig)
	if !ok {
		t.Fatalf("expected DocumentConfig, got %T", bot.sent[0])
	}
	if !strings.Contains(doc.Caption, "2 messages") {
		t.Errorf("unexpected caption: %s", doc.Caption)
	}
}

func TestTelegram_SendError(t *testing.T) {
	n := &Telegram{bot: &fakeBot{err: errors.New("Bad Request: chat not found")}, chatID: 1, logger: logger.NewNop()}

	err := n.SendAlert(context.Background(), &model.Conversation{ID: "c1"}, "")
	if !errors.Is(err, model.ErrUpstream) {
		t.Errorf("expected ErrUpstream, got %v", err)
	}
}

// ─── Webhook ──────────────────────────────────────────────────────────────────

func TestWebhook(t *testing.T) {
	var got []webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		var p webhookPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode: %v", err)
		}
		got = append(got, p)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhook(srv.URL)
	tr := testTranscript()
	if err := n.SendTranscript(context.Background(), tr); err != nil {
		t.Fatal(err)
	}
	if err := n.SendAlert(context.Background(), &tr.Conversation, "komplain"); err != nil {
		t.Fatal(err)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(got))
	}
	if !strings.Contains(got[0].Transcript, "Rina: Halo Budi") {
		t.Errorf("transcript body missing agent line: %s", got[0].Transcript)
	}
	if got[1].Event != "needs_human" || got[1].Reason != "komplain" {
		t.Errorf("unexpected alert payload: %+v", got[1])
	}
}

func TestWebhook_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no_service", http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL).SendAlert(context.Background(), &model.Conversation{ID: "c1"}, "")
	if !errors.Is(err, model.ErrUpstream) {
		t.Errorf("expected ErrUpstream, got %v", err)
	}
}

func TestMulti_JoinsErrors(t *testing.T) {
	ok := &Telegram{bot: &fakeBot{}, chatID: 1, logger: logger.NewNop()}
	bad := &Telegram{bot: &fakeBot{err: errors.New("boom")}, chatID: 1, logger: logger.NewNop()}

	if err := (Multi{ok, ok}).SendAlert(context.Background(), &model.Conversation{ID: "c1"}, ""); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	if err := (Multi{ok, bad}).SendAlert(context.Background(), &model.Conversation{ID: "c1"}, ""); !errors.Is(err, model.ErrUpstream) {
		t.Errorf("expected joined ErrUpstream, got %v", err)
	}
}
