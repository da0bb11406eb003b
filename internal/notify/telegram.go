package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/OvyFlash/telegram-bot-api"
	"go.uber.org/zap"

	"github.com/capitalize-ai/livechat-router/internal/model"
	"github.com/capitalize-ai/livechat-router/pkg/logger"
)

// botSender is the part of *tgbotapi.BotAPI the notifier uses.
type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts alerts as messages and transcripts as xlsx documents to one chat.
type Telegram struct {
	bot    botSender
	chatID int64
	logger *logger.Logger
}

// NewTelegram authorizes the bot token and targets chatID.
func NewTelegram(token string, chatID int64, log *logger.Logger) (*Telegram, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telegram bot: %w", err)
	}
	log.Info("telegram notifier authorized", zap.String("bot", bot.Self.UserName), zap.Int64("chat_id", chatID))
	return &Telegram{bot: bot, chatID: chatID, logger: log}, nil
}

// SendAlert implements fanout.Notifier.
func (t *Telegram) SendAlert(ctx context.Context, conv *model.Conversation, reason string) error {
	msg := tgbotapi.NewMessage(t.chatID, alertText(conv, reason))
	if _, err := t.bot.Send(msg); err != nil {
		return model.UpstreamError("telegram", err)
	}
	return nil
}

// SendTranscript implements fanout.Notifier.
func (t *Telegram) SendTranscript(ctx context.Context, transcript *model.Transcript) error {
	data, err := BuildWorkbook(transcript)
	if err != nil {
		return err
	}

	doc := tgbotapi.NewDocument(t.chatID, tgbotapi.FileBytes{
		Name:  TranscriptFileName(transcript),
		Bytes: data,
	})
	doc.Caption = transcriptCaption(transcript)

	if _, err := t.bot.Send(doc); err != nil {
		return model.UpstreamError("telegram", err)
	}
	return nil
}

func alertText(conv *model.Conversation, reason string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Conversation needs a human\nCustomer: %s\nChannel: %s\nConversation: %s", conv.Customer.Name, conv.Channel, conv.ID)
	if conv.Customer.Phone != "" {
		fmt.Fprintf(&b, "\nPhone: %s", conv.Customer.Phone)
	}
	if reason != "" {
		fmt.Fprintf(&b, "\nReason: %s", reason)
	}
	if conv.LastMessageText != "" {
		fmt.Fprintf(&b, "\nLast message: %s", conv.LastMessageText)
	}
	return b.String()
}

func transcriptCaption(t *model.Transcript) string {
	return fmt.Sprintf("Transcript: %s (%s), %d messages", t.Conversation.Customer.Name, t.Conversation.Channel, len(t.Messages))
}
