package notify

import (
	"context"
	"errors"

	"github.com/capitalize-ai/livechat-router/internal/model"
)

// Notifier matches fanout.Notifier.
type Notifier interface {
	SendTranscript(ctx context.Context, transcript *model.Transcript) error
	SendAlert(ctx context.Context, conv *model.Conversation, reason string) error
}

// Multi sends to every notifier and joins their errors.
type Multi []Notifier

// SendTranscript implements Notifier.
func (m Multi) SendTranscript(ctx context.Context, t *model.Transcript) error {
	var errs []error
	for _, n := range m {
		if err := n.SendTranscript(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SendAlert implements Notifier.
func (m Multi) SendAlert(ctx context.Context, conv *model.Conversation, reason string) error {
	var errs []error
	for _, n := range m {
		if err := n.SendAlert(ctx, conv, reason); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
