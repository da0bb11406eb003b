// Package channel delivers outbound messages to the transport a conversation
// arrived on and parses inbound channel payloads.
package channel

import (
	"context"
	"fmt"

	"github.com/capitalize-ai/livechat-router/internal/model"
)

// Sender delivers one stored message to the customer.
type Sender interface {
	Send(ctx context.Context, conv *model.Conversation, msg *model.Message) error
}

// Registry maps channels to their senders.
type Registry struct {
	senders map[model.Channel]Sender
}

// NewRegistry creates a registry with the website sender registered.
func NewRegistry() *Registry {
	return &Registry{senders: map[model.Channel]Sender{
		model.ChannelWebsite: Website{},
	}}
}

// Register sets the sender for ch.
func (r *Registry) Register(ch model.Channel, s Sender) {
	r.senders[ch] = s
}

// Send delivers msg through the conversation's channel.
func (r *Registry) Send(ctx context.Context, conv *model.Conversation, msg *model.Message) error {
	s, ok := r.senders[conv.Channel]
	if !ok {
		return fmt.Errorf("no sender registered for channel %q", conv.Channel)
	}
	return s.Send(ctx, conv, msg)
}

// Website needs no push: the widget reads new messages from its event stream.
type Website struct{}

// Send implements Sender.
func (Website) Send(ctx context.Context, conv *model.Conversation, msg *model.Message) error {
	return nil
}
