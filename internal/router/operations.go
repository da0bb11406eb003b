package router

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/livechat-router/internal/fanout"
	"github.com/capitalize-ai/livechat-router/internal/model"
	"github.com/capitalize-ai/livechat-router/pkg/metrics"
)

// AssignAgent hands the conversation to an active agent.
func (r *Router) AssignAgent(ctx context.Context, conversationID, agentID string) (*model.Conversation, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, model.ValidationError("agent_id is required")
	}

	var conv *model.Conversation
	err := r.dispatcher.Do(ctx, conversationID, func(ctx context.Context) error {
		if _, err := r.directory.Validate(ctx, agentID); err != nil {
			return err
		}
		before, err := r.store.GetConversation(ctx, conversationID)
		if err != nil {
			return err
		}
		conv, err = r.store.AssignAgent(ctx, conversationID, agentID)
		if err != nil {
			return err
		}

		r.publish(ctx, model.ChangeEvent{ConversationID: conv.ID, Type: model.EventAgentAssigned, AgentID: agentID, Status: conv.Status})
		if before.Status != conv.Status {
			r.publish(ctx, model.ChangeEvent{ConversationID: conv.ID, Type: model.EventStatusChanged, Status: conv.Status})
		}
		r.logger.Conversation(conv.ID).Info("agent assigned", zap.String("agent_id", agentID))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// SendAgentReply appends an agent message and delivers it to the customer.
// An unassigned conversation is assigned to the replying agent; a pending
// one becomes active again.
func (r *Router) SendAgentReply(ctx context.Context, conversationID, agentID, body string) (*model.Message, error) {
	if strings.TrimSpace(body) == "" {
		return nil, model.ValidationError("message body is required")
	}

	var stored *model.Message
	err := r.dispatcher.Do(ctx, conversationID, func(ctx context.Context) error {
		agent, err := r.directory.Validate(ctx, agentID)
		if err != nil {
			return err
		}
		conv, err := r.store.GetConversation(ctx, conversationID)
		if err != nil {
			return err
		}
		if conv.IsClosed() {
			return closedError(conv.ID)
		}

		stored, err = r.store.AppendMessage(ctx, &model.Message{
			ConversationID: conv.ID,
			SenderType:     model.SenderAgent,
			SenderName:     agent.Name,
			SenderID:       agent.ID,
			Source:         model.SourceAgent,
			Body:           body,
			CreatedAt:      r.now().UTC(),
		})
		if err != nil {
			return err
		}
		metrics.MessagesTotal.WithLabelValues(string(stored.SenderType), string(stored.Source)).Inc()
		r.publish(ctx, model.ChangeEvent{ConversationID: conv.ID, Type: model.EventMessageCreated, MessageID: stored.ID, AgentID: agent.ID})

		log := r.logger.Conversation(conv.ID)
		switch {
		case conv.AssignedAgentID == nil:
			updated, err := r.store.AssignAgent(ctx, conv.ID, agent.ID)
			if err != nil {
				log.Warn("failed to assign replying agent", zap.Error(err))
				break
			}
			r.publish(ctx, model.ChangeEvent{ConversationID: conv.ID, Type: model.EventAgentAssigned, AgentID: agent.ID, Status: updated.Status})
			if updated.Status != conv.Status {
				r.publish(ctx, model.ChangeEvent{ConversationID: conv.ID, Type: model.EventStatusChanged, Status: updated.Status})
			}
		case conv.Status == model.StatusPending:
			if _, err := r.setStatus(ctx, conv.ID, model.StatusActive); err != nil {
				log.Warn("failed to reactivate conversation", zap.Error(err))
			}
		}
		if conv.Handler != model.HandlerAgent && conv.AssignedAgentID != nil {
			if err := r.store.SetHandler(ctx, conv.ID, model.HandlerAgent); err != nil {
				log.Warn("failed to record agent handler", zap.Error(err))
			}
		}
		if conv.NeedsHuman {
			if err := r.store.SetNeedsHuman(ctx, conv.ID, false); err != nil {
				log.Warn("failed to clear needs_human", zap.Error(err))
			}
		}

		r.deliver(ctx, conv, stored)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// Close ends the conversation and sends its transcript in the background.
// Closing twice returns ErrClosed and changes nothing.
func (r *Router) Close(ctx context.Context, conversationID string) (*model.Conversation, error) {
	var conv *model.Conversation
	err := r.dispatcher.Do(ctx, conversationID, func(ctx context.Context) error {
		var err error
		conv, err = r.setStatus(ctx, conversationID, model.StatusClosed)
		if err != nil {
			return err
		}
		r.logger.Conversation(conv.ID).Info("conversation closed", zap.Int("messages", conv.MessageCount))

		messages, err := r.store.GetMessages(ctx, conv.ID)
		if err != nil {
			r.logger.Conversation(conv.ID).Warn("failed to load transcript", zap.Error(err))
			return nil
		}
		r.fanout.DeliverTranscript(&model.Transcript{Conversation: *conv, Messages: messages})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// MarkRead resets the unread counter.
func (r *Router) MarkRead(ctx context.Context, conversationID string) error {
	return r.dispatcher.Do(ctx, conversationID, func(ctx context.Context) error {
		if err := r.store.MarkRead(ctx, conversationID); err != nil {
			return err
		}
		r.publish(ctx, model.ChangeEvent{ConversationID: conversationID, Type: model.EventConversationRead})
		return nil
	})
}

// GetConversation returns one conversation.
func (r *Router) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	return r.store.GetConversation(ctx, id)
}

// ListConversations returns conversations by recency.
func (r *Router) ListConversations(ctx context.Context, filter model.ConversationFilter) ([]model.Conversation, error) {
	return r.store.ListConversations(ctx, filter)
}

// GetMessages returns the conversation history in order.
func (r *Router) GetMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	return r.store.GetMessages(ctx, conversationID)
}

// Transcript returns a conversation with its full history.
func (r *Router) Transcript(ctx context.Context, conversationID string) (*model.Transcript, error) {
	conv, err := r.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	messages, err := r.store.GetMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return &model.Transcript{Conversation: *conv, Messages: messages}, nil
}

// Subscribe registers a viewer for change events.
func (r *Router) Subscribe(filter fanout.Filter) *fanout.Subscription {
	return r.fanout.Subscribe(filter)
}
