// Package router owns the conversation lifecycle. Every mutation of a
// conversation runs on that conversation's dispatcher worker, so the routing
// decision for message N always sees the append of message N-1.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/livechat-router/internal/channel"
	"github.com/capitalize-ai/livechat-router/internal/fanout"
	"github.com/capitalize-ai/livechat-router/internal/model"
	"github.com/capitalize-ai/livechat-router/internal/policy"
	"github.com/capitalize-ai/livechat-router/internal/settings"
	"github.com/capitalize-ai/livechat-router/pkg/logger"
	"github.com/capitalize-ai/livechat-router/pkg/metrics"
)

// Store is the conversation persistence the router needs.
type Store interface {
	CreateConversation(ctx context.Context, c *model.Conversation) error
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	FindOpenConversation(ctx context.Context, ch model.Channel, externalID string) (*model.Conversation, error)
	ListConversations(ctx context.Context, filter model.ConversationFilter) ([]model.Conversation, error)
	ListAwaitingHuman(ctx context.Context, before time.Time) ([]model.Conversation, error)
	AppendMessage(ctx context.Context, msg *model.Message) (*model.Message, error)
	GetMessages(ctx context.Context, conversationID string) ([]model.Message, error)
	MessageExistsByExternalID(ctx context.Context, externalID string) (bool, error)
	UpdateStatus(ctx context.Context, id string, status model.Status) (*model.Conversation, error)
	AssignAgent(ctx context.Context, id, agentID string) (*model.Conversation, error)
	SetNeedsHuman(ctx context.Context, id string, needsHuman bool) error
	SetHandler(ctx context.Context, id string, handler model.Handler) error
	MarkRead(ctx context.Context, id string) error
}

// Assistant is the AI collaborator.
type Assistant interface {
	Complete(ctx context.Context, req model.AIRequest) (model.AIReply, error)
}

// Directory validates agents before assignment.
type Directory interface {
	Validate(ctx context.Context, agentID string) (*model.Agent, error)
}

// Sender pushes stored replies back through the conversation's channel.
type Sender interface {
	Send(ctx context.Context, conv *model.Conversation, msg *model.Message) error
}

// Router coordinates store, policy, AI collaborator and fan-out.
type Router struct {
	store      Store
	settings   settings.Provider
	directory  Directory
	fanout     *fanout.Fanout
	assistant  Assistant
	sender     Sender
	dispatcher *Dispatcher
	logger     *logger.Logger
	tracer     trace.Tracer
	now        func() time.Time

	contacts keyedLock
}

// Option configures a Router.
type Option func(*Router)

// WithAssistant enables ai and hybrid replies.
func WithAssistant(a Assistant) Option {
	return func(r *Router) { r.assistant = a }
}

// WithSender delivers outbound messages through channels.
func WithSender(s Sender) Option {
	return func(r *Router) { r.sender = s }
}

// WithDispatcher replaces the default dispatcher.
func WithDispatcher(d *Dispatcher) Option {
	return func(r *Router) { r.dispatcher = d }
}

// WithClock overrides the time source used for policy decisions.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// New creates a router.
func New(store Store, provider settings.Provider, dir Directory, fan *fanout.Fanout, log *logger.Logger, opts ...Option) *Router {
	r := &Router{
		store:     store,
		settings:  provider,
		directory: dir,
		fanout:    fan,
		logger:    log,
		tracer:    otel.Tracer("livechat-router/router"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.dispatcher == nil {
		r.dispatcher = NewDispatcher(DefaultIdleTimeout)
	}
	return r
}

// Shutdown stops accepting work and waits for queued jobs.
func (r *Router) Shutdown() {
	r.dispatcher.Close()
}

// InboundResult is the stored customer message and any automated replies.
type InboundResult struct {
	Conversation *model.Conversation `json:"conversation"`
	Message      *model.Message      `json:"message"`
	Replies      []model.Message     `json:"replies,omitempty"`
	Duplicate    bool                `json:"duplicate,omitempty"`
}

// StartConversation opens a website conversation. The welcome message and,
// when present, the first customer message are processed before it returns.
func (r *Router) StartConversation(ctx context.Context, req model.StartConversationRequest) (*model.StartConversationResponse, error) {
	conv, replies, err := r.open(ctx, model.ChannelWebsite, "", req.Customer)
	if err != nil {
		return nil, err
	}

	resp := &model.StartConversationResponse{Conversation: conv, Messages: replies}
	if strings.TrimSpace(req.Message) == "" {
		return resp, nil
	}

	res, err := r.HandleInbound(ctx, conv.ID, req.Message, "")
	if err != nil {
		return nil, err
	}
	resp.Conversation = res.Conversation
	resp.Messages = append(resp.Messages, *res.Message)
	resp.Messages = append(resp.Messages, res.Replies...)
	return resp, nil
}

// open creates a conversation in unassigned and appends the welcome message.
func (r *Router) open(ctx context.Context, ch model.Channel, externalID string, customer model.Customer) (*model.Conversation, []model.Message, error) {
	if err := customer.Validate(); err != nil {
		return nil, nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate conversation id: %w", err)
	}
	now := r.now().UTC()
	conv := &model.Conversation{
		ID:         id.String(),
		Customer:   customer,
		Channel:    ch,
		ExternalID: externalID,
		Status:     model.StatusUnassigned,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.store.CreateConversation(ctx, conv); err != nil {
		return nil, nil, err
	}
	metrics.ConversationsTotal.WithLabelValues(string(ch)).Inc()
	r.publish(ctx, model.ChangeEvent{ConversationID: conv.ID, Type: model.EventConversationCreated, Status: conv.Status, Alert: true})
	r.logger.Conversation(conv.ID).Info("conversation created", zap.String("channel", string(ch)))

	var replies []model.Message
	err = r.dispatcher.Do(ctx, conv.ID, func(ctx context.Context) error {
		cfg := r.routingConfig(ctx)
		if strings.TrimSpace(cfg.WelcomeMessage) == "" {
			return nil
		}
		msg, err := r.reply(ctx, conv, cfg.WelcomeMessage, model.SourceWelcome, nil)
		if err != nil {
			return err
		}
		replies = append(replies, *msg)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if len(replies) > 0 {
		if fresh, err := r.store.GetConversation(ctx, conv.ID); err == nil {
			conv = fresh
		}
	}
	return conv, replies, nil
}

// HandleInbound stores a customer message and runs the routing policy on it.
func (r *Router) HandleInbound(ctx context.Context, conversationID, body, externalID string) (*InboundResult, error) {
	if strings.TrimSpace(body) == "" {
		return nil, model.ValidationError("message body is required")
	}

	var res *InboundResult
	err := r.dispatcher.Do(ctx, conversationID, func(ctx context.Context) error {
		var err error
		res, err = r.handleInbound(ctx, conversationID, body, externalID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// HandleChannelInbound routes a message received from a channel webhook.
// The conversation is found or created per sender, and redelivered message
// ids are acknowledged without being stored again.
func (r *Router) HandleChannelInbound(ctx context.Context, in channel.Inbound) (*InboundResult, error) {
	if in.From == "" {
		return nil, model.ValidationError("sender is required")
	}
	if strings.TrimSpace(in.Text) == "" {
		return nil, model.ValidationError("message body is required")
	}

	unlock := r.contacts.lock(string(in.Channel) + ":" + in.From)
	defer unlock()

	if in.MessageID != "" {
		seen, err := r.store.MessageExistsByExternalID(ctx, in.MessageID)
		if err != nil {
			return nil, err
		}
		if seen {
			r.logger.Debug("duplicate channel message", zap.String("external_id", in.MessageID))
			return &InboundResult{Duplicate: true}, nil
		}
	}

	conv, err := r.store.FindOpenConversation(ctx, in.Channel, in.From)
	if errors.Is(err, model.ErrNotFound) {
		name := in.Name
		if strings.TrimSpace(name) == "" {
			name = in.From
		}
		conv, _, err = r.open(ctx, in.Channel, in.From, model.Customer{Name: name, Phone: in.From})
	}
	if err != nil {
		return nil, err
	}

	return r.HandleInbound(ctx, conv.ID, in.Text, in.MessageID)
}

func closedError(id string) error {
	return fmt.Errorf("conversation %s: %w", id, model.ErrClosed)
}

func (r *Router) handleInbound(ctx context.Context, conversationID, body, externalID string) (*InboundResult, error) {
	ctx, span := r.tracer.Start(ctx, "router.HandleInbound", trace.WithAttributes(
		attribute.String("conversation.id", conversationID),
	))
	defer span.End()

	conv, err := r.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	msg, err := r.store.AppendMessage(ctx, &model.Message{
		ConversationID: conv.ID,
		ExternalID:     externalID,
		SenderType:     model.SenderCustomer,
		SenderName:     conv.Customer.Name,
		Source:         model.SourceCustomer,
		Body:           body,
		CreatedAt:      r.now().UTC(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	metrics.MessagesTotal.WithLabelValues(string(msg.SenderType), string(msg.Source)).Inc()
	r.publish(ctx, model.ChangeEvent{ConversationID: conv.ID, Type: model.EventMessageCreated, MessageID: msg.ID, Alert: true})

	res := &InboundResult{Conversation: conv, Message: msg}

	// Closed conversations keep the history but are never routed again.
	if conv.IsClosed() {
		span.SetAttributes(attribute.Bool("conversation.closed", true))
		if fresh, err := r.store.GetConversation(ctx, conv.ID); err == nil {
			res.Conversation = fresh
		}
		return res, nil
	}

	cfg := r.routingConfig(ctx)
	decision := policy.Decide(cfg, body, r.now())
	if decision.CallsAI() && (conv.Handler == model.HandlerAgent || conv.NeedsHuman) {
		decision.Kind = policy.KindNone
	}
	metrics.RoutingDecisionsTotal.WithLabelValues(string(decision.Mode), string(decision.Kind)).Inc()
	span.SetAttributes(
		attribute.String("routing.mode", string(decision.Mode)),
		attribute.String("routing.kind", string(decision.Kind)),
	)

	log := r.logger.Conversation(conv.ID)
	log.Debug("routing decision",
		zap.String("mode", string(decision.Mode)),
		zap.String("kind", string(decision.Kind)),
		zap.Bool("outside_hours", decision.OutsideHours),
	)

	if decision.NeedsHuman {
		if err := r.escalate(ctx, conv, "trigger: "+decision.Trigger); err != nil {
			log.Warn("failed to flag conversation for human", zap.Error(err))
		}
	}

	switch decision.Kind {
	case policy.KindAutoReply, policy.KindOffline:
		if strings.TrimSpace(decision.Reply) == "" {
			break
		}
		source := model.SourceAutoReply
		if decision.Kind == policy.KindOffline {
			source = model.SourceOffline
		}
		reply, err := r.reply(ctx, conv, decision.Reply, source, nil)
		if err != nil {
			log.Warn("failed to append automated reply", zap.Error(err))
			break
		}
		res.Replies = append(res.Replies, *reply)

	case policy.KindAIForward:
		reply, err := r.replyWithAI(ctx, conv, cfg)
		if err != nil {
			span.RecordError(err)
			log.Warn("AI reply failed", zap.Error(err))
			break
		}
		if reply != nil {
			res.Replies = append(res.Replies, *reply)
		}
	}

	if fresh, err := r.store.GetConversation(ctx, conv.ID); err == nil {
		res.Conversation = fresh
	}
	return res, nil
}

// replyWithAI asks the collaborator for a reply. On failure nothing is
// appended and the conversation keeps its state.
func (r *Router) replyWithAI(ctx context.Context, conv *model.Conversation, cfg *model.RoutingConfig) (*model.Message, error) {
	params := cfg.AIParams()
	if params == nil {
		return nil, nil
	}
	if r.assistant == nil {
		return nil, model.UpstreamError("assistant", errors.New("no AI collaborator configured"))
	}

	history, err := r.store.GetMessages(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, params.TimeoutDuration())
	defer cancel()
	callCtx, span := r.tracer.Start(callCtx, "router.AIComplete", trace.WithAttributes(
		attribute.String("ai.model", params.Model),
		attribute.Int("ai.history", len(history)),
	))
	defer span.End()

	start := time.Now()
	reply, err := r.assistant.Complete(callCtx, model.AIRequest{
		Mode:         cfg.Mode,
		Conversation: *conv,
		History:      history,
		Params:       *params,
	})
	elapsed := time.Since(start)
	if err != nil {
		metrics.RecordAICall(params.Model, "error", elapsed.Seconds(), 0, 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if !errors.Is(err, model.ErrUpstream) {
			err = model.UpstreamError("assistant", err)
		}
		return nil, err
	}

	modelName := reply.Model
	if modelName == "" {
		modelName = params.Model
	}
	metrics.RecordAICall(modelName, "ok", elapsed.Seconds(), reply.TokensIn, reply.TokensOut)
	span.SetAttributes(
		attribute.Int("ai.tokens_in", reply.TokensIn),
		attribute.Int("ai.tokens_out", reply.TokensOut),
		attribute.Bool("ai.escalate", reply.Escalate),
	)

	if reply.Escalate && cfg.Mode == model.ModeHybrid {
		if err := r.escalate(ctx, conv, "assistant requested a human"); err != nil {
			r.logger.Conversation(conv.ID).Warn("failed to flag conversation for human", zap.Error(err))
		}
	}

	text := strings.TrimSpace(reply.Text)
	if text == "" {
		return nil, nil
	}

	latency := reply.LatencyMs
	if latency == 0 {
		latency = elapsed.Milliseconds()
	}
	tokensIn, tokensOut := reply.TokensIn, reply.TokensOut
	msg, err := r.reply(ctx, conv, text, model.SourceAI, &model.Message{
		Model:     &modelName,
		TokensIn:  &tokensIn,
		TokensOut: &tokensOut,
		LatencyMs: &latency,
	})
	if err != nil {
		return nil, err
	}

	if conv.Status == model.StatusUnassigned {
		if err := r.store.SetHandler(ctx, conv.ID, model.HandlerAI); err != nil {
			return msg, err
		}
		if _, err := r.setStatus(ctx, conv.ID, model.StatusActive); err != nil {
			return msg, err
		}
	}
	return msg, nil
}

// escalate flags the conversation for a human and alerts the console once.
func (r *Router) escalate(ctx context.Context, conv *model.Conversation, reason string) error {
	if conv.NeedsHuman {
		return nil
	}
	if err := r.store.SetNeedsHuman(ctx, conv.ID, true); err != nil {
		return err
	}
	conv.NeedsHuman = true

	r.publish(ctx, model.ChangeEvent{ConversationID: conv.ID, Type: model.EventNeedsHuman, Reason: reason, Alert: true})
	r.fanout.Alert(*conv, reason)
	r.logger.Conversation(conv.ID).Info("conversation needs a human", zap.String("reason", reason))
	return nil
}

// reply appends a system message and delivers it through the channel. meta
// carries optional AI metadata.
func (r *Router) reply(ctx context.Context, conv *model.Conversation, body string, source model.Source, meta *model.Message) (*model.Message, error) {
	msg := &model.Message{
		ConversationID: conv.ID,
		SenderType:     model.SenderSystem,
		SenderName:     systemSenderName(source),
		Source:         source,
		Body:           body,
		CreatedAt:      r.now().UTC(),
	}
	if meta != nil {
		msg.Model, msg.TokensIn, msg.TokensOut, msg.LatencyMs = meta.Model, meta.TokensIn, meta.TokensOut, meta.LatencyMs
	}

	stored, err := r.store.AppendMessage(ctx, msg)
	if err != nil {
		return nil, err
	}
	metrics.MessagesTotal.WithLabelValues(string(stored.SenderType), string(stored.Source)).Inc()
	r.publish(ctx, model.ChangeEvent{ConversationID: conv.ID, Type: model.EventMessageCreated, MessageID: stored.ID})
	r.deliver(ctx, conv, stored)
	return stored, nil
}

func systemSenderName(source model.Source) string {
	if source == model.SourceAI {
		return "Assistant"
	}
	return "System"
}

// deliver pushes msg to the customer. Failures never undo the stored row.
func (r *Router) deliver(ctx context.Context, conv *model.Conversation, msg *model.Message) {
	if r.sender == nil {
		return
	}
	if err := r.sender.Send(ctx, conv, msg); err != nil {
		metrics.ChannelDeliveryFailures.WithLabelValues(string(conv.Channel)).Inc()
		r.logger.Conversation(conv.ID).Warn("channel delivery failed",
			zap.String("channel", string(conv.Channel)),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
	}
}

func (r *Router) setStatus(ctx context.Context, id string, status model.Status) (*model.Conversation, error) {
	before, err := r.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	conv, err := r.store.UpdateStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	if before.Status != conv.Status {
		r.publish(ctx, model.ChangeEvent{ConversationID: id, Type: model.EventStatusChanged, Status: conv.Status})
	}
	return conv, nil
}

// routingConfig reads the current configuration. A provider failure falls
// back to human mode without auto-reply so customer messages still land.
func (r *Router) routingConfig(ctx context.Context) *model.RoutingConfig {
	cfg, err := r.settings.RoutingConfig(ctx)
	if err != nil || cfg == nil {
		r.logger.Warn("routing config unavailable, using defaults", zap.Error(err))
		return settings.Default()
	}
	return cfg
}

func (r *Router) publish(ctx context.Context, ev model.ChangeEvent) {
	if r.fanout == nil {
		return
	}
	r.fanout.Publish(ctx, ev)
}
