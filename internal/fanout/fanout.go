package fanout

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/livechat-router/internal/model"
	"github.com/capitalize-ai/livechat-router/pkg/logger"
	"github.com/capitalize-ai/livechat-router/pkg/metrics"
)

// Bridge forwards events to other instances and assigns replay sequences.
type Bridge interface {
	PublishEvent(ctx context.Context, event *model.ChangeEvent) (uint64, error)
}

// Notifier delivers transcripts and alerts outside the system.
type Notifier interface {
	SendTranscript(ctx context.Context, transcript *model.Transcript) error
	SendAlert(ctx context.Context, conv *model.Conversation, reason string) error
}

// Fanout publishes change events and runs outbound notifications.
type Fanout struct {
	hub           *Hub
	bridge        Bridge
	notifier      Notifier
	origin        string
	timeout       time.Duration
	bridgeTimeout time.Duration
	logger        *logger.Logger

	wg sync.WaitGroup
}

// Option configures a Fanout.
type Option func(*Fanout)

// WithBridge publishes every event through b as well.
func WithBridge(b Bridge) Option {
	return func(f *Fanout) { f.bridge = b }
}

// WithNotifier enables transcript and alert delivery.
func WithNotifier(n Notifier) Option {
	return func(f *Fanout) { f.notifier = n }
}

// WithOrigin sets the instance id stamped on events.
func WithOrigin(origin string) Option {
	return func(f *Fanout) { f.origin = origin }
}

// WithNotifyTimeout bounds a single notifier call.
func WithNotifyTimeout(d time.Duration) Option {
	return func(f *Fanout) { f.timeout = d }
}

// WithBridgeTimeout bounds a single bridge publish. Past it the event is
// delivered locally without a replay sequence.
func WithBridgeTimeout(d time.Duration) Option {
	return func(f *Fanout) { f.bridgeTimeout = d }
}

// DefaultBridgeTimeout is the bridge publish bound used when none is set.
const DefaultBridgeTimeout = 2 * time.Second

// New creates a Fanout over hub.
func New(hub *Hub, log *logger.Logger, opts ...Option) *Fanout {
	f := &Fanout{
		hub:           hub,
		timeout:       30 * time.Second,
		bridgeTimeout: DefaultBridgeTimeout,
		logger:        log,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.origin == "" {
		f.origin = uuid.NewString()
	}
	return f
}

// Subscribe registers a viewer on the local hub.
func (f *Fanout) Subscribe(filter Filter) *Subscription {
	return f.hub.Subscribe(filter)
}

// Publish stamps ev and delivers it. A bridge failure is logged; local
// viewers still receive the event.
func (f *Fanout) Publish(ctx context.Context, ev model.ChangeEvent) model.ChangeEvent {
	if ev.ID == "" {
		if id, err := uuid.NewV7(); err == nil {
			ev.ID = id.String()
		}
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	ev.Origin = f.origin

	if f.bridge != nil {
		seq, err := f.publishBridge(ctx, ev)
		if err != nil {
			f.logger.Warn("event bridge publish failed",
				zap.String("conversation_id", ev.ConversationID),
				zap.String("type", string(ev.Type)),
				zap.Error(err),
			)
		} else {
			ev.Sequence = seq
		}
	}

	f.hub.Publish(ev)
	return ev
}

// publishBridge forwards ev and waits at most bridgeTimeout for the sequence.
// The bridge gets its own copy so a late reply cannot touch the caller's.
func (f *Fanout) publishBridge(ctx context.Context, ev model.ChangeEvent) (uint64, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.bridgeTimeout)
	defer cancel()

	type result struct {
		seq uint64
		err error
	}
	out := make(chan result, 1)
	go func() {
		seq, err := f.bridge.PublishEvent(ctx, &ev)
		out <- result{seq, err}
	}()

	select {
	case r := <-out:
		return r.seq, r.err
	case <-ctx.Done():
		metrics.BridgeTimeouts.Inc()
		return 0, ctx.Err()
	}
}

// Relay delivers an event received from the bridge. Events this instance
// produced were already delivered locally and are skipped.
func (f *Fanout) Relay(ev model.ChangeEvent) {
	if ev.Origin == f.origin {
		return
	}
	f.hub.Publish(ev)
}

// DeliverTranscript sends the transcript in the background. The outcome is
// reported as a transcript_sent or transcript_failed event.
func (f *Fanout) DeliverTranscript(transcript *model.Transcript) {
	if f.notifier == nil {
		return
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		defer cancel()

		convID := transcript.Conversation.ID
		ev := model.ChangeEvent{ConversationID: convID, Type: model.EventTranscriptSent, Status: transcript.Conversation.Status}
		if err := f.notifier.SendTranscript(ctx, transcript); err != nil {
			metrics.NotifierFailures.WithLabelValues("transcript").Inc()
			f.logger.Warn("transcript delivery failed", zap.String("conversation_id", convID), zap.Error(err))
			ev.Type = model.EventTranscriptFailed
			ev.Reason = err.Error()
		}
		f.Publish(ctx, ev)
	}()
}

// Alert notifies humans that a conversation needs attention, in the background.
func (f *Fanout) Alert(conv model.Conversation, reason string) {
	if f.notifier == nil {
		return
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		defer cancel()

		if err := f.notifier.SendAlert(ctx, &conv, reason); err != nil {
			metrics.NotifierFailures.WithLabelValues("alert").Inc()
			f.logger.Warn("alert delivery failed", zap.String("conversation_id", conv.ID), zap.Error(err))
		}
	}()
}

// Wait blocks until background deliveries finish.
func (f *Fanout) Wait() {
	f.wg.Wait()
}
