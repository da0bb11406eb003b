// Package fanout delivers conversation change events to viewers and sends
// transcripts and alerts through the outbound notifier.
package fanout

import (
	"sync"

	"go.uber.org/zap"

	"github.com/capitalize-ai/livechat-router/internal/model"
	"github.com/capitalize-ai/livechat-router/pkg/logger"
	"github.com/capitalize-ai/livechat-router/pkg/metrics"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// Filter narrows a subscription. An empty ConversationID receives every event.
type Filter struct {
	ConversationID string
}

func (f Filter) matches(ev *model.ChangeEvent) bool {
	return f.ConversationID == "" || f.ConversationID == ev.ConversationID
}

// Subscription is one viewer's event stream. The channel is closed when the
// subscription is cancelled or when the viewer falls behind; a closed
// channel means the viewer must reload and subscribe again.
type Subscription struct {
	id     uint64
	filter Filter
	ch     chan model.ChangeEvent
	hub    *Hub
}

// Events returns the event channel.
func (s *Subscription) Events() <-chan model.ChangeEvent {
	return s.ch
}

// Close cancels the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s.id)
}

// Hub is the in-process publish/subscribe point keyed by conversation id.
type Hub struct {
	buffer int
	logger *logger.Logger

	mu   sync.Mutex
	next uint64
	subs map[uint64]*Subscription
}

// NewHub creates a hub. A non-positive buffer uses DefaultBuffer.
func NewHub(buffer int, log *logger.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		buffer: buffer,
		logger: log,
		subs:   make(map[uint64]*Subscription),
	}
}

// Subscribe registers a viewer.
func (h *Hub) Subscribe(filter Filter) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.next++
	sub := &Subscription{
		id:     h.next,
		filter: filter,
		ch:     make(chan model.ChangeEvent, h.buffer),
		hub:    h,
	}
	h.subs[sub.id] = sub
	return sub
}

// Publish delivers ev to every matching subscriber without blocking.
func (h *Hub) Publish(ev model.ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, sub := range h.subs {
		if !sub.filter.matches(&ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			delete(h.subs, id)
			close(sub.ch)
			metrics.SubscribersDropped.Inc()
			h.logger.Warn("subscriber fell behind, closing",
				zap.Uint64("subscriber", id),
				zap.String("filter", sub.filter.ConversationID),
			)
		}
	}
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
	}
}
