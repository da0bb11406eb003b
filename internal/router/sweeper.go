package router

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/livechat-router/internal/model"
)

// Default sweeper timings.
const (
	DefaultPendingAfter  = 5 * time.Minute
	DefaultSweepInterval = 30 * time.Second
)

// Sweep moves human-handled conversations whose newest message is a customer
// message older than pendingAfter from active to pending. It returns how many
// conversations changed.
func (r *Router) Sweep(ctx context.Context, pendingAfter time.Duration) (int, error) {
	if pendingAfter <= 0 {
		pendingAfter = DefaultPendingAfter
	}
	cutoff := r.now().UTC().Add(-pendingAfter)

	candidates, err := r.store.ListAwaitingHuman(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list idle conversations: %w", err)
	}

	var moved atomic.Int64
	for _, c := range candidates {
		id := c.ID
		err := r.dispatcher.Do(ctx, id, func(ctx context.Context) error {
			// Recheck on the worker: a reply may have landed since the listing.
			conv, err := r.store.GetConversation(ctx, id)
			if err != nil {
				return err
			}
			if !awaitingHuman(conv, cutoff) {
				return nil
			}
			if _, err := r.setStatus(ctx, id, model.StatusPending); err != nil {
				return err
			}
			moved.Add(1)
			return nil
		})
		if err != nil {
			if errors.Is(err, ErrDispatcherClosed) || ctx.Err() != nil {
				return int(moved.Load()), err
			}
			r.logger.Conversation(id).Warn("failed to mark conversation pending", zap.Error(err))
		}
	}
	return int(moved.Load()), nil
}

func awaitingHuman(c *model.Conversation, cutoff time.Time) bool {
	return c.Status == model.StatusActive &&
		(c.Handler == model.HandlerAgent || c.NeedsHuman) &&
		c.LastSenderType == model.SenderCustomer &&
		c.LastMessageAt != nil && c.LastMessageAt.Before(cutoff)
}

// RunSweeper sweeps every interval until ctx is done.
func (r *Router) RunSweeper(ctx context.Context, interval, pendingAfter time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("idle sweeper started",
		zap.Duration("interval", interval),
		zap.Duration("pending_after", pendingAfter),
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.Sweep(ctx, pendingAfter)
			if err != nil && ctx.Err() == nil {
				r.logger.Warn("idle sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				r.logger.Info("conversations marked pending", zap.Int("count", n))
			}
		}
	}
}
