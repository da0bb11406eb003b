package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/livechat-router/internal/fanout"
	"github.com/capitalize-ai/livechat-router/internal/middleware"
	"github.com/capitalize-ai/livechat-router/internal/model"
	"github.com/capitalize-ai/livechat-router/internal/router"
	"github.com/capitalize-ai/livechat-router/pkg/logger"
	"github.com/capitalize-ai/livechat-router/pkg/metrics"
)

const replayBatch = 100

// Replayer returns persisted change events after a stream sequence.
type Replayer interface {
	GetEvents(ctx context.Context, conversationID string, afterSequence uint64, limit int) ([]model.ChangeEvent, error)
}

// StreamHandler handles SSE streaming endpoints.
type StreamHandler struct {
	router    *router.Router
	replayer  Replayer
	heartbeat time.Duration
	logger    *logger.Logger
}

// NewStreamHandler creates a new stream handler. replayer may be nil, in
// which case after_sequence is ignored.
func NewStreamHandler(rt *router.Router, replayer Replayer, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		router:    rt,
		replayer:  replayer,
		heartbeat: 30 * time.Second,
		logger:    log,
	}
}

// ReplayCompleteEvent marks the end of the replayed backlog.
type ReplayCompleteEvent struct {
	LastSequence uint64 `json:"last_sequence"`
	EventCount   int    `json:"event_count"`
}

// Events handles GET /api/v1/events
// Supports ?conversation_id=ID to narrow the stream and ?after_sequence=N to
// resume after a reconnect.
func (h *StreamHandler) Events(w http.ResponseWriter, r *http.Request) {
	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID != "" {
		if err := middleware.ValidateConversationID(conversationID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	h.serve(w, r, conversationID)
}

// WidgetStream handles GET /widget/conversations/{id}/stream
func (h *StreamHandler) WidgetStream(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if !widgetAllowed(w, r, conversationID) {
		return
	}
	if _, err := h.router.GetConversation(r.Context(), conversationID); err != nil {
		writeServiceError(w, h.logger, "failed to load conversation", err)
		return
	}
	h.serve(w, r, conversationID)
}

func (h *StreamHandler) serve(w http.ResponseWriter, r *http.Request, conversationID string) {
	ctx := r.Context()

	var afterSequence uint64
	if seqStr := r.URL.Query().Get("after_sequence"); seqStr != "" {
		if seq, err := strconv.ParseUint(seqStr, 10, 64); err == nil {
			afterSequence = seq
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	// Subscribe before replaying so nothing published during the replay is lost.
	sub := h.router.Subscribe(fanout.Filter{ConversationID: conversationID})
	defer sub.Close()

	sendSSEEvent(w, flusher, "connected", map[string]string{
		"conversation_id": conversationID,
	})

	lastSequence := afterSequence
	replayed := 0
	if afterSequence > 0 && h.replayer != nil {
		lastSequence, replayed = h.replay(ctx, w, flusher, conversationID, afterSequence)
	}
	sendSSEEvent(w, flusher, "replay_complete", &ReplayCompleteEvent{
		LastSequence: lastSequence,
		EventCount:   replayed,
	})

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("conversation_id", conversationID))
			return

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{
				Timestamp: time.Now(),
			})

		case ev, ok := <-sub.Events():
			if !ok {
				sendSSEEvent(w, flusher, "reset", &model.ErrorEvent{
					Code:    "subscriber_dropped",
					Message: "stream fell behind; reload and reconnect",
				})
				return
			}
			if ev.Sequence != 0 && ev.Sequence <= lastSequence {
				continue
			}
			sendSSEEvent(w, flusher, "change", ev)
		}
	}
}

func (h *StreamHandler) replay(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, conversationID string, after uint64) (uint64, int) {
	last, total := after, 0
	for {
		events, err := h.replayer.GetEvents(ctx, conversationID, last, replayBatch)
		if err != nil {
			h.logger.Warn("failed to replay events", zap.String("conversation_id", conversationID), zap.Error(err))
			sendSSEEvent(w, flusher, "error", &model.ErrorEvent{
				Code:    "replay_error",
				Message: "Failed to replay events",
			})
			return last, total
		}

		for _, ev := range events {
			if ctx.Err() != nil {
				return last, total
			}
			sendSSEEvent(w, flusher, "change", ev)
			if ev.Sequence > last {
				last = ev.Sequence
			}
			total++
		}
		if len(events) < replayBatch {
			return last, total
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
