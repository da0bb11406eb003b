package fanout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/capitalize-ai/livechat-router/internal/model"
	"github.com/capitalize-ai/livechat-router/pkg/logger"
)

type recordingNotifier struct {
	mu          sync.Mutex
	transcripts []*model.Transcript
	alerts      []string
	err         error
}

func (n *recordingNotifier) SendTranscript(ctx context.Context, t *model.Transcript) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.transcripts = append(n.transcripts, t)
	return n.err
}

func (n *recordingNotifier) SendAlert(ctx context.Context, conv *model.Conversation, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, conv.ID+":"+reason)
	return n.err
}

type seqBridge struct {
	mu  sync.Mutex
	seq uint64
	err error
}

func (b *seqBridge) PublishEvent(ctx context.Context, ev *model.ChangeEvent) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return 0, b.err
	}
	b.seq++
	return b.seq, nil
}

// stallBridge never answers until its context ends.
type stallBridge struct{}

func (stallBridge) PublishEvent(ctx context.Context, ev *model.ChangeEvent) (uint64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

// hangBridge ignores its context and blocks until released.
type hangBridge struct{ release chan struct{} }

func (b hangBridge) PublishEvent(ctx context.Context, ev *model.ChangeEvent) (uint64, error) {
	<-b.release
	ev.Sequence = 99
	return 99, nil
}

func receive(t *testing.T, sub *Subscription) model.ChangeEvent {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return model.ChangeEvent{}
}

func TestHub_Filter(t *testing.T) {
	hub := NewHub(4, logger.NewNop())
	all := hub.Subscribe(Filter{})
	one := hub.Subscribe(Filter{ConversationID: "c1"})

	hub.Publish(model.ChangeEvent{ConversationID: "c2", Type: model.EventMessageCreated})
	hub.Publish(model.ChangeEvent{ConversationID: "c1", Type: model.EventMessageCreated})

	if ev := receive(t, all); ev.ConversationID != "c2" {
		t.Errorf("expected c2 first, got %s", ev.ConversationID)
	}
	if ev := receive(t, all); ev.ConversationID != "c1" {
		t.Errorf("expected c1 second, got %s", ev.ConversationID)
	}
	if ev := receive(t, one); ev.ConversationID != "c1" {
		t.Errorf("filtered subscriber got %s", ev.ConversationID)
	}
	select {
	case ev := <-one.Events():
		t.Errorf("filtered subscriber received extra event %+v", ev)
	default:
	}
}

func TestHub_OverflowClosesSubscriber(t *testing.T) {
	hub := NewHub(2, logger.NewNop())
	slow := hub.Subscribe(Filter{})
	fast := hub.Subscribe(Filter{})

	for i := 0; i < 3; i++ {
		hub.Publish(model.ChangeEvent{ConversationID: "c1"})
		<-fast.Events()
	}

	// The two buffered events drain, then the channel reports closed.
	<-slow.Events()
	<-slow.Events()
	if _, ok := <-slow.Events(); ok {
		t.Error("expected slow subscriber to be closed")
	}
	if hub.Count() != 1 {
		t.Errorf("expected 1 live subscriber, got %d", hub.Count())
	}

	// Closing an already-dropped subscription is harmless.
	slow.Close()
	fast.Close()
	fast.Close()
	if hub.Count() != 0 {
		t.Errorf("expected 0 subscribers, got %d", hub.Count())
	}
}

func TestFanout_PublishStampsEvent(t *testing.T) {
	bridge := &seqBridge{}
	f := New(NewHub(4, logger.NewNop()), logger.NewNop(), WithBridge(bridge), WithOrigin("node-a"))
	sub := f.Subscribe(Filter{})

	f.Publish(context.Background(), model.ChangeEvent{ConversationID: "c1", Type: model.EventConversationCreated})

	ev := receive(t, sub)
	if ev.ID == "" || ev.CreatedAt.IsZero() {
		t.Errorf("event not stamped: %+v", ev)
	}
	if ev.Sequence != 1 || ev.Origin != "node-a" {
		t.Errorf("expected sequence 1 from node-a, got %d %s", ev.Sequence, ev.Origin)
	}
}

func TestFanout_BridgeFailureStillDeliversLocally(t *testing.T) {
	f := New(NewHub(4, logger.NewNop()), logger.NewNop(), WithBridge(&seqBridge{err: errors.New("nats down")}))
	sub := f.Subscribe(Filter{})

	f.Publish(context.Background(), model.ChangeEvent{ConversationID: "c1", Type: model.EventMessageCreated})

	if ev := receive(t, sub); ev.Sequence != 0 {
		t.Errorf("expected no sequence, got %d", ev.Sequence)
	}
}

func TestFanout_SlowBridgeDoesNotBlockPublish(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	tests := []struct {
		name   string
		bridge Bridge
	}{
		{"honours context", stallBridge{}},
		{"ignores context", hangBridge{release: release}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(NewHub(4, logger.NewNop()), logger.NewNop(),
				WithBridge(tt.bridge), WithBridgeTimeout(20*time.Millisecond))
			sub := f.Subscribe(Filter{})

			begin := time.Now()
			out := f.Publish(context.Background(), model.ChangeEvent{ConversationID: "c1", Type: model.EventMessageCreated})
			if waited := time.Since(begin); waited > time.Second {
				t.Fatalf("Publish blocked %v on the bridge", waited)
			}
			if out.Sequence != 0 {
				t.Errorf("timed out publish should carry no sequence, got %d", out.Sequence)
			}
			if ev := receive(t, sub); ev.ConversationID != "c1" || ev.Sequence != 0 {
				t.Errorf("unexpected local event: %+v", ev)
			}
		})
	}
}

func TestFanout_DefaultBridgeTimeout(t *testing.T) {
	f := New(NewHub(4, logger.NewNop()), logger.NewNop())
	if f.bridgeTimeout != DefaultBridgeTimeout {
		t.Errorf("expected default %v, got %v", DefaultBridgeTimeout, f.bridgeTimeout)
	}
}

func TestFanout_RelaySkipsOwnEvents(t *testing.T) {
	f := New(NewHub(4, logger.NewNop()), logger.NewNop(), WithOrigin("node-a"))
	sub := f.Subscribe(Filter{})

	f.Relay(model.ChangeEvent{ConversationID: "c1", Origin: "node-a"})
	f.Relay(model.ChangeEvent{ConversationID: "c2", Origin: "node-b"})

	if ev := receive(t, sub); ev.ConversationID != "c2" {
		t.Errorf("expected only the remote event, got %+v", ev)
	}
}

func TestFanout_Transcript(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantType model.EventType
	}{
		{"sent", nil, model.EventTranscriptSent},
		{"failed", errors.New("telegram 502"), model.EventTranscriptFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := &recordingNotifier{err: tt.err}
			f := New(NewHub(4, logger.NewNop()), logger.NewNop(), WithNotifier(notifier))
			sub := f.Subscribe(Filter{ConversationID: "c1"})

			f.DeliverTranscript(&model.Transcript{Conversation: model.Conversation{ID: "c1", Status: model.StatusClosed}})
			f.Wait()

			ev := receive(t, sub)
			if ev.Type != tt.wantType {
				t.Errorf("expected %s, got %s", tt.wantType, ev.Type)
			}
			if len(notifier.transcripts) != 1 {
				t.Errorf("expected 1 transcript sent, got %d", len(notifier.transcripts))
			}
		})
	}
}

func TestFanout_Alert(t *testing.T) {
	notifier := &recordingNotifier{}
	f := New(NewHub(4, logger.NewNop()), logger.NewNop(), WithNotifier(notifier))

	f.Alert(model.Conversation{ID: "c1"}, "refund")
	f.Wait()

	if len(notifier.alerts) != 1 || notifier.alerts[0] != "c1:refund" {
		t.Errorf("unexpected alerts: %v", notifier.alerts)
	}
}

func TestFanout_NoNotifier(t *testing.T) {
	f := New(NewHub(4, logger.NewNop()), logger.NewNop())
	sub := f.Subscribe(Filter{})

	f.DeliverTranscript(&model.Transcript{Conversation: model.Conversation{ID: "c1"}})
	f.Alert(model.Conversation{ID: "c1"}, "refund")
	f.Wait()

	select {
	case ev := <-sub.Events():
		t.Errorf("expected no events without a notifier, got %+v", ev)
	default:
	}
}
