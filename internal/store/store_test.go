package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/capitalize-ai/livechat-router/internal/model"
	"github.com/capitalize-ai/livechat-router/pkg/logger"
)

// newTestStore creates an in-memory SQLite store with a controllable clock.
func newTestStore(t *testing.T) (*SQLStore, *fakeClock) {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, ":memory:", logger.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	clock := &fakeClock{now: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
	s.now = clock.Now
	return s, clock
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func createConversation(t *testing.T, s *SQLStore, id string) *model.Conversation {
	t.Helper()
	now := s.now()
	c := &model.Conversation{
		ID:        id,
		Customer:  model.Customer{Name: "Budi", Phone: "6281234567890", Company: "PT Maju"},
		Channel:   model.ChannelWebsite,
		Status:    model.StatusUnassigned,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.CreateConversation(context.Background(), c); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	return c
}

func appendText(t *testing.T, s *SQLStore, convID string, sender model.SenderType, body string) *model.Message {
	t.Helper()
	source := model.SourceCustomer
	switch sender {
	case model.SenderAgent:
		source = model.SourceAgent
	case model.SenderSystem:
		source = model.SourceAutoReply
	}
	m, err := s.AppendMessage(context.Background(), &model.Message{
		ConversationID: convID,
		SenderType:     sender,
		Source:         source,
		Body:           body,
	})
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	return m
}

// ─── Conversations ────────────────────────────────────────────────────────────

func TestCreateConversation_RoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	createConversation(t, s, "c1")

	got, err := s.GetConversation(context.Background(), "c1")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.Customer.Name != "Budi" || got.Customer.Company != "PT Maju" {
		t.Errorf("unexpected customer: %+v", got.Customer)
	}
	if got.Status != model.StatusUnassigned {
		t.Errorf("expected unassigned, got %s", got.Status)
	}
	if got.AssignedAgentID != nil {
		t.Errorf("expected no assigned agent, got %v", *got.AssignedAgentID)
	}
	if got.LastMessageAt != nil || got.MessageCount != 0 {
		t.Errorf("expected empty message cache, got %+v", got)
	}
}

func TestCreateConversation_RequiresName(t *testing.T) {
	s, _ := newTestStore(t)

	err := s.CreateConversation(context.Background(), &model.Conversation{ID: "c1", Channel: model.ChannelWebsite, Status: model.StatusUnassigned})
	if !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := s.GetConversation(context.Background(), "c1"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("nothing must be written on validation failure, got %v", err)
	}
}

func TestGetConversation_NotFound(t *testing.T) {
	s, _ := newTestStore(t)

	if _, err := s.GetConversation(context.Background(), "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFindOpenConversation(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	c := &model.Conversation{
		ID: "wa1", Customer: model.Customer{Name: "Sari"}, Channel: model.ChannelWhatsApp,
		ExternalID: "6281111", Status: model.StatusUnassigned, CreatedAt: clock.Now(), UpdatedAt: clock.Now(),
	}
	if err := s.CreateConversation(ctx, c); err != nil {
		t.Fatal(err)
	}

	got, err := s.FindOpenConversation(ctx, model.ChannelWhatsApp, "6281111")
	if err != nil {
		t.Fatalf("FindOpenConversation: %v", err)
	}
	if got.ID != "wa1" {
		t.Errorf("expected wa1, got %s", got.ID)
	}

	if _, err := s.UpdateStatus(ctx, "wa1", model.StatusClosed); err != nil {
		t.Fatal(err)
	}
	if _, err := s.FindOpenConversation(ctx, model.ChannelWhatsApp, "6281111"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("closed conversations must not be found, got %v", err)
	}
}

func TestListConversations_OrderAndFilter(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	createConversation(t, s, "old")
	clock.Advance(time.Minute)
	createConversation(t, s, "mid")
	clock.Advance(time.Minute)
	createConversation(t, s, "new")
	clock.Advance(time.Minute)

	// A fresh message moves "old" to the top.
	appendText(t, s, "old", model.SenderCustomer, "masih ada?")

	convs, err := s.ListConversations(ctx, model.ConversationFilter{})
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	var ids []string
	for _, c := range convs {
		ids = append(ids, c.ID)
	}
	if fmt.Sprint(ids) != "[old new mid]" {
		t.Errorf("unexpected order: %v", ids)
	}

	if err := s.SetNeedsHuman(ctx, "mid", true); err != nil {
		t.Fatal(err)
	}
	flag := true
	convs, err = s.ListConversations(ctx, model.ConversationFilter{NeedsHuman: &flag})
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 || convs[0].ID != "mid" {
		t.Errorf("expected only mid, got %v", convs)
	}

	convs, err = s.ListConversations(ctx, model.ConversationFilter{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 2 {
		t.Errorf("expected limit 2, got %d", len(convs))
	}
}

// ─── Messages ─────────────────────────────────────────────────────────────────

func TestAppendMessage_UpdatesCache(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	createConversation(t, s, "c1")

	first := appendText(t, s, "c1", model.SenderCustomer, "Halo, saya mau tanya harga")
	clock.Advance(time.Second)
	second := appendText(t, s, "c1", model.SenderSystem, "Terima kasih, agen kami segera membalas")

	if first.Seq != 1 || second.Seq != 2 {
		t.Errorf("expected seq 1,2 got %d,%d", first.Seq, second.Seq)
	}

	c, err := s.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if c.LastMessageText != second.Body {
		t.Errorf("cache text: expected %q, got %q", second.Body, c.LastMessageText)
	}
	if c.LastMessageAt == nil || !c.LastMessageAt.Equal(second.CreatedAt) {
		t.Errorf("cache time: expected %v, got %v", second.CreatedAt, c.LastMessageAt)
	}
	if c.LastSenderType != model.SenderSystem {
		t.Errorf("expected last sender system, got %s", c.LastSenderType)
	}
	if c.MessageCount != 2 {
		t.Errorf("expected message_count 2, got %d", c.MessageCount)
	}
	if c.UnreadCount != 1 {
		t.Errorf("only customer messages count as unread, got %d", c.UnreadCount)
	}
}

func TestAppendMessage_ClampsCreatedAt(t *testing.T) {
	s, clock := newTestStore(t)
	createConversation(t, s, "c1")

	first := appendText(t, s, "c1", model.SenderCustomer, "pertama")

	early, err := s.AppendMessage(context.Background(), &model.Message{
		ConversationID: "c1",
		SenderType:     model.SenderAgent,
		Source:         model.SourceAgent,
		Body:           "kedua",
		CreatedAt:      clock.Now().Add(-time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
	if early.CreatedAt.Before(first.CreatedAt) {
		t.Errorf("created_at went backwards: %v < %v", early.CreatedAt, first.CreatedAt)
	}

	msgs, err := s.GetMessages(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Body != "pertama" || msgs[1].Body != "kedua" {
		t.Errorf("unexpected order: %+v", msgs)
	}
}

func TestAppendMessage_UnknownConversation(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.AppendMessage(context.Background(), &model.Message{
		ConversationID: "missing", SenderType: model.SenderCustomer, Source: model.SourceCustomer, Body: "halo",
	})
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendMessage_EmptyBody(t *testing.T) {
	s, _ := newTestStore(t)
	createConversation(t, s, "c1")

	_, err := s.AppendMessage(context.Background(), &model.Message{
		ConversationID: "c1", SenderType: model.SenderCustomer, Source: model.SourceCustomer, Body: "  ",
	})
	if !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestAppendMessage_AIMetadata(t *testing.T) {
	s, _ := newTestStore(t)
	createConversation(t, s, "c1")

	name, in, out, latency := "claude-3-5-sonnet", 12, 34, int64(850)
	_, err := s.AppendMessage(context.Background(), &model.Message{
		ConversationID: "c1", SenderType: model.SenderSystem, Source: model.SourceAI, Body: "Harga paket mulai 99rb",
		Model: &name, TokensIn: &in, TokensOut: &out, LatencyMs: &latency,
	})
	if err != nil {
		t.Fatal(err)
	}

	msgs, err := s.GetMessages(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	m := msgs[0]
	if m.Model == nil || *m.Model != name || m.TokensOut == nil || *m.TokensOut != out || m.LatencyMs == nil || *m.LatencyMs != latency {
		t.Errorf("AI metadata not preserved: %+v", m)
	}
}

func TestGetMessages_NotFound(t *testing.T) {
	s, _ := newTestStore(t)

	if _, err := s.GetMessages(context.Background(), "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMessageExistsByExternalID(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	createConversation(t, s, "c1")

	if _, err := s.AppendMessage(ctx, &model.Message{
		ConversationID: "c1", ExternalID: "wamid.ABC", SenderType: model.SenderCustomer, Source: model.SourceCustomer, Body: "halo",
	}); err != nil {
		t.Fatal(err)
	}

	ok, err := s.MessageExistsByExternalID(ctx, "wamid.ABC")
	if err != nil || !ok {
		t.Errorf("expected existing message, got %v %v", ok, err)
	}
	ok, err = s.MessageExistsByExternalID(ctx, "wamid.XYZ")
	if err != nil || ok {
		t.Errorf("expected no message, got %v %v", ok, err)
	}
}

func TestMarkRead(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	createConversation(t, s, "c1")
	appendText(t, s, "c1", model.SenderCustomer, "satu")
	appendText(t, s, "c1", model.SenderCustomer, "dua")

	if err := s.MarkRead(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	c, _ := s.GetConversation(ctx, "c1")
	if c.UnreadCount != 0 {
		t.Errorf("expected 0 unread, got %d", c.UnreadCount)
	}
	if err := s.MarkRead(ctx, "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// ─── Status and assignment ────────────────────────────────────────────────────

func TestUpdateStatus_Lifecycle(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	createConversation(t, s, "c1")

	clock.Advance(time.Minute)
	c, err := s.UpdateStatus(ctx, "c1", model.StatusActive)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if c.StartedAt == nil || !c.StartedAt.Equal(clock.Now()) {
		t.Errorf("expected started_at %v, got %v", clock.Now(), c.StartedAt)
	}

	if _, err := s.UpdateStatus(ctx, "c1", model.StatusPending); err != nil {
		t.Fatalf("pending: %v", err)
	}
	clock.Advance(time.Minute)
	c, err = s.UpdateStatus(ctx, "c1", model.StatusActive)
	if err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if !c.StartedAt.Equal(clock.Now().Add(-time.Minute)) {
		t.Errorf("started_at must be kept from the first activation, got %v", c.StartedAt)
	}

	c, err = s.UpdateStatus(ctx, "c1", model.StatusClosed)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if c.EndedAt == nil {
		t.Error("expected ended_at on close")
	}

	for _, next := range []model.Status{model.StatusActive, model.StatusPending, model.StatusUnassigned, model.StatusClosed} {
		if _, err := s.UpdateStatus(ctx, "c1", next); !errors.Is(err, model.ErrClosed) {
			t.Errorf("closed -> %s: expected ErrClosed, got %v", next, err)
		}
	}
}

func TestUpdateStatus_InvalidTransition(t *testing.T) {
	s, _ := newTestStore(t)
	createConversation(t, s, "c1")

	if _, err := s.UpdateStatus(context.Background(), "c1", model.StatusPending); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("unassigned -> pending: expected ErrInvalidTransition, got %v", err)
	}
}

func TestAssignAgent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	createConversation(t, s, "c1")

	if err := s.CreateAgent(ctx, &model.Agent{ID: "a1", Name: "Rina", Active: true}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateAgent(ctx, &model.Agent{ID: "a2", Name: "Dewi", Active: false}); err != nil {
		t.Fatal(err)
	}

	if _, err := s.AssignAgent(ctx, "c1", "a2"); !errors.Is(err, model.ErrAgentUnavailable) {
		t.Errorf("inactive agent: expected ErrAgentUnavailable, got %v", err)
	}
	if _, err := s.AssignAgent(ctx, "c1", "nobody"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("unknown agent: expected ErrNotFound, got %v", err)
	}

	c, err := s.AssignAgent(ctx, "c1", "a1")
	if err != nil {
		t.Fatalf("AssignAgent: %v", err)
	}
	if c.Status != model.StatusActive || c.Handler != model.HandlerAgent {
		t.Errorf("expected active/agent, got %s/%s", c.Status, c.Handler)
	}
	if c.AssignedAgentID == nil || *c.AssignedAgentID != "a1" {
		t.Errorf("expected a1 assigned, got %v", c.AssignedAgentID)
	}

	n, err := s.CountOpenAssignments(ctx, "a1")
	if err != nil || n != 1 {
		t.Errorf("expected 1 open assignment, got %d %v", n, err)
	}

	if _, err := s.UpdateStatus(ctx, "c1", model.StatusClosed); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AssignAgent(ctx, "c1", "a1"); !errors.Is(err, model.ErrClosed) {
		t.Errorf("closed conversation: expected ErrClosed, got %v", err)
	}
	if n, _ := s.CountOpenAssignments(ctx, "a1"); n != 0 {
		t.Errorf("closed conversations must not count, got %d", n)
	}
}

func TestGuardedUpdates(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	createConversation(t, s, "c1")

	if err := s.SetHandler(ctx, "c1", model.HandlerAI); err != nil {
		t.Fatal(err)
	}
	if err := s.SetNeedsHuman(ctx, "c1", true); err != nil {
		t.Fatal(err)
	}
	// Setting the same value again is not an error.
	if err := s.SetNeedsHuman(ctx, "c1", true); err != nil {
		t.Fatal(err)
	}

	c, _ := s.GetConversation(ctx, "c1")
	if c.Handler != model.HandlerAI || !c.NeedsHuman {
		t.Errorf("unexpected conversation: %+v", c)
	}

	if err := s.SetNeedsHuman(ctx, "missing", true); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if _, err := s.UpdateStatus(ctx, "c1", model.StatusClosed); err != nil {
		t.Fatal(err)
	}
	if err := s.SetHandler(ctx, "c1", model.HandlerAgent); !errors.Is(err, model.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestListAwaitingHuman(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	if err := s.CreateAgent(ctx, &model.Agent{ID: "a1", Name: "Rina", Active: true}); err != nil {
		t.Fatal(err)
	}

	createConversation(t, s, "waiting")
	createConversation(t, s, "answered")
	createConversation(t, s, "ai")
	for _, id := range []string{"waiting", "answered"} {
		if _, err := s.AssignAgent(ctx, id, "a1"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.UpdateStatus(ctx, "ai", model.StatusActive); err != nil {
		t.Fatal(err)
	}
	if err := s.SetHandler(ctx, "ai", model.HandlerAI); err != nil {
		t.Fatal(err)
	}

	appendText(t, s, "waiting", model.SenderCustomer, "halo?")
	appendText(t, s, "answered", model.SenderCustomer, "halo?")
	appendText(t, s, "answered", model.SenderAgent, "ya, ada yang bisa dibantu?")
	appendText(t, s, "ai", model.SenderCustomer, "halo?")

	clock.Advance(10 * time.Minute)
	convs, err := s.ListAwaitingHuman(ctx, clock.Now().Add(-5*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 || convs[0].ID != "waiting" {
		t.Errorf("expected only waiting, got %+v", convs)
	}
}

// ─── Agents and settings ──────────────────────────────────────────────────────

func TestAgents(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, a := range []*model.Agent{{ID: "a1", Name: "Rina", Active: true}, {ID: "a2", Name: "Andi", Active: false}} {
		if err := s.CreateAgent(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.ListAgents(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].Name != "Andi" {
		t.Errorf("expected 2 agents ordered by name, got %+v", all)
	}

	active, err := s.ListAgents(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].ID != "a1" {
		t.Errorf("expected only a1 active, got %+v", active)
	}

	if err := s.SetAgentActive(ctx, "a2", true); err != nil {
		t.Fatal(err)
	}
	a, err := s.GetAgent(ctx, "a2")
	if err != nil || !a.Active {
		t.Errorf("expected a2 active, got %+v %v", a, err)
	}
	if err := s.SetAgentActive(ctx, "missing", true); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSettings(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetSetting(ctx, "routing"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.PutSetting(ctx, "routing", []byte(`{"mode":"human"}`)); err != nil {
		t.Fatal(err)
	}
	if err := s.PutSetting(ctx, "routing", []byte(`{"mode":"ai"}`)); err != nil {
		t.Fatal(err)
	}
	v, err := s.GetSetting(ctx, "routing")
	if err != nil {
		t.Fatal(err)
	}
	if string(v) != `{"mode":"ai"}` {
		t.Errorf("expected overwritten value, got %s", v)
	}
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{dialect: dialects[DriverPostgres]}
	if got := pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"); got != "SELECT a FROM t WHERE x = $1 AND y = $2" {
		t.Errorf("postgres rebind: %s", got)
	}

	my := &SQLStore{dialect: dialects[DriverMySQL]}
	if got := my.rebind("x = ?"); got != "x = ?" {
		t.Errorf("mysql rebind: %s", got)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "oracle", "dsn", logger.NewNop()); err == nil {
		t.Error("expected error for unsupported driver")
	}
}
