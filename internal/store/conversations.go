package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/capitalize-ai/livechat-router/internal/model"
)

const conversationColumns = `id, customer_name, customer_phone, customer_email, customer_company,
channel, external_id, status, assigned_agent_id, handler, needs_human,
unread_count, message_count, last_message_text, last_message_at, last_sender_type,
created_at, started_at, ended_at, updated_at`

func scanConversation(row scanner) (*model.Conversation, error) {
	var (
		c                          model.Conversation
		assigned, lastText, sender sql.NullString
		lastAt, startedAt, endedAt sql.NullInt64
		createdAt, updatedAt       int64
	)

	err := row.Scan(
		&c.ID, &c.Customer.Name, &c.Customer.Phone, &c.Customer.Email, &c.Customer.Company,
		&c.Channel, &c.ExternalID, &c.Status, &assigned, &c.Handler, &c.NeedsHuman,
		&c.UnreadCount, &c.MessageCount, &lastText, &lastAt, &sender,
		&createdAt, &startedAt, &endedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if assigned.Valid && assigned.String != "" {
		id := assigned.String
		c.AssignedAgentID = &id
	}
	c.LastMessageText = lastText.String
	c.LastSenderType = model.SenderType(sender.String)
	c.LastMessageAt = nullTime(lastAt)
	c.CreatedAt = fromNanos(createdAt)
	c.StartedAt = nullTime(startedAt)
	c.EndedAt = nullTime(endedAt)
	c.UpdatedAt = fromNanos(updatedAt)

	return &c, nil
}

// CreateConversation inserts a new conversation row.
func (s *SQLStore) CreateConversation(ctx context.Context, c *model.Conversation) error {
	if err := c.Customer.Validate(); err != nil {
		return err
	}
	if !c.Channel.Valid() {
		return model.ValidationError(fmt.Sprintf("unknown channel %q", c.Channel))
	}

	var assigned sql.NullString
	if c.AssignedAgentID != nil {
		assigned = sql.NullString{String: *c.AssignedAgentID, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO conversations (
id, customer_name, customer_phone, customer_email, customer_company,
channel, external_id, status, assigned_agent_id, handler, needs_human,
unread_count, message_count, created_at, started_at, ended_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?, ?, ?)`),
		c.ID, c.Customer.Name, c.Customer.Phone, c.Customer.Email, c.Customer.Company,
		string(c.Channel), c.ExternalID, string(c.Status), assigned, string(c.Handler), c.NeedsHuman,
		toNanos(c.CreatedAt), nullNanos(c.StartedAt), nullNanos(c.EndedAt), toNanos(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return nil
}

// GetConversation retrieves a conversation by id.
func (s *SQLStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	return s.getConversation(ctx, s.db, id, "")
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) getConversation(ctx context.Context, q queryer, id, suffix string) (*model.Conversation, error) {
	row := q.QueryRowContext(ctx, s.rebind(`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`+suffix), id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return c, nil
}

// FindOpenConversation returns the newest non-closed conversation for a channel contact.
func (s *SQLStore) FindOpenConversation(ctx context.Context, channel model.Channel, externalID string) (*model.Conversation, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+conversationColumns+` FROM conversations
WHERE channel = ? AND external_id = ? AND status <> ?
ORDER BY created_at DESC LIMIT 1`), string(channel), externalID, string(model.StatusClosed))

	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("open conversation for %s/%s: %w", channel, externalID, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find conversation: %w", err)
	}
	return c, nil
}

// ListConversations returns conversations matching filter, most recent activity first.
func (s *SQLStore) ListConversations(ctx context.Context, filter model.ConversationFilter) ([]model.Conversation, error) {
	var (
		where []string
		args  []any
	)
	if filter.Channel != "" {
		where = append(where, "channel = ?")
		args = append(args, string(filter.Channel))
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.NeedsHuman != nil {
		where = append(where, "needs_human = ?")
		args = append(args, *filter.NeedsHuman)
	}
	if filter.AgentID != "" {
		where = append(where, "assigned_agent_id = ?")
		args = append(args, filter.AgentID)
	}

	query := `SELECT ` + conversationColumns + ` FROM conversations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY COALESCE(last_message_at, created_at) DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	convs := []model.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		convs = append(convs, *c)
	}
	return convs, rows.Err()
}

// ListAwaitingHuman returns active conversations handled by a human whose
// newest message is a customer message older than before.
func (s *SQLStore) ListAwaitingHuman(ctx context.Context, before time.Time) ([]model.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+conversationColumns+` FROM conversations
WHERE status = ? AND (handler = ? OR needs_human = ?) AND last_sender_type = ? AND last_message_at < ?
ORDER BY last_message_at ASC`),
		string(model.StatusActive), string(model.HandlerAgent), true, string(model.SenderCustomer), toNanos(before),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list awaiting conversations: %w", err)
	}
	defer rows.Close()

	var convs []model.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		convs = append(convs, *c)
	}
	return convs, rows.Err()
}

// UpdateStatus moves a conversation through the state machine. Setting the
// current status again is a no-op; any change out of closed fails with ErrClosed.
func (s *SQLStore) UpdateStatus(ctx context.Context, id string, status model.Status) (*model.Conversation, error) {
	if !status.Valid() {
		return nil, model.ValidationError(fmt.Sprintf("unknown status %q", status))
	}

	var updated *model.Conversation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		c, err := s.getConversation(ctx, tx, id, s.dialect.forUpdate)
		if err != nil {
			return err
		}
		if c.IsClosed() {
			return fmt.Errorf("conversation %s: %w", id, model.ErrClosed)
		}
		if c.Status == status {
			updated = c
			return nil
		}
		if !c.Status.CanTransition(status) {
			return fmt.Errorf("%s -> %s: %w", c.Status, status, model.ErrInvalidTransition)
		}

		now := s.now().UTC()
		startedAt := nullNanos(c.StartedAt)
		if status == model.StatusActive && !startedAt.Valid {
			startedAt = sql.NullInt64{Int64: toNanos(now), Valid: true}
		}
		var endedAt sql.NullInt64
		if status == model.StatusClosed {
			endedAt = sql.NullInt64{Int64: toNanos(now), Valid: true}
		}

		if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE conversations
SET status = ?, started_at = ?, ended_at = ?, updated_at = ? WHERE id = ?`),
			string(status), startedAt, endedAt, toNanos(now), id,
		); err != nil {
			return fmt.Errorf("failed to update status: %w", err)
		}

		updated, err = s.getConversation(ctx, tx, id, "")
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// AssignAgent assigns an active agent and activates the conversation.
func (s *SQLStore) AssignAgent(ctx context.Context, id, agentID string) (*model.Conversation, error) {
	var updated *model.Conversation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		agent, err := s.getAgent(ctx, tx, agentID)
		if err != nil {
			return err
		}
		if !agent.Active {
			return fmt.Errorf("agent %s: %w", agentID, model.ErrAgentUnavailable)
		}

		c, err := s.getConversation(ctx, tx, id, s.dialect.forUpdate)
		if err != nil {
			return err
		}
		if c.IsClosed() {
			return fmt.Errorf("conversation %s: %w", id, model.ErrClosed)
		}

		now := s.now().UTC()
		startedAt := nullNanos(c.StartedAt)
		if !startedAt.Valid {
			startedAt = sql.NullInt64{Int64: toNanos(now), Valid: true}
		}

		if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE conversations
SET assigned_agent_id = ?, handler = ?, status = ?, started_at = ?, updated_at = ? WHERE id = ?`),
			agentID, string(model.HandlerAgent), string(model.StatusActive), startedAt, toNanos(now), id,
		); err != nil {
			return fmt.Errorf("failed to assign agent: %w", err)
		}

		updated, err = s.getConversation(ctx, tx, id, "")
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SetNeedsHuman flags or clears the human-takeover marker.
func (s *SQLStore) SetNeedsHuman(ctx context.Context, id string, needsHuman bool) error {
	return s.guardedUpdate(ctx, id, `needs_human = ?`, needsHuman)
}

// SetHandler records who is answering the conversation.
func (s *SQLStore) SetHandler(ctx context.Context, id string, handler model.Handler) error {
	return s.guardedUpdate(ctx, id, `handler = ?`, string(handler))
}

// guardedUpdate applies set to a non-closed conversation. updated_at always
// changes so drivers reporting changed rows never see zero for a live row.
func (s *SQLStore) guardedUpdate(ctx context.Context, id, set string, args ...any) error {
	args = append(args, toNanos(s.now().UTC()), id, string(model.StatusClosed))
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE conversations SET `+set+`, updated_at = ? WHERE id = ? AND status <> ?`), args...)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n > 0 {
		return nil
	}

	if _, err := s.GetConversation(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("conversation %s: %w", id, model.ErrClosed)
}

// MarkRead resets the unread counter.
func (s *SQLStore) MarkRead(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE conversations SET unread_count = 0, updated_at = ? WHERE id = ?`),
		toNanos(s.now().UTC()), id)
	if err != nil {
		return fmt.Errorf("failed to mark read: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", id, model.ErrNotFound)
	}
	return nil
}
