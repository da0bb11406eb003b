package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/capitalize-ai/livechat-router/internal/model"
)

// previewLimit caps the cached last-message text.
const previewLimit = 200

// AppendMessage stores a message and updates the conversation's cached
// counters in one transaction. The stored created_at never precedes the
// previous message of the conversation.
func (s *SQLStore) AppendMessage(ctx context.Context, msg *model.Message) (*model.Message, error) {
	if strings.TrimSpace(msg.Body) == "" {
		return nil, model.ValidationError("message body is required")
	}
	if msg.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("failed to generate message id: %w", err)
		}
		msg.ID = id.String()
	}
	if msg.ContentType == "" {
		msg.ContentType = model.ContentTypeText
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now().UTC()
	}

	stored := *msg
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		conv, err := s.getConversation(ctx, tx, msg.ConversationID, s.dialect.forUpdate)
		if err != nil {
			return err
		}

		if conv.LastMessageAt != nil && stored.CreatedAt.Before(*conv.LastMessageAt) {
			stored.CreatedAt = *conv.LastMessageAt
		}
		stored.Seq = int64(conv.MessageCount) + 1

		var externalID sql.NullString
		if stored.ExternalID != "" {
			externalID = sql.NullString{String: stored.ExternalID, Valid: true}
		}

		if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO messages (
id, conversation_id, seq, external_id, sender_type, sender_name, sender_id, source,
body, content_type, model, tokens_in, tokens_out, latency_ms, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			stored.ID, stored.ConversationID, stored.Seq, externalID,
			string(stored.SenderType), stored.SenderName, stored.SenderID, string(stored.Source),
			stored.Body, stored.ContentType, stored.Model, stored.TokensIn, stored.TokensOut, stored.LatencyMs,
			toNanos(stored.CreatedAt),
		); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}

		unread := 0
		if stored.SenderType == model.SenderCustomer {
			unread = 1
		}

		if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE conversations SET
last_message_text = ?, last_message_at = ?, last_sender_type = ?,
message_count = message_count + 1, unread_count = unread_count + ?, updated_at = ?
WHERE id = ?`),
			preview(stored.Body), toNanos(stored.CreatedAt), string(stored.SenderType),
			unread, toNanos(s.now().UTC()), stored.ConversationID,
		); err != nil {
			return fmt.Errorf("failed to update conversation cache: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

func preview(body string) string {
	r := []rune(body)
	if len(r) <= previewLimit {
		return body
	}
	return string(r[:previewLimit])
}

// GetMessages returns the conversation history ordered by (created_at, seq).
func (s *SQLStore) GetMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT
id, conversation_id, seq, external_id, sender_type, sender_name, sender_id, source,
body, content_type, model, tokens_in, tokens_out, latency_ms, created_at
FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, seq ASC`), conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []model.Message{}
	for rows.Next() {
		var (
			m          model.Message
			externalID sql.NullString
			modelName  sql.NullString
			tokensIn   sql.NullInt64
			tokensOut  sql.NullInt64
			latency    sql.NullInt64
			createdAt  int64
		)
		if err := rows.Scan(
			&m.ID, &m.ConversationID, &m.Seq, &externalID, &m.SenderType, &m.SenderName, &m.SenderID, &m.Source,
			&m.Body, &m.ContentType, &modelName, &tokensIn, &tokensOut, &latency, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		m.ExternalID = externalID.String
		if modelName.Valid {
			v := modelName.String
			m.Model = &v
		}
		if tokensIn.Valid {
			v := int(tokensIn.Int64)
			m.TokensIn = &v
		}
		if tokensOut.Valid {
			v := int(tokensOut.Int64)
			m.TokensOut = &v
		}
		if latency.Valid {
			v := latency.Int64
			m.LatencyMs = &v
		}
		m.CreatedAt = fromNanos(createdAt)

		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// MessageExistsByExternalID reports whether a channel message id was already stored.
func (s *SQLStore) MessageExistsByExternalID(ctx context.Context, externalID string) (bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT id FROM messages WHERE external_id = ? LIMIT 1`), externalID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check message: %w", err)
	}
	return true, nil
}
