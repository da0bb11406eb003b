package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/capitalize-ai/livechat-router/internal/model"
)

const agentColumns = `id, name, email, active, created_at`

func scanAgent(row scanner) (*model.Agent, error) {
	var (
		a         model.Agent
		createdAt int64
	)
	if err := row.Scan(&a.ID, &a.Name, &a.Email, &a.Active, &createdAt); err != nil {
		return nil, err
	}
	a.CreatedAt = fromNanos(createdAt)
	return &a, nil
}

// CreateAgent registers an agent. An empty id is generated.
func (s *SQLStore) CreateAgent(ctx context.Context, a *model.Agent) error {
	if a.Name == "" {
		return model.ValidationError("agent name is required")
	}
	if a.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate agent id: %w", err)
		}
		a.ID = id.String()
	}
	now := s.now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO agents (id, name, email, active, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)`), a.ID, a.Name, a.Email, a.Active, toNanos(a.CreatedAt), toNanos(now))
	if err != nil {
		return fmt.Errorf("failed to insert agent: %w", err)
	}
	return nil
}

// GetAgent retrieves an agent by id.
func (s *SQLStore) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	return s.getAgent(ctx, s.db, id)
}

func (s *SQLStore) getAgent(ctx context.Context, q queryer, id string) (*model.Agent, error) {
	a, err := scanAgent(q.QueryRowContext(ctx, s.rebind(`SELECT `+agentColumns+` FROM agents WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("agent %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load agent: %w", err)
	}
	return a, nil
}

// ListAgents returns agents ordered by name.
func (s *SQLStore) ListAgents(ctx context.Context, activeOnly bool) ([]model.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents`
	var args []any
	if activeOnly {
		query += ` WHERE active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY name ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	agents := []model.Agent{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

// SetAgentActive toggles whether an agent may be assigned.
func (s *SQLStore) SetAgentActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE agents SET active = ?, updated_at = ? WHERE id = ?`),
		active, toNanos(s.now().UTC()), id)
	if err != nil {
		return fmt.Errorf("failed to update agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("agent %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// CountOpenAssignments returns how many non-closed conversations are assigned to the agent.
func (s *SQLStore) CountOpenAssignments(ctx context.Context, agentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM conversations
WHERE assigned_agent_id = ? AND status <> ?`), agentID, string(model.StatusClosed)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count assignments: %w", err)
	}
	return n, nil
}
