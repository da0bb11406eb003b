// Package directory answers questions about agents: who exists, who is
// assignable, who is online and how loaded they are. It makes no routing
// decisions.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ini/ini"
	"go.uber.org/zap"

	"github.com/capitalize-ai/livechat-router/internal/model"
	"github.com/capitalize-ai/livechat-router/pkg/logger"
)

// DefaultPresenceTTL is how long a presence heartbeat keeps an agent online.
const DefaultPresenceTTL = 90 * time.Second

// Store is the agent persistence the directory reads and writes.
type Store interface {
	CreateAgent(ctx context.Context, a *model.Agent) error
	GetAgent(ctx context.Context, id string) (*model.Agent, error)
	ListAgents(ctx context.Context, activeOnly bool) ([]model.Agent, error)
	SetAgentActive(ctx context.Context, id string, active bool) error
	CountOpenAssignments(ctx context.Context, agentID string) (int, error)
}

// Directory tracks agents and their presence.
type Directory struct {
	store  Store
	ttl    time.Duration
	logger *logger.Logger
	now    func() time.Time

	mu   sync.RWMutex
	seen map[string]time.Time
}

// New creates a directory. A non-positive ttl uses DefaultPresenceTTL.
func New(store Store, ttl time.Duration, log *logger.Logger) *Directory {
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	return &Directory{
		store:  store,
		ttl:    ttl,
		logger: log,
		now:    time.Now,
		seen:   make(map[string]time.Time),
	}
}

// Create registers a new agent.
func (d *Directory) Create(ctx context.Context, req model.CreateAgentRequest) (*model.Agent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	a := &model.Agent{
		ID:     strings.TrimSpace(req.ID),
		Name:   strings.TrimSpace(req.Name),
		Email:  strings.TrimSpace(req.Email),
		Active: req.Active == nil || *req.Active,
	}
	if err := d.store.CreateAgent(ctx, a); err != nil {
		return nil, err
	}
	d.logger.Info("agent registered", zap.String("agent_id", a.ID))
	return a, nil
}

// Get returns one agent with its presence attached.
func (d *Directory) Get(ctx context.Context, id string) (*model.Agent, error) {
	a, err := d.store.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	a.Online = d.IsOnline(a.ID)
	return a, nil
}

// SetActive toggles whether an agent can be assigned.
func (d *Directory) SetActive(ctx context.Context, id string, active bool) error {
	return d.store.SetAgentActive(ctx, id, active)
}

// ListAssignable returns active agents with their online flag attached.
func (d *Directory) ListAssignable(ctx context.Context) ([]model.Agent, error) {
	agents, err := d.store.ListAgents(ctx, true)
	if err != nil {
		return nil, err
	}
	for i := range agents {
		agents[i].Online = d.IsOnline(agents[i].ID)
	}
	return agents, nil
}

// Validate returns the agent if it may receive an assignment.
func (d *Directory) Validate(ctx context.Context, agentID string) (*model.Agent, error) {
	a, err := d.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if !a.Active {
		return nil, fmt.Errorf("agent %s: %w", agentID, model.ErrAgentUnavailable)
	}
	return a, nil
}

// SetOnline records a presence heartbeat, or clears it when online is false.
func (d *Directory) SetOnline(ctx context.Context, agentID string, online bool) error {
	if _, err := d.store.GetAgent(ctx, agentID); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if online {
		d.seen[agentID] = d.now()
	} else {
		delete(d.seen, agentID)
	}
	return nil
}

// IsOnline reports whether the agent sent a heartbeat within the TTL.
func (d *Directory) IsOnline(agentID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	last, ok := d.seen[agentID]
	return ok && d.now().Sub(last) < d.ttl
}

func (d *Directory) lastSeen(agentID string) *time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	last, ok := d.seen[agentID]
	if !ok {
		return nil
	}
	return &last
}

// ActiveLoad returns the number of open conversations assigned to the agent.
func (d *Directory) ActiveLoad(ctx context.Context, agentID string) (int, error) {
	return d.store.CountOpenAssignments(ctx, agentID)
}

// Availability returns every agent with presence and load for the console.
func (d *Directory) Availability(ctx context.Context) ([]model.AgentAvailability, error) {
	agents, err := d.store.ListAgents(ctx, false)
	if err != nil {
		return nil, err
	}

	out := make([]model.AgentAvailability, 0, len(agents))
	for _, a := range agents {
		load, err := d.store.CountOpenAssignments(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		a.Online = d.IsOnline(a.ID)
		out = append(out, model.AgentAvailability{
			Agent:    a,
			Load:     load,
			LastSeen: d.lastSeen(a.ID),
		})
	}
	return out, nil
}

// SeedFromINI registers agents listed in an INI file, one section per agent:
//
//	[rina]
//	name   = Rina Wulandari
//	email  = rina@example.com
//	active = true
//
// Agents that already exist are left untouched. Returns the number created.
func (d *Directory) SeedFromINI(ctx context.Context, path string) (int, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read agent seed file: %w", err)
	}

	created := 0
	for _, section := range cfg.Sections() {
		id := section.Name()
		if id == ini.DefaultSection {
			continue
		}

		if _, err := d.store.GetAgent(ctx, id); err == nil {
			continue
		} else if !errors.Is(err, model.ErrNotFound) {
			return created, err
		}

		name := section.Key("name").String()
		if name == "" {
			name = id
		}
		a := &model.Agent{
			ID:     id,
			Name:   name,
			Email:  section.Key("email").String(),
			Active: section.Key("active").MustBool(true),
		}
		if err := d.store.CreateAgent(ctx, a); err != nil {
			return created, err
		}
		created++
	}

	d.logger.Info("agents seeded", zap.String("file", path), zap.Int("created", created))
	return created, nil
}
