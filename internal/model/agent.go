package model

import (
	"strings"
	"time"
)

// Agent is a human operator who can be assigned conversations.
// Active and Online are independent: inactive agents are never assignable.
type Agent struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Active    bool      `json:"active"`
	Online    bool      `json:"online"`
	CreatedAt time.Time `json:"created_at"`
}

// AgentAvailability is the console view of an agent.
type AgentAvailability struct {
	Agent
	Load     int        `json:"load"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// CreateAgentRequest is the admin request to register an agent.
type CreateAgentRequest struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Active *bool  `json:"active,omitempty"`
}

// Validate checks the request fields.
func (r CreateAgentRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return ValidationError("agent name is required")
	}
	return nil
}

// SetActiveRequest toggles whether an agent can be assigned.
type SetActiveRequest struct {
	Active bool `json:"active"`
}

// PresenceRequest is the agent presence heartbeat.
type PresenceRequest struct {
	Online bool `json:"online"`
}
