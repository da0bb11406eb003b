// Package model defines data structures for the live-chat router.
package model

import (
	"strings"
	"time"
)

// Channel is the transport a conversation arrived on.
type Channel string

const (
	ChannelWebsite  Channel = "website"
	ChannelWhatsApp Channel = "whatsapp"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return c == ChannelWebsite || c == ChannelWhatsApp
}

// Status is the conversation lifecycle state.
type Status string

const (
	StatusUnassigned Status = "unassigned"
	StatusPending    Status = "pending"
	StatusActive     Status = "active"
	StatusClosed     Status = "closed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusUnassigned, StatusPending, StatusActive, StatusClosed:
		return true
	}
	return false
}

// CanTransition reports whether the state machine allows moving from s to next.
// Closed is terminal. Re-entering the current state is not a transition.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusUnassigned:
		return next == StatusActive || next == StatusClosed
	case StatusActive:
		return next == StatusPending || next == StatusClosed
	case StatusPending:
		return next == StatusActive || next == StatusClosed
	}
	return false
}

// Handler identifies who is currently answering a conversation.
// Assigned agent stays nil for AI-handled conversations.
type Handler string

const (
	HandlerNone  Handler = ""
	HandlerAI    Handler = "ai"
	HandlerAgent Handler = "agent"
)

// Customer holds the contact details captured on first contact.
type Customer struct {
	Name    string `json:"name"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
	Company string `json:"company,omitempty"`
}

// Validate checks the customer identity required to open a conversation.
func (c Customer) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ValidationError("customer name is required")
	}
	if len(c.Name) > 256 {
		return ValidationError("customer name exceeds maximum length")
	}
	return nil
}

// Conversation represents a thread between one customer and the system.
type Conversation struct {
	ID         string   `json:"id"`
	Customer   Customer `json:"customer"`
	Channel    Channel  `json:"channel"`
	ExternalID string   `json:"external_id,omitempty"`

	Status          Status  `json:"status"`
	AssignedAgentID *string `json:"assigned_agent_id,omitempty"`
	Handler         Handler `json:"handler,omitempty"`
	NeedsHuman      bool    `json:"needs_human"`

	UnreadCount     int        `json:"unread_count"`
	MessageCount    int        `json:"message_count"`
	LastMessageText string     `json:"last_message_text,omitempty"`
	LastMessageAt   *time.Time `json:"last_message_at,omitempty"`
	LastSenderType  SenderType `json:"last_sender_type,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// IsClosed reports whether the conversation reached its terminal state.
func (c *Conversation) IsClosed() bool {
	return c.Status == StatusClosed
}

// ConversationFilter narrows ListConversations. Zero values match everything.
type ConversationFilter struct {
	Channel    Channel
	Status     Status
	NeedsHuman *bool
	AgentID    string
	Limit      int
}

// StartConversationRequest is the website widget form submission.
type StartConversationRequest struct {
	Customer Customer `json:"customer"`
	Message  string   `json:"message,omitempty"`
}

// StartConversationResponse is returned to the widget after creation.
type StartConversationResponse struct {
	Conversation *Conversation `json:"conversation"`
	Messages     []Message     `json:"messages"`
	Token        string        `json:"token"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
}

// AssignRequest is the console request to assign an agent.
type AssignRequest struct {
	AgentID string `json:"agent_id"`
}
