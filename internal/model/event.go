package model

import (
	"time"
)

// EventType represents the type of conversation change event.
type EventType string

const (
	EventConversationCreated EventType = "conversation_created"
	EventMessageCreated      EventType = "message_created"
	EventStatusChanged       EventType = "status_changed"
	EventAgentAssigned       EventType = "agent_assigned"
	EventNeedsHuman          EventType = "needs_human"
	EventConversationRead    EventType = "conversation_read"
	EventTranscriptSent      EventType = "transcript_sent"
	EventTranscriptFailed    EventType = "transcript_failed"
)

// ChangeEvent tells viewers that a conversation changed and should be refreshed.
// Delivery is at-least-once; consumers treat duplicates as refresh triggers.
type ChangeEvent struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Type           EventType `json:"type"`
	MessageID      string    `json:"message_id,omitempty"`
	Status         Status    `json:"status,omitempty"`
	AgentID        string    `json:"agent_id,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	Alert          bool      `json:"alert,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	Sequence       uint64    `json:"sequence,omitempty"`
	// Origin is the instance that produced the event.
	Origin string `json:"origin,omitempty"`
}

// ErrorEvent represents an error pushed over a stream.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HeartbeatEvent represents a heartbeat event.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
