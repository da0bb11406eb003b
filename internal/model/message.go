package model

import (
	"time"
)

// SenderType represents who authored a message.
type SenderType string

const (
	SenderCustomer SenderType = "customer"
	SenderAgent    SenderType = "agent"
	SenderSystem   SenderType = "system"
)

// Source records which path produced a message row.
type Source string

const (
	SourceCustomer  Source = "customer"
	SourceAgent     Source = "agent"
	SourceWelcome   Source = "welcome"
	SourceAutoReply Source = "auto_reply"
	SourceAI        Source = "ai"
	SourceOffline   Source = "offline"
)

// ContentTypeText is the only content type accepted today.
const ContentTypeText = "text"

// Message represents a conversation message. Rows are append-only.
type Message struct {
	// Identity
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Seq            int64  `json:"seq"`
	ExternalID     string `json:"external_id,omitempty"`

	// Author
	SenderType SenderType `json:"sender_type"`
	SenderName string     `json:"sender_name"`
	SenderID   string     `json:"sender_id,omitempty"`
	Source     Source     `json:"source"`

	// Content
	Body        string `json:"body"`
	ContentType string `json:"content_type"`

	// AI metadata (nullable for non-AI messages)
	Model     *string `json:"model,omitempty"`
	TokensIn  *int    `json:"tokens_in,omitempty"`
	TokensOut *int    `json:"tokens_out,omitempty"`
	LatencyMs *int64  `json:"latency_ms,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// IsAutomated reports whether the message was produced without a human author.
func (m *Message) IsAutomated() bool {
	return m.SenderType == SenderSystem
}

// SendMessageRequest is the request body for posting a message.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// SendMessageResponse is the response after a message was accepted.
type SendMessageResponse struct {
	Message *Message  `json:"message"`
	Replies []Message `json:"replies,omitempty"`
}

// ListMessagesResponse is the response for listing messages.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
}

// Transcript is a closed conversation with its full history.
type Transcript struct {
	Conversation Conversation `json:"conversation"`
	Messages     []Message    `json:"messages"`
}

// AIRequest is what the router hands to the AI collaborator.
type AIRequest struct {
	Mode         Mode
	Conversation Conversation
	History      []Message
	Params       AISettings
}

// AIReply is the collaborator's answer. Escalate asks for a human takeover.
type AIReply struct {
	Text      string
	Escalate  bool
	Model     string
	TokensIn  int
	TokensOut int
	LatencyMs int64
}
