package middleware

import (
	"errors"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/capitalize-ai/livechat-router/internal/model"
)

// MaxMessageLength caps a chat message body in bytes.
const MaxMessageLength = 4096

// ValidateMessageContent validates message content.
func ValidateMessageContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.New("content cannot be empty")
	}
	if len(content) > MaxMessageLength {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateAgentID validates an agent ID.
func ValidateAgentID(id string) error {
	if len(id) == 0 {
		return errors.New("agent ID cannot be empty")
	}
	if len(id) > 64 {
		return errors.New("agent ID exceeds maximum length")
	}
	return nil
}

// ValidateCustomer checks the widget contact form.
func ValidateCustomer(c model.Customer) error {
	for _, field := range []string{c.Name, c.Phone, c.Email, c.Company} {
		if len(field) > 256 {
			return errors.New("customer field exceeds maximum length")
		}
		if !utf8.ValidString(field) {
			return errors.New("customer fields must be valid UTF-8")
		}
	}
	if c.Email != "" {
		if _, err := mail.ParseAddress(c.Email); err != nil {
			return errors.New("invalid customer email")
		}
	}
	return nil
}
