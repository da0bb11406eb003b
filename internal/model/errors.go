package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown conversation or agent ids.
	ErrNotFound = errors.New("not found")
	// ErrAgentUnavailable is returned when assigning an inactive agent.
	ErrAgentUnavailable = errors.New("agent unavailable")
	// ErrUpstream wraps AI collaborator and notifier failures.
	ErrUpstream = errors.New("upstream failure")
	// ErrValidation is returned before any store write for bad input.
	ErrValidation = errors.New("validation failure")
	// ErrClosed is returned for any transition out of a closed conversation.
	ErrClosed = errors.New("conversation closed")
	// ErrInvalidTransition is returned for transitions the state machine forbids.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError builds an error matching ErrValidation.
func ValidationError(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// UpstreamError builds an error matching ErrUpstream.
func UpstreamError(component string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUpstream, component, err)
}
