package service

import (
	"context"
)

// Identity event types published when account state changes.
const (
	EventAccountCreated = "account_created"
	EventAccountLinked  = "account_linked"
)

// IdentityEvent represents an account state change published for downstream
// consumers (CRM sync, welcome emails, analytics).
type IdentityEvent struct {
	RequestID string `json:"request_id,omitempty"` // For distributed tracing
	EventType string `json:"event_type"`           // account_created or account_linked
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	Provider  string `json:"provider,omitempty"` // OAuth provider, empty for password signups
}

// EventPublisher defines the interface for publishing identity events to a message queue
type EventPublisher interface {
	// PublishIdentityEvent publishes an identity event for async processing
	PublishIdentityEvent(ctx context.Context, event *IdentityEvent) error

	// Close releases any resources held by the publisher
	Close() error
}
