// Package queue defines the auth event payloads exchanged over RabbitMQ and
// the audit consumer that records them.
package queue

import "time"

// AuthQueueName is the durable queue auth events are published to.
const AuthQueueName = "auth.events"

// Event types.
const (
	EventSignedUp        = "user.signed_up"
	EventLoggedIn        = "user.logged_in"
	EventLoggedOut       = "user.logged_out"
	EventTokenRefreshed  = "token.refreshed"
	EventPasswordChanged = "user.password_changed"
)

// AuthEvent is published after a successful auth state change. It never
// carries credentials or tokens.
type AuthEvent struct {
	Type       string    `json:"type"`
	UserID     string    `json:"user_id"`
	Email      string    `json:"email,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
