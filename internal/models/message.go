package models

import "time"

// OutboxMessage is an append-only record of an outbound patient notice.
// Delivery is someone else's job; the queue core only writes rows.
type OutboxMessage struct {
	MessageID string  `json:"message_id"`
	SessionID *string `json:"session_id,omitempty"`
	TokenID   *string `json:"token_id,omitempty"`

	Phone  string `json:"phone,omitempty"`
	Kind   string `json:"kind"`
	Body   string `json:"body"`
	Status string `json:"status"`

	CreatedAt time.Time  `json:"created_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
}

const (
	MessageStatusPending = "PENDING"
	MessageStatusSent    = "SENT"
)
