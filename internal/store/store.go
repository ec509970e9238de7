package store

import (
	"context"
	"encoding/json"
	"time"

	"clinicq/queue-service/internal/models"
)

// SessionDefaults are the timing parameters applied when a session is first
// created for a clinic+doctor+day. They are immutable once the row exists.
type SessionDefaults struct {
	StartTimeLocal          string
	EndTimeLocal            string
	SlotMinutes             int
	MicroBufferMinutes      int
	BreakEveryN             int
	BreakMinutes            int
	EmergencyReserveMinutes int
}

type GetOrCreateSessionInput struct {
	ClinicID string
	DoctorID string
	DateKey  string
	Defaults SessionDefaults
}

type BookTokenInput struct {
	SessionID     string
	Phone         string
	Name          string
	Urgency       string
	ComplaintText string
	IntakeSummary string
	SlotIndex     *int
	BookedAt      time.Time
}

type WalkInInput struct {
	SessionID     string
	Phone         string
	Name          string
	Urgency       string
	ComplaintText string
	ArrivedAt     time.Time
}

// BulkEvent is one client-recorded offline action. EventID is client-local;
// (client_id, event_id) is the global dedup key.
type BulkEvent struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

const (
	EventArrive    = "ARRIVE"
	EventServeNext = "SERVE_NEXT"
	EventSkip      = "SKIP"
	EventCancel    = "CANCEL"
	EventEmergency = "EMERGENCY"
)

type ApplyBulkInput struct {
	ClientID  string
	SessionID string
	Events    []BulkEvent
}

// EventResult reports one event's fate during bulk replay. Duplicate events
// were already in the ledger; Error carries a domain failure that was
// recorded so the event is never retried.
type EventResult struct {
	EventID   string `json:"event_id"`
	Applied   bool   `json:"applied"`
	Duplicate bool   `json:"duplicate"`
	Error     string `json:"error,omitempty"`
}

type BulkResult struct {
	Accepted int           `json:"accepted"`
	Results  []EventResult `json:"results"`
}

type QueueStats struct {
	EmergencyDebtMinutes int  `json:"emergency_debt_minutes"`
	BookedCount          int  `json:"booked_count"`
	ArrivedCount         int  `json:"arrived_count"`
	CompletedCount       int  `json:"completed_count"`
	PlannedLeave         bool `json:"planned_leave"`
	UnplannedClosed      bool `json:"unplanned_closed"`
}

type QueueSnapshot struct {
	Serving  *models.Token  `json:"serving"`
	Upcoming []models.Token `json:"upcoming"`
	Stats    QueueStats     `json:"stats"`
}

// QueueStore is the durable queue state. All mutations for one session are
// serialized by the implementation; reads see only committed transitions.
type QueueStore interface {
	GetOrCreateSession(ctx context.Context, input GetOrCreateSessionInput) (models.Session, bool, error)
	GetSession(ctx context.Context, sessionID string) (models.Session, error)
	CloseSession(ctx context.Context, sessionID string) (int, error)

	BookToken(ctx context.Context, input BookTokenInput) (models.Token, bool, error)
	AddWalkIn(ctx context.Context, input WalkInInput) (models.Token, error)
	Arrive(ctx context.Context, tokenID string) (models.Token, error)
	Skip(ctx context.Context, sessionID, tokenID string) (models.Token, error)
	Cancel(ctx context.Context, sessionID, tokenID string) (models.Token, error)
	ServeNext(ctx context.Context, sessionID string) (models.Token, bool, error)

	AddEmergencyDebt(ctx context.Context, sessionID string, minutes int) (int, error)

	ApplyBulkEvents(ctx context.Context, input ApplyBulkInput) (BulkResult, error)

	QueueSnapshot(ctx context.Context, sessionID string, limit int) (QueueSnapshot, error)
	ActiveSlotBindings(ctx context.Context, sessionID string) (map[int]bool, error)
	ListOutboxMessages(ctx context.Context, sessionID string, limit int) ([]models.OutboxMessage, error)
}
