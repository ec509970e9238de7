package models

import "time"

// Token is one patient's queue ticket for a session. TokenNo is the FIFO key,
// assigned in booking order and unique within the session. SlotIndex binds the
// token to a calendar slot; at most one non-terminal token holds a given index.
type Token struct {
	TokenID   string `json:"token_id"`
	SessionID string `json:"session_id"`
	TokenNo   int    `json:"token_no"`

	Phone string `json:"phone"`
	Name  string `json:"name"`

	Urgency       string `json:"urgency"`
	ComplaintText string `json:"complaint_text,omitempty"`
	IntakeSummary string `json:"intake_summary,omitempty"`

	State     string `json:"state"`
	SlotIndex *int   `json:"slot_index,omitempty"`

	BookedAt          time.Time  `json:"booked_at"`
	ArrivedAt         *time.Time `json:"arrived_at,omitempty"`
	ServingAt         *time.Time `json:"serving_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	LastStateChangeAt time.Time  `json:"last_state_change_at"`
}

const (
	StateBooked    = "BOOKED"
	StateArrived   = "ARRIVED"
	StateServing   = "SERVING"
	StateSkipped   = "SKIPPED"
	StateCancelled = "CANCELLED"
	StateCompleted = "COMPLETED"
)

// TerminalState reports whether a token can transition no further. Terminal
// tokens also release their slot binding.
func TerminalState(state string) bool {
	return state == StateCancelled || state == StateCompleted
}
