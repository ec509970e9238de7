package models

import "time"

// Session is one clinic+doctor+day queue-operating context. The timing
// parameters are fixed at creation; only the emergency debt counter and the
// close flags change afterwards.
type Session struct {
	SessionID string `json:"session_id"`
	ClinicID  string `json:"clinic_id"`
	DoctorID  string `json:"doctor_id"`
	DateKey   string `json:"date_key"`

	StartTimeLocal string `json:"start_time_local"`
	EndTimeLocal   string `json:"end_time_local"`

	SlotMinutes             int `json:"slot_minutes"`
	MicroBufferMinutes      int `json:"micro_buffer_minutes"`
	BreakEveryN             int `json:"break_every_n"`
	BreakMinutes            int `json:"break_minutes"`
	EmergencyReserveMinutes int `json:"emergency_reserve_minutes"`

	EmergencyDebtMinutes int `json:"emergency_debt_minutes"`

	PlannedLeave    bool `json:"planned_leave"`
	UnplannedClosed bool `json:"unplanned_closed"`

	CreatedAt time.Time `json:"created_at"`
}

// Closed reports whether new bookings are refused for the day.
func (s Session) Closed() bool {
	return s.PlannedLeave || s.UnplannedClosed
}
