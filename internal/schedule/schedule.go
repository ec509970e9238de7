package schedule

import (
	"fmt"
	"time"

	"clinicq/queue-service/internal/models"
)

const (
	SlotTypeSlot  = "SLOT"
	SlotTypeBreak = "BREAK"
)

// minBreakMinutes is the floor a break can be compressed to when emergency
// debt overflows the reserve. A break is shortened, never removed.
const minBreakMinutes = 1

// Slot is a derived calendar entry. Index is 0-based over SLOT entries only
// and -1 for breaks. Booked is filled by MarkBooked, not by Generate.
type Slot struct {
	Index  int       `json:"index"`
	Type   string    `json:"type"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Booked bool      `json:"booked"`
	AtRisk bool      `json:"at_risk"`
}

// Window is a patient-facing arrival window. It is an estimate, not a promise.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Generate derives the day's calendar from the session configuration alone:
// SLOTs of slot+buffer minutes from the local start time, one BREAK after
// every break_every_n SLOTs, stopping at the local end time. Accumulated
// emergency debt extends the effective end by at most the configured reserve;
// debt beyond the reserve compresses subsequent breaks instead and marks the
// slots emitted while any overflow remains.
//
// Output depends only on the session row, so repeated calls with the same
// configuration yield the same calendar.
func Generate(sess models.Session) ([]Slot, error) {
	start, err := localTime(sess.DateKey, sess.StartTimeLocal)
	if err != nil {
		return nil, fmt.Errorf("start time: %w", err)
	}
	end, err := localTime(sess.DateKey, sess.EndTimeLocal)
	if err != nil {
		return nil, fmt.Errorf("end time: %w", err)
	}
	if !end.After(start) || sess.SlotMinutes <= 0 {
		return nil, nil
	}

	debt := sess.EmergencyDebtMinutes
	if debt < 0 {
		debt = 0
	}
	absorbed := debt
	if absorbed > sess.EmergencyReserveMinutes {
		absorbed = sess.EmergencyReserveMinutes
	}
	effectiveEnd := end.Add(time.Duration(absorbed) * time.Minute)
	overflow := debt - absorbed

	slotLen := time.Duration(sess.SlotMinutes+sess.MicroBufferMinutes) * time.Minute

	var slots []Slot
	cursor := start
	index := 0
	sinceBreak := 0
	for {
		if cursor.Add(slotLen).After(effectiveEnd) {
			break
		}
		slots = append(slots, Slot{
			Index:  index,
			Type:   SlotTypeSlot,
			Start:  cursor,
			End:    cursor.Add(slotLen),
			AtRisk: overflow > 0,
		})
		cursor = cursor.Add(slotLen)
		index++
		sinceBreak++

		if sess.BreakEveryN > 0 && sess.BreakMinutes > 0 && sinceBreak == sess.BreakEveryN {
			breakMin := sess.BreakMinutes
			shave := breakMin - minBreakMinutes
			if shave > overflow {
				shave = overflow
			}
			breakMin -= shave
			breakLen := time.Duration(breakMin) * time.Minute
			if cursor.Add(breakLen).After(effectiveEnd) {
				break
			}
			overflow -= shave
			slots = append(slots, Slot{
				Index: -1,
				Type:  SlotTypeBreak,
				Start: cursor,
				End:   cursor.Add(breakLen),
			})
			cursor = cursor.Add(breakLen)
			sinceBreak = 0
		}
	}
	return slots, nil
}

// MarkBooked flags SLOT entries whose index is bound to an active token.
func MarkBooked(slots []Slot, bound map[int]bool) {
	for i := range slots {
		if slots[i].Type == SlotTypeSlot && bound[slots[i].Index] {
			slots[i].Booked = true
		}
	}
}

// WindowForSlot is the arrival window for a slot-bound token: the scheduled
// slot itself, with the end pushed out by the debt the reserve can absorb.
func WindowForSlot(sess models.Session, slot Slot) Window {
	absorbed := sess.EmergencyDebtMinutes
	if absorbed < 0 {
		absorbed = 0
	}
	if absorbed > sess.EmergencyReserveMinutes {
		absorbed = sess.EmergencyReserveMinutes
	}
	return Window{
		Start: slot.Start,
		End:   slot.End.Add(time.Duration(absorbed) * time.Minute),
	}
}

// EstimateCallTime projects when the patient at positionIndex (0-based, in
// token order) is likely to be called, counting whole slots and the breaks
// before that position, plus any debt the reserve could not absorb.
func EstimateCallTime(sess models.Session, positionIndex int, now time.Time) time.Time {
	if positionIndex < 0 {
		positionIndex = 0
	}
	perPatient := sess.SlotMinutes + sess.MicroBufferMinutes
	breaks := 0
	if sess.BreakEveryN > 0 {
		breaks = positionIndex / sess.BreakEveryN
	}
	minutes := positionIndex*perPatient + breaks*sess.BreakMinutes

	debt := sess.EmergencyDebtMinutes
	if debt < 0 {
		debt = 0
	}
	absorbed := debt
	if absorbed > sess.EmergencyReserveMinutes {
		absorbed = sess.EmergencyReserveMinutes
	}
	minutes += debt - absorbed

	return now.Add(time.Duration(minutes) * time.Minute)
}

// EstimateWindow widens the estimated call time into an arrival window for
// tokens without a slot binding. The window grows when emergency debt is
// outstanding and never ends sooner than five minutes from now.
func EstimateWindow(sess models.Session, positionIndex int, now time.Time) Window {
	call := EstimateCallTime(sess, positionIndex, now)

	width := 20 * time.Minute
	if sess.EmergencyDebtMinutes > 0 {
		width = 30 * time.Minute
	}

	w := Window{Start: call.Add(-width / 2), End: call.Add(width / 2)}
	if w.End.Before(now.Add(5 * time.Minute)) {
		w.Start = now.Add(5 * time.Minute)
		w.End = w.Start.Add(width)
	}
	return w
}

// FormatTime renders a window edge the way patients read it, e.g. "5:40 PM".
func FormatTime(t time.Time) string {
	return t.Format("3:04 PM")
}

func localTime(dateKey, hhmm string) (time.Time, error) {
	return time.Parse("2006-01-02 15:04", dateKey+" "+hhmm)
}
