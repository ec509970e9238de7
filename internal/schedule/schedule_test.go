package schedule

import (
	"reflect"
	"testing"
	"time"

	"clinicq/queue-service/internal/models"
)

func baseSession() models.Session {
	return models.Session{
		SessionID:               "sess-1",
		ClinicID:                "default",
		DoctorID:                "default",
		DateKey:                 "2026-02-10",
		StartTimeLocal:          "17:00",
		EndTimeLocal:            "20:00",
		SlotMinutes:             9,
		MicroBufferMinutes:      2,
		BreakEveryN:             6,
		BreakMinutes:            10,
		EmergencyReserveMinutes: 20,
	}
}

func at(hhmm string) time.Time {
	t, err := time.Parse("2006-01-02 15:04", "2026-02-10 "+hhmm)
	if err != nil {
		panic(err)
	}
	return t
}

func slotEntries(slots []Slot) []Slot {
	var out []Slot
	for _, s := range slots {
		if s.Type == SlotTypeSlot {
			out = append(out, s)
		}
	}
	return out
}

func breakEntries(slots []Slot) []Slot {
	var out []Slot
	for _, s := range slots {
		if s.Type == SlotTypeBreak {
			out = append(out, s)
		}
	}
	return out
}

func TestGenerateShortWindow(t *testing.T) {
	sess := baseSession()
	sess.EndTimeLocal = "17:30"
	sess.BreakEveryN = 2

	slots, err := Generate(sess)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	want := []Slot{
		{Index: 0, Type: SlotTypeSlot, Start: at("17:00"), End: at("17:11")},
		{Index: 1, Type: SlotTypeSlot, Start: at("17:11"), End: at("17:22")},
	}
	if !reflect.DeepEqual(slots, want) {
		t.Fatalf("unexpected calendar:\n got %+v\nwant %+v", slots, want)
	}
}

func TestGenerateDefaultCalendar(t *testing.T) {
	slots, err := Generate(baseSession())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if got := len(slotEntries(slots)); got != 14 {
		t.Fatalf("expected 14 slots for a three hour session, got %d", got)
	}
	breaks := breakEntries(slots)
	if len(breaks) != 2 {
		t.Fatalf("expected 2 breaks, got %d", len(breaks))
	}
	if !breaks[0].Start.Equal(at("18:06")) || !breaks[0].End.Equal(at("18:16")) {
		t.Fatalf("unexpected first break: %+v", breaks[0])
	}

	index := 0
	for _, s := range slots {
		if s.Type == SlotTypeBreak {
			if s.Index != -1 {
				t.Fatalf("break has slot index %d", s.Index)
			}
			continue
		}
		if s.Index != index {
			t.Fatalf("expected slot index %d, got %d", index, s.Index)
		}
		if !s.End.Equal(s.Start.Add(11 * time.Minute)) {
			t.Fatalf("slot %d has wrong length: %+v", s.Index, s)
		}
		index++
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	sess := baseSession()
	sess.EmergencyDebtMinutes = 25

	first, err := Generate(sess)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	second, err := Generate(sess)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("same session produced different calendars")
	}
}

func TestGenerateDebtWithinReserve(t *testing.T) {
	sess := baseSession()
	sess.EmergencyDebtMinutes = 20

	slots, err := Generate(sess)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if got := len(slotEntries(slots)); got != 16 {
		t.Fatalf("expected 16 slots with the reserve absorbed, got %d", got)
	}
	for _, s := range slots {
		if s.AtRisk {
			t.Fatalf("no slot should be at risk when debt fits the reserve: %+v", s)
		}
	}
	for _, b := range breakEntries(slots) {
		if !b.End.Equal(b.Start.Add(10 * time.Minute)) {
			t.Fatalf("break should keep its full length: %+v", b)
		}
	}
}

func TestGenerateDebtOverflowCompressesBreaks(t *testing.T) {
	sess := baseSession()
	sess.EmergencyDebtMinutes = 30

	slots, err := Generate(sess)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	breaks := breakEntries(slots)
	if len(breaks) != 2 {
		t.Fatalf("expected 2 breaks, got %d", len(breaks))
	}
	if got := breaks[0].End.Sub(breaks[0].Start); got != time.Minute {
		t.Fatalf("first break should compress to the one minute floor, got %v", got)
	}
	if got := breaks[1].End.Sub(breaks[1].Start); got != 9*time.Minute {
		t.Fatalf("second break should absorb the remaining minute, got %v", got)
	}

	entries := slotEntries(slots)
	if len(entries) != 17 {
		t.Fatalf("expected 17 slots, got %d", len(entries))
	}
	for i, s := range entries {
		wantRisk := i < 12
		if s.AtRisk != wantRisk {
			t.Fatalf("slot %d at_risk=%v, want %v", i, s.AtRisk, wantRisk)
		}
	}
}

func TestGenerateEmptyWindow(t *testing.T) {
	sess := baseSession()
	sess.EndTimeLocal = "17:00"

	slots, err := Generate(sess)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("expected no slots, got %d", len(slots))
	}
}

func TestMarkBooked(t *testing.T) {
	slots, err := Generate(baseSession())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	MarkBooked(slots, map[int]bool{0: true, 3: true})

	for _, s := range slotEntries(slots) {
		want := s.Index == 0 || s.Index == 3
		if s.Booked != want {
			t.Fatalf("slot %d booked=%v, want %v", s.Index, s.Booked, want)
		}
	}
}

func TestWindowForSlotAbsorbsDebt(t *testing.T) {
	sess := baseSession()
	sess.EmergencyDebtMinutes = 35

	slot := Slot{Index: 0, Type: SlotTypeSlot, Start: at("17:00"), End: at("17:11")}
	window := WindowForSlot(sess, slot)

	if !window.Start.Equal(at("17:00")) {
		t.Fatalf("window start moved: %v", window.Start)
	}
	if !window.End.Equal(at("17:31")) {
		t.Fatalf("window end should extend by the reserve only, got %v", window.End)
	}
}

func TestEstimateCallTime(t *testing.T) {
	now := at("17:00")

	cases := []struct {
		name     string
		position int
		debt     int
		want     time.Time
	}{
		{name: "front of queue", position: 0, debt: 0, want: at("17:00")},
		{name: "third in line", position: 2, debt: 0, want: at("17:22")},
		{name: "after one break", position: 7, debt: 0, want: at("18:27")},
		{name: "overflow adds minutes", position: 0, debt: 30, want: at("17:10")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sess := baseSession()
			sess.EmergencyDebtMinutes = tc.debt
			got := EstimateCallTime(sess, tc.position, now)
			if !got.Equal(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEstimateWindowWidens(t *testing.T) {
	now := at("17:00")

	sess := baseSession()
	window := EstimateWindow(sess, 3, now)
	if got := window.End.Sub(window.Start); got != 20*time.Minute {
		t.Fatalf("expected a 20 minute window, got %v", got)
	}

	sess.EmergencyDebtMinutes = 15
	window = EstimateWindow(sess, 3, now)
	if got := window.End.Sub(window.Start); got != 30*time.Minute {
		t.Fatalf("expected a 30 minute window under debt, got %v", got)
	}
	if window.End.Before(now.Add(5 * time.Minute)) {
		t.Fatalf("window ends too soon: %v", window.End)
	}
}
