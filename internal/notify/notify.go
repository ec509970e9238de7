// Package notify holds the texts the queue writes to the message outbox.
// Actual delivery (WhatsApp/SMS) lives outside this service; rows are recorded
// fire-and-forget in the same transaction as the change they announce.
package notify

import "fmt"

const (
	KindConfirmation = "CONFIRMATION"
	KindDelay        = "DELAY"
	KindCancelled    = "CANCELLED"
)

func TokenConfirmation(tokenNo int, windowStart, windowEnd string) string {
	return fmt.Sprintf(
		"Your token is confirmed: #%d.\nPlease arrive between %s and %s.\n"+
			"Times may vary depending on consultation duration and urgent cases.",
		tokenNo, windowStart, windowEnd)
}

func DelayNotice() string {
	return "There may be a delay of approximately 10-15 minutes due to a high-priority case."
}

func SessionCancelled() string {
	return "Today's OPD has been closed. Your token is cancelled. Please contact the clinic for next steps."
}
