package intake

import "strings"

const (
	UrgencyLow    = "low"
	UrgencyMedium = "medium"
	UrgencyHigh   = "high"
)

// Result is what the queue core consumes from intake: an urgency label and a
// descriptive summary. Nothing downstream depends on how they were produced.
type Result struct {
	Urgency string `json:"urgency"`
	Summary string `json:"intake_summary"`
}

// Classifier turns a patient's free-text complaint into a Result.
type Classifier interface {
	Classify(freeText string) Result
}

// KeywordClassifier is the built-in marker-phrase classifier. It is a
// placeholder for a smarter intake backend and deliberately conservative:
// unknown text stays "low".
type KeywordClassifier struct{}

func NewKeywordClassifier() KeywordClassifier {
	return KeywordClassifier{}
}

var highMarkers = []string{
	"chest pain",
	"difficulty breathing",
	"shortness of breath",
	"unconscious",
	"seizure",
	"bleeding",
	"severe",
	"pregnant and bleeding",
}

var mediumMarkers = []string{
	"fever",
	"vomit",
	"vomiting",
	"pain",
	"injury",
	"diarrhea",
	"dizziness",
}

const summaryLimit = 800

func (KeywordClassifier) Classify(freeText string) Result {
	text := strings.ToLower(freeText)

	urgency := UrgencyLow
	switch {
	case containsAny(text, highMarkers):
		urgency = UrgencyHigh
	case containsAny(text, mediumMarkers):
		urgency = UrgencyMedium
	}

	summary := strings.TrimSpace(freeText)
	if summary == "" {
		summary = "Patient requested OPD consultation."
	}
	if len(summary) > summaryLimit {
		summary = summary[:summaryLimit]
	}

	return Result{
		Urgency: urgency,
		Summary: "Patient-described concern: " + summary +
			"\n\nNote: This is a descriptive intake summary. No diagnosis is provided.",
	}
}

func containsAny(text string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
