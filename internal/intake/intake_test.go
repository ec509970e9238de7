package intake

import (
	"strings"
	"testing"
)

func TestClassifyUrgency(t *testing.T) {
	classifier := NewKeywordClassifier()

	cases := []struct {
		name string
		text string
		want string
	}{
		{name: "chest pain is high", text: "Chest pain since last night", want: UrgencyHigh},
		{name: "breathing trouble is high", text: "my father has difficulty breathing", want: UrgencyHigh},
		{name: "severe anything is high", text: "severe headache all day", want: UrgencyHigh},
		{name: "fever is medium", text: "Fever and body ache", want: UrgencyMedium},
		{name: "vomiting is medium", text: "kept vomiting after lunch", want: UrgencyMedium},
		{name: "routine is low", text: "need a routine checkup", want: UrgencyLow},
		{name: "empty is low", text: "", want: UrgencyLow},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifier.Classify(tc.text)
			if got.Urgency != tc.want {
				t.Fatalf("Classify(%q) urgency = %s, want %s", tc.text, got.Urgency, tc.want)
			}
		})
	}
}

func TestClassifySummaryIsDescriptive(t *testing.T) {
	classifier := NewKeywordClassifier()

	result := classifier.Classify("stomach pain after meals")
	if !strings.Contains(result.Summary, "stomach pain after meals") {
		t.Fatalf("summary should echo the complaint: %q", result.Summary)
	}
	if !strings.Contains(result.Summary, "No diagnosis") {
		t.Fatalf("summary must carry the no-diagnosis note: %q", result.Summary)
	}
}

func TestClassifyEmptyComplaint(t *testing.T) {
	classifier := NewKeywordClassifier()

	result := classifier.Classify("   ")
	if !strings.Contains(result.Summary, "requested OPD consultation") {
		t.Fatalf("expected the default summary, got %q", result.Summary)
	}
}

func TestClassifyTruncatesLongComplaint(t *testing.T) {
	classifier := NewKeywordClassifier()

	long := strings.Repeat("a", 2000)
	result := classifier.Classify(long)
	if len(result.Summary) > summaryLimit+200 {
		t.Fatalf("summary too long: %d bytes", len(result.Summary))
	}
}
