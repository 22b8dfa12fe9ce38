package domain

import "testing"

func TestParseAssessmentType(t *testing.T) {
	for _, want := range AllAssessmentTypes() {
		got, err := ParseAssessmentType(string(want))
		if err != nil {
			t.Fatalf("parse %q: %v", want, err)
		}
		if got != want {
			t.Fatalf("parse %q: got %q", want, got)
		}
	}

	for _, raw := range []string{"", "academic", "ACADEMIC_WRITING", "listening"} {
		if _, err := ParseAssessmentType(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestIsSpeaking(t *testing.T) {
	if !AcademicSpeaking.IsSpeaking() || !GeneralSpeaking.IsSpeaking() {
		t.Fatalf("speaking types misclassified")
	}
	if AcademicWriting.IsSpeaking() || GeneralWriting.IsSpeaking() {
		t.Fatalf("writing types misclassified")
	}
}

func TestProductIDRoundTrip(t *testing.T) {
	for _, at := range AllAssessmentTypes() {
		got, err := ParseAssessmentType(at.ProductID())
		if err != nil || got != at {
			t.Fatalf("product id %q does not round-trip: %v", at.ProductID(), err)
		}
	}
}
