package domain

import "fmt"

// AssessmentType is the closed set of assessments the platform sells.
// Adding a type is a compile-visible change: every switch over the four
// values below is exhaustive.
type AssessmentType string

const (
	AcademicWriting  AssessmentType = "academic_writing"
	GeneralWriting   AssessmentType = "general_writing"
	AcademicSpeaking AssessmentType = "academic_speaking"
	GeneralSpeaking  AssessmentType = "general_speaking"
)

func AllAssessmentTypes() []AssessmentType {
	return []AssessmentType{AcademicWriting, GeneralWriting, AcademicSpeaking, GeneralSpeaking}
}

func ParseAssessmentType(raw string) (AssessmentType, error) {
	t := AssessmentType(raw)
	if !t.Valid() {
		return "", fmt.Errorf("unknown assessment type %q", raw)
	}
	return t, nil
}

func (t AssessmentType) Valid() bool {
	switch t {
	case AcademicWriting, GeneralWriting, AcademicSpeaking, GeneralSpeaking:
		return true
	}
	return false
}

func (t AssessmentType) IsSpeaking() bool {
	return t == AcademicSpeaking || t == GeneralSpeaking
}

// ProductID maps an assessment type to the store product whose entitlement
// funds its attempts. Receipts verify to exactly these identifiers.
func (t AssessmentType) ProductID() string {
	return string(t)
}

func (t AssessmentType) String() string { return string(t) }
