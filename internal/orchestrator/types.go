package orchestrator

import (
	"context"

	"github.com/synapsehealth/guardian/internal/safety"
	"github.com/synapsehealth/guardian/internal/subject"
)

// IntentMedication is one medication the extraction capability found in
// a transcript window
type IntentMedication struct {
	Name   string `json:"name"`
	Dosage string `json:"dosage,omitempty"`
	Action string `json:"action,omitempty"` // prescribe, discuss, discontinue
}

// IntentProcedure is one procedure mention
type IntentProcedure struct {
	Name   string `json:"name"`
	Action string `json:"action,omitempty"` // order, discuss
}

// IntentDiagnosis is one diagnosis mention
type IntentDiagnosis struct {
	Name  string `json:"name"`
	ICD10 string `json:"icd10,omitempty"`
}

// Intent is the structured output of the intent-extraction capability.
// All fields may be empty; that is a valid result, not an error.
type Intent struct {
	Medications []IntentMedication `json:"medications"`
	Procedures  []IntentProcedure  `json:"procedures"`
	Diagnoses   []IntentDiagnosis  `json:"diagnoses"`
}

// Guideline is one retrieved clinical guideline fragment
type Guideline struct {
	Source  string  `json:"source"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// IntentExtractor extracts clinical intent from a transcript window.
// Best-effort; an all-empty Intent is a normal outcome.
type IntentExtractor interface {
	ExtractIntent(ctx context.Context, text string) (*Intent, error)
}

// GuidelineSearcher retrieves guideline fragments relevant to a query
type GuidelineSearcher interface {
	SearchGuidelines(ctx context.Context, query string, limit int) ([]Guideline, error)
}

// RiskAssessor is the deep reasoning capability. An error from AssessRisk
// means the orchestrator must fall back to the local rule engine.
type RiskAssessor interface {
	AssessRisk(ctx context.Context, text string, profile *subject.Profile, guidelines []Guideline) (*safety.Verdict, error)
}
