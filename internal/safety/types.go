package safety

import (
	"fmt"
	"strings"
)

// Level classifies the severity of a safety verdict
type Level string

const (
	LevelSafe     Level = "SAFE"
	LevelCaution  Level = "CAUTION"
	LevelDanger   Level = "DANGER"
	LevelCritical Level = "CRITICAL"
)

// rank orders levels for highest-wins resolution
func (l Level) rank() int {
	switch l {
	case LevelCritical:
		return 3
	case LevelDanger:
		return 2
	case LevelCaution:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether l is at least as severe as other
func (l Level) AtLeast(other Level) bool {
	return l.rank() >= other.rank()
}

// ParseLevel converts a level string to a Level. Unknown values are an
// error, never silently downgraded.
func ParseLevel(s string) (Level, error) {
	level := Level(strings.ToUpper(strings.TrimSpace(s)))
	switch level {
	case LevelSafe, LevelCaution, LevelDanger, LevelCritical:
		return level, nil
	}
	return "", fmt.Errorf("unknown safety level %q", s)
}

// Interaction is one dangerous combination found between a mentioned
// medication class and a current medication class
type Interaction struct {
	Drugs          []string `json:"drugs"` // the two drug classes involved
	Condition      string   `json:"condition"`
	Severity       Level    `json:"severity"`
	Description    string   `json:"description"`
	Recommendation string   `json:"recommendation"`
}

// AllergyConflict flags a mentioned drug that matches a recorded allergy
type AllergyConflict struct {
	Drug     string `json:"drug"`
	Allergy  string `json:"allergy"`
	Severity Level  `json:"severity"`
}

// Verdict is the outcome of one safety check. Appended to the session,
// never mutated afterwards.
type Verdict struct {
	Level                Level             `json:"safety_level"`
	RiskScore            float64           `json:"risk_score"`
	DetectedTerms        []string          `json:"detected_medications"`
	Interactions         []Interaction     `json:"interactions"`
	AllergyConflicts     []AllergyConflict `json:"allergy_conflicts,omitempty"`
	Warning              string            `json:"warning_message,omitempty"`
	Recommendation       string            `json:"recommendation,omitempty"`
	RequiresInterruption bool              `json:"requires_interruption"`
}
