package session

import (
	"context"
	"time"

	"github.com/synapsehealth/guardian/internal/safety"
	"github.com/synapsehealth/guardian/internal/subject"
)

// State is one position in the session lifecycle
type State string

const (
	StateIdle         State = "IDLE"         // Waiting for the session to start
	StateListening    State = "LISTENING"    // Actively accepting transcript
	StateProcessing   State = "PROCESSING"   // Running a safety check
	StateInterrupting State = "INTERRUPTING" // Delivering a voice warning
	StatePaused       State = "PAUSED"       // Operator paused the session
	StateFinalizing   State = "FINALIZING"   // Generating the final note
	StateCompleted    State = "COMPLETED"    // Session ended
	StateError        State = "ERROR"        // Unrecoverable fault
)

// Speaker labels for transcript segments
const (
	SpeakerOperator = "operator"
	SpeakerSubject  = "subject"
)

// TranscriptSegment is one piece of committed speech. Append-only.
type TranscriptSegment struct {
	Text       string    `json:"text"`
	Speaker    string    `json:"speaker"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence"`
}

// Note is the structured documentation produced when a session ends
type Note struct {
	Subjective string   `json:"subjective"`
	Objective  string   `json:"objective"`
	Assessment string   `json:"assessment"`
	Plan       string   `json:"plan"`
	ICD10Codes []string `json:"icd10_codes"`
	CPTCodes   []string `json:"cpt_codes"`
}

// Record is the accumulated state of one consultation. Mutated only by
// the session Agent; immutable once Status is "completed".
type Record struct {
	SessionID  string              `json:"session_id"`
	SubjectID  string              `json:"subject_id"`
	OperatorID string              `json:"operator_id"`
	StartTime  time.Time           `json:"start_time"`
	EndTime    *time.Time          `json:"end_time,omitempty"`
	Segments   []TranscriptSegment `json:"transcript_segments"`
	Verdicts   []*safety.Verdict   `json:"safety_checks"`
	Note       *Note               `json:"note,omitempty"`
	Status     string              `json:"status"` // active, paused, completed
}

// Info is a point-in-time snapshot of a session, safe to serialize
type Info struct {
	SessionID              string    `json:"session_id"`
	SubjectID              string    `json:"subject_id"`
	OperatorID             string    `json:"operator_id"`
	State                  State     `json:"state"`
	StartTime              time.Time `json:"start_time"`
	TranscriptLength       int       `json:"transcript_length"`
	SafetyChecksCount      int       `json:"safety_checks_count"`
	HasPendingInterruption bool      `json:"has_pending_interruption"`
}

// Checker produces a safety verdict for one transcript window. It never
// returns an error: degraded collaborators yield a fallback verdict.
type Checker interface {
	Check(ctx context.Context, windowText string, profile *subject.Profile) *safety.Verdict
}

// Synthesizer voices an interruption warning. Chunks arrive on the
// returned channel until it is closed.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (<-chan []byte, error)
}

// NoteGenerator produces the final structured note from the full
// transcript. Failure is recoverable: the agent falls back to a
// placeholder note.
type NoteGenerator interface {
	GenerateNote(ctx context.Context, transcript string, profile *subject.Profile) (*Note, error)
}
