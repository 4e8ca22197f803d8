package session

import (
	"time"

	"github.com/synapsehealth/guardian/internal/safety"
)

// EventType discriminates the notification variants a session emits
type EventType string

const (
	EventStateChange       EventType = "state_change"
	EventTranscript        EventType = "transcript"
	EventSafetyAlert       EventType = "safety_alert"
	EventInterruptionStart EventType = "interruption_start"
	EventInterruptionAudio EventType = "interruption_audio"
	EventInterruptionEnd   EventType = "interruption_end"
)

// Event is one notification on a session's ordered event channel.
// Exactly the fields relevant to Type are populated.
type Event struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"session_id"`
	Timestamp time.Time       `json:"timestamp"`
	From      State           `json:"from,omitempty"`    // state_change
	To        State           `json:"to,omitempty"`      // state_change
	Text      string          `json:"text,omitempty"`    // transcript, interruption_start
	Speaker   string          `json:"speaker,omitempty"` // transcript
	Verdict   *safety.Verdict `json:"verdict,omitempty"` // safety_alert
	Audio     []byte          `json:"-"`                 // interruption_audio
}
