// Package session implements the per-consultation state machine: transcript
// buffering, the periodic safety-check loop, interruption delivery, and
// final note generation.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/synapsehealth/guardian/internal/observability"
	"github.com/synapsehealth/guardian/internal/safety"
	"github.com/synapsehealth/guardian/internal/subject"
)

// ErrInvalidTransition is returned when an operation is not valid in the
// session's current state
var ErrInvalidTransition = errors.New("invalid session state transition")

const defaultEventBuffer = 64

// Config holds the collaborators and tunables for one session agent
type Config struct {
	SubjectID     string
	OperatorID    string
	Profile       *subject.Profile
	Checker       Checker
	Synthesizer   Synthesizer   // optional; interruptions proceed silently without it
	NoteGenerator NoteGenerator // optional; placeholder note without it
	CheckInterval time.Duration
	EventBuffer   int
}

// Agent coordinates one consultation session. All collaborator references
// are passed in explicitly so tests can substitute doubles.
type Agent struct {
	sessionID string
	profile   *subject.Profile

	checker Checker
	synth   Synthesizer
	notes   NoteGenerator

	checkInterval time.Duration

	mu      sync.Mutex
	state   State
	record  *Record
	buffer  []string
	pending bool

	loopCancel context.CancelFunc
	loopDone   chan struct{}

	// checkMu is held for the whole of one safety check, drain through
	// verdict processing. End acquires it before finalizing so an
	// in-flight check lands in the record, never after completion.
	checkMu sync.Mutex

	endMu sync.Mutex

	events   chan Event
	done     chan struct{}
	doneOnce sync.Once

	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewAgent creates a session agent in the IDLE state
func NewAgent(cfg Config) *Agent {
	sessionID := uuid.New().String()

	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 5 * time.Second
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}

	return &Agent{
		sessionID:     sessionID,
		profile:       cfg.Profile,
		checker:       cfg.Checker,
		synth:         cfg.Synthesizer,
		notes:         cfg.NoteGenerator,
		checkInterval: cfg.CheckInterval,
		state:         StateIdle,
		record: &Record{
			SessionID:  sessionID,
			SubjectID:  cfg.SubjectID,
			OperatorID: cfg.OperatorID,
			Status:     "active",
		},
		events:  make(chan Event, cfg.EventBuffer),
		done:    make(chan struct{}),
		logger:  observability.WithSession(sessionID),
		metrics: observability.NewSessionMetrics(sessionID),
	}
}

// ID returns the session identifier
func (a *Agent) ID() string {
	return a.sessionID
}

// Profile returns the subject profile bound to this session
func (a *Agent) Profile() *subject.Profile {
	return a.profile
}

// State returns the current session state
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Events returns the ordered notification channel for this session
func (a *Agent) Events() <-chan Event {
	return a.events
}

// Done is closed when the session reaches a terminal state
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// Start begins the session. Valid only from IDLE; it records the start
// time, moves to LISTENING, and launches the periodic safety-check loop.
func (a *Agent) Start() error {
	a.mu.Lock()
	if a.state != StateIdle {
		state := a.state
		a.mu.Unlock()
		return fmt.Errorf("%w: cannot start from %s", ErrInvalidTransition, state)
	}

	a.record.StartTime = time.Now()
	a.setStateLocked(StateListening)

	loopCtx, cancel := context.WithCancel(context.Background())
	a.loopCancel = cancel
	a.loopDone = make(chan struct{})
	a.mu.Unlock()

	a.metrics.RecordSessionStart()
	go a.safetyCheckLoop(loopCtx)

	a.logger.Info().Msg("Session started")
	return nil
}

// AddTranscript appends committed text to both the full transcript and
// the working buffer. Outside LISTENING/PROCESSING it is a no-op with a
// warning; it never rejects.
func (a *Agent) AddTranscript(text, speaker string) {
	if speaker == "" {
		speaker = SpeakerOperator
	}

	a.mu.Lock()
	if a.state != StateListening && a.state != StateProcessing {
		state := a.state
		a.mu.Unlock()
		a.logger.Warn().Str("state", string(state)).Msg("Cannot add transcript in current state")
		return
	}

	segment := TranscriptSegment{
		Text:       text,
		Speaker:    speaker,
		Timestamp:  time.Now(),
		Confidence: 1.0,
	}
	a.record.Segments = append(a.record.Segments, segment)
	a.buffer = append(a.buffer, text)
	a.mu.Unlock()

	a.emit(Event{Type: EventTranscript, Text: text, Speaker: speaker})
}

// Pause suspends the session. No-op unless currently listening or processing.
func (a *Agent) Pause() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StateListening && a.state != StateProcessing {
		return
	}
	a.record.Status = "paused"
	a.setStateLocked(StatePaused)
}

// Resume continues a paused session. No-op unless currently paused.
func (a *Agent) Resume() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StatePaused {
		return
	}
	a.record.Status = "active"
	a.setStateLocked(StateListening)
}

// RunSafetyCheck drains the transcript buffer and runs one safety check.
// No-op when the buffer is empty or when another check is already in
// flight. The drain and clear happen atomically with respect to
// AddTranscript: text appended after the drain point is seen by the next
// check, never lost or double-counted.
func (a *Agent) RunSafetyCheck(ctx context.Context) {
	a.checkMu.Lock()
	defer a.checkMu.Unlock()

	a.mu.Lock()
	if a.state != StateListening || len(a.buffer) == 0 {
		a.mu.Unlock()
		return
	}
	window := strings.Join(a.buffer, " ")
	a.buffer = nil
	a.setStateLocked(StateProcessing)
	a.mu.Unlock()

	a.metrics.RecordCheckStart()
	verdict := a.checker.Check(ctx, window, a.profile)

	a.mu.Lock()
	if a.state == StateProcessing {
		a.setStateLocked(StateListening)
	}
	a.mu.Unlock()

	a.ProcessVerdict(ctx, verdict)
}

// ProcessVerdict appends a verdict to the session and, when the verdict
// demands it, runs the interruption sequence. A completed record is
// immutable: verdicts arriving once finalization has begun are discarded.
func (a *Agent) ProcessVerdict(ctx context.Context, verdict *safety.Verdict) {
	if verdict == nil {
		return
	}

	a.mu.Lock()
	switch a.state {
	case StateFinalizing, StateCompleted, StateError:
		a.mu.Unlock()
		a.logger.Warn().Str("level", string(verdict.Level)).Msg("Verdict discarded, session already finalizing")
		return
	}
	a.record.Verdicts = append(a.record.Verdicts, verdict)
	a.mu.Unlock()

	a.metrics.RecordCheckEnd(string(verdict.Level))
	a.emit(Event{Type: EventSafetyAlert, Verdict: verdict})

	if verdict.RequiresInterruption {
		a.triggerInterruption(ctx, verdict)
	}
}

// triggerInterruption runs LISTENING -> INTERRUPTING, voices the warning,
// and returns to LISTENING. Synthesis failure is logged; the interruption
// notifications are delivered regardless.
func (a *Agent) triggerInterruption(ctx context.Context, verdict *safety.Verdict) {
	a.mu.Lock()
	if a.state != StateListening {
		a.mu.Unlock()
		return
	}
	a.pending = true
	a.setStateLocked(StateInterrupting)
	a.mu.Unlock()

	warning := warningText(verdict)
	a.logger.Warn().Str("warning", warning).Msg("Interruption triggered")
	a.emit(Event{Type: EventInterruptionStart, Text: warning})

	a.deliverWarning(ctx, warning)

	a.emit(Event{Type: EventInterruptionEnd})
	a.metrics.RecordInterruption()

	a.mu.Lock()
	a.pending = false
	if a.state == StateInterrupting {
		a.setStateLocked(StateListening)
	}
	a.mu.Unlock()
}

func (a *Agent) deliverWarning(ctx context.Context, warning string) {
	if a.synth == nil {
		return
	}

	chunks, err := a.synth.Synthesize(ctx, warning)
	observability.RecordCapabilityRequest("synthesizer", err)
	if err != nil {
		a.logger.Error().Err(err).Msg("Warning synthesis failed, interruption proceeds without audio")
		return
	}

	for chunk := range chunks {
		a.metrics.RecordAudioBytes("out", int64(len(chunk)))
		a.emit(Event{Type: EventInterruptionAudio, Audio: chunk})
	}
}

// warningText builds the spoken warning: the first interaction's drugs and
// condition, else the verdict's own warning, else a generic fallback
// referencing the recommendation.
func warningText(verdict *safety.Verdict) string {
	if len(verdict.Interactions) > 0 {
		interaction := verdict.Interactions[0]
		return fmt.Sprintf(
			"Doctor, wait. %s detected between %s. Please review before proceeding.",
			interaction.Condition,
			strings.Join(interaction.Drugs, " and "),
		)
	}
	if verdict.Warning != "" {
		return verdict.Warning
	}
	recommendation := verdict.Recommendation
	if recommendation == "" {
		recommendation = "Please review the current prescription."
	}
	return fmt.Sprintf("Doctor, safety alert: %s", recommendation)
}

// End finalizes the session. Idempotent: once completed, it returns the
// existing note with no further side effects. The periodic loop is
// cancelled and awaited, and any manual check still in flight is waited
// out via the check gate, before finalization begins; no check mutates
// the session afterwards.
func (a *Agent) End(ctx context.Context, note *Note) (*Note, error) {
	a.endMu.Lock()
	defer a.endMu.Unlock()

	a.mu.Lock()
	switch a.state {
	case StateCompleted:
		existing := a.record.Note
		a.mu.Unlock()
		return existing, nil
	case StateIdle, StateError:
		state := a.state
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot end from %s", ErrInvalidTransition, state)
	}
	cancel, loopDone := a.loopCancel, a.loopDone
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		<-loopDone
	}

	// Held through the FINALIZING transition so a check cannot start in
	// the gap between the barrier and the state change
	a.checkMu.Lock()
	a.mu.Lock()
	a.setStateLocked(StateFinalizing)
	a.mu.Unlock()
	a.checkMu.Unlock()

	if note == nil {
		note = a.generateNote(ctx)
	}

	a.mu.Lock()
	now := time.Now()
	a.record.Note = note
	a.record.EndTime = &now
	a.record.Status = "completed"
	a.setStateLocked(StateCompleted)
	a.mu.Unlock()

	a.metrics.RecordSessionEnd()
	a.signalDone()

	a.logger.Info().Msg("Session ended")
	return note, nil
}

// Fail drives the session to the terminal ERROR state on an unrecoverable
// fault. Only session info inspection is accepted afterwards.
func (a *Agent) Fail(err error) {
	a.mu.Lock()
	if a.state == StateCompleted || a.state == StateError {
		a.mu.Unlock()
		return
	}
	cancel := a.loopCancel
	a.setStateLocked(StateError)
	a.mu.Unlock()

	a.logger.Error().Err(err).Msg("Session entered error state")
	a.metrics.RecordError("fatal", "session")
	if cancel != nil {
		cancel()
	}
	a.signalDone()
}

func (a *Agent) generateNote(ctx context.Context) *Note {
	transcript := a.GetFullTranscript()

	if a.notes != nil {
		note, err := a.notes.GenerateNote(ctx, transcript, a.profile)
		observability.RecordCapabilityRequest("note_generator", err)
		if err == nil && note != nil {
			return note
		}
		if err != nil {
			a.logger.Error().Err(err).Msg("Note generation failed, using placeholder")
		}
	}

	return placeholderNote(transcript)
}

// placeholderNote is the minimal fixed-format note used when the note
// generation capability is absent or failing
func placeholderNote(transcript string) *Note {
	prefix := transcript
	if len(prefix) > 500 {
		prefix = prefix[:500]
	}
	return &Note{
		Subjective: fmt.Sprintf("Encounter transcript: %s...", prefix),
		Objective:  "Vitals and examination findings to be added.",
		Assessment: "Clinical assessment pending review.",
		Plan:       "Treatment plan as discussed.",
		ICD10Codes: []string{},
		CPTCodes:   []string{"99214"}, // default office visit code
	}
}

// GetTranscriptBuffer returns the space-joined contents of the working
// buffer without draining it
func (a *Agent) GetTranscriptBuffer() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return strings.Join(a.buffer, " ")
}

// BufferLen returns the number of fragments waiting in the working buffer
func (a *Agent) BufferLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffer)
}

// GetFullTranscript returns the complete transcript as one string
func (a *Agent) GetFullTranscript() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	parts := make([]string, len(a.record.Segments))
	for i, segment := range a.record.Segments {
		parts[i] = segment.Text
	}
	return strings.Join(parts, " ")
}

// Info returns a point-in-time snapshot of the session
func (a *Agent) Info() Info {
	a.mu.Lock()
	defer a.mu.Unlock()

	return Info{
		SessionID:              a.sessionID,
		SubjectID:              a.record.SubjectID,
		OperatorID:             a.record.OperatorID,
		State:                  a.state,
		StartTime:              a.record.StartTime,
		TranscriptLength:       len(a.record.Segments),
		SafetyChecksCount:      len(a.record.Verdicts),
		HasPendingInterruption: a.pending,
	}
}

// Snapshot returns a copy of the accumulated session record, safe to hand
// to the record store after completion
func (a *Agent) Snapshot() Record {
	a.mu.Lock()
	defer a.mu.Unlock()

	record := *a.record
	record.Segments = append([]TranscriptSegment(nil), a.record.Segments...)
	record.Verdicts = append([]*safety.Verdict(nil), a.record.Verdicts...)
	return record
}

// safetyCheckLoop is the per-session background task that schedules
// periodic checks until cancelled
func (a *Agent) safetyCheckLoop(ctx context.Context) {
	defer close(a.loopDone)

	ticker := time.NewTicker(a.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.RunSafetyCheck(ctx)
		}
	}
}

// setStateLocked transitions to a new state and emits the state-change
// notification. Caller must hold a.mu.
func (a *Agent) setStateLocked(to State) {
	if to == a.state {
		return
	}
	from := a.state
	a.state = to

	a.logger.Info().
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("Session state transition")

	a.emit(Event{Type: EventStateChange, From: from, To: to})
}

// emit delivers a notification without blocking. A full channel drops the
// event with a warning; delivery problems never alter session state.
func (a *Agent) emit(event Event) {
	event.SessionID = a.sessionID
	event.Timestamp = time.Now()

	select {
	case a.events <- event:
	default:
		a.logger.Warn().Str("event", string(event.Type)).Msg("Event channel full, dropping notification")
		a.metrics.RecordError("event_dropped", "session")
	}
}

func (a *Agent) signalDone() {
	a.doneOnce.Do(func() { close(a.done) })
}
