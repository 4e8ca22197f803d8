package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/synapsehealth/guardian/internal/safety"
	"github.com/synapsehealth/guardian/internal/subject"
)

// capturingChecker records the windows it was asked to check and returns
// the queued verdicts in order
type capturingChecker struct {
	windows  []string
	verdicts []*safety.Verdict
}

func (c *capturingChecker) Check(_ context.Context, windowText string, _ *subject.Profile) *safety.Verdict {
	c.windows = append(c.windows, windowText)
	if len(c.verdicts) > 0 {
		v := c.verdicts[0]
		c.verdicts = c.verdicts[1:]
		return v
	}
	return &safety.Verdict{Level: safety.LevelSafe, RiskScore: 0.1}
}

// blockingChecker signals when a check enters and holds it until released
type blockingChecker struct {
	entered chan struct{}
	release chan struct{}
	verdict *safety.Verdict
}

func (c *blockingChecker) Check(_ context.Context, _ string, _ *subject.Profile) *safety.Verdict {
	close(c.entered)
	<-c.release
	if c.verdict != nil {
		return c.verdict
	}
	return &safety.Verdict{Level: safety.LevelSafe, RiskScore: 0.1}
}

type stubSynthesizer struct {
	chunks [][]byte
	err    error
	calls  int
}

func (s *stubSynthesizer) Synthesize(_ context.Context, _ string) (<-chan []byte, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan []byte, len(s.chunks))
	for _, chunk := range s.chunks {
		ch <- chunk
	}
	close(ch)
	return ch, nil
}

type stubNoteGenerator struct {
	note *Note
	err  error
}

func (s *stubNoteGenerator) GenerateNote(_ context.Context, _ string, _ *subject.Profile) (*Note, error) {
	return s.note, s.err
}

func newTestAgent(t *testing.T, cfg Config) *Agent {
	t.Helper()
	if cfg.Checker == nil {
		cfg.Checker = &capturingChecker{}
	}
	cfg.SubjectID = "P001"
	cfg.OperatorID = "DR001"
	// Keep the periodic loop quiet so tests drive checks explicitly.
	cfg.CheckInterval = time.Hour
	return NewAgent(cfg)
}

// drainEvents collects everything currently waiting on the event channel
func drainEvents(a *Agent) []Event {
	var events []Event
	for {
		select {
		case ev := <-a.Events():
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestStartOnlyFromIdle(t *testing.T) {
	agent := newTestAgent(t, Config{})

	if err := agent.Start(); err != nil {
		t.Fatalf("Start() from IDLE failed: %v", err)
	}
	defer agent.End(context.Background(), nil)

	if got := agent.State(); got != StateListening {
		t.Fatalf("state after Start = %s, want %s", got, StateListening)
	}

	err := agent.Start()
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second Start() error = %v, want ErrInvalidTransition", err)
	}
}

func TestSafetyCheckDrainsBufferInOrder(t *testing.T) {
	checker := &capturingChecker{}
	agent := newTestAgent(t, Config{Checker: checker})

	if err := agent.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer agent.End(context.Background(), nil)

	agent.AddTranscript("Patient reports headaches", SpeakerOperator)
	agent.AddTranscript("lasting two weeks", SpeakerSubject)
	agent.AddTranscript("I'll prescribe sumatriptan", SpeakerOperator)

	agent.RunSafetyCheck(context.Background())

	if len(checker.windows) != 1 {
		t.Fatalf("checker called %d times, want 1", len(checker.windows))
	}
	want := "Patient reports headaches lasting two weeks I'll prescribe sumatriptan"
	if checker.windows[0] != want {
		t.Errorf("check window = %q, want %q", checker.windows[0], want)
	}
	if agent.BufferLen() != 0 {
		t.Errorf("buffer length after check = %d, want 0", agent.BufferLen())
	}
	if got := agent.State(); got != StateListening {
		t.Errorf("state after check = %s, want %s", got, StateListening)
	}
}

func TestSafetyCheckSkipsEmptyBuffer(t *testing.T) {
	checker := &capturingChecker{}
	agent := newTestAgent(t, Config{Checker: checker})

	if err := agent.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer agent.End(context.Background(), nil)

	agent.RunSafetyCheck(context.Background())

	if len(checker.windows) != 0 {
		t.Errorf("checker called %d times on empty buffer, want 0", len(checker.windows))
	}
}

func TestAddTranscriptIgnoredOutsideListening(t *testing.T) {
	agent := newTestAgent(t, Config{})

	agent.AddTranscript("spoken before start", SpeakerOperator)
	if agent.BufferLen() != 0 {
		t.Errorf("buffer accepted transcript while IDLE")
	}

	if err := agent.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer agent.End(context.Background(), nil)

	agent.Pause()
	agent.AddTranscript("spoken while paused", SpeakerOperator)
	if agent.BufferLen() != 0 {
		t.Errorf("buffer accepted transcript while PAUSED")
	}

	agent.Resume()
	agent.AddTranscript("spoken after resume", SpeakerOperator)
	if agent.BufferLen() != 1 {
		t.Errorf("buffer length after resume = %d, want 1", agent.BufferLen())
	}
}

func TestPauseResume(t *testing.T) {
	agent := newTestAgent(t, Config{})

	// Pause before start is a no-op
	agent.Pause()
	if got := agent.State(); got != StateIdle {
		t.Fatalf("state after Pause from IDLE = %s, want %s", got, StateIdle)
	}

	if err := agent.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer agent.End(context.Background(), nil)

	agent.Pause()
	if got := agent.State(); got != StatePaused {
		t.Fatalf("state after Pause = %s, want %s", got, StatePaused)
	}

	// Resume twice; the second is a no-op
	agent.Resume()
	agent.Resume()
	if got := agent.State(); got != StateListening {
		t.Fatalf("state after Resume = %s, want %s", got, StateListening)
	}
}

func TestInterruptionSequence(t *testing.T) {
	verdict := &safety.Verdict{
		Level:     safety.LevelDanger,
		RiskScore: 0.8,
		Interactions: []safety.Interaction{{
			Drugs:     []string{"Sertraline", "sumatriptan"},
			Condition: "Serotonin Syndrome Risk",
			Severity:  safety.LevelDanger,
		}},
		RequiresInterruption: true,
	}
	checker := &capturingChecker{verdicts: []*safety.Verdict{verdict}}
	synth := &stubSynthesizer{chunks: [][]byte{{0x01, 0x02}, {0x03}}}
	agent := newTestAgent(t, Config{Checker: checker, Synthesizer: synth})

	if err := agent.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer agent.End(context.Background(), nil)
	drainEvents(agent)

	agent.AddTranscript("start them on sumatriptan", SpeakerOperator)
	drainEvents(agent)
	agent.RunSafetyCheck(context.Background())

	events := drainEvents(agent)

	var transitions []State
	var starts, ends, audioChunks int
	var warning string
	for _, ev := range events {
		switch ev.Type {
		case EventStateChange:
			transitions = append(transitions, ev.To)
		case EventInterruptionStart:
			starts++
			warning = ev.Text
		case EventInterruptionEnd:
			ends++
		case EventInterruptionAudio:
			audioChunks++
		}
	}

	wantTransitions := []State{StateProcessing, StateListening, StateInterrupting, StateListening}
	if len(transitions) != len(wantTransitions) {
		t.Fatalf("transitions = %v, want %v", transitions, wantTransitions)
	}
	for i, want := range wantTransitions {
		if transitions[i] != want {
			t.Fatalf("transitions = %v, want %v", transitions, wantTransitions)
		}
	}
	if starts != 1 || ends != 1 {
		t.Errorf("interruption notifications = %d start / %d end, want exactly one pair", starts, ends)
	}
	if audioChunks != 2 {
		t.Errorf("audio chunks = %d, want 2", audioChunks)
	}

	wantWarning := "Doctor, wait. Serotonin Syndrome Risk detected between Sertraline and sumatriptan. Please review before proceeding."
	if warning != wantWarning {
		t.Errorf("warning = %q, want %q", warning, wantWarning)
	}
	if got := agent.State(); got != StateListening {
		t.Errorf("state after interruption = %s, want %s", got, StateListening)
	}
}

func TestCautionVerdictDoesNotInterrupt(t *testing.T) {
	verdict := &safety.Verdict{Level: safety.LevelCaution, RiskScore: 0.5, Warning: "monitor potassium"}
	checker := &capturingChecker{verdicts: []*safety.Verdict{verdict}}
	synth := &stubSynthesizer{}
	agent := newTestAgent(t, Config{Checker: checker, Synthesizer: synth})

	if err := agent.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer agent.End(context.Background(), nil)
	drainEvents(agent)

	agent.AddTranscript("adding a potassium supplement", SpeakerOperator)
	agent.RunSafetyCheck(context.Background())

	var alerts int
	for _, ev := range drainEvents(agent) {
		switch ev.Type {
		case EventSafetyAlert:
			alerts++
		case EventInterruptionStart, EventInterruptionEnd:
			t.Errorf("unexpected interruption event %s for caution verdict", ev.Type)
		}
	}
	if alerts != 1 {
		t.Errorf("safety alert events = %d, want 1", alerts)
	}
	if synth.calls != 0 {
		t.Errorf("synthesizer called %d times, want 0", synth.calls)
	}
}

func TestSynthesisFailureStillDeliversInterruption(t *testing.T) {
	verdict := &safety.Verdict{
		Level:                safety.LevelCritical,
		RiskScore:            1.0,
		Warning:              "ALLERGY ALERT: Patient is allergic to Penicillin!",
		RequiresInterruption: true,
	}
	checker := &capturingChecker{verdicts: []*safety.Verdict{verdict}}
	synth := &stubSynthesizer{err: errors.New("voice service unavailable")}
	agent := newTestAgent(t, Config{Checker: checker, Synthesizer: synth})

	if err := agent.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer agent.End(context.Background(), nil)
	drainEvents(agent)

	agent.AddTranscript("I'll start amoxicillin", SpeakerOperator)
	agent.RunSafetyCheck(context.Background())

	var starts, ends int
	for _, ev := range drainEvents(agent) {
		switch ev.Type {
		case EventInterruptionStart:
			starts++
		case EventInterruptionEnd:
			ends++
		case EventInterruptionAudio:
			t.Error("received audio chunk despite synthesis failure")
		}
	}
	if starts != 1 || ends != 1 {
		t.Errorf("interruption notifications = %d start / %d end, want exactly one pair", starts, ends)
	}
	if got := agent.State(); got != StateListening {
		t.Errorf("state after failed synthesis = %s, want %s", got, StateListening)
	}
}

func TestEndIsIdempotent(t *testing.T) {
	note := &Note{Subjective: "Reviewed medication changes.", CPTCodes: []string{"99213"}}
	agent := newTestAgent(t, Config{NoteGenerator: &stubNoteGenerator{note: note}})

	if err := agent.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	first, err := agent.End(context.Background(), nil)
	if err != nil {
		t.Fatalf("End() failed: %v", err)
	}
	if first != note {
		t.Fatalf("End() note = %+v, want generator note", first)
	}
	if got := agent.State(); got != StateCompleted {
		t.Fatalf("state after End = %s, want %s", got, StateCompleted)
	}

	second, err := agent.End(context.Background(), nil)
	if err != nil {
		t.Fatalf("second End() failed: %v", err)
	}
	if second != first {
		t.Errorf("second End() returned a different note")
	}

	select {
	case <-agent.Done():
	default:
		t.Error("Done() not closed after End")
	}
}

func TestEndFallsBackToPlaceholderNote(t *testing.T) {
	agent := newTestAgent(t, Config{
		NoteGenerator: &stubNoteGenerator{err: errors.New("model timeout")},
	})

	if err := agent.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	agent.AddTranscript("Follow up in two weeks", SpeakerOperator)

	note, err := agent.End(context.Background(), nil)
	if err != nil {
		t.Fatalf("End() failed: %v", err)
	}
	if note == nil {
		t.Fatal("End() returned nil note")
	}
	if len(note.CPTCodes) != 1 || note.CPTCodes[0] != "99214" {
		t.Errorf("placeholder CPT codes = %v, want [99214]", note.CPTCodes)
	}
	if !strings.Contains(note.Subjective, "Follow up in two weeks") {
		t.Errorf("placeholder subjective %q missing transcript text", note.Subjective)
	}
}

func TestEndRejectedFromIdle(t *testing.T) {
	agent := newTestAgent(t, Config{})

	_, err := agent.End(context.Background(), nil)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("End() from IDLE error = %v, want ErrInvalidTransition", err)
	}
}

func TestFailIsTerminal(t *testing.T) {
	agent := newTestAgent(t, Config{})

	if err := agent.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	agent.Fail(errors.New("transcription stream lost"))
	if got := agent.State(); got != StateError {
		t.Fatalf("state after Fail = %s, want %s", got, StateError)
	}

	agent.AddTranscript("spoken after failure", SpeakerOperator)
	if agent.BufferLen() != 0 {
		t.Errorf("buffer accepted transcript in ERROR state")
	}

	if _, err := agent.End(context.Background(), nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("End() after Fail error = %v, want ErrInvalidTransition", err)
	}

	select {
	case <-agent.Done():
	default:
		t.Error("Done() not closed after Fail")
	}
}

func TestInfoSnapshot(t *testing.T) {
	agent := newTestAgent(t, Config{
		Profile: &subject.Profile{SubjectID: "P001", Name: "Amaan Patel"},
	})

	if err := agent.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer agent.End(context.Background(), nil)

	agent.AddTranscript("blood pressure stable", SpeakerOperator)
	agent.RunSafetyCheck(context.Background())

	info := agent.Info()
	if info.SubjectID != "P001" {
		t.Errorf("Info subject = %s, want P001", info.SubjectID)
	}
	if info.State != StateListening {
		t.Errorf("Info state = %s, want %s", info.State, StateListening)
	}
	if info.TranscriptLength != 1 {
		t.Errorf("Info transcript length = %d, want 1", info.TranscriptLength)
	}
	if info.SafetyChecksCount != 1 {
		t.Errorf("Info safety checks = %d, want 1", info.SafetyChecksCount)
	}
}

func TestSnapshotCopiesRecord(t *testing.T) {
	agent := newTestAgent(t, Config{})

	if err := agent.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	agent.AddTranscript("initial findings", SpeakerOperator)
	snapshot := agent.Snapshot()

	agent.AddTranscript("later findings", SpeakerOperator)
	if len(snapshot.Segments) != 1 {
		t.Errorf("snapshot segments = %d, want 1 (mutated after copy)", len(snapshot.Segments))
	}

	if _, err := agent.End(context.Background(), nil); err != nil {
		t.Fatalf("End() failed: %v", err)
	}
	final := agent.Snapshot()
	if final.Status != "completed" {
		t.Errorf("final snapshot status = %q, want completed", final.Status)
	}
	if final.EndTime == nil {
		t.Error("final snapshot missing end time")
	}
}

func TestEndWaitsForInFlightCheck(t *testing.T) {
	checker := &blockingChecker{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		verdict: &safety.Verdict{Level: safety.LevelCaution, RiskScore: 0.5},
	}
	agent := newTestAgent(t, Config{Checker: checker})

	if err := agent.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	agent.AddTranscript("adding ibuprofen for the joint pain", SpeakerOperator)

	checkDone := make(chan struct{})
	go func() {
		defer close(checkDone)
		agent.RunSafetyCheck(context.Background())
	}()
	<-checker.entered

	endDone := make(chan struct{})
	go func() {
		defer close(endDone)
		if _, err := agent.End(context.Background(), nil); err != nil {
			t.Errorf("End() failed: %v", err)
		}
	}()

	select {
	case <-endDone:
		t.Fatal("End returned while a check was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(checker.release)
	<-checkDone
	<-endDone

	snapshot := agent.Snapshot()
	if snapshot.Status != "completed" {
		t.Fatalf("status = %q, want completed", snapshot.Status)
	}
	if len(snapshot.Verdicts) != 1 {
		t.Errorf("verdicts in completed record = %d, want 1 (in-flight check lost)", len(snapshot.Verdicts))
	}

	// The record must not grow after completion
	if len(agent.Snapshot().Verdicts) != len(snapshot.Verdicts) {
		t.Error("verdict count changed after completion")
	}
}

func TestVerdictAfterFinalizationDiscarded(t *testing.T) {
	agent := newTestAgent(t, Config{})

	if err := agent.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if _, err := agent.End(context.Background(), nil); err != nil {
		t.Fatalf("End() failed: %v", err)
	}

	agent.ProcessVerdict(context.Background(), &safety.Verdict{
		Level:     safety.LevelDanger,
		RiskScore: 0.8,
	})

	snapshot := agent.Snapshot()
	if len(snapshot.Verdicts) != 0 {
		t.Errorf("verdicts after completion = %d, want 0", len(snapshot.Verdicts))
	}
	if snapshot.Status != "completed" {
		t.Errorf("status = %q, want completed", snapshot.Status)
	}
}
