// Package transport exposes the consultation service over REST and
// WebSocket and owns the registry of live sessions.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/synapsehealth/guardian/internal/config"
	"github.com/synapsehealth/guardian/internal/events"
	"github.com/synapsehealth/guardian/internal/observability"
	"github.com/synapsehealth/guardian/internal/safety"
	"github.com/synapsehealth/guardian/internal/session"
	"github.com/synapsehealth/guardian/internal/store"
)

// ErrSessionNotFound is returned when no live session matches the id
var ErrSessionNotFound = errors.New("session not found")

// SessionManager builds, tracks, and finalizes live sessions. All
// collaborators are injected so degraded capabilities stay local to the
// component that lost them.
type SessionManager struct {
	cfg       *config.Config
	store     store.Store
	checker   session.Checker
	synth     session.Synthesizer
	notes     session.NoteGenerator
	publisher *events.Publisher
	logger    zerolog.Logger

	mu          sync.RWMutex
	sessions    map[string]*session.Agent
	subscribers map[string]chan session.Event
}

// NewSessionManager creates the session registry
func NewSessionManager(
	cfg *config.Config,
	st store.Store,
	checker session.Checker,
	synth session.Synthesizer,
	notes session.NoteGenerator,
	publisher *events.Publisher,
) *SessionManager {
	return &SessionManager{
		cfg:         cfg,
		store:       st,
		checker:     checker,
		synth:       synth,
		notes:       notes,
		publisher:   publisher,
		logger:      observability.GetLogger().With().Str("component", "sessions").Logger(),
		sessions:    make(map[string]*session.Agent),
		subscribers: make(map[string]chan session.Event),
	}
}

// StartSession loads the subject profile, builds a session agent, starts
// it, and begins pumping its events
func (m *SessionManager) StartSession(ctx context.Context, subjectID, operatorID string) (*session.Agent, error) {
	profile, err := m.store.GetSubjectProfile(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subject: %w", err)
	}

	agent := session.NewAgent(session.Config{
		SubjectID:     subjectID,
		OperatorID:    operatorID,
		Profile:       profile,
		Checker:       m.checker,
		Synthesizer:   m.synth,
		NoteGenerator: m.notes,
		CheckInterval: time.Duration(m.cfg.SafetyCheckIntervalMs) * time.Millisecond,
	})
	if err := agent.Start(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[agent.ID()] = agent
	m.mu.Unlock()

	go m.pumpEvents(agent)

	m.logger.Info().
		Str("session_id", agent.ID()).
		Str("subject_id", subjectID).
		Str("operator_id", operatorID).
		Msg("Consultation session started")
	return agent, nil
}

// GetSession returns a live session by id
func (m *SessionManager) GetSession(sessionID string) (*session.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agent, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	return agent, nil
}

// EndSession finalizes a session, archives its record, and removes it
// from the registry
func (m *SessionManager) EndSession(ctx context.Context, sessionID string, note *session.Note) (*session.Note, error) {
	agent, err := m.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	finalNote, err := agent.End(ctx, note)
	if err != nil {
		return nil, err
	}

	record := agent.Snapshot()
	if err := m.store.SaveSessionRecord(ctx, &record); err != nil {
		// The session is complete either way; archival failure is logged,
		// not surfaced to the operator.
		m.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to archive session record")
	}

	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	return finalNote, nil
}

// ActiveCount returns the number of live sessions
func (m *SessionManager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Subscribe attaches a consumer to a session's event flow. The returned
// cancel func must be called when the consumer goes away. One subscriber
// per session; a second Subscribe replaces the first.
func (m *SessionManager) Subscribe(sessionID string) (<-chan session.Event, func(), error) {
	if _, err := m.GetSession(sessionID); err != nil {
		return nil, nil, err
	}

	ch := make(chan session.Event, 64)
	m.mu.Lock()
	m.subscribers[sessionID] = ch
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		if m.subscribers[sessionID] == ch {
			delete(m.subscribers, sessionID)
		}
		m.mu.Unlock()
	}
	return ch, cancel, nil
}

// pumpEvents drains one session's event channel, forwarding to the
// publisher and to the attached subscriber, until the session reaches a
// terminal state
func (m *SessionManager) pumpEvents(agent *session.Agent) {
	subjectID := ""
	if agent.Profile() != nil {
		subjectID = agent.Profile().SubjectID
	}

	for {
		select {
		case event := <-agent.Events():
			m.forward(agent.ID(), subjectID, event)
		case <-agent.Done():
			// Drain anything emitted before the terminal transition
			for {
				select {
				case event := <-agent.Events():
					m.forward(agent.ID(), subjectID, event)
				default:
					return
				}
			}
		}
	}
}

func (m *SessionManager) forward(sessionID, subjectID string, event session.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch event.Type {
	case session.EventTranscript:
		_ = m.publisher.PublishTranscript(ctx, events.TranscriptEvent{
			SessionID: sessionID,
			SubjectID: subjectID,
			Speaker:   event.Speaker,
			Text:      event.Text,
			Timestamp: event.Timestamp,
		})
	case session.EventSafetyAlert:
		if event.Verdict != nil && event.Verdict.Level.AtLeast(safety.LevelCaution) {
			_ = m.publisher.PublishAlert(ctx, events.AlertEvent{
				SessionID: sessionID,
				SubjectID: subjectID,
				Verdict:   event.Verdict,
				Timestamp: event.Timestamp,
			})
		}
	}

	m.mu.RLock()
	subscriber := m.subscribers[sessionID]
	m.mu.RUnlock()
	if subscriber != nil {
		select {
		case subscriber <- event:
		default:
			// Slow consumer; session state never waits on delivery
		}
	}
}
