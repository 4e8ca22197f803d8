// Package stream manages the lifecycle of a live transcription connection:
// lazy connect, failure cooldown, and tolerated audio drops while the
// stream is down.
package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/synapsehealth/guardian/internal/observability"
)

// ErrClosed is returned once the manager has been shut down
var ErrClosed = errors.New("stream manager closed")

// ErrCoolingDown indicates a recent connect failure; no new attempt is
// made until the cooldown elapses
var ErrCoolingDown = errors.New("stream connect cooling down")

const defaultCooldown = 3 * time.Second

// Handle is one live transcription connection
type Handle interface {
	Send(data []byte) error
	Close() error
}

// Opener establishes transcription connections. Implementations dial the
// provider and register transcript callbacks before returning.
type Opener interface {
	Open(ctx context.Context) (Handle, error)
}

// Manager guards a single transcription connection per session. Connect
// attempts are single-flight: concurrent Sends during a dial share one
// attempt. Audio arriving while no connection exists is dropped, never
// queued.
type Manager struct {
	opener   Opener
	cooldown time.Duration
	logger   zerolog.Logger

	mu          sync.Mutex
	handle      Handle
	nextAttempt time.Time
	closed      bool
}

// NewManager creates a stream manager. A non-positive cooldown falls back
// to the default.
func NewManager(opener Opener, cooldown time.Duration, logger zerolog.Logger) *Manager {
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	return &Manager{
		opener:   opener,
		cooldown: cooldown,
		logger:   logger,
	}
}

// EnsureConnected establishes the connection if none exists. The mutex is
// held across the dial so a second caller waits for the in-flight attempt
// instead of starting its own.
func (m *Manager) EnsureConnected(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureConnectedLocked(ctx)
}

func (m *Manager) ensureConnectedLocked(ctx context.Context) error {
	if m.closed {
		return ErrClosed
	}
	if m.handle != nil {
		return nil
	}
	if time.Now().Before(m.nextAttempt) {
		return ErrCoolingDown
	}

	handle, err := m.opener.Open(ctx)
	observability.RecordStreamConnect(err == nil)
	if err != nil {
		m.nextAttempt = time.Now().Add(m.cooldown)
		m.logger.Error().Err(err).Dur("cooldown", m.cooldown).Msg("Transcription stream connect failed")
		return err
	}

	m.handle = handle
	m.logger.Info().Msg("Transcription stream connected")
	return nil
}

// Send forwards one audio chunk. While disconnected or cooling down the
// chunk is dropped and counted; that is not an error. A failure on a live
// connection discards the handle, arms the cooldown, and is returned.
func (m *Manager) Send(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	if err := m.ensureConnectedLocked(ctx); err != nil {
		observability.RecordAudioDropped(int64(len(data)))
		return nil
	}

	if err := m.handle.Send(data); err != nil {
		m.logger.Error().Err(err).Msg("Transcription stream send failed, discarding connection")
		m.discardLocked()
		observability.RecordAudioDropped(int64(len(data)))
		return err
	}
	return nil
}

// Connected reports whether a live connection currently exists
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle != nil
}

// Close shuts the manager down permanently. Subsequent Sends return
// ErrClosed. Closing the underlying connection is best effort.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	if m.handle == nil {
		return nil
	}
	handle := m.handle
	m.handle = nil
	if err := handle.Close(); err != nil {
		m.logger.Warn().Err(err).Msg("Transcription stream close failed")
		return err
	}
	return nil
}

// discardLocked drops the current handle and arms the retry cooldown.
// Caller must hold m.mu.
func (m *Manager) discardLocked() {
	if m.handle != nil {
		_ = m.handle.Close()
		m.handle = nil
	}
	m.nextAttempt = time.Now().Add(m.cooldown)
}
