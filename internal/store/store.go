// Package store persists subject profiles, the guideline corpus, and
// completed session records.
package store

import (
	"context"
	"errors"

	"github.com/synapsehealth/guardian/internal/orchestrator"
	"github.com/synapsehealth/guardian/internal/session"
	"github.com/synapsehealth/guardian/internal/subject"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("record not found")

// Store is the persistence surface the service depends on. The Postgres
// implementation backs deployments; the memory implementation backs demo
// mode and tests.
type Store interface {
	// GetSubjectProfile loads one subject record
	GetSubjectProfile(ctx context.Context, subjectID string) (*subject.Profile, error)

	// SearchGuidelines retrieves guideline fragments ranked by relevance
	// to the query. It satisfies the orchestrator's guideline capability.
	SearchGuidelines(ctx context.Context, query string, limit int) ([]orchestrator.Guideline, error)

	// SaveSessionRecord archives one completed session
	SaveSessionRecord(ctx context.Context, record *session.Record) error

	// GetSessionRecord loads one archived session
	GetSessionRecord(ctx context.Context, sessionID string) (*session.Record, error)

	// Ping reports whether the backing store is reachable
	Ping(ctx context.Context) error

	// Close releases the store's resources
	Close() error
}
