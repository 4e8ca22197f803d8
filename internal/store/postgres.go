package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/synapsehealth/guardian/internal/config"
	"github.com/synapsehealth/guardian/internal/observability"
	"github.com/synapsehealth/guardian/internal/orchestrator"
	"github.com/synapsehealth/guardian/internal/resilience"
	"github.com/synapsehealth/guardian/internal/session"
	"github.com/synapsehealth/guardian/internal/subject"
)

// PostgresStore backs the service with a Postgres database
type PostgresStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// ConnectPostgres opens the database with startup retry and applies
// pending migrations
func ConnectPostgres(ctx context.Context, cfg *config.Config) (*PostgresStore, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database url not configured")
	}

	logger := observability.GetLogger().With().Str("component", "store").Logger()

	var db *sql.DB
	retryConfig := &resilience.RetryConfig{
		MaxAttempts:       cfg.StoreConnectMaxAttempts,
		InitialBackoff:    time.Duration(cfg.StoreConnectBackoff) * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}
	err := resilience.Retry(ctx, func() error {
		var openErr error
		db, openErr = sql.Open("postgres", cfg.DatabaseURL)
		if openErr != nil {
			return openErr
		}
		return db.PingContext(ctx)
	}, retryConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := runMigrations(cfg.DatabaseURL); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info().Msg("Database connected, migrations applied")
	return &PostgresStore{db: db, logger: logger}, nil
}

func runMigrations(databaseURL string) error {
	m, err := migrate.New("file://migrations", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to init migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// GetSubjectProfile loads one subject record
func (s *PostgresStore) GetSubjectProfile(ctx context.Context, subjectID string) (*subject.Profile, error) {
	query := `SELECT id, name, date_of_birth, allergies, medications, condition_history, recent_diagnoses
		FROM subjects WHERE id = $1`

	row := s.db.QueryRowContext(ctx, query, subjectID)

	var profile subject.Profile
	var allergiesJSON, medicationsJSON, historyJSON, diagnosesJSON []byte
	err := row.Scan(
		&profile.SubjectID,
		&profile.Name,
		&profile.DateOfBirth,
		&allergiesJSON,
		&medicationsJSON,
		&historyJSON,
		&diagnosesJSON,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("subject %s: %w", subjectID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load subject %s: %w", subjectID, err)
	}

	if err := unmarshalColumn(allergiesJSON, &profile.Allergies); err != nil {
		return nil, err
	}
	if err := unmarshalColumn(medicationsJSON, &profile.CurrentMedications); err != nil {
		return nil, err
	}
	if err := unmarshalColumn(historyJSON, &profile.ConditionHistory); err != nil {
		return nil, err
	}
	if err := unmarshalColumn(diagnosesJSON, &profile.RecentDiagnoses); err != nil {
		return nil, err
	}
	return &profile, nil
}

// SearchGuidelines matches the corpus against the query terms and ranks
// rows by how many terms they contain
func (s *PostgresStore) SearchGuidelines(ctx context.Context, query string, limit int) ([]orchestrator.Guideline, error) {
	terms := searchTerms(query)
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}

	patterns := make([]string, len(terms))
	for i, term := range terms {
		patterns[i] = "%" + term + "%"
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT source, title, content FROM guidelines
		WHERE title ILIKE ANY($1) OR content ILIKE ANY($1)
		LIMIT 100`,
		pq.Array(patterns),
	)
	if err != nil {
		return nil, fmt.Errorf("guideline search failed: %w", err)
	}
	defer rows.Close()

	var results []orchestrator.Guideline
	for rows.Next() {
		var guideline orchestrator.Guideline
		if err := rows.Scan(&guideline.Source, &guideline.Title, &guideline.Content); err != nil {
			return nil, fmt.Errorf("guideline scan failed: %w", err)
		}
		guideline.Score = scoreGuideline(guideline, terms)
		results = append(results, guideline)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("guideline search failed: %w", err)
	}

	rankGuidelines(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// SaveSessionRecord archives one completed session. The full record is
// stored as a JSON document alongside the queryable columns.
func (s *PostgresStore) SaveSessionRecord(ctx context.Context, record *session.Record) error {
	recordJSON, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}

	query := `
		INSERT INTO session_records (session_id, subject_id, operator_id, started_at, ended_at, status, record)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id) DO UPDATE SET
			ended_at = $5,
			status = $6,
			record = $7
	`
	_, err = s.db.ExecContext(ctx, query,
		record.SessionID,
		record.SubjectID,
		record.OperatorID,
		record.StartTime,
		record.EndTime,
		record.Status,
		recordJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to save session record: %w", err)
	}
	return nil
}

// GetSessionRecord loads one archived session
func (s *PostgresStore) GetSessionRecord(ctx context.Context, sessionID string) (*session.Record, error) {
	var recordJSON []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM session_records WHERE session_id = $1`, sessionID,
	).Scan(&recordJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}

	var record session.Record
	if err := json.Unmarshal(recordJSON, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session record: %w", err)
	}
	return &record, nil
}

// Ping reports database reachability
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func unmarshalColumn(data []byte, target any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to unmarshal column: %w", err)
	}
	return nil
}

// searchTerms splits a query into lowercase terms, dropping fragments too
// short to be meaningful
func searchTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, len(fields))
	for _, field := range fields {
		if len(field) >= 3 {
			terms = append(terms, field)
		}
	}
	return terms
}

// scoreGuideline counts the fraction of query terms present in the row
func scoreGuideline(guideline orchestrator.Guideline, terms []string) float64 {
	haystack := strings.ToLower(guideline.Title + " " + guideline.Content)
	matched := 0
	for _, term := range terms {
		if strings.Contains(haystack, term) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

// rankGuidelines sorts by score descending, title ascending for stable
// ordering between runs
func rankGuidelines(guidelines []orchestrator.Guideline) {
	sort.SliceStable(guidelines, func(i, j int) bool {
		if guidelines[i].Score != guidelines[j].Score {
			return guidelines[i].Score > guidelines[j].Score
		}
		return guidelines[i].Title < guidelines[j].Title
	})
}
