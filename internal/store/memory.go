package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/synapsehealth/guardian/internal/orchestrator"
	"github.com/synapsehealth/guardian/internal/session"
	"github.com/synapsehealth/guardian/internal/subject"
)

// MemoryStore is the in-process store used for demo mode and tests. It
// ships pre-seeded subject profiles and a small guideline corpus.
type MemoryStore struct {
	mu         sync.RWMutex
	subjects   map[string]*subject.Profile
	guidelines []orchestrator.Guideline
	records    map[string]*session.Record
}

// NewMemoryStore creates a store seeded with the demo subjects
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subjects:   demoSubjects(),
		guidelines: demoGuidelines(),
		records:    make(map[string]*session.Record),
	}
}

func demoSubjects() map[string]*subject.Profile {
	dobPatel := time.Date(1985, time.March, 12, 0, 0, 0, 0, time.UTC)
	dobJohnson := time.Date(1972, time.August, 3, 0, 0, 0, 0, time.UTC)

	return map[string]*subject.Profile{
		"P001": {
			SubjectID:   "P001",
			Name:        "Amaan Patel",
			DateOfBirth: dobPatel,
			Allergies:   []string{"Penicillin", "Sulfa drugs"},
			CurrentMedications: []subject.Medication{
				{Name: "Sertraline", Dosage: "100mg", Frequency: "daily", DrugClass: "SSRI"},
				{Name: "Lisinopril", Dosage: "10mg", Frequency: "daily", DrugClass: "ACE Inhibitor"},
			},
			ConditionHistory: []string{"Depression", "Hypertension"},
			RecentDiagnoses:  []string{"Chronic migraine"},
		},
		"P002": {
			SubjectID:   "P002",
			Name:        "Sarah Johnson",
			DateOfBirth: dobJohnson,
			Allergies:   []string{"Latex"},
			CurrentMedications: []subject.Medication{
				{Name: "Warfarin", Dosage: "5mg", Frequency: "daily", DrugClass: "Anticoagulant"},
				{Name: "Metoprolol", Dosage: "50mg", Frequency: "twice daily", DrugClass: "Beta Blocker"},
			},
			ConditionHistory: []string{"Atrial fibrillation"},
			RecentDiagnoses:  []string{"Osteoarthritis"},
		},
	}
}

func demoGuidelines() []orchestrator.Guideline {
	return []orchestrator.Guideline{
		{
			Source:  "clinical-pharm",
			Title:   "Serotonergic drug combinations",
			Content: "Concurrent use of SSRI antidepressants with triptan abortives raises serotonin levels and can precipitate serotonin syndrome. Monitor closely or select a non-serotonergic alternative.",
		},
		{
			Source:  "clinical-pharm",
			Title:   "Anticoagulant and NSAID interaction",
			Content: "NSAIDs potentiate bleeding risk in patients on anticoagulants such as warfarin. Prefer acetaminophen for analgesia when anticoagulated.",
		},
		{
			Source:  "clinical-pharm",
			Title:   "ACE inhibitors and potassium",
			Content: "ACE inhibitor therapy combined with potassium supplements risks hyperkalemia. Check serum potassium before supplementation.",
		},
		{
			Source:  "allergy",
			Title:   "Beta-lactam cross-reactivity",
			Content: "Patients with documented penicillin allergy may react to amoxicillin and other beta-lactam antibiotics. Verify allergy history before prescribing.",
		},
		{
			Source:  "cardiology",
			Title:   "Beta blocker and calcium channel blocker co-therapy",
			Content: "Combining beta blockers with non-dihydropyridine calcium channel blockers can cause bradycardia and heart block. Use with caution and monitor heart rate.",
		},
	}
}

// GetSubjectProfile loads one seeded subject
func (s *MemoryStore) GetSubjectProfile(_ context.Context, subjectID string) (*subject.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.subjects[subjectID]
	if !ok {
		return nil, fmt.Errorf("subject %s: %w", subjectID, ErrNotFound)
	}
	return profile, nil
}

// SearchGuidelines ranks the seeded corpus by query term overlap
func (s *MemoryStore) SearchGuidelines(_ context.Context, query string, limit int) ([]orchestrator.Guideline, error) {
	terms := searchTerms(query)
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []orchestrator.Guideline
	for _, guideline := range s.guidelines {
		score := scoreGuideline(guideline, terms)
		if score == 0 {
			continue
		}
		guideline.Score = score
		results = append(results, guideline)
	}

	rankGuidelines(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// SaveSessionRecord archives a deep copy of the record
func (s *MemoryStore) SaveSessionRecord(_ context.Context, record *session.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}
	var copied session.Record
	if err := json.Unmarshal(data, &copied); err != nil {
		return fmt.Errorf("failed to copy session record: %w", err)
	}

	s.mu.Lock()
	s.records[record.SessionID] = &copied
	s.mu.Unlock()
	return nil
}

// GetSessionRecord loads one archived session
func (s *MemoryStore) GetSessionRecord(_ context.Context, sessionID string) (*session.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return record, nil
}

// Ping always succeeds for the in-process store
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-process store
func (s *MemoryStore) Close() error {
	return nil
}
