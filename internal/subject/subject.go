// Package subject holds the read-only patient record consumed by safety checks.
package subject

import "time"

// Medication is one entry in a subject's current medication list
type Medication struct {
	Name      string     `json:"name"`
	Dosage    string     `json:"dosage"`
	Frequency string     `json:"frequency"`
	DrugClass string     `json:"drug_class,omitempty"` // e.g. "SSRI", "Triptan", "NSAID"
	StartDate *time.Time `json:"start_date,omitempty"`
}

// Profile is the complete subject record, supplied by the record store.
// It is read-only for the duration of a session.
type Profile struct {
	SubjectID          string       `json:"subject_id"`
	Name               string       `json:"name"`
	DateOfBirth        time.Time    `json:"date_of_birth"`
	Allergies          []string     `json:"allergies"`
	CurrentMedications []Medication `json:"current_medications"`
	ConditionHistory   []string     `json:"condition_history"`
	RecentDiagnoses    []string     `json:"recent_diagnoses"`
}
