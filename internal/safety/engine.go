package safety

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/synapsehealth/guardian/internal/subject"
)

// Engine is the deterministic, offline risk evaluator. It is the fallback
// when the deep reasoning capability is unavailable, and its output for a
// given input is fully reproducible: no network calls, no randomness.
type Engine struct {
	catalog *Catalog
}

// NewEngine creates a rule-based risk engine backed by the given catalog
func NewEngine(catalog *Catalog) *Engine {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Engine{catalog: catalog}
}

// Prescription phrase patterns. A captured token only counts when it is
// also a known vocabulary entry.
var phrasePatterns = []*regexp.Regexp{
	regexp.MustCompile(`prescrib(?:e|ing)\s+(\w+)`),
	regexp.MustCompile(`start(?:ing)?\s+(?:on\s+)?(\w+)`),
	regexp.MustCompile(`(\w+)\s+\d+\s*mg`),
	regexp.MustCompile(`give\s+(?:them\s+)?(\w+)`),
	regexp.MustCompile(`try\s+(\w+)`),
}

// ExtractMedications finds probable medication mentions in free text.
// The result is a set: sorted for determinism, no duplicates.
func (e *Engine) ExtractMedications(text string) []string {
	lower := strings.ToLower(text)
	found := make(map[string]struct{})

	for _, name := range e.catalog.Vocabulary() {
		if strings.Contains(lower, name) {
			found[name] = struct{}{}
		}
	}

	for _, pattern := range phrasePatterns {
		for _, match := range pattern.FindAllStringSubmatch(lower, -1) {
			if e.catalog.KnownDrug(match[1]) {
				found[match[1]] = struct{}{}
			}
		}
	}

	medications := make([]string, 0, len(found))
	for name := range found {
		medications = append(medications, name)
	}
	sort.Strings(medications)
	return medications
}

// CheckInteractions maps detected and current medications to drug classes
// and collects every catalog match between a new class and a current class.
// An explicit drug class on a medication record wins over the inferred one.
func (e *Engine) CheckInteractions(detected []string, current []subject.Medication) []Interaction {
	currentClasses := make(map[string]struct{})
	for _, med := range current {
		if med.DrugClass != "" {
			currentClasses[med.DrugClass] = struct{}{}
		} else if class, ok := e.catalog.ClassOf(med.Name); ok {
			currentClasses[class] = struct{}{}
		}
	}

	newClasses := make(map[string]struct{})
	for _, drug := range detected {
		if class, ok := e.catalog.ClassOf(drug); ok {
			newClasses[class] = struct{}{}
		}
	}

	var interactions []Interaction
	for _, newClass := range sortedKeys(newClasses) {
		for _, currentClass := range sortedKeys(currentClasses) {
			entry, ok := e.catalog.Lookup(newClass, currentClass)
			if !ok {
				continue
			}
			interactions = append(interactions, Interaction{
				Drugs:          []string{newClass, currentClass},
				Condition:      entry.Condition,
				Severity:       entry.Severity,
				Description:    entry.Description,
				Recommendation: entry.Recommendation,
			})
		}
	}
	return interactions
}

// CheckAllergies flags detected medications that conflict with the subject's
// recorded allergies. Independently of detection, a bare verbatim mention of
// an allergy in the raw text is flagged too, which catches statements with
// no prescribing verb.
func (e *Engine) CheckAllergies(text string, detected []string, allergies []string) []AllergyConflict {
	var conflicts []AllergyConflict

	for _, drug := range detected {
		drugLower := strings.ToLower(drug)
		class, _ := e.catalog.ClassOf(drug)
		classLower := strings.ToLower(class)

		for _, allergy := range allergies {
			allergyLower := strings.ToLower(allergy)
			switch {
			case strings.Contains(drugLower, allergyLower) || strings.Contains(allergyLower, drugLower):
				conflicts = append(conflicts, AllergyConflict{Drug: drug, Allergy: allergy, Severity: LevelCritical})
			case class != "" && strings.Contains(classLower, allergyLower):
				conflicts = append(conflicts, AllergyConflict{Drug: drug, Allergy: allergy, Severity: LevelCritical})
			}
		}
	}

	if len(conflicts) == 0 {
		textLower := strings.ToLower(text)
		for _, allergy := range allergies {
			if strings.Contains(textLower, strings.ToLower(allergy)) {
				conflicts = append(conflicts, AllergyConflict{Drug: allergy, Allergy: allergy, Severity: LevelCritical})
			}
		}
	}

	return conflicts
}

// Evaluate runs the full rule-based safety check over one text window
func (e *Engine) Evaluate(text string, profile *subject.Profile) *Verdict {
	var (
		currentMeds []subject.Medication
		allergies   []string
	)
	if profile != nil {
		currentMeds = profile.CurrentMedications
		allergies = profile.Allergies
	}

	detected := e.ExtractMedications(text)

	var interactions []Interaction
	if len(detected) > 0 {
		interactions = e.CheckInteractions(detected, currentMeds)
	}

	conflicts := e.CheckAllergies(text, detected, allergies)

	verdict := &Verdict{
		DetectedTerms:    detected,
		Interactions:     interactions,
		AllergyConflicts: conflicts,
	}

	switch {
	case len(conflicts) > 0:
		verdict.Level = LevelCritical
		verdict.RiskScore = 1.0
		verdict.Warning = fmt.Sprintf("ALLERGY ALERT: Patient is allergic to %s!", conflicts[0].Allergy)

	case len(interactions) > 0:
		verdict.Level = highestSeverity(interactions)
		switch verdict.Level {
		case LevelCritical:
			verdict.RiskScore = 1.0
		case LevelDanger:
			verdict.RiskScore = 0.8
		default:
			verdict.RiskScore = 0.5
		}
		primary := interactions[0]
		verdict.Warning = fmt.Sprintf("%s: %s", primary.Condition, primary.Description)

	default:
		verdict.Level = LevelSafe
		verdict.RiskScore = 0.1
	}

	if len(interactions) > 0 {
		verdict.Recommendation = interactions[0].Recommendation
	}

	verdict.RequiresInterruption = verdict.Level.AtLeast(LevelDanger)
	return verdict
}

func highestSeverity(interactions []Interaction) Level {
	highest := LevelCaution
	for _, i := range interactions {
		if i.Severity.AtLeast(highest) {
			highest = i.Severity
		}
	}
	return highest
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
