package safety

import "strings"

// CatalogEntry describes a known dangerous combination of two drug classes
type CatalogEntry struct {
	Condition      string
	Severity       Level
	Description    string
	Recommendation string
}

// classPair is an unordered pair of drug classes, normalized so that
// lookup order does not matter
type classPair struct {
	a, b string
}

func newClassPair(x, y string) classPair {
	if x > y {
		x, y = y, x
	}
	return classPair{a: x, b: y}
}

// Catalog holds the static drug-class taxonomy and known dangerous
// class pairs. Loaded at startup, read-only afterwards.
type Catalog struct {
	interactions map[classPair]CatalogEntry
	classByDrug  map[string]string
}

// NewCatalog builds a catalog from explicit tables. Keys in interactions
// are looked up without regard to pair order.
func NewCatalog(interactions map[[2]string]CatalogEntry, classByDrug map[string]string) *Catalog {
	c := &Catalog{
		interactions: make(map[classPair]CatalogEntry, len(interactions)),
		classByDrug:  make(map[string]string, len(classByDrug)),
	}
	for pair, entry := range interactions {
		c.interactions[newClassPair(pair[0], pair[1])] = entry
	}
	for drug, class := range classByDrug {
		c.classByDrug[strings.ToLower(drug)] = class
	}
	return c
}

// Lookup returns the catalog entry for an unordered pair of drug classes
func (c *Catalog) Lookup(classA, classB string) (CatalogEntry, bool) {
	entry, ok := c.interactions[newClassPair(classA, classB)]
	return entry, ok
}

// ClassOf returns the drug class for a medication name, if known
func (c *Catalog) ClassOf(drugName string) (string, bool) {
	class, ok := c.classByDrug[strings.ToLower(drugName)]
	return class, ok
}

// Vocabulary returns all known medication names
func (c *Catalog) Vocabulary() []string {
	names := make([]string, 0, len(c.classByDrug))
	for name := range c.classByDrug {
		names = append(names, name)
	}
	return names
}

// KnownDrug reports whether the token is a known medication name
func (c *Catalog) KnownDrug(token string) bool {
	_, ok := c.classByDrug[strings.ToLower(token)]
	return ok
}

// DefaultCatalog returns the built-in interaction table and drug-class
// vocabulary used when no external catalog is supplied.
func DefaultCatalog() *Catalog {
	interactions := map[[2]string]CatalogEntry{
		{"SSRI", "Triptan"}: {
			Condition:      "Serotonin Syndrome Risk",
			Severity:       LevelDanger,
			Description:    "Concurrent use of triptans with SSRIs may cause serotonin syndrome",
			Recommendation: "Consider alternative migraine treatment such as gepants (ubrogepant) or NSAIDs",
		},
		{"SSRI", "MAOI"}: {
			Condition:      "Serotonin Syndrome - CRITICAL",
			Severity:       LevelCritical,
			Description:    "Concurrent use is contraindicated - life-threatening serotonin syndrome",
			Recommendation: "STOP - Do not prescribe. Allow 14-day washout period between medications",
		},
		{"Anticoagulant", "NSAID"}: {
			Condition:      "Increased Bleeding Risk",
			Severity:       LevelDanger,
			Description:    "NSAIDs increase bleeding risk in patients on anticoagulants",
			Recommendation: "Consider acetaminophen for pain management instead",
		},
		{"ACE Inhibitor", "Potassium Supplement"}: {
			Condition:      "Hyperkalemia Risk",
			Severity:       LevelCaution,
			Description:    "ACE inhibitors can increase potassium levels",
			Recommendation: "Monitor potassium levels closely if supplementation is necessary",
		},
		{"Beta Blocker", "Calcium Channel Blocker"}: {
			Condition:      "Bradycardia/Heart Block Risk",
			Severity:       LevelCaution,
			Description:    "Combined use may cause severe bradycardia",
			Recommendation: "Monitor heart rate and ECG",
		},
	}

	classByDrug := map[string]string{
		"sertraline":   "SSRI",
		"fluoxetine":   "SSRI",
		"paroxetine":   "SSRI",
		"escitalopram": "SSRI",
		"citalopram":   "SSRI",
		"zoloft":       "SSRI",
		"prozac":       "SSRI",

		"sumatriptan": "Triptan",
		"rizatriptan": "Triptan",
		"eletriptan":  "Triptan",
		"imitrex":     "Triptan",
		"maxalt":      "Triptan",

		"warfarin": "Anticoagulant",
		"coumadin": "Anticoagulant",
		"heparin":  "Anticoagulant",
		"eliquis":  "Anticoagulant",
		"xarelto":  "Anticoagulant",

		"ibuprofen": "NSAID",
		"naproxen":  "NSAID",
		"aspirin":   "NSAID",
		"advil":     "NSAID",
		"aleve":     "NSAID",

		"lisinopril": "ACE Inhibitor",
		"enalapril":  "ACE Inhibitor",

		"metoprolol":  "Beta Blocker",
		"atenolol":    "Beta Blocker",
		"propranolol": "Beta Blocker",

		"phenelzine":      "MAOI",
		"tranylcypromine": "MAOI",
		"selegiline":      "MAOI",

		// Penicillin-class antibiotics (common allergy triggers)
		"penicillin":   "Penicillin",
		"amoxicillin":  "Penicillin",
		"ampicillin":   "Penicillin",
		"augmentin":    "Penicillin",
		"piperacillin": "Penicillin",

		// Sulfonamides (common allergy triggers)
		"sulfamethoxazole": "Sulfonamide",
		"bactrim":          "Sulfonamide",
		"septra":           "Sulfonamide",

		"acetaminophen": "Analgesic",
		"tylenol":       "Analgesic",
		"amlodipine":    "Calcium Channel Blocker",
		"diltiazem":     "Calcium Channel Blocker",
		"verapamil":     "Calcium Channel Blocker",
		"omeprazole":    "PPI",
		"pantoprazole":  "PPI",
		"gabapentin":    "Anticonvulsant",
		"pregabalin":    "Anticonvulsant",
	}

	return NewCatalog(interactions, classByDrug)
}
