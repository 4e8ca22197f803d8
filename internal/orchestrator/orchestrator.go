// Package orchestrator coordinates one safety check across the external
// reasoning capabilities, degrading stage by stage down to the local rule
// engine. It never fails a check outright: a verdict must always reach the
// operator before the next check interval elapses.
package orchestrator

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/synapsehealth/guardian/internal/observability"
	"github.com/synapsehealth/guardian/internal/safety"
	"github.com/synapsehealth/guardian/internal/subject"
)

// Orchestrator runs the intent -> guidelines -> reasoning pipeline.
// Stateless across calls; any capability may be nil, in which case its
// stage is skipped the same way a failing call is.
type Orchestrator struct {
	extractor IntentExtractor
	searcher  GuidelineSearcher
	assessor  RiskAssessor
	engine    *safety.Engine
	limit     int
	logger    zerolog.Logger
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithGuidelineLimit caps the number of guidelines fed to the reasoner
func WithGuidelineLimit(limit int) Option {
	return func(o *Orchestrator) {
		if limit > 0 {
			o.limit = limit
		}
	}
}

// New creates a safety orchestrator. engine must not be nil; it is the
// terminal fallback for every check.
func New(extractor IntentExtractor, searcher GuidelineSearcher, assessor RiskAssessor, engine *safety.Engine, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		extractor: extractor,
		searcher:  searcher,
		assessor:  assessor,
		engine:    engine,
		limit:     3,
		logger:    observability.GetLogger().With().Str("component", "orchestrator").Logger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Check runs the full pipeline over one transcript window. Every stage
// degrades independently; the worst case is a pure rule-engine verdict.
func (o *Orchestrator) Check(ctx context.Context, windowText string, profile *subject.Profile) *safety.Verdict {
	intent := o.extractIntent(ctx, windowText)

	query := o.buildQuery(windowText, intent, profile)

	guidelines := o.searchGuidelines(ctx, query)

	if o.assessor != nil {
		verdict, err := o.assessor.AssessRisk(ctx, windowText, profile, guidelines)
		observability.RecordCapabilityRequest("risk_assessor", err)
		if err == nil && verdict != nil {
			return verdict
		}
		if err != nil {
			o.logger.Warn().Err(err).Msg("Risk assessor failed, falling back to rule engine")
		}
	}

	observability.RecordFallbackVerdict()
	return o.engine.Evaluate(windowText, profile)
}

func (o *Orchestrator) extractIntent(ctx context.Context, text string) *Intent {
	if o.extractor == nil {
		return &Intent{}
	}

	intent, err := o.extractor.ExtractIntent(ctx, text)
	observability.RecordCapabilityRequest("intent_extractor", err)
	if err != nil || intent == nil {
		if err != nil {
			o.logger.Warn().Err(err).Msg("Intent extraction failed, treating window as empty intent")
		}
		return &Intent{}
	}
	return intent
}

// buildQuery forms the guideline search query. With extracted medications
// the query is targeted ("sumatriptan sertraline SSRI interaction safety");
// without, the raw window text is used as-is.
func (o *Orchestrator) buildQuery(windowText string, intent *Intent, profile *subject.Profile) string {
	if len(intent.Medications) == 0 {
		return windowText
	}

	var terms []string
	for _, med := range intent.Medications {
		if med.Name != "" {
			terms = append(terms, med.Name)
		}
	}
	if profile != nil {
		for _, med := range profile.CurrentMedications {
			terms = append(terms, med.Name)
		}
		for _, med := range profile.CurrentMedications {
			if med.DrugClass != "" {
				terms = append(terms, med.DrugClass)
			}
		}
	}
	terms = append(terms, "interaction", "safety")
	return strings.Join(terms, " ")
}

func (o *Orchestrator) searchGuidelines(ctx context.Context, query string) []Guideline {
	if o.searcher == nil {
		return nil
	}

	guidelines, err := o.searcher.SearchGuidelines(ctx, query, o.limit)
	observability.RecordCapabilityRequest("guideline_searcher", err)
	if err != nil {
		o.logger.Warn().Err(err).Msg("Guideline search failed, proceeding without guidelines")
		return nil
	}
	return guidelines
}
