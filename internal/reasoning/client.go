// Package reasoning calls the deep risk assessment model through an
// OpenAI-compatible endpoint. A malformed response is an explicit error;
// the orchestrator falls back to the local rule engine on any failure.
package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/synapsehealth/guardian/internal/config"
	"github.com/synapsehealth/guardian/internal/observability"
	"github.com/synapsehealth/guardian/internal/orchestrator"
	"github.com/synapsehealth/guardian/internal/resilience"
	"github.com/synapsehealth/guardian/internal/safety"
	"github.com/synapsehealth/guardian/internal/subject"
)

const assessSystemPrompt = `You are a clinical drug safety assessment service. Given a conversation fragment, the patient's profile, and relevant clinical guidelines, assess the safety of what is being prescribed or discussed.

Respond with ONLY a JSON object, no prose, in exactly this shape:
{"safety_level":"SAFE|CAUTION|DANGER|CRITICAL","risk_score":0.0,"detected_medications":["..."],"interactions":[{"drugs":["...","..."],"condition":"...","severity":"SAFE|CAUTION|DANGER|CRITICAL","description":"...","recommendation":"..."}],"warning":"...","recommendation":"..."}

Consider drug-drug interactions, drug-allergy conflicts, and contraindications against the patient's history. CRITICAL is reserved for allergy conflicts and life-threatening combinations.`

// Client talks to the configured reasoning model endpoint. It implements
// the orchestrator's risk assessment capability.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	logger     zerolog.Logger
}

// NewClient creates a reasoning client from configuration
func NewClient(cfg *config.Config) *Client {
	return &Client{
		apiKey:  cfg.ReasoningAPIKey,
		baseURL: strings.TrimRight(cfg.ReasoningBaseURL, "/"),
		model:   cfg.ReasoningModel,
		httpClient: &http.Client{Timeout: 45 * time.Second},
		breaker: resilience.NewCircuitBreaker(
			"reasoning",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		logger: observability.GetLogger().With().Str("component", "reasoning").Logger(),
	}
}

// riskResponse is the strict contract for model output
type riskResponse struct {
	SafetyLevel         string            `json:"safety_level"`
	RiskScore           float64           `json:"risk_score"`
	DetectedMedications []string          `json:"detected_medications"`
	Interactions        []riskInteraction `json:"interactions"`
	Warning             string            `json:"warning"`
	Recommendation      string            `json:"recommendation"`
}

type riskInteraction struct {
	Drugs          []string `json:"drugs"`
	Condition      string   `json:"condition"`
	Severity       string   `json:"severity"`
	Description    string   `json:"description"`
	Recommendation string   `json:"recommendation"`
}

// AssessRisk evaluates one transcript window against the subject profile
// and retrieved guidelines
func (c *Client) AssessRisk(ctx context.Context, text string, profile *subject.Profile, guidelines []orchestrator.Guideline) (*safety.Verdict, error) {
	content, err := c.complete(ctx, assessSystemPrompt, buildUserPrompt(text, profile, guidelines))
	if err != nil {
		return nil, fmt.Errorf("risk assessment failed: %w", err)
	}

	parsed, err := parseRiskResponse(content)
	if err != nil {
		return nil, fmt.Errorf("risk assessment response rejected: %w", err)
	}
	return parsed, nil
}

// buildUserPrompt assembles the assessment context the way the model
// expects it: conversation first, then profile, then guidelines
func buildUserPrompt(text string, profile *subject.Profile, guidelines []orchestrator.Guideline) string {
	var sb strings.Builder
	sb.WriteString("Conversation:\n")
	sb.WriteString(text)
	sb.WriteString("\n\n")

	if profile != nil {
		fmt.Fprintf(&sb, "Patient: %s\n", profile.Name)
		fmt.Fprintf(&sb, "Allergies: %s\n", strings.Join(profile.Allergies, ", "))
		sb.WriteString("Current medications:\n")
		for _, med := range profile.CurrentMedications {
			fmt.Fprintf(&sb, "- %s %s (%s)\n", med.Name, med.Dosage, med.DrugClass)
		}
		if len(profile.ConditionHistory) > 0 {
			fmt.Fprintf(&sb, "History: %s\n", strings.Join(profile.ConditionHistory, ", "))
		}
		sb.WriteString("\n")
	}

	if len(guidelines) > 0 {
		sb.WriteString("Relevant guidelines:\n")
		for _, guideline := range guidelines {
			fmt.Fprintf(&sb, "[%s] %s: %s\n", guideline.Source, guideline.Title, guideline.Content)
		}
	}
	return sb.String()
}

// parseRiskResponse validates the model output against the strict
// contract and converts it to a verdict
func parseRiskResponse(content string) (*safety.Verdict, error) {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	decoder := json.NewDecoder(strings.NewReader(trimmed))
	var raw riskResponse
	if err := decoder.Decode(&raw); err != nil {
		return nil, err
	}
	if decoder.More() {
		return nil, errors.New("trailing content after JSON object")
	}

	level, err := safety.ParseLevel(raw.SafetyLevel)
	if err != nil {
		return nil, err
	}
	if raw.RiskScore < 0 || raw.RiskScore > 1 {
		return nil, fmt.Errorf("risk score %v out of range [0,1]", raw.RiskScore)
	}

	interactions := make([]safety.Interaction, 0, len(raw.Interactions))
	for _, interaction := range raw.Interactions {
		severity, err := safety.ParseLevel(interaction.Severity)
		if err != nil {
			return nil, err
		}
		interactions = append(interactions, safety.Interaction{
			Drugs:          interaction.Drugs,
			Condition:      interaction.Condition,
			Severity:       severity,
			Description:    interaction.Description,
			Recommendation: interaction.Recommendation,
		})
	}

	return &safety.Verdict{
		Level:                level,
		RiskScore:            raw.RiskScore,
		DetectedTerms:        raw.DetectedMedications,
		Interactions:         interactions,
		Warning:              raw.Warning,
		Recommendation:       raw.Recommendation,
		RequiresInterruption: level.AtLeast(safety.LevelDanger),
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	if c.baseURL == "" {
		return "", errors.New("reasoning endpoint not configured")
	}

	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.0,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal completion request: %w", err)
	}

	var content string
	err = c.breaker.Call(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
		if err != nil {
			return fmt.Errorf("failed to create completion request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("completion request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("completion API returned status %d: %s", resp.StatusCode, body)
		}

		var parsed chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return fmt.Errorf("failed to decode completion response: %w", err)
		}
		if len(parsed.Choices) == 0 {
			return errors.New("completion response has no choices")
		}
		content = parsed.Choices[0].Message.Content
		return nil
	})
	return content, err
}
