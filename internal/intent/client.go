// Package intent calls an OpenAI-compatible chat completions endpoint
// for clinical intent extraction and final note generation. Model output
// is parsed strictly: a response that is not the expected JSON shape is
// an explicit error, never guessed at.
package intent

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
	"github.com/synapsehealth/guardian/internal/session"
	"github.com/synapsehealth/guardian/internal/subject"
)

const extractSystemPrompt = `You are a clinical intent extraction service. Given a fragment of a doctor-patient conversation, identify medications, procedures, and diagnoses being discussed or prescribed.

Respond with ONLY a JSON object, no prose, in exactly this shape:
{"medications":[{"name":"...","dosage":"...","action":"prescribe|discuss|discontinue"}],"procedures":[{"name":"...","action":"order|discuss"}],"diagnoses":[{"name":"...","icd10":"..."}]}

Empty arrays are valid. Do not invent entities that are not in the text.`

const noteSystemPrompt = `You are a clinical documentation service. Given a full consultation transcript and the patient's profile, produce a SOAP note.

Respond with ONLY a JSON object, no prose, in exactly this shape:
{"subjective":"...","objective":"...","assessment":"...","plan":"...","icd10_codes":["..."],"cpt_codes":["..."]}`

// Client talks to the configured intent model endpoint. It implements
// the orchestrator's intent extraction capability and the session's note
// generation capability.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	logger     zerolog.Logger
}

// NewClient creates an intent client from configuration
func NewClient(cfg *config.Config) *Client {
	return &Client{
		apiKey:  cfg.IntentAPIKey,
		baseURL: strings.TrimRight(cfg.IntentBaseURL, "/"),
		model:   cfg.IntentModel,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		breaker: resilience.NewCircuitBreaker(
			"intent",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		logger: observability.GetLogger().With().Str("component", "intent").Logger(),
	}
}

// ExtractIntent identifies medications, procedures, and diagnoses in one
// transcript window
func (c *Client) ExtractIntent(ctx context.Context, text string) (*orchestrator.Intent, error) {
	content, err := c.complete(ctx, extractSystemPrompt, text)
	if err != nil {
		return nil, fmt.Errorf("intent extraction failed: %w", err)
	}

	var intent orchestrator.Intent
	if err := strictUnmarshal(content, &intent); err != nil {
		return nil, fmt.Errorf("intent response is not valid JSON: %w", err)
	}
	return &intent, nil
}

// GenerateNote produces the final SOAP note from the full transcript
func (c *Client) GenerateNote(ctx context.Context, transcript string, profile *subject.Profile) (*session.Note, error) {
	var sb strings.Builder
	if profile != nil {
		fmt.Fprintf(&sb, "Patient: %s\nAllergies: %s\nCurrent medications:", profile.Name, strings.Join(profile.Allergies, ", "))
		for _, med := range profile.CurrentMedications {
			fmt.Fprintf(&sb, " %s %s;", med.Name, med.Dosage)
		}
		sb.WriteString("\n\n")
	}
	sb.WriteString("Transcript:\n")
	sb.WriteString(transcript)

	content, err := c.complete(ctx, noteSystemPrompt, sb.String())
	if err != nil {
		return nil, fmt.Errorf("note generation failed: %w", err)
	}

	var note session.Note
	if err := strictUnmarshal(content, &note); err != nil {
		return nil, fmt.Errorf("note response is not valid JSON: %w", err)
	}
	return &note, nil
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

// complete runs one chat completion under circuit breaker protection and
// returns the raw assistant message content
func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	if c.baseURL == "" {
		return "", errors.New("intent endpoint not configured")
	}

	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.1,
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

// strictUnmarshal parses model output into the target type. Code fences
// are stripped; anything else that is not the expected JSON is an error.
func strictUnmarshal(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	decoder := json.NewDecoder(strings.NewReader(trimmed))
	if err := decoder.Decode(target); err != nil {
		return err
	}
	// Trailing content after the JSON object is a malformed response
	if decoder.More() {
		return errors.New("trailing content after JSON object")
	}
	return nil
}
