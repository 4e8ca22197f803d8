package reasoning

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/synapsehealth/guardian/internal/observability"
	"github.com/synapsehealth/guardian/internal/orchestrator"
	"github.com/synapsehealth/guardian/internal/resilience"
	"github.com/synapsehealth/guardian/internal/safety"
	"github.com/synapsehealth/guardian/internal/subject"
)

func newModelServer(t *testing.T, responseContent string, capture *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if capture != nil && len(req.Messages) == 2 {
			*capture = req.Messages[1].Content
		}

		resp := chatResponse{}
		resp.Choices = append(resp.Choices, struct {
			Message chatMessage `json:"message"`
		}{Message: chatMessage{Role: "assistant", Content: responseContent}})
		json.NewEncoder(w).Encode(resp)
	}))
}

func newTestReasoningClient(serverURL string) *Client {
	return &Client{
		apiKey:     "test-key",
		baseURL:    serverURL,
		model:      "test-model",
		httpClient: &http.Client{Timeout: 5 * time.Second},
		breaker:    resilience.NewCircuitBreaker("reasoning-test", 5, time.Second),
		logger:     observability.GetLogger(),
	}
}

func testProfile() *subject.Profile {
	return &subject.Profile{
		SubjectID: "P001",
		Name:      "Amaan Patel",
		Allergies: []string{"Penicillin", "Sulfa drugs"},
		CurrentMedications: []subject.Medication{
			{Name: "Sertraline", Dosage: "100mg", DrugClass: "SSRI"},
		},
	}
}

func TestAssessRiskParsesVerdict(t *testing.T) {
	response := `{"safety_level":"DANGER","risk_score":0.8,"detected_medications":["sumatriptan"],"interactions":[{"drugs":["SSRI","Triptan"],"condition":"Serotonin Syndrome Risk","severity":"DANGER","description":"Concurrent use raises serotonin levels.","recommendation":"Consider an alternative abortive."}],"warning":"Serotonin syndrome risk","recommendation":"Consider an alternative abortive."}`

	var prompt string
	server := newModelServer(t, response, &prompt)
	defer server.Close()

	client := newTestReasoningClient(server.URL)

	guidelines := []orchestrator.Guideline{
		{Source: "pubmed", Title: "Triptan safety", Content: "Avoid with SSRIs."},
	}
	verdict, err := client.AssessRisk(context.Background(), "start sumatriptan", testProfile(), guidelines)
	if err != nil {
		t.Fatalf("AssessRisk() failed: %v", err)
	}

	if verdict.Level != safety.LevelDanger {
		t.Errorf("level = %s, want DANGER", verdict.Level)
	}
	if verdict.RiskScore != 0.8 {
		t.Errorf("risk score = %v, want 0.8", verdict.RiskScore)
	}
	if !verdict.RequiresInterruption {
		t.Error("DANGER verdict must require interruption")
	}
	if len(verdict.Interactions) != 1 || verdict.Interactions[0].Condition != "Serotonin Syndrome Risk" {
		t.Errorf("interactions = %+v", verdict.Interactions)
	}

	// The prompt carries the conversation, the profile, and the guidelines
	for _, fragment := range []string{"start sumatriptan", "Amaan Patel", "Penicillin", "Sertraline", "Triptan safety"} {
		if !strings.Contains(prompt, fragment) {
			t.Errorf("assessment prompt missing %q", fragment)
		}
	}
}

func TestAssessRiskSafeVerdictDoesNotInterrupt(t *testing.T) {
	response := `{"safety_level":"SAFE","risk_score":0.1,"detected_medications":[],"interactions":[],"warning":"","recommendation":""}`
	server := newModelServer(t, response, nil)
	defer server.Close()

	client := newTestReasoningClient(server.URL)

	verdict, err := client.AssessRisk(context.Background(), "blood pressure looks good", testProfile(), nil)
	if err != nil {
		t.Fatalf("AssessRisk() failed: %v", err)
	}
	if verdict.Level != safety.LevelSafe || verdict.RequiresInterruption {
		t.Errorf("verdict = %+v, want SAFE without interruption", verdict)
	}
}

func TestAssessRiskRejectsUnknownLevel(t *testing.T) {
	response := `{"safety_level":"MODERATE","risk_score":0.4,"detected_medications":[],"interactions":[],"warning":"","recommendation":""}`
	server := newModelServer(t, response, nil)
	defer server.Close()

	client := newTestReasoningClient(server.URL)

	if _, err := client.AssessRisk(context.Background(), "text", testProfile(), nil); err == nil {
		t.Fatal("AssessRisk() accepted unknown safety level, want explicit error")
	}
}

func TestAssessRiskRejectsOutOfRangeScore(t *testing.T) {
	response := `{"safety_level":"DANGER","risk_score":8.0,"detected_medications":[],"interactions":[],"warning":"","recommendation":""}`
	server := newModelServer(t, response, nil)
	defer server.Close()

	client := newTestReasoningClient(server.URL)

	if _, err := client.AssessRisk(context.Background(), "text", testProfile(), nil); err == nil {
		t.Fatal("AssessRisk() accepted out-of-range risk score, want explicit error")
	}
}

func TestAssessRiskRejectsProse(t *testing.T) {
	server := newModelServer(t, "This combination looks dangerous to me.", nil)
	defer server.Close()

	client := newTestReasoningClient(server.URL)

	if _, err := client.AssessRisk(context.Background(), "text", testProfile(), nil); err == nil {
		t.Fatal("AssessRisk() accepted prose response, want explicit error")
	}
}

func TestAssessRiskNotConfigured(t *testing.T) {
	client := newTestReasoningClient("")

	if _, err := client.AssessRisk(context.Background(), "text", testProfile(), nil); err == nil {
		t.Fatal("AssessRisk() returned nil error with no endpoint")
	}
}
