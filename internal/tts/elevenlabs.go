// Package tts voices interruption warnings through the ElevenLabs
// streaming synthesis API.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/synapsehealth/guardian/internal/config"
	"github.com/synapsehealth/guardian/internal/observability"
)

const defaultAPIURL = "https://api.elevenlabs.io/v1"

// chunkSize is the read granularity for streamed audio
const chunkSize = 4096

// ElevenLabsClient synthesizes speech over the streaming HTTP endpoint.
// It implements the session Synthesizer capability.
type ElevenLabsClient struct {
	apiKey     string
	apiURL     string
	voiceID    string
	modelID    string
	httpClient *http.Client
	logger     zerolog.Logger
}

type synthesisRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id,omitempty"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// NewElevenLabsClient creates a synthesis client from configuration
func NewElevenLabsClient(cfg *config.Config) *ElevenLabsClient {
	return &ElevenLabsClient{
		apiKey:     cfg.ElevenLabsAPIKey,
		apiURL:     defaultAPIURL,
		voiceID:    cfg.ElevenLabsVoiceID,
		modelID:    cfg.ElevenLabsModelID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     observability.GetLogger().With().Str("component", "tts").Logger(),
	}
}

// Synthesize converts text to audio. Chunks arrive on the returned
// channel until synthesis completes; the channel is closed afterwards.
func (c *ElevenLabsClient) Synthesize(ctx context.Context, text string) (<-chan []byte, error) {
	if c.apiKey == "" {
		return nil, errors.New("elevenlabs api key not configured")
	}

	reqBody := synthesisRequest{
		Text:    text,
		ModelID: c.modelID,
		VoiceSettings: voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal synthesis request: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s/stream?output_format=pcm_16000", c.apiURL, c.voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesis request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("synthesis API returned status %d: %s", resp.StatusCode, body)
	}

	audioChan := make(chan []byte, 16)

	go func() {
		defer resp.Body.Close()
		defer close(audioChan)

		var total int
		for {
			buf := make([]byte, chunkSize)
			n, readErr := resp.Body.Read(buf)
			if n > 0 {
				total += n
				select {
				case audioChan <- buf[:n]:
				case <-ctx.Done():
					return
				}
			}
			if readErr != nil {
				if !errors.Is(readErr, io.EOF) {
					c.logger.Error().Err(readErr).Msg("Synthesis stream read failed")
				}
				break
			}
		}
		c.logger.Debug().Int("bytes", total).Msg("Synthesis stream finished")
	}()

	return audioChan, nil
}
