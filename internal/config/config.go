package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the clinical guardian service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Deepgram STT API configuration (live transcription streams)
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"` // nova-2, enhanced, base
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`  // Language code (en, es, fr, etc.)

	// ElevenLabs TTS configuration (interruption warnings)
	ElevenLabsAPIKey  string `envconfig:"ELEVENLABS_API_KEY" default:""`
	ElevenLabsVoiceID string `envconfig:"ELEVENLABS_VOICE_ID" default:"21m00Tcm4TlvDq8ikWAM"`
	ElevenLabsModelID string `envconfig:"ELEVENLABS_MODEL_ID" default:"eleven_turbo_v2_5"`

	// Intent extraction / note generation (OpenAI-compatible endpoint)
	IntentAPIKey  string `envconfig:"INTENT_API_KEY" default:""`
	IntentBaseURL string `envconfig:"INTENT_BASE_URL" default:""`
	IntentModel   string `envconfig:"INTENT_MODEL" default:"anthropic/claude-3.5-sonnet"`

	// Deep risk reasoning (OpenAI-compatible endpoint, e.g. a hosted K2 deployment)
	ReasoningAPIKey  string `envconfig:"REASONING_API_KEY" default:""`
	ReasoningBaseURL string `envconfig:"REASONING_BASE_URL" default:""`
	ReasoningModel   string `envconfig:"REASONING_MODEL" default:"LLM360/K2-Think-V2"`

	// Record store (subject profiles, guideline corpus, session archive)
	DatabaseURL string `envconfig:"DATABASE_URL" default:""`

	// Kafka event publishing (optional; disabled when no brokers configured)
	KafkaBrokers         []string `envconfig:"KAFKA_BROKERS" default:""`
	KafkaTopicTranscript string   `envconfig:"KAFKA_TOPIC_TRANSCRIPT" default:"guardian.transcripts"`
	KafkaTopicAlert      string   `envconfig:"KAFKA_TOPIC_ALERT" default:"guardian.safety-alerts"`

	// Safety check scheduling
	SafetyCheckIntervalMs int `envconfig:"SAFETY_CHECK_INTERVAL_MS" default:"5000"` // Interval between periodic checks
	GuidelineSearchLimit  int `envconfig:"GUIDELINE_SEARCH_LIMIT" default:"3"`      // Max guidelines fed to the reasoner

	// Transcription stream resilience
	StreamCooldownMs int `envconfig:"STREAM_COOLDOWN_MS" default:"3000"` // Wait after a failed connect before retrying

	// Audio processing configuration (heuristic thresholds, kept tunable)
	AudioBufferSize    int     `envconfig:"AUDIO_BUFFER_SIZE" default:"8192"`     // Ring buffer size in bytes
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"` // RMS energy threshold for VAD
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" default:"10"`      // Frames of silence to mark speech end

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	StoreConnectMaxAttempts    int `envconfig:"STORE_CONNECT_MAX_ATTEMPTS" default:"10"`    // Startup DB connect attempts
	StoreConnectBackoff        int `envconfig:"STORE_CONNECT_BACKOFF" default:"1000"`       // Startup DB connect backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.SafetyCheckIntervalMs <= 0 {
		return fmt.Errorf("SAFETY_CHECK_INTERVAL_MS must be positive, got %d", c.SafetyCheckIntervalMs)
	}
	if c.StreamCooldownMs <= 0 {
		return fmt.Errorf("STREAM_COOLDOWN_MS must be positive, got %d", c.StreamCooldownMs)
	}
	if c.GuidelineSearchLimit <= 0 {
		return fmt.Errorf("GUIDELINE_SEARCH_LIMIT must be positive, got %d", c.GuidelineSearchLimit)
	}
	return nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
