// Package events publishes committed transcripts and safety alerts to
// Kafka for downstream consumers. With no brokers configured the
// publisher runs in log-only mode.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/synapsehealth/guardian/internal/config"
	"github.com/synapsehealth/guardian/internal/observability"
	"github.com/synapsehealth/guardian/internal/safety"
)

// TranscriptEvent is the payload published for each committed transcript
type TranscriptEvent struct {
	SessionID string    `json:"session_id"`
	SubjectID string    `json:"subject_id"`
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertEvent is the payload published for each safety verdict at or
// above caution
type AlertEvent struct {
	SessionID string          `json:"session_id"`
	SubjectID string          `json:"subject_id"`
	Verdict   *safety.Verdict `json:"verdict"`
	Timestamp time.Time       `json:"timestamp"`
}

// Publisher writes session events to two topics: one for transcripts,
// one for safety alerts
type Publisher struct {
	transcriptWriter *kafka.Writer
	alertWriter      *kafka.Writer
	enabled          bool
	logger           zerolog.Logger
}

// NewPublisher creates a publisher from configuration. Empty broker
// config yields a log-only publisher.
func NewPublisher(cfg *config.Config) *Publisher {
	logger := observability.GetLogger().With().Str("component", "events").Logger()

	if len(cfg.KafkaBrokers) == 0 {
		logger.Info().Msg("Kafka disabled, events are log-only")
		return &Publisher{enabled: false, logger: logger}
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{Dial: dialer.DialFunc}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.KafkaBrokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	logger.Info().
		Strs("brokers", cfg.KafkaBrokers).
		Str("transcript_topic", cfg.KafkaTopicTranscript).
		Str("alert_topic", cfg.KafkaTopicAlert).
		Msg("Kafka publisher initialized")

	return &Publisher{
		transcriptWriter: newWriter(cfg.KafkaTopicTranscript),
		alertWriter:      newWriter(cfg.KafkaTopicAlert),
		enabled:          true,
		logger:           logger,
	}
}

// Enabled reports whether events actually reach Kafka
func (p *Publisher) Enabled() bool {
	return p.enabled
}

// PublishTranscript publishes one committed transcript, keyed by session
func (p *Publisher) PublishTranscript(ctx context.Context, event TranscriptEvent) error {
	return p.publish(ctx, p.transcriptWriter, event.SessionID, event)
}

// PublishAlert publishes one safety alert, keyed by session
func (p *Publisher) PublishAlert(ctx context.Context, event AlertEvent) error {
	return p.publish(ctx, p.alertWriter, event.SessionID, event)
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, key string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to marshal event")
		return err
	}

	if !p.enabled || writer == nil {
		p.logger.Debug().Str("key", key).RawJSON("payload", payload).Msg("Event (log-only)")
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
	}
	if err := writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error().Err(err).Str("topic", writer.Topic).Str("key", key).Msg("Failed to write to Kafka")
		return err
	}
	return nil
}

// Close closes both writers
func (p *Publisher) Close() error {
	var err error
	if p.transcriptWriter != nil {
		if e := p.transcriptWriter.Close(); e != nil {
			err = e
		}
	}
	if p.alertWriter != nil {
		if e := p.alertWriter.Close(); e != nil {
			err = e
		}
	}
	return err
}
