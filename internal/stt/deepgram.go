// Package stt connects consultation audio to Deepgram's live
// transcription API and routes interim and committed transcripts back to
// the session.
package stt

import (
	"context"
	"fmt"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/synapsehealth/guardian/internal/config"
	"github.com/synapsehealth/guardian/internal/observability"
	"github.com/synapsehealth/guardian/internal/stream"
)

// ResultFunc receives one transcript update and its confidence
type ResultFunc func(text string, confidence float64)

// Opener dials Deepgram live transcription sockets. It implements the
// stream opener used by the per-session connection manager: each Open
// call produces one socket with the session's callbacks registered.
type Opener struct {
	cfg         *config.Config
	onPartial   ResultFunc
	onCommitted ResultFunc
	logger      zerolog.Logger
}

// NewOpener creates a Deepgram opener. onPartial fires for interim
// results; onCommitted fires once per finalized utterance.
func NewOpener(cfg *config.Config, onPartial, onCommitted ResultFunc) *Opener {
	return &Opener{
		cfg:         cfg,
		onPartial:   onPartial,
		onCommitted: onCommitted,
		logger:      observability.GetLogger().With().Str("component", "stt").Logger(),
	}
}

// Open establishes a live transcription socket
func (o *Opener) Open(ctx context.Context) (stream.Handle, error) {
	if o.cfg.DeepgramAPIKey == "" {
		return nil, fmt.Errorf("deepgram api key not configured")
	}

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          o.cfg.DeepgramModel,
		Language:       o.cfg.DeepgramLanguage,
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Encoding:       "linear16", // 16-bit PCM from the consult socket
		Channels:       1,
		SampleRate:     16000,
	}

	callback := &transcriptHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		opener:                 o,
	}

	client, err := listenClient.NewWSUsingCallback(
		ctx,
		o.cfg.DeepgramAPIKey,
		nil, // default client options
		tOptions,
		callback,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcription socket: %w", err)
	}

	o.logger.Info().
		Str("model", o.cfg.DeepgramModel).
		Str("language", o.cfg.DeepgramLanguage).
		Msg("Transcription socket opened")

	return &liveHandle{client: client}, nil
}

// liveHandle wraps one open Deepgram socket
type liveHandle struct {
	client *listenClient.WSCallback
}

func (h *liveHandle) Send(data []byte) error {
	if _, err := h.client.Write(data); err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}
	return nil
}

func (h *liveHandle) Close() error {
	h.client.Finish()
	return nil
}

// transcriptHandler implements the LiveMessageCallback interface. It
// embeds the default handler and overrides only Message and Error.
type transcriptHandler struct {
	*websocketv1api.DefaultCallbackHandler
	opener *Opener
}

// Message routes transcription results to the session callbacks
func (t *transcriptHandler) Message(msg *msginterfaces.MessageResponse) error {
	if msg == nil {
		return nil
	}

	switch msg.Type {
	case "Results", "Message":
		if len(msg.Channel.Alternatives) == 0 {
			return nil
		}
		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" {
			return nil
		}

		if msg.IsFinal {
			t.opener.logger.Debug().
				Str("text", alt.Transcript).
				Float64("confidence", alt.Confidence).
				Msg("Committed transcript")
			if t.opener.onCommitted != nil {
				t.opener.onCommitted(alt.Transcript, alt.Confidence)
			}
		} else if t.opener.onPartial != nil {
			t.opener.onPartial(alt.Transcript, alt.Confidence)
		}

	case "SpeechStarted", "UtteranceEnd", "Metadata":
		// Lifecycle chatter, nothing to route

	default:
		t.opener.logger.Debug().Str("type", msg.Type).Msg("Unhandled transcription message")
	}
	return nil
}

// Error logs socket-level failures. The connection manager notices the
// dead socket on the next send and arms its cooldown.
func (t *transcriptHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	t.opener.logger.Error().Msgf("Transcription socket error: %+v", errorResponse)
	return nil
}
