package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/synapsehealth/guardian/internal/audio"
	"github.com/synapsehealth/guardian/internal/observability"
	"github.com/synapsehealth/guardian/internal/session"
	"github.com/synapsehealth/guardian/internal/stream"
	"github.com/synapsehealth/guardian/internal/stt"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced by the fronting proxy
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// controlMessage is an inbound JSON frame on the consult socket
type controlMessage struct {
	Type    string        `json:"type"` // transcript, pause, resume, check_safety, end
	Text    string        `json:"text,omitempty"`
	Speaker string        `json:"speaker,omitempty"`
	Note    *session.Note `json:"note,omitempty"`
}

// outboundMessage pairs a websocket message type with its payload
type outboundMessage struct {
	messageType int
	data        []byte
}

// consultSocket is the live consult connection: binary frames carry
// operator-room audio toward transcription, text frames carry control
// messages, and session events flow back to the client.
func (h *Handler) consultSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	agent, err := h.manager.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	logger := observability.WithSession(sessionID).With().Str("component", "consult_ws").Logger()
	metrics := observability.NewSessionMetrics(sessionID)
	cfg := h.manager.cfg

	// stop ends the writer and event pump; outbound is never closed so
	// late enqueues cannot panic, they are simply dropped
	outbound := make(chan outboundMessage, 128)
	stop := make(chan struct{})
	enqueue := func(messageType int, data []byte) {
		select {
		case outbound <- outboundMessage{messageType: messageType, data: data}:
		default:
			logger.Warn().Msg("Outbound socket queue full, dropping frame")
		}
	}
	enqueueJSON := func(payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		enqueue(websocket.TextMessage, data)
	}

	// Live transcription: committed utterances feed the session buffer,
	// interim ones go straight back to the client for display.
	opener := stt.NewOpener(cfg,
		func(text string, confidence float64) {
			enqueueJSON(map[string]any{
				"type":       "partial_transcript",
				"text":       text,
				"confidence": confidence,
			})
		},
		func(text string, confidence float64) {
			agent.AddTranscript(text, session.SpeakerOperator)
		},
	)
	streamManager := stream.NewManager(
		opener,
		time.Duration(cfg.StreamCooldownMs)*time.Millisecond,
		logger,
	)
	defer streamManager.Close()

	detector := audio.NewDetector(&audio.VADConfig{
		EnergyThreshold: cfg.VADEnergyThreshold,
		SilenceFrames:   cfg.VADSilenceFrames,
		FrameSize:       320,
	})
	// Inbound frames rarely align with VAD frame boundaries; the ring
	// carries the remainder bytes across websocket messages.
	inboundRing := audio.NewRingBuffer(cfg.AudioBufferSize)

	eventsCh, unsubscribe, err := h.manager.Subscribe(sessionID)
	if err != nil {
		return
	}
	defer unsubscribe()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case msg := <-outbound:
				if err := conn.WriteMessage(msg.messageType, msg.data); err != nil {
					return
				}
			case <-stop:
				// Flush whatever is already queued before closing
				for {
					select {
					case msg := <-outbound:
						if err := conn.WriteMessage(msg.messageType, msg.data); err != nil {
							return
						}
					default:
						return
					}
				}
			}
		}
	}()

	// Session events out to the client; audio as binary frames
	go func() {
		for {
			select {
			case event := <-eventsCh:
				if event.Type == session.EventInterruptionAudio {
					enqueue(websocket.BinaryMessage, event.Audio)
					continue
				}
				enqueueJSON(event)
			case <-agent.Done():
				return
			case <-stop:
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("Consult socket read error")
			}
			break
		}

		switch messageType {
		case websocket.BinaryMessage:
			metrics.RecordAudioBytes("in", int64(len(data)))
			h.processAudioFrame(r.Context(), data, detector, inboundRing, streamManager, enqueueJSON)

		case websocket.TextMessage:
			var control controlMessage
			if err := json.Unmarshal(data, &control); err != nil {
				logger.Error().Err(err).Msg("Malformed control message")
				continue
			}
			if done := h.handleControl(r.Context(), agent, control, enqueueJSON); done {
				close(stop)
				<-writerDone
				return
			}
		}
	}

	close(stop)
	<-writerDone
}

// processAudioFrame runs voice activity detection and forwards the frame
// to the transcription stream. Dropped audio during stream gaps is
// tolerated by contract.
func (h *Handler) processAudioFrame(
	ctx context.Context,
	data []byte,
	detector *audio.Detector,
	ring *audio.RingBuffer,
	streamManager *stream.Manager,
	enqueueJSON func(any),
) {
	if written := ring.Write(data); written < len(data) {
		// Overflow only happens when the client bursts far ahead of the
		// VAD frame rate; skipping detection on those bytes is harmless
		// because the full frame still reaches transcription below.
		ring.Clear()
	}

	frameBytes := detector.FrameSize() * 2
	frame := make([]byte, frameBytes)
	for ring.Available() >= frameBytes {
		ring.Read(frame)
		_, started, ended := detector.ProcessFrame(audio.BytesToSamples(frame))
		if started {
			enqueueJSON(map[string]string{"type": "speech_started"})
		}
		if ended {
			enqueueJSON(map[string]string{"type": "speech_ended"})
		}
	}

	_ = streamManager.Send(ctx, data)
}

// handleControl applies one control message. Returns true when the
// socket should close.
func (h *Handler) handleControl(
	ctx context.Context,
	agent *session.Agent,
	control controlMessage,
	enqueueJSON func(any),
) bool {
	switch control.Type {
	case "transcript":
		agent.AddTranscript(control.Text, control.Speaker)

	case "pause":
		agent.Pause()

	case "resume":
		agent.Resume()

	case "check_safety":
		agent.RunSafetyCheck(ctx)

	case "end":
		note, err := h.manager.EndSession(ctx, agent.ID(), control.Note)
		if err != nil {
			enqueueJSON(map[string]string{"type": "error", "error": err.Error()})
			return true
		}
		enqueueJSON(map[string]any{"type": "session_ended", "note": note})
		return true

	default:
		enqueueJSON(map[string]string{"type": "error", "error": "unknown control type"})
	}
	return false
}
