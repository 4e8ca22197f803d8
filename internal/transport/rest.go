package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/synapsehealth/guardian/internal/session"
	"github.com/synapsehealth/guardian/internal/store"
)

// Handler carries the REST and WebSocket surface
type Handler struct {
	manager *SessionManager
	store   store.Store
}

// NewHandler creates the HTTP handler layer
func NewHandler(manager *SessionManager, st store.Store) *Handler {
	return &Handler{manager: manager, store: st}
}

// Routes assembles the API router
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Route("/consult", func(r chi.Router) {
			r.Post("/start", h.startConsult)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Post("/transcript", h.addTranscript)
				r.Post("/pause", h.pauseConsult)
				r.Post("/resume", h.resumeConsult)
				r.Post("/check-safety", h.checkSafety)
				r.Post("/end", h.endConsult)
				r.Get("/status", h.consultStatus)
			})
		})
		r.Get("/subjects/{subjectID}", h.getSubject)
		r.Post("/demo/simulate-danger", h.simulateDanger)
	})

	r.Get("/ws/consult/{sessionID}", h.consultSocket)

	return r
}

type startConsultRequest struct {
	SubjectID  string `json:"subject_id"`
	OperatorID string `json:"operator_id"`
}

type startConsultResponse struct {
	SessionID string        `json:"session_id"`
	State     session.State `json:"state"`
}

func (h *Handler) startConsult(w http.ResponseWriter, r *http.Request) {
	var req startConsultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SubjectID == "" {
		writeError(w, http.StatusBadRequest, "subject_id is required")
		return
	}

	agent, err := h.manager.StartSession(r.Context(), req.SubjectID, req.OperatorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "subject not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to start session")
		return
	}

	writeJSON(w, http.StatusCreated, startConsultResponse{
		SessionID: agent.ID(),
		State:     agent.State(),
	})
}

type transcriptRequest struct {
	Text    string `json:"text"`
	Speaker string `json:"speaker"`
}

func (h *Handler) addTranscript(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}

	var req transcriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	agent.AddTranscript(req.Text, req.Speaker)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"state":         agent.State(),
		"buffer_length": agent.BufferLen(),
	})
}

func (h *Handler) pauseConsult(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}
	agent.Pause()
	writeJSON(w, http.StatusOK, map[string]any{"state": agent.State()})
}

func (h *Handler) resumeConsult(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}
	agent.Resume()
	writeJSON(w, http.StatusOK, map[string]any{"state": agent.State()})
}

// checkSafety forces an immediate safety check outside the periodic
// schedule
func (h *Handler) checkSafety(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}
	agent.RunSafetyCheck(r.Context())
	writeJSON(w, http.StatusOK, agent.Info())
}

type endConsultRequest struct {
	Note *session.Note `json:"note,omitempty"`
}

func (h *Handler) endConsult(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req endConsultRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	note, err := h.manager.EndSession(r.Context(), sessionID, req.Note)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		if errors.Is(err, session.ErrInvalidTransition) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to end session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"note": note})
}

func (h *Handler) consultStatus(w http.ResponseWriter, r *http.Request) {
	agent, ok := h.sessionFromRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, agent.Info())
}

func (h *Handler) getSubject(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")

	profile, err := h.store.GetSubjectProfile(r.Context(), subjectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "subject not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load subject")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

type simulateDangerRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text,omitempty"`
}

// simulateDanger injects a dangerous prescription phrase into a live
// session and forces a check. Demo tooling; the pipeline it exercises is
// the production one.
func (h *Handler) simulateDanger(w http.ResponseWriter, r *http.Request) {
	var req simulateDangerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	agent, err := h.manager.GetSession(req.SessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	text := req.Text
	if text == "" {
		text = "Let's start them on sumatriptan 50mg for the migraines"
	}
	agent.AddTranscript(text, session.SpeakerOperator)
	agent.RunSafetyCheck(r.Context())

	writeJSON(w, http.StatusOK, agent.Info())
}

func (h *Handler) sessionFromRequest(w http.ResponseWriter, r *http.Request) (*session.Agent, bool) {
	sessionID := chi.URLParam(r, "sessionID")
	agent, err := h.manager.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return agent, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
