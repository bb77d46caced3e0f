package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/iase/mailmerge/internal/session"
)

// SessionRequest is the request body for POST /api/v1/session. Empty fields
// keep the configured defaults; durations use Go syntax ("3s", "1m").
type SessionRequest struct {
	Nations       []string           `json:"nations,omitempty"`
	MaxCount      *int               `json:"max_count,omitempty"`
	Language      string             `json:"language,omitempty"`
	Letter        string             `json:"letter,omitempty"`
	SubjectOption string             `json:"subject_option,omitempty"`
	CustomSubject string             `json:"custom_subject,omitempty"`
	Delay         string             `json:"delay,omitempty"`
	RandomWindow  string             `json:"random_window,omitempty"`
	FinalDelay    string             `json:"final_delay,omitempty"`
	Recipient     *session.Recipient `json:"recipient,omitempty"`
}

// apply overlays the request on req
func (sr *SessionRequest) apply(req *session.Request) error {
	if len(sr.Nations) > 0 {
		req.Nations = sr.Nations
	}
	if sr.MaxCount != nil {
		req.MaxCount = *sr.MaxCount
	}
	if sr.Language != "" {
		req.Language = sr.Language
	}
	if sr.Letter != "" {
		req.Letter = sr.Letter
	}
	if sr.SubjectOption != "" {
		req.SubjectOption = sr.SubjectOption
	}
	if sr.CustomSubject != "" {
		req.CustomSubject = sr.CustomSubject
	}
	req.Single = sr.Recipient

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"delay", sr.Delay, &req.Delay},
		{"random_window", sr.RandomWindow, &req.RandomWindow},
		{"final_delay", sr.FinalDelay, &req.FinalDelay},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = v
	}

	return nil
}

// handleStartSession handles POST /api/v1/session
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var body SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req := s.deps.Runner.DefaultRequest()
	if err := body.apply(&req); err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	progress, err := s.deps.Runner.Start(r.Context(), req)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrSessionRunning):
		sendError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, session.ErrNoContacts):
		sendError(w, http.StatusUnprocessableEntity, err.Error())
		return
	default:
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("session started via API",
		"session_id", progress.SessionID,
		"total", progress.Total,
		"single", req.Single != nil,
	)

	sendJSON(w, http.StatusAccepted, progress)
}

// handleSessionProgress handles GET /api/v1/session
func (s *Server) handleSessionProgress(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, s.deps.Runner.Progress())
}

// handleCancelSession handles DELETE /api/v1/session
func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Runner.Cancel(); err != nil {
		sendError(w, http.StatusConflict, err.Error())
		return
	}
	sendJSON(w, http.StatusAccepted, s.deps.Runner.Progress())
}
