package api

import (
	"fmt"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/iase/mailmerge/internal/contact"
	"github.com/iase/mailmerge/internal/template"
)

// TemplateResponse describes a letter and its subject options
type TemplateResponse struct {
	ID       string   `json:"id"`
	Language string   `json:"language"`
	Name     string   `json:"name"`
	Subjects []string `json:"subjects"`
	HTML     string   `json:"html,omitempty"`
	Text     string   `json:"text,omitempty"`
}

// TemplateListResponse is the response for GET /api/v1/templates
type TemplateListResponse struct {
	Templates []*TemplateResponse `json:"templates"`
	Total     int                 `json:"total"`
}

// TemplatePreviewRequest is the request for POST /api/v1/templates/preview.
// UID renders with a stored contact; Contact renders with inline data.
type TemplatePreviewRequest struct {
	Language      string           `json:"language"`
	Letter        string           `json:"letter,omitempty"`
	SubjectOption string           `json:"subject_option,omitempty"`
	CustomSubject string           `json:"custom_subject,omitempty"`
	UID           int64            `json:"uid,omitempty"`
	Contact       *contact.Contact `json:"contact,omitempty"`
}

// previewContact fills the placeholders when no contact is given
var previewContact = contact.Contact{
	UID:         1,
	Nation:      "NO",
	Institution: "Example University",
	Name:        "Kari Nordmann",
	Email:       "kari@example.com",
}

// handleTemplates handles GET /api/v1/templates
func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	lang := r.URL.Query().Get("language")

	var out []*TemplateResponse
	for _, l := range s.deps.Catalog.List() {
		if lang != "" && l.Language != lang {
			continue
		}
		out = append(out, &TemplateResponse{
			ID:       l.ID,
			Language: l.Language,
			Name:     l.Name,
			Subjects: l.SubjectOptions(),
			HTML:     l.HTML,
			Text:     l.Text,
		})
	}
	if out == nil {
		out = []*TemplateResponse{}
	}

	sendJSON(w, http.StatusOK, TemplateListResponse{Templates: out, Total: len(out)})
}

// handlePreview handles POST /api/v1/templates/preview
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req TemplatePreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	letter, err := s.deps.Catalog.Letter(req.Language, req.Letter)
	if err != nil {
		sendError(w, http.StatusNotFound, err.Error())
		return
	}

	subject, err := letter.ResolveSubject(req.SubjectOption, req.CustomSubject)
	if err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	c := previewContact
	switch {
	case req.Contact != nil:
		c = *req.Contact
	case req.UID > 0:
		store, err := s.deps.Store.LoadContacts(r.Context())
		if err != nil {
			s.logger.Error("failed to load contacts", "error", err)
			sendError(w, http.StatusInternalServerError, "Failed to load contacts")
			return
		}
		found, ok := store.Find(req.UID)
		if !ok {
			sendError(w, http.StatusNotFound, "Contact not found")
			return
		}
		c = found
	}

	result, err := s.deps.Engine.Render(letter, subject, template.DataFor(c))
	if err != nil {
		sendError(w, http.StatusBadRequest, fmt.Sprintf("Failed to render template: %v", err))
		return
	}

	sendJSON(w, http.StatusOK, result)
}
