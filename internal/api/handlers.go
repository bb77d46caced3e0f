package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/iase/mailmerge/internal/contact"
	"github.com/iase/mailmerge/internal/metrics"
	"github.com/iase/mailmerge/internal/payload"
	"github.com/iase/mailmerge/internal/session"
	"github.com/iase/mailmerge/internal/storage"
	"github.com/iase/mailmerge/internal/syncer"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	maxOffset        = 1000000
)

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string         `json:"status"`
	Version string         `json:"version"`
	Uptime  string         `json:"uptime"`
	Session session.Status `json:"session"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// ContactsResponse is the response for GET /api/v1/contacts
type ContactsResponse struct {
	Active               int               `json:"active"`
	Deleted              int               `json:"deleted"`
	DeletedSentCount     int               `json:"deleted_sent_count"`
	LastImportExportDate int64             `json:"last_import_export_date"`
	Nations              []string          `json:"nations"`
	Contacts             []contact.Contact `json:"contacts,omitempty"`
}

// SelectionResponse is the response for GET /api/v1/selection
type SelectionResponse struct {
	Nations        []string          `json:"nations"`
	Selected       int               `json:"selected"`
	NotSent        int               `json:"not_sent"`
	Eligible       []contact.Contact `json:"eligible"`
	Next           *contact.Contact  `json:"next,omitempty"`
	MostRecentSent map[string]int64  `json:"most_recent_sent"`
}

// NationsResponse is the response for GET /api/v1/nations
type NationsResponse struct {
	Nations []string `json:"nations"`
	Warning string   `json:"warning,omitempty"`
}

// LogResponse is the response for GET /api/v1/log
type LogResponse struct {
	Entries []*storage.LogEntry `json:"entries"`
	Total   int                 `json:"total"`
}

// OutboxMessageResponse is a captured message without its raw body
type OutboxMessageResponse struct {
	ID         string    `json:"id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Subject    string    `json:"subject"`
	UID        int64     `json:"uid,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	Size       int       `json:"size"`
	CapturedAt time.Time `json:"captured_at"`
}

// OutboxResponse is the response for GET /api/v1/outbox
type OutboxResponse struct {
	Messages []*OutboxMessageResponse `json:"messages"`
	Total    int                      `json:"total"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Version: Version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
		Session: session.StatusIdle,
	}
	if s.deps.Runner != nil {
		resp.Session = s.deps.Runner.Progress().Status
	}
	sendJSON(w, http.StatusOK, resp)
}

// handleContacts handles GET /api/v1/contacts
func (s *Server) handleContacts(w http.ResponseWriter, r *http.Request) {
	store, err := s.deps.Store.LoadContacts(r.Context())
	if err != nil {
		s.logger.Error("failed to load contacts", "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to load contacts")
		return
	}

	resp := ContactsResponse{
		Active:               len(store.Active),
		Deleted:              len(store.Deleted),
		DeletedSentCount:     contact.DeletedSentCount(store),
		LastImportExportDate: store.LastImportExportDate,
		Nations:              store.Nations(),
	}

	switch r.URL.Query().Get("include") {
	case "active":
		resp.Contacts = store.Active
	case "deleted":
		resp.Contacts = store.Deleted
	}

	sendJSON(w, http.StatusOK, resp)
}

// handleDeleteContact handles DELETE /api/v1/contacts/{uid}
func (s *Server) handleDeleteContact(w http.ResponseWriter, r *http.Request) {
	uid, err := strconv.ParseInt(chi.URLParam(r, "uid"), 10, 64)
	if err != nil || uid <= 0 {
		sendError(w, http.StatusBadRequest, "uid must be a positive integer")
		return
	}

	found, err := s.deps.Syncer.Delete(r.Context(), uid)
	if err != nil {
		s.logger.Error("failed to delete contact", "uid", uid, "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to delete contact")
		return
	}
	if !found {
		sendError(w, http.StatusNotFound, "Contact not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// readPayload decodes the request body using the Content-Type to pick the format
func (s *Server) readPayload(w http.ResponseWriter, r *http.Request) (*payload.Result, bool) {
	body := io.Reader(r.Body)
	if s.config.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			sendError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return nil, false
		}
		sendError(w, http.StatusBadRequest, "Failed to read request body")
		return nil, false
	}
	if len(data) == 0 {
		sendError(w, http.StatusBadRequest, "Request body is empty")
		return nil, false
	}

	res, err := payload.DecodeLimit(data, payload.ParseFormat(r.Header.Get("Content-Type")), s.config.MaxBodyBytes)
	if errors.Is(err, payload.ErrTooLarge) {
		sendError(w, http.StatusRequestEntityTooLarge, "Decompressed request body too large")
		return nil, false
	}
	if err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return res, true
}

// handleImport handles POST /api/v1/import
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	res, ok := s.readPayload(w, r)
	if !ok {
		return
	}

	result, err := s.deps.Syncer.Import(r.Context(), res, metrics.SourceAPI)
	if err != nil {
		s.sendImportError(w, err)
		return
	}

	sendJSON(w, http.StatusOK, result)
}

// handleReplace handles PUT /api/v1/contacts
func (s *Server) handleReplace(w http.ResponseWriter, r *http.Request) {
	res, ok := s.readPayload(w, r)
	if !ok {
		return
	}

	result, err := s.deps.Syncer.Replace(r.Context(), res, metrics.SourceAPI)
	if err != nil {
		s.sendImportError(w, err)
		return
	}

	sendJSON(w, http.StatusOK, result)
}

func (s *Server) sendImportError(w http.ResponseWriter, err error) {
	if errors.Is(err, contact.ErrMissingExportDate) || errors.Is(err, syncer.ErrInvalidContactList) {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Error("import failed", "error", err)
	sendError(w, http.StatusInternalServerError, "Failed to import contacts")
}

// handleSync handles POST /api/v1/sync
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Syncer.Sync(r.Context())
	if err != nil {
		s.logger.Error("sync failed", "error", err)
		sendError(w, http.StatusBadGateway, fmt.Sprintf("Sync failed: %v", err))
		return
	}

	sendJSON(w, http.StatusOK, result)
}

// handleNations handles GET /api/v1/nations
func (s *Server) handleNations(w http.ResponseWriter, r *http.Request) {
	var (
		nations []string
		err     error
	)
	if r.URL.Query().Get("refresh") == "true" {
		nations, err = s.deps.Syncer.RefreshNations(r.Context())
	} else {
		nations, err = s.deps.Syncer.Nations(r.Context())
	}

	resp := NationsResponse{Nations: nations}
	if resp.Nations == nil {
		resp.Nations = []string{}
	}
	if err != nil {
		resp.Warning = err.Error()
	}
	sendJSON(w, http.StatusOK, resp)
}

// queryNations accepts repeated and comma separated nation parameters
func queryNations(r *http.Request) []string {
	var out []string
	for _, v := range r.URL.Query()["nation"] {
		for _, n := range strings.Split(v, ",") {
			if n = strings.TrimSpace(n); n != "" {
				out = append(out, n)
			}
		}
	}
	return out
}

// handleSelection handles GET /api/v1/selection
func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	nations := queryNations(r)
	if len(nations) == 0 {
		sendError(w, http.StatusBadRequest, "at least one nation is required")
		return
	}

	maxCount := 0
	if v := r.URL.Query().Get("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			sendError(w, http.StatusBadRequest, "max must be a non-negative integer")
			return
		}
		maxCount = n
	}

	store, err := s.deps.Store.LoadContacts(r.Context())
	if err != nil {
		s.logger.Error("failed to load contacts", "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to load contacts")
		return
	}

	sel := contact.Select(store, contact.Selection{Nations: nations, MaxCount: maxCount})
	resp := SelectionResponse{
		Nations:        nations,
		Selected:       len(sel.Selected),
		NotSent:        len(sel.NotSent),
		Eligible:       sel.Eligible,
		MostRecentSent: sel.MostRecentSent,
	}
	if resp.Eligible == nil {
		resp.Eligible = []contact.Contact{}
	}
	if next, ok := sel.Next(); ok {
		resp.Next = &next
	}

	sendJSON(w, http.StatusOK, resp)
}

// listLimit parses limit, clamped to maxListLimit
func listLimit(r *http.Request) int {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil && l > 0 {
			limit = min(l, maxListLimit)
		}
	}
	return limit
}

// handleLog handles GET /api/v1/log
func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Store.ListLog(r.Context(), listLimit(r))
	if err != nil {
		s.logger.Error("failed to list sending log", "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to list sending log")
		return
	}
	if entries == nil {
		entries = []*storage.LogEntry{}
	}

	sendJSON(w, http.StatusOK, LogResponse{Entries: entries, Total: len(entries)})
}

// handleClearLog handles DELETE /api/v1/log
func (s *Server) handleClearLog(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runner != nil && s.deps.Runner.Progress().Running() {
		sendError(w, http.StatusConflict, session.ErrSessionRunning.Error())
		return
	}

	n, err := s.deps.Store.ClearLog(r.Context())
	if err != nil {
		s.logger.Error("failed to clear sending log", "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to clear sending log")
		return
	}

	s.logger.Info("sending log cleared", "entries", n)
	sendJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

// handleOutbox handles GET /api/v1/outbox
func (s *Server) handleOutbox(w http.ResponseWriter, r *http.Request) {
	filter := storage.OutboxFilter{
		To:        r.URL.Query().Get("to"),
		SessionID: r.URL.Query().Get("session_id"),
		Limit:     listLimit(r),
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if o, err := strconv.Atoi(v); err == nil && o >= 0 {
			filter.Offset = min(o, maxOffset)
		}
	}

	messages, err := s.deps.Store.ListOutbox(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list outbox", "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to list outbox")
		return
	}

	resp := OutboxResponse{
		Messages: make([]*OutboxMessageResponse, len(messages)),
		Total:    len(messages),
	}
	for i, msg := range messages {
		resp.Messages[i] = &OutboxMessageResponse{
			ID:         msg.ID,
			From:       msg.From,
			To:         msg.To,
			Subject:    msg.Subject,
			UID:        msg.UID,
			SessionID:  msg.SessionID,
			Size:       msg.Size,
			CapturedAt: msg.CapturedAt,
		}
	}

	sendJSON(w, http.StatusOK, resp)
}

// sendJSON sends a JSON response
func sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		metrics.IncAPIErrors("encode")
	}
}

// sendError sends an error response
func sendError(w http.ResponseWriter, status int, message string) {
	sendJSON(w, status, ErrorResponse{Error: message})
}
