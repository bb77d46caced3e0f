package api

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/iase/mailmerge/internal/config"
	"github.com/iase/mailmerge/internal/contact"
	"github.com/iase/mailmerge/internal/mailer"
	"github.com/iase/mailmerge/internal/payload"
	"github.com/iase/mailmerge/internal/session"
	"github.com/iase/mailmerge/internal/storage"
	"github.com/iase/mailmerge/internal/syncer"
	"github.com/iase/mailmerge/internal/template"
)

type testEnv struct {
	server *Server
	store  *storage.BoltStorage
	runner *session.Runner
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestServer(t *testing.T, cfg *config.APIConfig) *testEnv {
	t.Helper()

	st, err := storage.NewBoltStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewBoltStorage() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := testLogger()
	runner := session.NewRunner(session.Config{
		From: "sender@example.com",
		Mode: "sandbox",
		Defaults: session.Request{
			Language: template.English,
			Delay:    time.Second,
			MaxCount: 10,
		},
	}, st, mailer.NewSandboxMailer(st, logger), template.DefaultCatalog(), template.NewEngine(), logger)
	t.Cleanup(runner.Wait)

	if cfg == nil {
		cfg = &config.APIConfig{ListenAddr: ":8080"}
	}

	server := NewServer(Deps{
		Store:   st,
		Syncer:  syncer.New(nil, st, 0, logger),
		Runner:  runner,
		Catalog: template.DefaultCatalog(),
		Engine:  template.NewEngine(),
	}, cfg, logger)

	return &testEnv{server: server, store: st, runner: runner}
}

func (e *testEnv) seed(t *testing.T, s contact.Store) {
	t.Helper()
	if err := e.store.SaveContacts(context.Background(), s); err != nil {
		t.Fatalf("SaveContacts() error = %v", err)
	}
}

func (e *testEnv) do(method, path, contentType string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	e.server.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := setupTestServer(t, nil)

	w := env.do(http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp HealthResponse
	decode(t, w, &resp)
	if resp.Status != "ok" {
		t.Errorf("Status = %q, want %q", resp.Status, "ok")
	}
	if resp.Session != session.StatusIdle {
		t.Errorf("Session = %q, want %q", resp.Session, session.StatusIdle)
	}
}

func TestContactsEndpoint(t *testing.T) {
	env := setupTestServer(t, nil)
	env.seed(t, contact.Store{
		Active: []contact.Contact{
			{UID: 1, Nation: "NO", Name: "Kari"},
			{UID: 2, Nation: "FR", Name: "Luc"},
		},
		Deleted:              []contact.Contact{{UID: 3, SentCount: 4, DeletedDate: 10}},
		LastImportExportDate: 500,
	})

	w := env.do(http.MethodGet, "/api/v1/contacts?include=active", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp ContactsResponse
	decode(t, w, &resp)
	if resp.Active != 2 || resp.Deleted != 1 {
		t.Errorf("Active/Deleted = %d/%d, want 2/1", resp.Active, resp.Deleted)
	}
	if resp.DeletedSentCount != 4 {
		t.Errorf("DeletedSentCount = %d, want 4", resp.DeletedSentCount)
	}
	if resp.LastImportExportDate != 500 {
		t.Errorf("LastImportExportDate = %d, want 500", resp.LastImportExportDate)
	}
	if strings.Join(resp.Nations, ",") != "FR,NO" {
		t.Errorf("Nations = %v, want [FR NO]", resp.Nations)
	}
	if len(resp.Contacts) != 2 {
		t.Errorf("Contacts = %d, want 2", len(resp.Contacts))
	}
}

func TestDeleteContactEndpoint(t *testing.T) {
	env := setupTestServer(t, nil)
	env.seed(t, contact.Store{Active: []contact.Contact{{UID: 7, Nation: "NO"}}})

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"active contact", "/api/v1/contacts/7", http.StatusNoContent},
		{"already deleted", "/api/v1/contacts/7", http.StatusNotFound},
		{"unknown uid", "/api/v1/contacts/99", http.StatusNotFound},
		{"invalid uid", "/api/v1/contacts/abc", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodDelete, tt.path, "", nil)
			if w.Code != tt.wantStatus {
				t.Errorf("Status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestImportEndpoint(t *testing.T) {
	tests := []struct {
		name          string
		contentType   string
		body          string
		maxBody       int64
		wantStatus    int
		wantSentDate  int64
		wantRowErrors int
	}{
		{
			name:         "json payload",
			contentType:  "application/json",
			body:         `{"contacts":{"active":[{"uid":1,"sd":900,"sc":1}],"deleted":[]},"metadata":[{"key":"exportDate","value":1000}]}`,
			wantStatus:   http.StatusOK,
			wantSentDate: 900,
		},
		{
			name:          "csv payload",
			contentType:   "text/csv",
			body:          "#exportDate,1000\nuid,na,sd,sc\n1,NO,800,1\nbad,NO,1,1\n",
			wantStatus:    http.StatusOK,
			wantSentDate:  800,
			wantRowErrors: 1,
		},
		{
			name:        "missing export date",
			contentType: "application/json",
			body:        `{"contacts":{"active":[{"uid":1,"sd":900}]},"metadata":[]}`,
			wantStatus:  http.StatusBadRequest,
		},
		{
			name:        "invalid json",
			contentType: "application/json",
			body:        `{"contacts":`,
			wantStatus:  http.StatusBadRequest,
		},
		{
			name:       "empty body",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:        "body too large",
			contentType: "application/json",
			body:        `{"contacts":{"active":[]},"metadata":[{"key":"exportDate","value":1}]}`,
			maxBody:     10,
			wantStatus:  http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestServer(t, &config.APIConfig{MaxBodyBytes: tt.maxBody})
			env.seed(t, contact.Store{Active: []contact.Contact{{UID: 1, Nation: "NO"}}})

			w := env.do(http.MethodPost, "/api/v1/import", tt.contentType, []byte(tt.body))
			if w.Code != tt.wantStatus {
				t.Fatalf("Status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			var resp syncer.Result
			decode(t, w, &resp)
			if len(resp.RowErrors) != tt.wantRowErrors {
				t.Errorf("RowErrors = %v, want %d", resp.RowErrors, tt.wantRowErrors)
			}

			stored, err := env.store.LoadContacts(context.Background())
			if err != nil {
				t.Fatalf("LoadContacts() error = %v", err)
			}
			if c, _ := stored.Find(1); c.SentDate != tt.wantSentDate {
				t.Errorf("SentDate = %d, want %d", c.SentDate, tt.wantSentDate)
			}
		})
	}
}

func TestReplaceEndpoint(t *testing.T) {
	env := setupTestServer(t, nil)
	env.seed(t, contact.Store{Active: []contact.Contact{{UID: 50, Nation: "SE"}}})

	body := "#exportDate,2000\nuid,nation,name,email,dd\n1,NO,Kari,kari@example.com,0\n2,FR,Luc,luc@example.com,1500\n"
	w := env.do(http.MethodPut, "/api/v1/contacts", "text/csv", []byte(body))
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp syncer.Result
	decode(t, w, &resp)
	if resp.Active != 1 || resp.Deleted != 1 {
		t.Errorf("Active/Deleted = %d/%d, want 1/1", resp.Active, resp.Deleted)
	}

	dup := `{"contacts":{"active":[{"uid":1},{"uid":1}]},"metadata":[]}`
	w = env.do(http.MethodPut, "/api/v1/contacts", "application/json", []byte(dup))
	if w.Code != http.StatusBadRequest {
		t.Errorf("duplicate uids: Status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestSyncEndpointNotConfigured(t *testing.T) {
	env := setupTestServer(t, nil)

	w := env.do(http.MethodPost, "/api/v1/sync", "", nil)
	if w.Code != http.StatusBadGateway {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusBadGateway)
	}
}

func TestNationsEndpoint(t *testing.T) {
	env := setupTestServer(t, nil)

	w := env.do(http.MethodGet, "/api/v1/nations", "", nil)
	var resp NationsResponse
	decode(t, w, &resp)
	if resp.Warning == "" {
		t.Error("expected a warning without a remote source or cache")
	}

	if err := env.store.SaveNations(context.Background(), []string{"FR", "NO"}); err != nil {
		t.Fatalf("SaveNations() error = %v", err)
	}

	w = env.do(http.MethodGet, "/api/v1/nations", "", nil)
	resp = NationsResponse{}
	decode(t, w, &resp)
	if strings.Join(resp.Nations, ",") != "FR,NO" || resp.Warning != "" {
		t.Errorf("resp = %+v, want cached [FR NO]", resp)
	}
}

func TestSelectionEndpoint(t *testing.T) {
	env := setupTestServer(t, nil)
	env.seed(t, contact.Store{Active: []contact.Contact{
		{UID: 1, Nation: "NO", SentDate: 10, SentCount: 1},
		{UID: 2, Nation: "NO"},
		{UID: 3, Nation: "NO"},
		{UID: 4, Nation: "FR"},
		{UID: 5, Nation: "GB"},
	}})

	tests := []struct {
		name         string
		query        string
		wantStatus   int
		wantEligible []int64
	}{
		{"single nation", "?nation=NO", http.StatusOK, []int64{2, 3}},
		{"capped", "?nation=NO,FR&max=2", http.StatusOK, []int64{2, 3}},
		{"repeated params", "?nation=FR&nation=GB", http.StatusOK, []int64{4, 5}},
		{"no nation", "", http.StatusBadRequest, nil},
		{"bad max", "?nation=NO&max=-1", http.StatusBadRequest, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodGet, "/api/v1/selection"+tt.query, "", nil)
			if w.Code != tt.wantStatus {
				t.Fatalf("Status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			var resp SelectionResponse
			decode(t, w, &resp)
			var got []int64
			for _, c := range resp.Eligible {
				got = append(got, c.UID)
			}
			if len(got) != len(tt.wantEligible) {
				t.Fatalf("Eligible = %v, want %v", got, tt.wantEligible)
			}
			for i := range got {
				if got[i] != tt.wantEligible[i] {
					t.Fatalf("Eligible = %v, want %v", got, tt.wantEligible)
				}
			}
			if resp.Next == nil || resp.Next.UID != tt.wantEligible[0] {
				t.Errorf("Next = %+v, want uid %d", resp.Next, tt.wantEligible[0])
			}
		})
	}
}

func TestLogEndpoints(t *testing.T) {
	env := setupTestServer(t, nil)
	ctx := context.Background()

	for _, msg := range []string{"Email sent to A - a@example.com", "Email sent to B - b@example.com"} {
		if err := env.store.AppendLog(ctx, &storage.LogEntry{Level: storage.LevelInfo, Message: msg}); err != nil {
			t.Fatalf("AppendLog() error = %v", err)
		}
	}

	w := env.do(http.MethodGet, "/api/v1/log?limit=1", "", nil)
	var resp LogResponse
	decode(t, w, &resp)
	if resp.Total != 1 {
		t.Errorf("Total = %d, want 1", resp.Total)
	}

	w = env.do(http.MethodDelete, "/api/v1/log", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	var cleared map[string]int
	decode(t, w, &cleared)
	if cleared["deleted"] != 2 {
		t.Errorf("deleted = %d, want 2", cleared["deleted"])
	}
}

func TestOutboxEndpoint(t *testing.T) {
	env := setupTestServer(t, nil)
	ctx := context.Background()

	for _, to := range []string{"a@example.com", "b@example.com"} {
		msg := &storage.OutboxMessage{
			ID:         to,
			From:       "sender@example.com",
			To:         to,
			Subject:    "Hello",
			Data:       []byte("raw"),
			CapturedAt: time.Now(),
		}
		if err := env.store.SaveOutbox(ctx, msg); err != nil {
			t.Fatalf("SaveOutbox() error = %v", err)
		}
	}

	w := env.do(http.MethodGet, "/api/v1/outbox?to=b@example.com", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp OutboxResponse
	decode(t, w, &resp)
	if resp.Total != 1 || resp.Messages[0].To != "b@example.com" {
		t.Fatalf("resp = %+v, want one message to b@example.com", resp)
	}
	if resp.Messages[0].Size != 3 {
		t.Errorf("Size = %d, want 3", resp.Messages[0].Size)
	}
}

func TestImportCompressedBodyLimit(t *testing.T) {
	// a few KB of zstd that expands to far more than max_body_bytes
	csv := "#exportDate,1000\nuid,na,sd,sc\n1,NO,800,1\n" + strings.Repeat("\n", 2<<20)
	packed, err := payload.Compress([]byte(csv))
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}

	tests := []struct {
		name       string
		maxBody    int64
		wantStatus int
	}{
		{"expands past limit", 64 << 10, http.StatusRequestEntityTooLarge},
		{"fits limit", 4 << 20, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if int64(len(packed)) >= tt.maxBody {
				t.Fatalf("compressed body %d bytes is not below limit %d", len(packed), tt.maxBody)
			}
			env := setupTestServer(t, &config.APIConfig{MaxBodyBytes: tt.maxBody})
			env.seed(t, contact.Store{Active: []contact.Contact{{UID: 1, Nation: "NO"}}})

			w := env.do(http.MethodPost, "/api/v1/import", "text/csv", packed)
			if w.Code != tt.wantStatus {
				t.Errorf("Status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}
