package metrics

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

type memoryCounterStore struct {
	mu       sync.Mutex
	counters map[string]float64
	loadErr  error
}

func (s *memoryCounterStore) LoadCounters(ctx context.Context) (map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	out := make(map[string]float64, len(s.counters))
	for k, v := range s.counters {
		out[k] = v
	}
	return out, nil
}

func (s *memoryCounterStore) SaveCounters(ctx context.Context, counters map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = counters
	return nil
}

func TestCollectorPersistence(t *testing.T) {
	store := &memoryCounterStore{}

	m := New()
	c, err := NewCollector(store, m, nil, "", time.Minute)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	m.EmailsSentTotal.WithLabelValues("smtp").Add(3)
	m.APIRequestsTotal.WithLabelValues("GET", "/api/v1/contacts", "200").Inc()
	m.SessionActive.Set(1) // gauges are not persisted

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	want := map[string]float64{
		"mailmerge_emails_sent_total|mode=smtp":                                    3,
		"mailmerge_api_requests_total|method=GET,path=/api/v1/contacts,status=200": 1,
	}
	if !reflect.DeepEqual(store.counters, want) {
		t.Errorf("persisted = %v, want %v", store.counters, want)
	}

	// a fresh process restores the totals
	m2 := New()
	if _, err := NewCollector(store, m2, nil, "", time.Minute); err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	if got := counterValue(t, m2.EmailsSentTotal, "smtp"); got != 3 {
		t.Errorf("restored emails sent = %v, want 3", got)
	}
	if got := counterValue(t, m2.APIRequestsTotal, "GET", "/api/v1/contacts", "200"); got != 1 {
		t.Errorf("restored api requests = %v, want 1", got)
	}
}

func TestCollectorRestoreSkipsUnknown(t *testing.T) {
	store := &memoryCounterStore{counters: map[string]float64{
		"legacy_messages_sent_total|domain=x":    4,
		"mailmerge_emails_sent_total|wrong=x":    4,
		"mailmerge_emails_failed_total|mode=bad": -1,
		"mailmerge_sessions_total|status=done":   2,
	}}

	m := New()
	if _, err := NewCollector(store, m, nil, "", time.Minute); err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	if got := counterValue(t, m.SessionsTotal, "done"); got != 2 {
		t.Errorf("sessions = %v, want 2", got)
	}
}

func TestCollectorLoadError(t *testing.T) {
	store := &memoryCounterStore{loadErr: errors.New("disk gone")}
	if _, err := NewCollector(store, New(), nil, "", 0); err == nil {
		t.Error("NewCollector() expected error")
	}
}

func TestCollectorCollect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	if err := os.WriteFile(path, make([]byte, 2048), 0600); err != nil {
		t.Fatal(err)
	}

	stats := StatsFunc(func(ctx context.Context) (*ContactStats, error) {
		return &ContactStats{Active: 12, Deleted: 3, LastImportExportDate: 1700000000000}, nil
	})

	m := New()
	c, err := NewCollector(&memoryCounterStore{}, m, stats, path, time.Minute)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	c.Collect(context.Background())

	tests := []struct {
		name string
		get  func() float64
		want float64
	}{
		{"contacts active", func() float64 { return gaugeValue(t, m.ContactsActive) }, 12},
		{"contacts deleted", func() float64 { return gaugeValue(t, m.ContactsDeleted) }, 3},
		{"last export date", func() float64 { return gaugeValue(t, m.LastImportExportDate) }, 1700000000},
		{"storage size", func() float64 { return gaugeValue(t, m.StorageUsedBytes) }, 2048},
	}
	for _, tt := range tests {
		if got := tt.get(); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}
	if gaugeValue(t, m.Goroutines) <= 0 {
		t.Error("goroutines gauge not set")
	}
}

func TestCounterKey(t *testing.T) {
	name, value := "status", "200"
	method, get := "method", "GET"
	labels := []*dto.LabelPair{
		{Name: &name, Value: &value},
		{Name: &method, Value: &get},
	}

	key := counterKey("mailmerge_api_requests_total", labels)
	if key != "mailmerge_api_requests_total|method=GET,status=200" {
		t.Errorf("counterKey() = %q", key)
	}

	gotName, gotLabels := parseCounterKey(key)
	if gotName != "mailmerge_api_requests_total" || gotLabels["method"] != "GET" || gotLabels["status"] != "200" {
		t.Errorf("parseCounterKey() = %q, %v", gotName, gotLabels)
	}

	bare, none := parseCounterKey("mailmerge_x_total|")
	if bare != "mailmerge_x_total" || len(none) != 0 {
		t.Errorf("parseCounterKey(no labels) = %q, %v", bare, none)
	}
}
