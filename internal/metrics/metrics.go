package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Import sources
const (
	SourceFile   = "file"
	SourceAPI    = "api"
	SourceRemote = "remote"
)

// Import results
const (
	ResultApplied = "applied"
	ResultStale   = "stale"
	ResultError   = "error"
)

// Metrics holds all Prometheus metrics for mailmerge
type Metrics struct {
	// Import counters
	ImportsTotal           *prometheus.CounterVec
	ContactsProcessedTotal *prometheus.CounterVec
	ContactsDeletedTotal   *prometheus.CounterVec
	SyncErrorsTotal        *prometheus.CounterVec

	// Sending counters
	EmailsSentTotal   *prometheus.CounterVec
	EmailsFailedTotal *prometheus.CounterVec
	SessionsTotal     *prometheus.CounterVec
	SessionActive     prometheus.Gauge

	// Contact store gauges
	ContactsActive       prometheus.Gauge
	ContactsDeleted      prometheus.Gauge
	LastImportExportDate prometheus.Gauge

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// System metrics
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	registry *prometheus.Registry
	// counters by metric name, restored by the collector on startup
	counters map[string]*prometheus.CounterVec
}

func newCounterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
}

func newGauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		ImportsTotal: newCounterVec("mailmerge_imports_total",
			"Total number of import payloads by source and result", "source", "result"),
		ContactsProcessedTotal: newCounterVec("mailmerge_contacts_processed_total",
			"Total number of active contacts processed by imports", "source"),
		ContactsDeletedTotal: newCounterVec("mailmerge_contacts_deleted_total",
			"Total number of deleted contacts processed by imports", "source"),
		SyncErrorsTotal: newCounterVec("mailmerge_sync_errors_total",
			"Total number of failed remote fetches", "kind"),

		EmailsSentTotal: newCounterVec("mailmerge_emails_sent_total",
			"Total number of emails sent", "mode"),
		EmailsFailedTotal: newCounterVec("mailmerge_emails_failed_total",
			"Total number of emails that failed to send", "mode"),
		SessionsTotal: newCounterVec("mailmerge_sessions_total",
			"Total number of sending sessions by final status", "status"),
		SessionActive: newGauge("mailmerge_session_active",
			"1 while a sending session is running"),

		ContactsActive:  newGauge("mailmerge_contacts_active", "Number of active contacts"),
		ContactsDeleted: newGauge("mailmerge_contacts_deleted", "Number of deleted contacts"),
		LastImportExportDate: newGauge("mailmerge_last_import_export_date_seconds",
			"Export date of the last applied import as unix seconds"),

		APIRequestsTotal: newCounterVec("mailmerge_api_requests_total",
			"Total number of API requests", "method", "path", "status"),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailmerge_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: newCounterVec("mailmerge_api_errors_total",
			"Total number of API errors", "error_type"),

		UptimeSeconds:    newGauge("mailmerge_uptime_seconds", "Process uptime in seconds"),
		Goroutines:       newGauge("mailmerge_goroutines", "Number of active goroutines"),
		StorageUsedBytes: newGauge("mailmerge_storage_used_bytes", "BoltDB file size in bytes"),

		registry: reg,
	}

	m.counters = map[string]*prometheus.CounterVec{
		"mailmerge_imports_total":            m.ImportsTotal,
		"mailmerge_contacts_processed_total": m.ContactsProcessedTotal,
		"mailmerge_contacts_deleted_total":   m.ContactsDeletedTotal,
		"mailmerge_sync_errors_total":        m.SyncErrorsTotal,
		"mailmerge_emails_sent_total":        m.EmailsSentTotal,
		"mailmerge_emails_failed_total":      m.EmailsFailedTotal,
		"mailmerge_sessions_total":           m.SessionsTotal,
		"mailmerge_api_requests_total":       m.APIRequestsTotal,
		"mailmerge_api_errors_total":         m.APIErrorsTotal,
	}

	reg.MustRegister(
		m.ImportsTotal,
		m.ContactsProcessedTotal,
		m.ContactsDeletedTotal,
		m.SyncErrorsTotal,
		m.EmailsSentTotal,
		m.EmailsFailedTotal,
		m.SessionsTotal,
		m.SessionActive,
		m.ContactsActive,
		m.ContactsDeleted,
		m.LastImportExportDate,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.UptimeSeconds,
		m.Goroutines,
		m.StorageUsedBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// ObserveImport records the outcome of one import
func ObserveImport(source, result string, processed, deleted int) {
	m := Global()
	if m == nil {
		return
	}
	m.ImportsTotal.WithLabelValues(source, result).Inc()
	if processed > 0 {
		m.ContactsProcessedTotal.WithLabelValues(source).Add(float64(processed))
	}
	if deleted > 0 {
		m.ContactsDeletedTotal.WithLabelValues(source).Add(float64(deleted))
	}
}

// IncSyncErrors increments the failed fetch counter
func IncSyncErrors(kind string) {
	m := Global()
	if m != nil {
		m.SyncErrorsTotal.WithLabelValues(kind).Inc()
	}
}

// IncEmailsSent increments the sent email counter
func IncEmailsSent(mode string) {
	m := Global()
	if m != nil {
		m.EmailsSentTotal.WithLabelValues(mode).Inc()
	}
}

// IncEmailsFailed increments the failed email counter
func IncEmailsFailed(mode string) {
	m := Global()
	if m != nil {
		m.EmailsFailedTotal.WithLabelValues(mode).Inc()
	}
}

// IncSessions counts a finished session
func IncSessions(status string) {
	m := Global()
	if m != nil {
		m.SessionsTotal.WithLabelValues(status).Inc()
	}
}

// SetSessionActive flags whether a session is running
func SetSessionActive(active bool) {
	m := Global()
	if m == nil {
		return
	}
	if active {
		m.SessionActive.Set(1)
	} else {
		m.SessionActive.Set(0)
	}
}

// IncAPIErrors increments API error counter
func IncAPIErrors(errorType string) {
	m := Global()
	if m != nil {
		m.APIErrorsTotal.WithLabelValues(errorType).Inc()
	}
}
