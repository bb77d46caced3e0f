// Package syncer merges contact payloads from the remote source, local files
// and the API into the persisted store.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/iase/mailmerge/internal/contact"
	"github.com/iase/mailmerge/internal/metrics"
	"github.com/iase/mailmerge/internal/payload"
)

// ErrInvalidContactList is returned by Replace when the list breaks uid uniqueness
var ErrInvalidContactList = errors.New("invalid contact list")

// Fetcher downloads the remote contact list and nations list
type Fetcher interface {
	FetchContacts(ctx context.Context) (*payload.Result, error)
	Nations(ctx context.Context) ([]string, error)
}

// Store is the persistence the syncer needs
type Store interface {
	UpdateContacts(ctx context.Context, fn func(contact.Store) (contact.Store, error)) (contact.Store, error)
	SaveNations(ctx context.Context, nations []string) error
	LoadNations(ctx context.Context) ([]string, time.Time, error)
}

// Result summarizes one import
type Result struct {
	Source     string              `json:"source"`
	Stats      contact.ImportStats `json:"stats"`
	ExportDate int64               `json:"export_date"`
	// Fresh is true when the payload was newer than the last applied import
	Fresh     bool     `json:"fresh"`
	Active    int      `json:"active"`
	Deleted   int      `json:"deleted"`
	RowErrors []string `json:"row_errors,omitempty"`
}

// Syncer applies imports one at a time
type Syncer struct {
	fetcher  Fetcher
	store    Store
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex // serializes imports
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a new syncer. fetcher may be nil when no remote source is configured.
func New(fetcher Fetcher, store Store, interval time.Duration, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Syncer{
		fetcher:  fetcher,
		store:    store,
		interval: interval,
		logger:   logger.With("component", "syncer"),
		stopCh:   make(chan struct{}),
	}
}

// Sync fetches the remote contact list and merges it
func (s *Syncer) Sync(ctx context.Context) (*Result, error) {
	if s.fetcher == nil {
		return nil, fmt.Errorf("remote source not configured")
	}

	res, err := s.fetcher.FetchContacts(ctx)
	if err != nil {
		metrics.IncSyncErrors("contacts")
		metrics.ObserveImport(metrics.SourceRemote, metrics.ResultError, 0, 0)
		return nil, err
	}

	return s.Import(ctx, res, metrics.SourceRemote)
}

// Import merges a decoded payload into the store in one transaction
func (s *Syncer) Import(ctx context.Context, res *payload.Result, source string) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := &Result{Source: source, RowErrors: res.Errors}

	updated, err := s.store.UpdateContacts(ctx, func(current contact.Store) (contact.Store, error) {
		next, stats, err := contact.Merge(current, res.Payload)
		if err != nil {
			return current, err
		}
		out.Stats = stats
		out.Fresh = next.LastImportExportDate > current.LastImportExportDate
		return next, nil
	})
	if err != nil {
		metrics.ObserveImport(source, metrics.ResultError, 0, 0)
		if errors.Is(err, contact.ErrMissingExportDate) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to import contacts: %w", err)
	}

	out.ExportDate, _ = res.Payload.ExportDate()
	out.Active = len(updated.Active)
	out.Deleted = len(updated.Deleted)

	result := metrics.ResultApplied
	if !out.Fresh {
		result = metrics.ResultStale
	}
	metrics.ObserveImport(source, result, out.Stats.ContactsProcessed, out.Stats.ContactsDeleted)

	s.logger.Info("contacts imported",
		"source", source,
		"export_date", out.ExportDate,
		"fresh", out.Fresh,
		"processed", out.Stats.ContactsProcessed,
		"deleted", out.Stats.ContactsDeleted,
		"row_errors", len(out.RowErrors),
		"active", out.Active,
	)

	return out, nil
}

// Replace loads a full contact list, discarding the current store. Contacts
// with a deleted date go to the deleted partition. The export date, when
// present, becomes the new high-water mark.
func (s *Syncer) Replace(ctx context.Context, res *payload.Result, source string) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exportDate, err := res.Payload.ExportDate()
	if err != nil {
		exportDate = 0
	}

	next := contact.Store{LastImportExportDate: exportDate}
	for _, c := range res.Payload.Contacts.Active {
		if c.DeletedDate > 0 {
			next.Deleted = append(next.Deleted, c)
			continue
		}
		next.Active = append(next.Active, c)
	}
	next.Deleted = append(next.Deleted, res.Payload.Contacts.Deleted...)

	if err := next.Validate(); err != nil {
		metrics.ObserveImport(source, metrics.ResultError, 0, 0)
		return nil, fmt.Errorf("%w: %v", ErrInvalidContactList, err)
	}

	if _, err := s.store.UpdateContacts(ctx, func(contact.Store) (contact.Store, error) {
		return next, nil
	}); err != nil {
		metrics.ObserveImport(source, metrics.ResultError, 0, 0)
		return nil, fmt.Errorf("failed to replace contacts: %w", err)
	}

	out := &Result{
		Source:     source,
		ExportDate: exportDate,
		Fresh:      true,
		Active:     len(next.Active),
		Deleted:    len(next.Deleted),
		RowErrors:  res.Errors,
		Stats: contact.ImportStats{
			ContactsProcessed: len(next.Active),
			ContactsDeleted:   len(next.Deleted),
		},
	}
	metrics.ObserveImport(source, metrics.ResultApplied, out.Stats.ContactsProcessed, out.Stats.ContactsDeleted)

	s.logger.Info("contact list replaced",
		"source", source,
		"active", out.Active,
		"deleted", out.Deleted,
		"row_errors", len(out.RowErrors),
	)

	return out, nil
}

// Delete moves an active contact to the deleted partition. It reports false
// when uid is not an active contact.
func (s *Syncer) Delete(ctx context.Context, uid int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	_, err := s.store.UpdateContacts(ctx, func(current contact.Store) (contact.Store, error) {
		next, ok := contact.DeleteContact(current, uid, time.Now().UnixMilli())
		found = ok
		return next, nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete contact: %w", err)
	}

	if found {
		s.logger.Info("contact deleted", "uid", uid)
	}
	return found, nil
}

// RefreshNations fetches the nations list and caches it. When the fetch fails
// the cached list is returned if there is one, otherwise the fallback list;
// the error says why.
func (s *Syncer) RefreshNations(ctx context.Context) ([]string, error) {
	if s.fetcher == nil {
		return s.cachedNations(ctx, nil, fmt.Errorf("remote source not configured"))
	}

	nations, err := s.fetcher.Nations(ctx)
	if err != nil {
		metrics.IncSyncErrors("nations")
		return s.cachedNations(ctx, nations, err)
	}

	if err := s.store.SaveNations(ctx, nations); err != nil {
		s.logger.Warn("failed to cache nations", "error", err)
	}
	return nations, nil
}

func (s *Syncer) cachedNations(ctx context.Context, fallback []string, cause error) ([]string, error) {
	cached, _, err := s.store.LoadNations(ctx)
	if err == nil && len(cached) > 0 {
		return cached, cause
	}
	return fallback, cause
}

// Nations returns the cached nations list, fetching it on first use
func (s *Syncer) Nations(ctx context.Context) ([]string, error) {
	cached, _, err := s.store.LoadNations(ctx)
	if err == nil && len(cached) > 0 {
		return cached, nil
	}
	return s.RefreshNations(ctx)
}

// Start runs the periodic refresh loop. It does nothing when the interval is 0
// or no remote source is configured.
func (s *Syncer) Start(ctx context.Context) {
	if s.interval <= 0 || s.fetcher == nil {
		return
	}

	s.wg.Add(1)
	go s.loop(ctx)

	s.logger.Info("syncer started", "interval", s.interval)
}

// Stop stops the refresh loop and waits for it to finish
func (s *Syncer) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Syncer) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Sync immediately on start
	s.refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

func (s *Syncer) refresh(ctx context.Context) {
	if _, err := s.Sync(ctx); err != nil {
		s.logger.Error("periodic sync failed", "error", err)
	}
	if _, err := s.RefreshNations(ctx); err != nil {
		s.logger.Warn("nations refresh failed", "error", err)
	}
}
