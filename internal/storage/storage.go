package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	bolt "go.etcd.io/bbolt"

	"github.com/iase/mailmerge/internal/contact"
)

var (
	bucketContacts   = []byte("contacts")
	bucketNations    = []byte("nations")
	bucketSendingLog = []byte("sending_log")
	bucketOutbox     = []byte("outbox")
	bucketMetrics    = []byte("metrics")

	keyActive     = []byte("active")
	keyDeleted    = []byte("deleted")
	keyLastImport = []byte("last_import_export_date")
	keyNations    = []byte("list")
	keyNationsAt  = []byte("fetched_at")
	keyCounters   = []byte("counters")
)

// BoltStorage persists the contact store, nations cache, sending log,
// sandbox outbox and metric counters in a single BoltDB file
type BoltStorage struct {
	db *bolt.DB
}

// NewBoltStorage opens (or creates) the database at path
func NewBoltStorage(path string) (*BoltStorage, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketContacts, bucketNations, bucketSendingLog, bucketOutbox, bucketMetrics} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStorage{db: db}, nil
}

// LoadContacts returns the persisted store, or an empty one on first run
func (s *BoltStorage) LoadContacts(ctx context.Context) (contact.Store, error) {
	var store contact.Store
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		store, err = readStore(tx.Bucket(bucketContacts))
		return err
	})
	return store, err
}

// SaveContacts replaces the persisted store in one transaction
func (s *BoltStorage) SaveContacts(ctx context.Context, store contact.Store) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return writeStore(tx.Bucket(bucketContacts), store)
	})
}

// UpdateContacts loads the store, applies fn and saves the result in the same
// transaction. Returning an error from fn aborts without writing.
func (s *BoltStorage) UpdateContacts(ctx context.Context, fn func(contact.Store) (contact.Store, error)) (contact.Store, error) {
	var out contact.Store

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketContacts)

		current, err := readStore(b)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		if err := writeStore(b, next); err != nil {
			return err
		}

		out = next
		return nil
	})

	return out, err
}

func readStore(b *bolt.Bucket) (contact.Store, error) {
	var store contact.Store

	if data := b.Get(keyActive); data != nil {
		if err := json.Unmarshal(data, &store.Active); err != nil {
			return store, fmt.Errorf("failed to unmarshal active contacts: %w", err)
		}
	}
	if data := b.Get(keyDeleted); data != nil {
		if err := json.Unmarshal(data, &store.Deleted); err != nil {
			return store, fmt.Errorf("failed to unmarshal deleted contacts: %w", err)
		}
	}
	if data := b.Get(keyLastImport); data != nil {
		v, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return store, fmt.Errorf("failed to parse last import date: %w", err)
		}
		store.LastImportExportDate = v
	}

	return store, nil
}

func writeStore(b *bolt.Bucket, store contact.Store) error {
	active := store.Active
	if active == nil {
		active = []contact.Contact{}
	}
	deleted := store.Deleted
	if deleted == nil {
		deleted = []contact.Contact{}
	}

	activeData, err := json.Marshal(active)
	if err != nil {
		return fmt.Errorf("failed to marshal active contacts: %w", err)
	}
	deletedData, err := json.Marshal(deleted)
	if err != nil {
		return fmt.Errorf("failed to marshal deleted contacts: %w", err)
	}

	if err := b.Put(keyActive, activeData); err != nil {
		return fmt.Errorf("failed to store active contacts: %w", err)
	}
	if err := b.Put(keyDeleted, deletedData); err != nil {
		return fmt.Errorf("failed to store deleted contacts: %w", err)
	}
	last := []byte(strconv.FormatInt(store.LastImportExportDate, 10))
	if err := b.Put(keyLastImport, last); err != nil {
		return fmt.Errorf("failed to store last import date: %w", err)
	}
	return nil
}

// SaveNations caches the last fetched nations list
func (s *BoltStorage) SaveNations(ctx context.Context, nations []string) error {
	data, err := json.Marshal(nations)
	if err != nil {
		return fmt.Errorf("failed to marshal nations: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNations)
		if err := b.Put(keyNations, data); err != nil {
			return fmt.Errorf("failed to store nations: %w", err)
		}
		return b.Put(keyNationsAt, []byte(time.Now().UTC().Format(time.RFC3339Nano)))
	})
}

// LoadNations returns the cached nations list and when it was fetched.
// A nil list means nothing was cached yet.
func (s *BoltStorage) LoadNations(ctx context.Context) ([]string, time.Time, error) {
	var (
		nations   []string
		fetchedAt time.Time
	)

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNations)
		data := b.Get(keyNations)
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &nations); err != nil {
			return fmt.Errorf("failed to unmarshal nations: %w", err)
		}
		if ts := b.Get(keyNationsAt); ts != nil {
			fetchedAt, _ = time.Parse(time.RFC3339Nano, string(ts))
		}
		return nil
	})

	return nations, fetchedAt, err
}

// Close closes the database
func (s *BoltStorage) Close() error {
	return s.db.Close()
}

// fixed-width so keys sort chronologically
const indexTimeFormat = "2006-01-02T15:04:05.000000000Z"

func makeIndexKey(t time.Time, id string) []byte {
	// Format: timestamp + ":" + id
	return []byte(t.UTC().Format(indexTimeFormat) + ":" + id)
}

func parseTimestampFromKey(key []byte) time.Time {
	if len(key) < len(indexTimeFormat) {
		return time.Time{}
	}
	ts, _ := time.Parse(indexTimeFormat, string(key[:len(indexTimeFormat)]))
	return ts
}
