package storage

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// Log levels
const (
	LevelInfo  = "info"
	LevelError = "error"
)

// LogEntry is one line of the sending log
type LogEntry struct {
	ID        string    `json:"id"`
	Time      time.Time `json:"time"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	SessionID string    `json:"session_id,omitempty"`
	UID       int64     `json:"uid,omitempty"`
}

// AppendLog stores a sending log entry. ID and Time are filled in when empty.
func (s *BoltStorage) AppendLog(ctx context.Context, entry *LogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Time.IsZero() {
		entry.Time = time.Now()
	}
	if entry.Level == "" {
		entry.Level = LevelInfo
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSendingLog).Put(makeIndexKey(entry.Time, entry.ID), data)
	})
}

// ListLog returns log entries oldest first. With limit > 0 only the most
// recent limit entries are returned.
func (s *BoltStorage) ListLog(ctx context.Context, limit int) ([]*LogEntry, error) {
	var entries []*LogEntry

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSendingLog).Cursor()

		// walk backwards to honor limit, then reverse
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var e LogEntry
			if err := json.Unmarshal(v, &e); err != nil {
				continue
			}
			entries = append(entries, &e)
			if limit > 0 && len(entries) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// ClearLog removes all log entries and returns how many were deleted
func (s *BoltStorage) ClearLog(ctx context.Context) (int, error) {
	deleted := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSendingLog).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			deleted++
		}
		if err := tx.DeleteBucket(bucketSendingLog); err != nil {
			return fmt.Errorf("failed to clear sending log: %w", err)
		}
		_, err := tx.CreateBucket(bucketSendingLog)
		return err
	})

	return deleted, err
}
