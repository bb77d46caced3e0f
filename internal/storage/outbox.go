package storage

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	bolt "go.etcd.io/bbolt"
)

// OutboxMessage is an email captured by the sandbox mailer instead of being sent
type OutboxMessage struct {
	ID         string    `json:"id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Subject    string    `json:"subject"`
	UID        int64     `json:"uid,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	Data       []byte    `json:"data,omitempty"`
	Size       int       `json:"size"`
	CapturedAt time.Time `json:"captured_at"`
}

// OutboxFilter narrows ListOutbox results
type OutboxFilter struct {
	To        string
	SessionID string
	Limit     int
	Offset    int
}

// SaveOutbox stores a captured message
func (s *BoltStorage) SaveOutbox(ctx context.Context, msg *OutboxMessage) error {
	if msg.CapturedAt.IsZero() {
		msg.CapturedAt = time.Now()
	}
	msg.Size = len(msg.Data)

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOutbox).Put(makeIndexKey(msg.CapturedAt, msg.ID), data)
	})
}

// GetOutbox returns a captured message by id, or nil when absent
func (s *BoltStorage) GetOutbox(ctx context.Context, id string) (*OutboxMessage, error) {
	var msg *OutboxMessage

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketOutbox).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var m OutboxMessage
			if err := json.Unmarshal(v, &m); err != nil {
				continue
			}
			if m.ID == id {
				msg = &m
				return nil
			}
		}
		return nil
	})

	return msg, err
}

// ListOutbox returns captured messages newest first, without bodies
func (s *BoltStorage) ListOutbox(ctx context.Context, filter OutboxFilter) ([]*OutboxMessage, error) {
	var messages []*OutboxMessage

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketOutbox).Cursor()

		skipped := 0
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var msg OutboxMessage
			if err := json.Unmarshal(v, &msg); err != nil {
				continue
			}

			if filter.To != "" && msg.To != filter.To {
				continue
			}
			if filter.SessionID != "" && msg.SessionID != filter.SessionID {
				continue
			}

			if skipped < filter.Offset {
				skipped++
				continue
			}

			msg.Data = nil
			messages = append(messages, &msg)

			if filter.Limit > 0 && len(messages) >= filter.Limit {
				break
			}
		}
		return nil
	})

	return messages, err
}

// ClearOutbox removes captured messages older than olderThan (all when 0)
func (s *BoltStorage) ClearOutbox(ctx context.Context, olderThan time.Duration) (int, error) {
	var count int
	cutoff := time.Now().Add(-olderThan)

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketOutbox)
		c := bucket.Cursor()

		var keysToDelete [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if olderThan > 0 && parseTimestampFromKey(k).After(cutoff) {
				break
			}
			keysToDelete = append(keysToDelete, append([]byte{}, k...))
		}

		for _, k := range keysToDelete {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			count++
		}
		return nil
	})

	return count, err
}
