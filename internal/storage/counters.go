package storage

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	bolt "go.etcd.io/bbolt"
)

// SaveCounters replaces the persisted metric counter snapshot
func (s *BoltStorage) SaveCounters(ctx context.Context, counters map[string]float64) error {
	data, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("failed to marshal counters: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMetrics).Put(keyCounters, data)
	})
}

// LoadCounters returns the persisted metric counters, empty on first run
func (s *BoltStorage) LoadCounters(ctx context.Context) (map[string]float64, error) {
	counters := make(map[string]float64)

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMetrics).Get(keyCounters)
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &counters)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load counters: %w", err)
	}

	return counters, nil
}
