package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/iase/mailmerge/internal/payload"
)

// Backup writes a zstd-compressed JSON export of the contact store to path.
// The file is written to path+".tmp" and renamed into place, so a crash never
// leaves a truncated backup behind. The snapshot is itself a valid import payload.
func (s *BoltStorage) Backup(ctx context.Context, path string) error {
	store, err := s.LoadContacts(ctx)
	if err != nil {
		return err
	}

	data, err := payload.Encode(store, time.Now(), payload.FormatJSON, true)
	if err != nil {
		return fmt.Errorf("failed to encode backup: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	tmpFile := path + ".tmp"
	file, err := os.Create(tmpFile)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}

	if _, err = file.Write(data); err != nil {
		file.Close()
		os.Remove(tmpFile)
		return fmt.Errorf("failed to write backup: %w", err)
	}

	if err = file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpFile)
		return fmt.Errorf("failed to sync backup: %w", err)
	}

	if err = file.Close(); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to close backup: %w", err)
	}

	return os.Rename(tmpFile, path)
}

// BackupName returns a timestamped backup file name inside dir
func BackupName(dir string, t time.Time) string {
	return filepath.Join(dir, "contacts-"+t.UTC().Format("20060102-150405")+".json.zst")
}
