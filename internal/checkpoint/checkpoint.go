// Package checkpoint persists the per-sync SyncCursor: an opaque blob a
// source connector emits on job success, whose presence distinguishes an
// incremental run from a full one and gates force_full_sync validation.
// Adapted from eve.evalgo.org/db/bolt's DB wrapper around go.etcd.io/bbolt.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const bucketName = "sync_cursors"

// Store wraps a bbolt database dedicated to cursor blobs, one key per sync.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the cursor database at path and ensures the cursor
// bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("checkpoint: opening cursor store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("checkpoint: creating cursor bucket: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// record is the on-disk envelope: the cursor bytes plus the sync job that
// produced them, so a corrupt or partial write is attributable.
type record struct {
	Cursor       []byte    `json:"cursor"`
	SyncJobID    string    `json:"sync_job_id"`
	PersistedAt  time.Time `json:"persisted_at"`
}

// Save persists cursor for syncID, overwriting any prior value. Called only
// on job success per §3 — a failed or cancelled job must never advance the
// cursor.
func (s *Store) Save(syncID, syncJobID string, cursor []byte) error {
	rec := record{Cursor: cursor, SyncJobID: syncJobID, PersistedAt: time.Now()}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("checkpoint: marshaling cursor for sync %s: %w", syncID, err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		return b.Put([]byte(syncID), data)
	})
}

// Load returns the cursor bytes for syncID, or (nil, false) when no cursor
// has ever been persisted for it — the signal that the next run must be a
// full sync.
func (s *Store) Load(syncID string) ([]byte, bool, error) {
	var rec record
	found := false

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		data := b.Get([]byte(syncID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, false, fmt.Errorf("checkpoint: loading cursor for sync %s: %w", syncID, err)
	}
	if !found {
		return nil, false, nil
	}
	return rec.Cursor, true, nil
}

// Clear removes any cursor for syncID, forcing the next run to be a full
// sync. Used when force_full_sync is requested explicitly.
func (s *Store) Clear(syncID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		return b.Delete([]byte(syncID))
	})
}

// List returns every sync id with a persisted cursor, for the cursors CLI
// operator command.
func (s *Store) List() ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		return b.ForEach(func(k, v []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}
