package checkpoint

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cursors.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoadMissingCursorSignalsFullSync(t *testing.T) {
	s := openTestStore(t)

	cursor, found, err := s.Load("sync-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatalf("expected no cursor for a sync never run before")
	}
	if cursor != nil {
		t.Fatalf("expected nil cursor, got %v", cursor)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	s := openTestStore(t)

	if err := s.Save("sync-1", "job-1", []byte("opaque-cursor-blob")); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	cursor, found, err := s.Load("sync-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found {
		t.Fatalf("expected a persisted cursor")
	}
	if string(cursor) != "opaque-cursor-blob" {
		t.Fatalf("got %q", cursor)
	}
}

func TestClearForcesFullSync(t *testing.T) {
	s := openTestStore(t)
	s.Save("sync-1", "job-1", []byte("cursor"))

	if err := s.Clear("sync-1"); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	_, found, err := s.Load("sync-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatalf("expected cursor to be gone after Clear")
	}
}

func TestListReturnsAllPersistedSyncIDs(t *testing.T) {
	s := openTestStore(t)
	s.Save("sync-1", "job-1", []byte("a"))
	s.Save("sync-2", "job-2", []byte("b"))

	ids, err := s.List()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %d: %v", len(ids), ids)
	}
}
