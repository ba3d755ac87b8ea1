package journal

import (
	"path/filepath"
	"testing"
	"time"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func TestRecordAndRecent(t *testing.T) {
	store := openStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entries := []Entry{
		{StartedAt: base, Action: "configure", Changed: true, Message: "Configuration written to /etc/openvpn/server.conf"},
		{StartedAt: base.Add(time.Minute), Action: "configure", Changed: false, Message: "No changes"},
		{StartedAt: base.Add(2 * time.Minute), Action: "status", Status: "inactive (dead)"},
	}
	for _, entry := range entries {
		if err := store.Record(entry); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	recent, err := store.Recent(10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(recent))
	}
	if recent[0].Action != "status" || recent[2].Action != "configure" {
		t.Fatalf("expected newest-first order: %+v", recent)
	}
	if !recent[2].Changed || recent[1].Changed {
		t.Fatalf("changed flags lost: %+v", recent)
	}
	if recent[0].Status != "inactive (dead)" {
		t.Fatalf("status lost: %+v", recent[0])
	}
}

func TestRecentLimit(t *testing.T) {
	store := openStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		entry := Entry{StartedAt: base.Add(time.Duration(i) * time.Second), Action: "configure"}
		if err := store.Record(entry); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}
	recent, err := store.Recent(2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(recent))
	}
}

func TestCleanupPrunesOldEntries(t *testing.T) {
	store := openStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	old := Entry{StartedAt: now.Add(-40 * 24 * time.Hour), Action: "install"}
	fresh := Entry{StartedAt: now.Add(-time.Hour), Action: "configure"}
	if err := store.Record(old); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := store.Record(fresh); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	if err := store.cleanupBefore(now, 30*24*time.Hour); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	recent, err := store.Recent(10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 1 || recent[0].Action != "configure" {
		t.Fatalf("expected only the fresh entry: %+v", recent)
	}
}

func TestOpenCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()
	if err := NewStore(db).Record(Entry{Action: "status"}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
}
