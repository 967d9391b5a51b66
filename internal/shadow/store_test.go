package shadow_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/basket/shadowbook/internal/identity"
	"github.com/basket/shadowbook/internal/shadow"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T) (*shadow.Store, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "shadowbook.db")
	store, err := shadow.Open(dbPath, "", discardLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store, dbPath
}

func resolved(user string, src identity.Source, ext, name string, phones, emails []string) identity.Contact {
	return identity.Contact{
		UserID:     user,
		Name:       name,
		Phones:     phones,
		Emails:     emails,
		ExternalID: ext,
		Source:     src,
		Origins:    []identity.Origin{{Source: src, ExternalID: ext}},
	}
}

func TestStore_OpenConfiguresWALAndSchema(t *testing.T) {
	store, _ := openTestStore(t)
	db := store.DB()

	var journal string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journal); err != nil {
		t.Fatalf("pragma journal_mode: %v", err)
	}
	if journal != "wal" {
		t.Fatalf("expected journal_mode=wal, got %q", journal)
	}

	var busyTimeout int
	if err := db.QueryRow("PRAGMA busy_timeout;").Scan(&busyTimeout); err != nil {
		t.Fatalf("pragma busy_timeout: %v", err)
	}
	if busyTimeout != 5000 {
		t.Fatalf("expected busy_timeout=5000, got %d", busyTimeout)
	}

	requiredTables := []string{"schema_migrations", "contacts", "contact_phone_keys", "import_contacts", "interactions"}
	for _, table := range requiredTables {
		var got string
		if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table).Scan(&got); err != nil {
			t.Fatalf("table %s not found: %v", table, err)
		}
	}
}

func TestStore_ReopenVerifiesChecksum(t *testing.T) {
	store, dbPath := openTestStore(t)
	if _, err := store.FullSync(context.Background(), "local", identity.SourceMailbox, []identity.Contact{
		resolved("local", identity.SourceMailbox, "m1", "A", nil, []string{"a@example.com"}),
	}); err != nil {
		t.Fatalf("full sync: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	again, err := shadow.Open(dbPath, "", discardLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer again.Close()

	contacts, err := again.SortedContacts(context.Background(), "local")
	if err != nil {
		t.Fatalf("sorted contacts: %v", err)
	}
	if len(contacts) != 1 {
		t.Fatalf("rows after reopen = %d, want 1", len(contacts))
	}
}

func TestStore_OpenRejectsInvalidSourceRows(t *testing.T) {
	store, _ := openTestStore(t)
	_, err := store.FullSync(context.Background(), "local", identity.SourceImport, nil)
	if err == nil {
		t.Fatal("expected error syncing the import pseudo-source")
	}
	_, err = store.FullSync(context.Background(), "local", identity.Source("bogus"), nil)
	if err == nil {
		t.Fatal("expected error for unknown source")
	}
}
