package shadow_test

import (
	"context"
	"testing"

	"github.com/basket/shadowbook/internal/identity"
	"github.com/basket/shadowbook/internal/shadow"
)

func seedQueryFixtures(t *testing.T, store *shadow.Store) {
	t.Helper()
	ctx := context.Background()
	if _, err := store.FullSync(ctx, "local", identity.SourceAddressBook, []identity.Contact{
		resolved("local", identity.SourceAddressBook, "ab-1", "Zoe", []string{"5551112222"}, nil),
		resolved("local", identity.SourceAddressBook, "ab-2", "adam", []string{"5553334444"}, nil),
		resolved("local", identity.SourceAddressBook, "ab-3", "Mia", []string{"5555556666"}, []string{"mia@acme.com"}),
	}); err != nil {
		t.Fatalf("seed sync: %v", err)
	}
	// Only Mia has a known interaction.
	if _, err := store.RecordInteraction(ctx, "local", "5555556666", testTime(t, "2026-02-01T08:00:00Z")); err != nil {
		t.Fatalf("record interaction: %v", err)
	}
}

func TestSortedContacts_RecencyFirstThenName(t *testing.T) {
	store, _ := openTestStore(t)
	seedQueryFixtures(t, store)

	contacts, err := store.SortedContacts(context.Background(), "local")
	if err != nil {
		t.Fatalf("sorted: %v", err)
	}
	var names []string
	for _, c := range contacts {
		names = append(names, c.Name)
	}
	// Mia has recency, so she leads. The null-recency rest sort by name,
	// case-insensitively.
	want := []string{"Mia", "adam", "Zoe"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v, want %v", names, want)
		}
	}
}

func TestSortedContacts_NewestInteractionOnTop(t *testing.T) {
	store, _ := openTestStore(t)
	seedQueryFixtures(t, store)
	ctx := context.Background()
	if _, err := store.RecordInteraction(ctx, "local", "5551112222", testTime(t, "2026-03-01T08:00:00Z")); err != nil {
		t.Fatalf("record: %v", err)
	}
	contacts, err := store.SortedContacts(ctx, "local")
	if err != nil {
		t.Fatalf("sorted: %v", err)
	}
	if contacts[0].Name != "Zoe" || contacts[1].Name != "Mia" {
		t.Fatalf("order = %s, %s; want Zoe, Mia", contacts[0].Name, contacts[1].Name)
	}
}

func TestSearchContacts_MatchesAcrossFields(t *testing.T) {
	store, _ := openTestStore(t)
	seedQueryFixtures(t, store)
	ctx := context.Background()

	cases := []struct {
		query string
		want  string
	}{
		{"zoe", "Zoe"},          // name, case-insensitive
		{"333", "adam"},         // phone substring
		{"MIA@ACME", "Mia"},     // email, case-insensitive
	}
	for _, tc := range cases {
		got, err := store.SearchContacts(ctx, "local", tc.query, 10)
		if err != nil {
			t.Fatalf("search %q: %v", tc.query, err)
		}
		if len(got) != 1 || got[0].Name != tc.want {
			t.Fatalf("search %q = %v, want single %q", tc.query, got, tc.want)
		}
	}
}

func TestSearchContacts_ScopedToUser(t *testing.T) {
	store, _ := openTestStore(t)
	seedQueryFixtures(t, store)
	ctx := context.Background()
	if _, err := store.FullSync(ctx, "other", identity.SourceAddressBook, []identity.Contact{
		resolved("other", identity.SourceAddressBook, "ab-9", "Zoe", []string{"5559990000"}, nil),
	}); err != nil {
		t.Fatalf("sync other user: %v", err)
	}
	got, err := store.SearchContacts(ctx, "local", "zoe", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].UserID != "local" {
		t.Fatalf("search leaked across users: %v", got)
	}
}

func TestSearchContacts_LimitClamped(t *testing.T) {
	store, _ := openTestStore(t)
	seedQueryFixtures(t, store)
	got, err := store.SearchContacts(context.Background(), "local", "", 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("limit ignored: got %d rows", len(got))
	}
}

func seedImport(t *testing.T, store *shadow.Store, id, name string, phones, emails []string) {
	t.Helper()
	if _, err := store.UpsertImportedContact(context.Background(), identity.Contact{
		ID:     id,
		UserID: "local",
		Name:   name,
		Phones: phones,
		Emails: emails,
	}); err != nil {
		t.Fatalf("seed import %s: %v", id, err)
	}
}

func TestSortedContacts_IncludesUnabsorbedImports(t *testing.T) {
	store, _ := openTestStore(t)
	seedQueryFixtures(t, store)
	seedImport(t, store, "imp-1", "Robin", []string{"5550009999"}, nil)

	contacts, err := store.SortedContacts(context.Background(), "local")
	if err != nil {
		t.Fatalf("sorted: %v", err)
	}
	// Robin was never touched by a sync but is served anyway, ordered by
	// name among the no-recency contacts.
	want := []string{"Mia", "adam", "Robin", "Zoe"}
	if len(contacts) != len(want) {
		t.Fatalf("got %d contacts, want %d", len(contacts), len(want))
	}
	for i := range want {
		if contacts[i].Name != want[i] {
			t.Fatalf("order = %v, want %v", contactNames(contacts), want)
		}
	}
	if !contacts[2].FromImport || contacts[2].Source != identity.SourceImport {
		t.Fatalf("import entry = %+v", contacts[2])
	}
}

func TestSortedContacts_AbsorbedImportNotDuplicated(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	seedImport(t, store, "imp-1", "Robin", []string{"5550009999"}, nil)

	// A backup sync merged the import: its shadow row carries the import
	// flag and the shared phone key.
	merged := resolved("local", identity.SourceBackup, "b-1", "Robin Sr.", []string{"5550009999"}, nil)
	merged.FromImport = true
	if _, err := store.FullSync(ctx, "local", identity.SourceBackup, []identity.Contact{merged}); err != nil {
		t.Fatalf("sync: %v", err)
	}

	contacts, err := store.SortedContacts(ctx, "local")
	if err != nil {
		t.Fatalf("sorted: %v", err)
	}
	if len(contacts) != 1 {
		t.Fatalf("absorbed import served twice: %v", contactNames(contacts))
	}
	if contacts[0].Source != identity.SourceBackup {
		t.Fatalf("served entry = %+v, want the synced row", contacts[0])
	}
}

func TestSearchContacts_FindsUnabsorbedImport(t *testing.T) {
	store, _ := openTestStore(t)
	seedQueryFixtures(t, store)
	seedImport(t, store, "imp-2", "Robin", nil, []string{"robin@corp.net"})

	got, err := store.SearchContacts(context.Background(), "local", "corp.net", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Robin" || !got[0].FromImport {
		t.Fatalf("search = %v", got)
	}
}

func contactNames(contacts []identity.Contact) []string {
	var names []string
	for _, c := range contacts {
		names = append(names, c.Name)
	}
	return names
}

func TestStats_PerSourceCounts(t *testing.T) {
	store, _ := openTestStore(t)
	seedQueryFixtures(t, store)
	ctx := context.Background()
	if _, err := store.FullSync(ctx, "local", identity.SourceMailbox, []identity.Contact{
		resolved("local", identity.SourceMailbox, "m-1", "Pat", nil, []string{"pat@acme.com"}),
	}); err != nil {
		t.Fatalf("mailbox sync: %v", err)
	}
	seedImport(t, store, "imp-9", "Robin", []string{"5550008888"}, nil)
	stats, err := store.Stats(ctx, "local")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	bySource := map[identity.Source]shadow.SourceStats{}
	for _, st := range stats {
		bySource[st.Source] = st
	}
	if bySource[identity.SourceAddressBook].Rows != 3 {
		t.Fatalf("address_book rows = %d, want 3", bySource[identity.SourceAddressBook].Rows)
	}
	if bySource[identity.SourceMailbox].Rows != 1 {
		t.Fatalf("mailbox rows = %d, want 1", bySource[identity.SourceMailbox].Rows)
	}
	if bySource[identity.SourceMailbox].LastSyncedAt.IsZero() {
		t.Fatal("mailbox LastSyncedAt is zero")
	}
	if bySource[identity.SourceImport].Rows != 1 {
		t.Fatalf("import rows = %d, want 1", bySource[identity.SourceImport].Rows)
	}
}
