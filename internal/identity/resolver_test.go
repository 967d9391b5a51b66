package identity

import (
	"io"
	"log/slog"
	"reflect"
	"testing"
)

func testResolver() *Resolver {
	return NewResolver(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func importedJane() Contact {
	return Contact{
		ID:         "imp-1",
		UserID:     "local",
		Name:       "Jane Smith",
		Phones:     []string{"555-123-4567"},
		Source:     SourceImport,
		ExternalID: "imp-1",
	}
}

func TestResolve_DedupConvergenceByPhoneFormat(t *testing.T) {
	r := testResolver()
	out := r.Resolve("local", []Contact{importedJane()}, []Batch{{
		Source: SourceAddressBook,
		Records: []RawContact{{
			Name:       "Jane S.",
			Phones:     []string{"(555) 123-4567"},
			Emails:     []string{"janes@other.com"},
			ExternalID: "ab-9",
		}},
	}})

	if len(out) != 1 {
		t.Fatalf("expected exactly one contact, got %d", len(out))
	}
	c := out[0]
	if !c.FromImport {
		t.Fatal("merged contact should carry FromImport")
	}
	if c.ID != "imp-1" {
		t.Fatalf("survivor identity = %q, want imp-1", c.ID)
	}
	// Union of both representations, import values first.
	wantPhones := []string{"555-123-4567", "(555) 123-4567"}
	if !reflect.DeepEqual(c.Phones, wantPhones) {
		t.Fatalf("phones = %v, want %v", c.Phones, wantPhones)
	}
	if !reflect.DeepEqual(c.Emails, []string{"janes@other.com"}) {
		t.Fatalf("emails = %v", c.Emails)
	}
	// The address-book record still contributes an origin for persistence.
	wantOrigins := []Origin{{SourceImport, "imp-1"}, {SourceAddressBook, "ab-9"}}
	if !reflect.DeepEqual(c.Origins, wantOrigins) {
		t.Fatalf("origins = %v, want %v", c.Origins, wantOrigins)
	}
}

func TestResolve_SharedKeyRetainsEachRepresentation(t *testing.T) {
	r := testResolver()
	out := r.Resolve("local", []Contact{importedJane()}, []Batch{{
		Source: SourceMailbox,
		Records: []RawContact{{
			Phones:     []string{"+15551234567", "555-123-4567"},
			ExternalID: "mb-1",
		}},
	}})
	if len(out) != 1 {
		t.Fatalf("expected 1 contact, got %d", len(out))
	}
	// +1 form and dashed form share a key but are distinct strings: both
	// survive, existing value first. The exact duplicate collapses.
	wantPhones := []string{"555-123-4567", "+15551234567"}
	if !reflect.DeepEqual(out[0].Phones, wantPhones) {
		t.Fatalf("phones = %v, want %v", out[0].Phones, wantPhones)
	}
}

func TestResolve_CaseInsensitiveEmailMatch(t *testing.T) {
	r := testResolver()
	imported := Contact{
		ID:         "imp-2",
		Name:       "John Doe",
		Emails:     []string{"John@Example.COM"},
		Source:     SourceImport,
		ExternalID: "imp-2",
	}
	out := r.Resolve("local", []Contact{imported}, []Batch{{
		Source: SourceMailbox,
		Records: []RawContact{{
			Name:       "John",
			Emails:     []string{"john@example.com"},
			ExternalID: "mb-7",
		}},
	}})
	if len(out) != 1 {
		t.Fatalf("expected 1 contact, got %d", len(out))
	}
	if out[0].ID != "imp-2" {
		t.Fatalf("survivor = %q", out[0].ID)
	}
	// Same normalized key, distinct casings: both retained, import first.
	wantEmails := []string{"John@Example.COM", "john@example.com"}
	if !reflect.DeepEqual(out[0].Emails, wantEmails) {
		t.Fatalf("emails = %v, want %v", out[0].Emails, wantEmails)
	}
}

func TestResolve_NameFallbackOnlyWhenBothSidesKeyless(t *testing.T) {
	r := testResolver()

	// Keyless import + keyless record with same lower-cased name: merge.
	keyless := Contact{ID: "imp-3", Name: "Ada Lovelace", Source: SourceImport, ExternalID: "imp-3"}
	out := r.Resolve("local", []Contact{keyless}, []Batch{{
		Source:  SourceAddressBook,
		Records: []RawContact{{Name: "ada lovelace", ExternalID: "ab-1"}},
	}})
	if len(out) != 1 {
		t.Fatalf("keyless same-name should merge, got %d contacts", len(out))
	}

	// Import has a phone key: name equality alone must NOT merge.
	keyed := Contact{ID: "imp-4", Name: "Ada Lovelace", Phones: []string{"5550001111"}, Source: SourceImport, ExternalID: "imp-4"}
	out = r.Resolve("local", []Contact{keyed}, []Batch{{
		Source:  SourceAddressBook,
		Records: []RawContact{{Name: "Ada Lovelace", ExternalID: "ab-2"}},
	}})
	if len(out) != 2 {
		t.Fatalf("name fallback fired despite phone key on one side, got %d contacts", len(out))
	}
}

func TestResolve_AmbiguousMatchPrefersPhone(t *testing.T) {
	r := testResolver()
	byPhone := Contact{ID: "imp-phone", Name: "A", Phones: []string{"5551112222"}, Source: SourceImport, ExternalID: "imp-phone"}
	byEmail := Contact{ID: "imp-email", Name: "B", Emails: []string{"b@example.com"}, Source: SourceImport, ExternalID: "imp-email"}

	out := r.Resolve("local", []Contact{byPhone, byEmail}, []Batch{{
		Source: SourceMailbox,
		Records: []RawContact{{
			Name:       "Bridge",
			Phones:     []string{"555-111-2222"},
			Emails:     []string{"B@example.com"},
			ExternalID: "mb-3",
		}},
	}})

	if len(out) != 2 {
		t.Fatalf("record dropped or duplicated: %d contacts", len(out))
	}
	var phoneEntry, emailEntry Contact
	for _, c := range out {
		switch c.ID {
		case "imp-phone":
			phoneEntry = c
		case "imp-email":
			emailEntry = c
		}
	}
	if len(phoneEntry.Origins) != 2 {
		t.Fatalf("phone-matched contact should absorb the record, origins = %v", phoneEntry.Origins)
	}
	if len(emailEntry.Origins) != 1 {
		t.Fatalf("email-matched contact must stay untouched, origins = %v", emailEntry.Origins)
	}
}

func TestResolve_PrecedenceOrdersBatches(t *testing.T) {
	r := testResolver()
	// Mailbox listed first, backup second; backup has higher priority so its
	// record becomes the surviving identity for the shared phone key.
	out := r.Resolve("local", nil, []Batch{
		{Source: SourceMailbox, Records: []RawContact{{Name: "MB Jane", Phones: []string{"5559876543"}, ExternalID: "mb-1"}}},
		{Source: SourceBackup, Records: []RawContact{{Name: "Backup Jane", Phones: []string{"(555) 987-6543"}, ExternalID: "bk-1"}}},
	})
	if len(out) != 1 {
		t.Fatalf("expected merge across sources, got %d contacts", len(out))
	}
	if out[0].Source != SourceBackup || out[0].Name != "Backup Jane" {
		t.Fatalf("backup should win identity, got source=%s name=%q", out[0].Source, out[0].Name)
	}
	if out[0].FromImport {
		t.Fatal("no import participated, FromImport must be false")
	}
}

func TestResolve_WithinBatchMerge(t *testing.T) {
	r := testResolver()
	out := r.Resolve("local", nil, []Batch{{
		Source: SourceAddressBook,
		Records: []RawContact{
			{Name: "Sam", Phones: []string{"5553334444"}, ExternalID: "ab-1"},
			{Name: "Sammy", Phones: []string{"555-333-4444"}, Emails: []string{"sam@example.com"}, ExternalID: "ab-2"},
		},
	}})
	if len(out) != 1 {
		t.Fatalf("same-batch duplicates should merge, got %d", len(out))
	}
	if len(out[0].Origins) != 2 {
		t.Fatalf("origins = %v", out[0].Origins)
	}
	if out[0].Name != "Sam" {
		t.Fatalf("first-seen record wins identity, name = %q", out[0].Name)
	}
}

func TestResolve_EmptyKeysNeverMatch(t *testing.T) {
	r := testResolver()
	out := r.Resolve("local", nil, []Batch{{
		Source: SourceMailbox,
		Records: []RawContact{
			{Name: "One", Phones: []string{"???"}, ExternalID: "mb-1"},
			{Name: "Two", Phones: []string{"---"}, ExternalID: "mb-2"},
		},
	}})
	if len(out) != 2 {
		t.Fatalf("empty normalized keys matched each other: %d contacts", len(out))
	}
}

func TestResolve_CustomPrecedenceIsStable(t *testing.T) {
	r := NewResolver([]Source{SourceMailbox, SourceAddressBook, SourceBackup, SourceImport}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	out := r.Resolve("local", nil, []Batch{
		{Source: SourceBackup, Records: []RawContact{{Name: "Backup", Phones: []string{"5550009999"}, ExternalID: "bk"}}},
		{Source: SourceMailbox, Records: []RawContact{{Name: "Mail", Phones: []string{"5550009999"}, ExternalID: "mb"}}},
	})
	if len(out) != 1 {
		t.Fatalf("expected merge, got %d", len(out))
	}
	if out[0].Source != SourceMailbox {
		t.Fatalf("custom precedence ignored, winner = %s", out[0].Source)
	}
}
