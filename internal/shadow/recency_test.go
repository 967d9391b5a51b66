package shadow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/basket/shadowbook/internal/identity"
	"github.com/basket/shadowbook/internal/shadow"
)

func testTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse time %q: %v", s, err)
	}
	return ts
}

func seedJane(t *testing.T, store *shadow.Store) {
	t.Helper()
	_, err := store.FullSync(context.Background(), "local", identity.SourceAddressBook, []identity.Contact{
		resolved("local", identity.SourceAddressBook, "ab-1", "Jane", []string{"+1 (555) 123-4567"}, nil),
	})
	if err != nil {
		t.Fatalf("seed sync: %v", err)
	}
}

func janeRecency(t *testing.T, store *shadow.Store) *time.Time {
	t.Helper()
	contacts, err := store.SortedContacts(context.Background(), "local")
	if err != nil {
		t.Fatalf("sorted: %v", err)
	}
	if len(contacts) != 1 {
		t.Fatalf("contacts = %d, want 1", len(contacts))
	}
	return contacts[0].LastMessageAt
}

func TestRecordInteraction_SetsRecencyThroughNormalizedKey(t *testing.T) {
	store, _ := openTestStore(t)
	seedJane(t, store)

	at := testTime(t, "2026-02-10T12:00:00Z")
	// Different formatting than the stored phone; same normalized key.
	touched, err := store.RecordInteraction(context.Background(), "local", "555-123-4567", at)
	if err != nil {
		t.Fatalf("record interaction: %v", err)
	}
	if touched != 1 {
		t.Fatalf("touched = %d, want 1", touched)
	}
	got := janeRecency(t, store)
	if got == nil || !got.Equal(at) {
		t.Fatalf("last_message_at = %v, want %v", got, at)
	}
}

func TestApplyInteraction_MonotonicNonDecreasing(t *testing.T) {
	store, _ := openTestStore(t)
	seedJane(t, store)
	ctx := context.Background()

	newer := testTime(t, "2026-02-10T12:00:00Z")
	older := testTime(t, "2026-01-01T00:00:00Z")
	newest := testTime(t, "2026-03-01T00:00:00Z")

	if _, err := store.RecordInteraction(ctx, "local", "5551234567", newer); err != nil {
		t.Fatalf("record: %v", err)
	}

	// Older timestamp must not decrease the value.
	touched, err := store.ApplyInteraction(ctx, "local", "5551234567", older)
	if err != nil {
		t.Fatalf("apply older: %v", err)
	}
	if touched != 0 {
		t.Fatalf("older timestamp touched %d rows", touched)
	}
	if got := janeRecency(t, store); got == nil || !got.Equal(newer) {
		t.Fatalf("recency regressed to %v", got)
	}

	// Newer timestamp advances it.
	if touched, err = store.ApplyInteraction(ctx, "local", "5551234567", newest); err != nil || touched != 1 {
		t.Fatalf("apply newest: touched=%d err=%v", touched, err)
	}
	if got := janeRecency(t, store); got == nil || !got.Equal(newest) {
		t.Fatalf("recency = %v, want %v", got, newest)
	}
}

func TestApplyInteraction_EmptyKeyNeverMatches(t *testing.T) {
	store, _ := openTestStore(t)
	seedJane(t, store)
	touched, err := store.ApplyInteraction(context.Background(), "local", "", time.Now())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if touched != 0 {
		t.Fatalf("empty key touched %d rows", touched)
	}
}

func TestPropagateRecency_BatchAfterSync(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	// Interaction known before the contact is synced.
	at := testTime(t, "2026-02-05T09:30:00Z")
	if err := store.UpsertInteraction(ctx, "local", "5551234567", at); err != nil {
		t.Fatalf("upsert interaction: %v", err)
	}

	// FullSync step 4 runs the batch propagator, picking it up.
	seedJane(t, store)
	if got := janeRecency(t, store); got == nil || !got.Equal(at) {
		t.Fatalf("batch propagation missed: %v, want %v", got, at)
	}
}

func TestPropagateRecency_RowsWithoutLookupStayNull(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	if _, err := store.FullSync(ctx, "local", identity.SourceMailbox, []identity.Contact{
		resolved("local", identity.SourceMailbox, "m-1", "Quiet", []string{"5550001111"}, nil),
	}); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if err := store.PropagateRecency(ctx, "local"); err != nil {
		t.Fatalf("propagate: %v", err)
	}
	contacts, _ := store.SortedContacts(ctx, "local")
	if contacts[0].LastMessageAt != nil {
		t.Fatalf("row with no lookup entry got recency %v", contacts[0].LastMessageAt)
	}
}

func TestUpsertInteraction_MonotonicLookupValue(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	newer := testTime(t, "2026-02-10T12:00:00Z")
	older := testTime(t, "2026-01-01T00:00:00Z")
	if err := store.UpsertInteraction(ctx, "local", "5559999999", newer); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.UpsertInteraction(ctx, "local", "5559999999", older); err != nil {
		t.Fatalf("upsert older: %v", err)
	}

	var ms int64
	if err := store.DB().QueryRow(`SELECT last_message_at FROM interactions WHERE user_id='local' AND phone_key='5559999999';`).Scan(&ms); err != nil {
		t.Fatalf("read lookup: %v", err)
	}
	if ms != newer.UnixMilli() {
		t.Fatalf("lookup value regressed: %d, want %d", ms, newer.UnixMilli())
	}
}

func TestRecordInteraction_RejectsDigitlessPhone(t *testing.T) {
	store, _ := openTestStore(t)
	_, err := store.RecordInteraction(context.Background(), "local", "no digits here", time.Now())
	if !errors.Is(err, shadow.ErrMalformedRecord) {
		t.Fatalf("err = %v, want ErrMalformedRecord", err)
	}
}
