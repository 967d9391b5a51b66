package shadow

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/basket/shadowbook/internal/identity"
)

const contactColumns = `id, user_id, source, external_id, name, phones, emails, company, from_import, last_message_at, synced_at`

// SortedContacts returns the user's served contact view ordered by recency:
// contacts with a known last interaction first (newest on top), the rest by
// name. Imported contacts not yet absorbed by any synced row are included, so
// an import is visible before the next sync runs.
func (s *Store) SortedContacts(ctx context.Context, userID string) ([]identity.Contact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+contactColumns+`
		FROM contacts
		WHERE user_id = ?
		ORDER BY (last_message_at IS NULL) ASC, last_message_at DESC, name COLLATE NOCASE ASC;
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query sorted contacts: %w", err)
	}
	contacts, err := collectContacts(rows)
	if err != nil {
		return nil, err
	}
	extra, err := s.unabsorbedImports(ctx, userID, "")
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return contacts, nil
	}
	contacts = append(contacts, extra...)
	sortContactView(contacts)
	return contacts, nil
}

// SearchContacts matches case-insensitively on name, phone, email, or company
// substrings, across synced rows and unabsorbed imports alike.
func (s *Store) SearchContacts(ctx context.Context, userID, query string, limit int) ([]identity.Contact, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	like := "%" + needle + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+contactColumns+`
		FROM contacts
		WHERE user_id = ?
		  AND (lower(name) LIKE ? OR lower(company) LIKE ? OR lower(phones) LIKE ? OR lower(emails) LIKE ?)
		ORDER BY (last_message_at IS NULL) ASC, last_message_at DESC, name COLLATE NOCASE ASC
		LIMIT ?;
	`, userID, like, like, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("query search contacts: %w", err)
	}
	contacts, err := collectContacts(rows)
	if err != nil {
		return nil, err
	}
	extra, err := s.unabsorbedImports(ctx, userID, needle)
	if err != nil {
		return nil, err
	}
	if len(extra) > 0 {
		contacts = append(contacts, extra...)
		sortContactView(contacts)
	}
	if len(contacts) > limit {
		contacts = contacts[:limit]
	}
	return contacts, nil
}

// unabsorbedImports returns imported contacts no synced shadow row represents
// yet, using the resolver's matching rules: a phone or email key shared with
// an import-flagged row means absorbed, and a keyless import is absorbed by a
// keyless import-flagged row with the same lower-cased name. A non-empty
// needle additionally filters by substring the way SearchContacts does.
func (s *Store) unabsorbedImports(ctx context.Context, userID, needle string) ([]identity.Contact, error) {
	imports, err := s.ImportedContacts(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(imports) == 0 {
		return nil, nil
	}

	phoneKeys, emailKeys, names, err := s.importBackedKeys(ctx, userID)
	if err != nil {
		return nil, err
	}

	var out []identity.Contact
	for _, c := range imports {
		if importAbsorbed(c, phoneKeys, emailKeys, names) {
			continue
		}
		if needle != "" && !contactMatches(c, needle) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// importBackedKeys collects the identity keys of all shadow rows that carry
// merged import data for the user. The names set only holds keyless rows;
// name matching never fires against a row that has a phone or email key.
func (s *Store) importBackedKeys(ctx context.Context, userID string) (phoneKeys, emailKeys, names map[string]struct{}, err error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, phones, emails
		FROM contacts
		WHERE user_id = ? AND from_import = 1;
	`, userID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("query import-backed rows: %w", err)
	}
	defer rows.Close()

	phoneKeys = make(map[string]struct{})
	emailKeys = make(map[string]struct{})
	names = make(map[string]struct{})
	for rows.Next() {
		var c identity.Contact
		var phones, emails string
		if err := rows.Scan(&c.Name, &phones, &emails); err != nil {
			return nil, nil, nil, fmt.Errorf("scan import-backed row: %w", err)
		}
		if c.Phones, err = decodeList(phones); err != nil {
			return nil, nil, nil, err
		}
		if c.Emails, err = decodeList(emails); err != nil {
			return nil, nil, nil, err
		}
		pk, ek := c.PhoneKeys(), c.EmailKeys()
		for _, key := range pk {
			phoneKeys[key] = struct{}{}
		}
		for _, key := range ek {
			emailKeys[key] = struct{}{}
		}
		if len(pk) == 0 && len(ek) == 0 {
			if name := strings.ToLower(strings.TrimSpace(c.Name)); name != "" {
				names[name] = struct{}{}
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("import-backed rows: %w", err)
	}
	return phoneKeys, emailKeys, names, nil
}

func importAbsorbed(c identity.Contact, phoneKeys, emailKeys, names map[string]struct{}) bool {
	pk, ek := c.PhoneKeys(), c.EmailKeys()
	for _, key := range pk {
		if _, ok := phoneKeys[key]; ok {
			return true
		}
	}
	for _, key := range ek {
		if _, ok := emailKeys[key]; ok {
			return true
		}
	}
	if len(pk) == 0 && len(ek) == 0 {
		if name := strings.ToLower(strings.TrimSpace(c.Name)); name != "" {
			if _, ok := names[name]; ok {
				return true
			}
		}
	}
	return false
}

func contactMatches(c identity.Contact, needle string) bool {
	if strings.Contains(strings.ToLower(c.Name), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(c.Company), needle) {
		return true
	}
	for _, p := range c.Phones {
		if strings.Contains(strings.ToLower(p), needle) {
			return true
		}
	}
	for _, e := range c.Emails {
		if strings.Contains(strings.ToLower(e), needle) {
			return true
		}
	}
	return false
}

// sortContactView applies the serving order in memory: known interactions
// first, newest on top, the rest by case-insensitive name.
func sortContactView(contacts []identity.Contact) {
	sort.SliceStable(contacts, func(i, j int) bool {
		a, b := contacts[i], contacts[j]
		switch {
		case a.LastMessageAt != nil && b.LastMessageAt != nil:
			if !a.LastMessageAt.Equal(*b.LastMessageAt) {
				return a.LastMessageAt.After(*b.LastMessageAt)
			}
		case a.LastMessageAt != nil:
			return true
		case b.LastMessageAt != nil:
			return false
		}
		return strings.ToLower(a.Name) < strings.ToLower(b.Name)
	})
}

// SourceStats summarizes one source's rows for a user.
type SourceStats struct {
	Source       identity.Source
	Rows         int
	LastSyncedAt time.Time
}

// Stats reports per-source row counts and the newest synced_at for the user.
// Imported contacts count under their own source, dated by the newest import.
func (s *Store) Stats(ctx context.Context, userID string) ([]SourceStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source, COUNT(*), MAX(synced_at)
		FROM contacts
		WHERE user_id = ?
		GROUP BY source
		UNION ALL
		SELECT 'import', COUNT(*), COALESCE(MAX(created_at), 0)
		FROM import_contacts
		WHERE user_id = ?
		ORDER BY 1;
	`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	var out []SourceStats
	for rows.Next() {
		var stat SourceStats
		var src string
		var syncedAt int64
		if err := rows.Scan(&src, &stat.Rows, &syncedAt); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		if stat.Rows == 0 {
			continue
		}
		stat.Source = identity.Source(src)
		stat.LastSyncedAt = millisToTime(syncedAt)
		out = append(out, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stats rows: %w", err)
	}
	return out, nil
}

func collectContacts(rows *sql.Rows) ([]identity.Contact, error) {
	defer rows.Close()
	var out []identity.Contact
	for rows.Next() {
		c, err := scanContact(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("contact rows: %w", err)
	}
	return out, nil
}

// scanContact converts one raw row into a typed contact at the store
// boundary; untyped rows never reach resolver logic.
func scanContact(scanFn func(dest ...any) error) (identity.Contact, error) {
	var (
		c             identity.Contact
		src           string
		phones        string
		emails        string
		fromImport    int
		lastMessageAt sql.NullInt64
		syncedAt      int64
	)
	if err := scanFn(
		&c.ID,
		&c.UserID,
		&src,
		&c.ExternalID,
		&c.Name,
		&phones,
		&emails,
		&c.Company,
		&fromImport,
		&lastMessageAt,
		&syncedAt,
	); err != nil {
		return identity.Contact{}, fmt.Errorf("scan contact: %w", err)
	}
	c.Source = identity.Source(src)
	c.FromImport = fromImport != 0
	var err error
	if c.Phones, err = decodeList(phones); err != nil {
		return identity.Contact{}, err
	}
	if c.Emails, err = decodeList(emails); err != nil {
		return identity.Contact{}, err
	}
	if lastMessageAt.Valid {
		t := millisToTime(lastMessageAt.Int64)
		c.LastMessageAt = &t
	}
	c.SyncedAt = millisToTime(syncedAt)
	c.Origins = []identity.Origin{{Source: c.Source, ExternalID: c.ExternalID}}
	return c, nil
}
