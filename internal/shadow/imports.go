package shadow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/basket/shadowbook/internal/identity"
)

// ImportedContacts returns the user's explicitly imported contacts. These
// seed the resolver with the highest match priority; source syncs read them
// and never write them.
func (s *Store) ImportedContacts(ctx context.Context, userID string) ([]identity.Contact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, phones, emails, company
		FROM import_contacts
		WHERE user_id = ?
		ORDER BY created_at ASC, id ASC;
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query imported contacts: %w", err)
	}
	defer rows.Close()

	var out []identity.Contact
	for rows.Next() {
		var c identity.Contact
		var phones, emails string
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &phones, &emails, &c.Company); err != nil {
			return nil, fmt.Errorf("scan imported contact: %w", err)
		}
		if c.Phones, err = decodeList(phones); err != nil {
			return nil, err
		}
		if c.Emails, err = decodeList(emails); err != nil {
			return nil, err
		}
		c.Source = identity.SourceImport
		c.ExternalID = c.ID
		c.FromImport = true
		c.Origins = []identity.Origin{{Source: identity.SourceImport, ExternalID: c.ID}}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("imported contact rows: %w", err)
	}
	return out, nil
}

// UpsertImportedContact writes one import row by id. Only the explicit import
// flow calls this; sync passes never mutate the import table. Returns true
// when a new row was inserted.
func (s *Store) UpsertImportedContact(ctx context.Context, c identity.Contact) (bool, error) {
	if c.ID == "" || c.UserID == "" {
		return false, fmt.Errorf("%w: import contact needs id and user id", ErrMalformedRecord)
	}
	phones, err := encodeList(c.Phones)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	emails, err := encodeList(c.Emails)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	var inserted bool
	err = retryOnBusy(ctx, 5, func() error {
		var exists int
		probeErr := s.db.QueryRowContext(ctx, `
			SELECT 1 FROM import_contacts WHERE id = ?;
		`, c.ID).Scan(&exists)
		inserted = errors.Is(probeErr, sql.ErrNoRows)
		if probeErr != nil && !inserted {
			return fmt.Errorf("probe import row: %w", probeErr)
		}
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO import_contacts (id, user_id, name, phones, emails, company, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				phones = excluded.phones,
				emails = excluded.emails,
				company = excluded.company;
		`, c.ID, c.UserID, c.Name, phones, emails, c.Company, time.Now().UnixMilli()); err != nil {
			return fmt.Errorf("upsert import row: %w", err)
		}
		return nil
	})
	return inserted, err
}
