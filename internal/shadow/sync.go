package shadow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/basket/shadowbook/internal/identity"
	"github.com/google/uuid"
)

// SyncResult reports what one full sync pass did.
type SyncResult struct {
	Inserted int
	Updated  int
	Deleted  int
	Skipped  int
	Total    int
}

// FullSync applies one resolved batch for a single source, inside one
// transaction:
//
//  1. record the sync epoch;
//  2. upsert every resolved contact that carries an origin owned by the
//     source, stamping synced_at with the epoch — a malformed record is
//     skipped and logged, never aborting the pass;
//  3. delete rows of THIS source (and only this source) the pass did not
//     refresh — gated behind at least one successful upsert unless the
//     source legitimately returned zero records;
//  4. re-propagate recency for the user.
//
// Rows of other sources are never touched, even when they represent the same
// person; cross-source dedup is the resolver's job, not the store's.
func (s *Store) FullSync(ctx context.Context, userID string, source identity.Source, resolved []identity.Contact) (SyncResult, error) {
	if source == identity.SourceImport || !source.Valid() {
		return SyncResult{}, fmt.Errorf("source %q does not own shadow rows", source)
	}
	if userID == "" {
		return SyncResult{}, fmt.Errorf("user id is required")
	}

	epoch := time.Now().UnixMilli()
	var res SyncResult
	err := retryOnBusy(ctx, 5, func() error {
		res = SyncResult{}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin sync tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		attempted, failed := 0, 0
		for i := range resolved {
			c := &resolved[i]
			for _, origin := range c.Origins {
				if origin.Source != source {
					continue
				}
				attempted++
				inserted, err := s.upsertContactTx(ctx, tx, userID, source, origin.ExternalID, c, epoch)
				if err != nil {
					if ctx.Err() != nil {
						return err
					}
					if !errors.Is(err, ErrMalformedRecord) {
						return err
					}
					failed++
					res.Skipped++
					s.logger.Warn("skipping malformed contact record",
						"user_id", userID,
						"source", string(source),
						"external_id", origin.ExternalID,
						"error", err.Error())
					continue
				}
				if inserted {
					res.Inserted++
				} else {
					res.Updated++
				}
			}
		}
		// A pass where every record failed never reaches the deletion step:
		// deleting against an epoch no upsert confirmed would wipe the source.
		if attempted > 0 && failed == attempted {
			return fmt.Errorf("upsert pass failed for all %d records of %s: %w", attempted, source, ErrMalformedRecord)
		}

		deleted, err := s.deleteStaleTx(ctx, tx, userID, source, epoch)
		if err != nil {
			return err
		}
		res.Deleted = deleted

		if err := propagateRecencyTx(ctx, tx, userID); err != nil {
			return err
		}

		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM contacts WHERE user_id = ? AND source = ?;
		`, userID, string(source)).Scan(&res.Total); err != nil {
			return fmt.Errorf("count source rows: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit sync tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return SyncResult{}, err
	}
	return res, nil
}

// upsertContactTx writes one shadow row. On conflict with the (user, source,
// externalId) key the row keeps its opaque id and last_message_at; name,
// phones, emails, company, and synced_at are overwritten. The row's
// normalized phone keys are refreshed in the same transaction.
func (s *Store) upsertContactTx(ctx context.Context, tx *sql.Tx, userID string, source identity.Source, externalID string, c *identity.Contact, epoch int64) (bool, error) {
	if externalID == "" {
		return false, fmt.Errorf("%w: empty external id", ErrMalformedRecord)
	}
	phones, err := encodeList(c.Phones)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	emails, err := encodeList(c.Emails)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	var exists int
	err = tx.QueryRowContext(ctx, `
		SELECT 1 FROM contacts WHERE user_id = ? AND source = ? AND external_id = ?;
	`, userID, string(source), externalID).Scan(&exists)
	inserted := errors.Is(err, sql.ErrNoRows)
	if err != nil && !inserted {
		return false, fmt.Errorf("probe contact row: %w", err)
	}

	fromImport := 0
	if c.FromImport {
		fromImport = 1
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO contacts (id, user_id, source, external_id, name, phones, emails, company, from_import, last_message_at, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?)
		ON CONFLICT(user_id, source, external_id) DO UPDATE SET
			name = excluded.name,
			phones = excluded.phones,
			emails = excluded.emails,
			company = excluded.company,
			from_import = excluded.from_import,
			synced_at = excluded.synced_at;
	`, uuid.NewString(), userID, string(source), externalID, c.Name, phones, emails, c.Company, fromImport, epoch); err != nil {
		return false, fmt.Errorf("upsert contact row: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM contact_phone_keys WHERE user_id = ? AND source = ? AND external_id = ?;
	`, userID, string(source), externalID); err != nil {
		return false, fmt.Errorf("clear phone keys: %w", err)
	}
	for _, key := range c.PhoneKeys() {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO contact_phone_keys (user_id, source, external_id, phone_key)
			VALUES (?, ?, ?, ?);
		`, userID, string(source), externalID, key); err != nil {
			return false, fmt.Errorf("insert phone key: %w", err)
		}
	}
	return inserted, nil
}

// deleteStaleTx removes rows of this source the pass did not refresh —
// contacts removed from the source since the last sync. Scoping by source is
// a correctness invariant: synced_at is a shared column and rows of other
// sources must survive untouched.
func (s *Store) deleteStaleTx(ctx context.Context, tx *sql.Tx, userID string, source identity.Source, epoch int64) (int, error) {
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM contact_phone_keys
		WHERE user_id = ? AND source = ? AND external_id IN (
			SELECT external_id FROM contacts
			WHERE user_id = ? AND source = ? AND synced_at < ?
		);
	`, userID, string(source), userID, string(source), epoch); err != nil {
		return 0, fmt.Errorf("delete stale phone keys: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		DELETE FROM contacts WHERE user_id = ? AND source = ? AND synced_at < ?;
	`, userID, string(source), epoch)
	if err != nil {
		return 0, fmt.Errorf("delete stale contacts: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale rows affected: %w", err)
	}
	return int(affected), nil
}
