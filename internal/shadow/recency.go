package shadow

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/basket/shadowbook/internal/normalize"
)

// PropagateRecency batch-refreshes last_message_at for every shadow row of
// the user from the interaction lookup table, in one statement. A row takes
// the maximum interaction timestamp across its normalized phone keys; rows
// with no matching lookup entry keep their current value (null stays null).
func (s *Store) PropagateRecency(ctx context.Context, userID string) error {
	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin recency tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if err := propagateRecencyTx(ctx, tx, userID); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func propagateRecencyTx(ctx context.Context, tx *sql.Tx, userID string) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE contacts SET last_message_at = COALESCE((
			SELECT MAX(i.last_message_at)
			FROM contact_phone_keys k
			JOIN interactions i ON i.user_id = k.user_id AND i.phone_key = k.phone_key
			WHERE k.user_id = contacts.user_id
			  AND k.source = contacts.source
			  AND k.external_id = contacts.external_id
		), last_message_at)
		WHERE user_id = ?;
	`, userID); err != nil {
		return fmt.Errorf("propagate recency: %w", err)
	}
	return nil
}

// ApplyInteraction incrementally bumps last_message_at on every shadow row
// containing the normalized phone key. The value only ever moves forward: a
// row is touched when its current value is null or older. Returns the number
// of rows touched.
func (s *Store) ApplyInteraction(ctx context.Context, userID, phoneKey string, at time.Time) (int, error) {
	if phoneKey == "" {
		// An empty key never matches anything.
		return 0, nil
	}
	ms := at.UnixMilli()
	var touched int64
	err := retryOnBusy(ctx, 5, func() error {
		result, err := s.db.ExecContext(ctx, `
			UPDATE contacts SET last_message_at = ?
			WHERE user_id = ?
			  AND (last_message_at IS NULL OR last_message_at < ?)
			  AND EXISTS (
				SELECT 1 FROM contact_phone_keys k
				WHERE k.user_id = contacts.user_id
				  AND k.source = contacts.source
				  AND k.external_id = contacts.external_id
				  AND k.phone_key = ?
			  );
		`, ms, userID, ms, phoneKey)
		if err != nil {
			return fmt.Errorf("apply interaction: %w", err)
		}
		touched, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("interaction rows affected: %w", err)
		}
		return nil
	})
	return int(touched), err
}

// UpsertInteraction records the maximum known interaction timestamp for a
// normalized phone key. The stored value is monotonically non-decreasing.
// This is the write half of the message-import collaborator boundary.
func (s *Store) UpsertInteraction(ctx context.Context, userID, phoneKey string, at time.Time) error {
	if phoneKey == "" {
		return fmt.Errorf("%w: empty phone key", ErrMalformedRecord)
	}
	return retryOnBusy(ctx, 5, func() error {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO interactions (user_id, phone_key, last_message_at)
			VALUES (?, ?, ?)
			ON CONFLICT(user_id, phone_key) DO UPDATE SET
				last_message_at = MAX(interactions.last_message_at, excluded.last_message_at);
		`, userID, phoneKey, at.UnixMilli()); err != nil {
			return fmt.Errorf("upsert interaction: %w", err)
		}
		return nil
	})
}

// RecordInteraction is the entry point the message-import collaborator calls
// after each new interaction: it normalizes the raw phone, records the lookup
// entry, and incrementally propagates recency to matching shadow rows.
func (s *Store) RecordInteraction(ctx context.Context, userID, rawPhone string, at time.Time) (int, error) {
	key := normalize.Phone(rawPhone)
	if key == "" {
		return 0, fmt.Errorf("%w: phone %q has no digits", ErrMalformedRecord, rawPhone)
	}
	if err := s.UpsertInteraction(ctx, userID, key, at); err != nil {
		return 0, err
	}
	return s.ApplyInteraction(ctx, userID, key, at)
}
