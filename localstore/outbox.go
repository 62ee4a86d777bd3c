// Copyright 2025 Trailsense
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InsertNotification writes a backup-outbox entry with sent=false. The
// payload must already be a snapshot; the store does not copy it.
func (s *Store) InsertNotification(ctx context.Context, n *BackupNotification) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO backup_outbox (kind, payload, created_at, sent, sent_at, retry_count)
		VALUES (?, ?, ?, 0, NULL, ?)
	`, string(n.Kind), string(n.Payload), formatTime(n.CreatedAt), n.RetryCount)
	if err != nil {
		return 0, fmt.Errorf("failed to insert backup notification: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted id: %w", err)
	}
	n.ID = id
	return id, nil
}

// UnsentNotifications returns every entry with sent=false, in insertion
// order. The retry cap is the pump's concern, not the store's.
func (s *Store) UnsentNotifications(ctx context.Context) ([]*BackupNotification, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, payload, created_at, sent, sent_at, retry_count
		FROM backup_outbox WHERE sent = 0 ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsent notifications: %w", err)
	}
	defer rows.Close()

	var out []*BackupNotification
	for rows.Next() {
		var (
			n         BackupNotification
			kind      string
			payload   string
			createdAt string
			sentAt    sql.NullString
		)
		if err := rows.Scan(&n.ID, &kind, &payload, &createdAt, &n.Sent, &sentAt, &n.RetryCount); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.Kind = NotificationKind(kind)
		n.Payload = []byte(payload)
		if n.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("bad created_at %q: %w", createdAt, err)
		}
		if sentAt.Valid {
			t, err := time.Parse(time.RFC3339Nano, sentAt.String)
			if err != nil {
				return nil, fmt.Errorf("bad sent_at %q: %w", sentAt.String, err)
			}
			n.SentAt = &t
		}
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}
	return out, nil
}

// MarkNotificationSent flips sent to true and records the send time. The
// WHERE sent = 0 guard makes a duplicate mark a no-op, so a racing drain
// cannot produce a second send timestamp.
func (s *Store) MarkNotificationSent(ctx context.Context, id int64, at time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE backup_outbox SET sent = 1, sent_at = ? WHERE id = ? AND sent = 0
	`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("failed to mark notification %d sent: %w", id, err)
	}
	return nil
}

// BumpNotificationRetry increments the retry counter after a failed send.
func (s *Store) BumpNotificationRetry(ctx context.Context, id int64) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE backup_outbox SET retry_count = retry_count + 1 WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to bump retry for notification %d: %w", id, err)
	}
	return nil
}

// PruneSentNotifications deletes sent entries created before cutoff and
// returns how many were removed. Unsent entries are never pruned.
func (s *Store) PruneSentNotifications(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM backup_outbox WHERE sent = 1 AND created_at < ?
	`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to prune sent notifications: %w", err)
	}
	return res.RowsAffected()
}

// CountUnsent counts outbox entries still awaiting delivery.
func (s *Store) CountUnsent(ctx context.Context) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM backup_outbox WHERE sent = 0`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count unsent notifications: %w", err)
	}
	return n, nil
}
