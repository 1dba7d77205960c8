package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Divkix/pickmyclass/internal/model"
)

// NotificationRepo manages notification_receipts, the durable dedup
// ledger.  The table's primary key is (watch_id, notification_type);
// combined with the conditional upsert in TryRecordNotification this
// guarantees at most one unexpired receipt per pair without any
// check-then-insert window.
type NotificationRepo struct {
	db *sql.DB
}

// NewNotificationRepo returns a NotificationRepo bound to the provided database.
func NewNotificationRepo(db *sql.DB) *NotificationRepo { return &NotificationRepo{db: db} }

// TryRecordNotification atomically claims the right to send one
// notification of the given type for a watch.  It returns true when
// the caller won the claim and must proceed to send; false when an
// unexpired receipt already exists and the caller must skip.
//
// The whole operation is a single statement: a fresh insert when no
// receipt exists, a takeover of the row when the existing receipt has
// expired, and a no-op otherwise.  Concurrent callers therefore race
// inside the storage engine, where exactly one wins.
func (r *NotificationRepo) TryRecordNotification(ctx context.Context, watchID uint64, typ model.NotificationType, ttlHours int) (bool, error) {
	const q = `INSERT INTO notification_receipts (watch_id, notification_type, sent_at, expires_at)
               VALUES (?, ?, UTC_TIMESTAMP(), DATE_ADD(UTC_TIMESTAMP(), INTERVAL ? HOUR))
               ON DUPLICATE KEY UPDATE
                 sent_at    = IF(expires_at <= UTC_TIMESTAMP(), VALUES(sent_at), sent_at),
                 expires_at = IF(expires_at <= UTC_TIMESTAMP(), VALUES(expires_at), expires_at)`
	res, err := r.db.ExecContext(ctx, q, watchID, string(typ), ttlHours)
	if err != nil {
		return false, fmt.Errorf("try record notification watch=%d type=%s: %w", watchID, typ, err)
	}
	// MySQL reports 1 affected row for a fresh insert and 2 for a row
	// rewritten by the ON DUPLICATE KEY branch (the expired-receipt
	// takeover).  0 means the row existed and nothing changed: an
	// unexpired receipt blocked us.
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("try record notification rows affected: %w", err)
	}
	return n > 0, nil
}

// ClearForSection deletes outstanding receipts of one type for every
// watcher of a section.  Called when seats drop back to zero so the
// next opening re-triggers notifications instead of waiting out the
// cool-down TTL.
func (r *NotificationRepo) ClearForSection(ctx context.Context, classNbr string, typ model.NotificationType) error {
	const q = `DELETE r FROM notification_receipts r
               JOIN watches w ON w.id = r.watch_id
               WHERE w.class_nbr = ? AND r.notification_type = ?`
	if _, err := r.db.ExecContext(ctx, q, classNbr, string(typ)); err != nil {
		return fmt.Errorf("clear receipts for section %s type %s: %w", classNbr, typ, err)
	}
	return nil
}

// Get returns the receipt for a (watch, type) pair, or ErrNotFound.
// Used by operator tooling; the hot path never reads receipts, it
// only races TryRecordNotification.
func (r *NotificationRepo) Get(ctx context.Context, watchID uint64, typ model.NotificationType) (*model.NotificationReceipt, error) {
	const q = `SELECT watch_id, notification_type, sent_at, expires_at
               FROM notification_receipts WHERE watch_id = ? AND notification_type = ?`
	var rec model.NotificationReceipt
	err := r.db.QueryRowContext(ctx, q, watchID, string(typ)).Scan(
		&rec.WatchID, &rec.Type, &rec.SentAt, &rec.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("receipt get watch=%d type=%s: %w", watchID, typ, err)
	}
	return &rec, nil
}
