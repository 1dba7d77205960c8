package model

import "time"

// NotificationType enumerates the kinds of notifications the monitor
// can send for a watch.
type NotificationType string

const (
	// NotificationSeatAvailable fires when a section's available
	// seat count transitions from zero to a positive number.
	NotificationSeatAvailable NotificationType = "seat_available"
	// NotificationInstructorAssigned fires when a section that had
	// no concrete instructor gains one.
	NotificationInstructorAssigned NotificationType = "instructor_assigned"
)

// NotificationReceipt proves that a notification of a given type was
// already sent for a watch.  At most one unexpired receipt exists per
// (watch_id, notification_type); the repository enforces this with a
// single atomic conditional insert, never check-then-insert.  Once
// ExpiresAt passes the pair may be notified again.
type NotificationReceipt struct {
	WatchID   uint64           // notification_receipts.watch_id
	Type      NotificationType // notification_receipts.notification_type
	SentAt    time.Time        // notification_receipts.sent_at
	ExpiresAt time.Time        // notification_receipts.expires_at
}
