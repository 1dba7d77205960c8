package model

import "time"

// Watch represents a user's subscription to a single class section.
// Watches are created and deleted by the account-facing API; the
// monitoring core only ever reads them.  The subscriber's email is
// denormalized onto the row so the core never joins the users table.
//
// Fields:
//  ID         – primary key identifier.
//  UserID     – owner of the watch.
//  Email      – address notifications are delivered to.
//  Term       – academic term code (e.g. "2261").
//  Subject    – subject code (e.g. "CMSC").
//  CatalogNbr – catalog number within the subject (e.g. "132").
//  ClassNbr   – registrar's unique section number; joins to class_states.
//  CreatedAt  – when the watch was created.
type Watch struct {
	ID         uint64    // watches.id
	UserID     uint64    // watches.user_id
	Email      string    // watches.email
	Term       string    // watches.term
	Subject    string    // watches.subject
	CatalogNbr string    // watches.catalog_nbr
	ClassNbr   string    // watches.class_nbr
	CreatedAt  time.Time // watches.created_at
}

// Watcher is the projection of a watch used when fanning out
// notifications for a section: just enough to dedup and deliver.
type Watcher struct {
	WatchID  uint64
	UserID   uint64
	Email    string
	ClassNbr string
}

// SectionRef identifies one monitored section for enqueueing.
type SectionRef struct {
	ClassNbr string
	Term     string
}
