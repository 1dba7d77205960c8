package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Divkix/pickmyclass/internal/model"
)

// Stagger group names.  The monitored section set is split across
// alternating dispatch ticks by class number parity to halve per-tick
// load.
const (
	StaggerEven = "even"
	StaggerOdd  = "odd"
)

// ClassStateRepo provides data access to the class_states table.  One
// row exists per monitored section; writes are last-write-wins on the
// row, which makes redelivered jobs for the same section safe.  All
// timestamps are UTC.
type ClassStateRepo struct {
	db *sql.DB
}

// NewClassStateRepo returns a ClassStateRepo bound to the provided database.
func NewClassStateRepo(db *sql.DB) *ClassStateRepo { return &ClassStateRepo{db: db} }

// Get returns the stored state for a section, or ErrNotFound when the
// section has never been checked.
func (r *ClassStateRepo) Get(ctx context.Context, classNbr string) (*model.ClassState, error) {
	const q = `SELECT class_nbr, term, subject, catalog_nbr, title, instructor_name,
                      seats_available, seats_capacity, non_reserved_seats, location,
                      meeting_times, last_checked_at, last_changed_at
               FROM class_states WHERE class_nbr = ?`
	var st model.ClassState
	err := r.db.QueryRowContext(ctx, q, classNbr).Scan(
		&st.ClassNbr, &st.Term, &st.Subject, &st.CatalogNbr, &st.Title,
		&st.InstructorName, &st.SeatsAvailable, &st.SeatsCapacity,
		&st.NonReservedSeats, &st.Location, &st.MeetingTimes,
		&st.LastCheckedAt, &st.LastChangedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("class state get %s: %w", classNbr, err)
	}
	return &st, nil
}

// Upsert writes a section's state.  The row is replaced wholesale
// (last-write-wins); the caller has already decided LastCheckedAt and
// LastChangedAt.  Seats are clamped into [0, capacity] so the stored
// row always satisfies the availability invariant even when the
// upstream reports garbage.
func (r *ClassStateRepo) Upsert(ctx context.Context, st *model.ClassState) error {
	if st.SeatsCapacity < 0 {
		st.SeatsCapacity = 0
	}
	if st.SeatsAvailable < 0 {
		st.SeatsAvailable = 0
	}
	if st.SeatsAvailable > st.SeatsCapacity {
		st.SeatsAvailable = st.SeatsCapacity
	}
	const q = `INSERT INTO class_states
                 (class_nbr, term, subject, catalog_nbr, title, instructor_name,
                  seats_available, seats_capacity, non_reserved_seats, location,
                  meeting_times, last_checked_at, last_changed_at)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
               ON DUPLICATE KEY UPDATE
                 term = VALUES(term),
                 subject = VALUES(subject),
                 catalog_nbr = VALUES(catalog_nbr),
                 title = VALUES(title),
                 instructor_name = VALUES(instructor_name),
                 seats_available = VALUES(seats_available),
                 seats_capacity = VALUES(seats_capacity),
                 non_reserved_seats = VALUES(non_reserved_seats),
                 location = VALUES(location),
                 meeting_times = VALUES(meeting_times),
                 last_checked_at = VALUES(last_checked_at),
                 last_changed_at = VALUES(last_changed_at)`
	_, err := r.db.ExecContext(ctx, q,
		st.ClassNbr, st.Term, st.Subject, st.CatalogNbr, st.Title,
		st.InstructorName, st.SeatsAvailable, st.SeatsCapacity,
		st.NonReservedSeats, st.Location, st.MeetingTimes,
		st.LastCheckedAt.UTC(), st.LastChangedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("class state upsert %s: %w", st.ClassNbr, err)
	}
	return nil
}

// SectionsToCheck enumerates the distinct watched sections belonging
// to the given stagger group.  Group membership is class number
// parity: even class numbers on "even" ticks, odd on "odd".  Sections
// are taken from active watches, so a section stops being monitored
// as soon as its last watch is deleted.
func (r *ClassStateRepo) SectionsToCheck(ctx context.Context, group string) ([]model.SectionRef, error) {
	parity := 0
	if group == StaggerOdd {
		parity = 1
	}
	const q = `SELECT DISTINCT class_nbr, term FROM watches
               WHERE MOD(CAST(class_nbr AS UNSIGNED), 2) = ?
               ORDER BY class_nbr`
	rows, err := r.db.QueryContext(ctx, q, parity)
	if err != nil {
		return nil, fmt.Errorf("sections to check (%s): %w", group, err)
	}
	defer rows.Close()

	var refs []model.SectionRef
	for rows.Next() {
		var ref model.SectionRef
		if err := rows.Scan(&ref.ClassNbr, &ref.Term); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return refs, nil
}
