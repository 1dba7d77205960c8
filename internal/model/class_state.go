package model

import "time"

// ClassState is the last observed state of one monitored section.
// One row exists per class_nbr.  LastCheckedAt advances on every
// successful fetch; LastChangedAt advances only when a comparable
// field (seat availability, instructor) differs from the previous
// observation.
//
// Invariant: 0 <= SeatsAvailable <= SeatsCapacity.  The repository
// clamps out-of-range upstream values before persisting.
type ClassState struct {
	ClassNbr         string    `json:"class_nbr"`
	Term             string    `json:"term"`
	Subject          string    `json:"subject"`
	CatalogNbr       string    `json:"catalog_nbr"`
	Title            string    `json:"title"`
	InstructorName   string    `json:"instructor_name"`
	SeatsAvailable   int       `json:"seats_available"`
	SeatsCapacity    int       `json:"seats_capacity"`
	NonReservedSeats *int      `json:"non_reserved_seats,omitempty"`
	Location         *string   `json:"location,omitempty"`
	MeetingTimes     *string   `json:"meeting_times,omitempty"`
	LastCheckedAt    time.Time `json:"last_checked_at"`
	LastChangedAt    time.Time `json:"last_changed_at"`
}

// Comparable reports whether the fields that count as a "change" for
// LastChangedAt purposes are equal between the two states.
func (s *ClassState) Comparable(other *ClassState) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.SeatsAvailable == other.SeatsAvailable &&
		s.InstructorName == other.InstructorName
}
