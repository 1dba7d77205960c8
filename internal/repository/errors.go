// Package repository defines error types that are reused across the
// repositories backing the monitor's store of record.  These sentinel
// values allow the scheduler and worker layers to distinguish between
// failure scenarios without string matching.
package repository

import "errors"

// ErrNotFound is returned when a requested row does not exist, for
// example a class state that has never been observed.  Callers that
// treat "never seen" as a normal first-sighting case should check
// for this value explicitly.
var ErrNotFound = errors.New("not found")
