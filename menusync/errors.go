package menusync

import "errors"

var (
	// ErrTransientFetch covers network failures, timeouts and non-2xx upstream responses.
	// The facility-day is treated as empty and the run continues.
	ErrTransientFetch = errors.New("transient fetch error")
	// ErrParse marks a malformed upstream payload or nutrient entry.
	ErrParse = errors.New("parse error")
	// ErrPersistenceConflict marks one item's failed write; the item is skipped.
	ErrPersistenceConflict = errors.New("persistence conflict")
	// ErrConfiguration aborts a run before any fetch starts.
	ErrConfiguration = errors.New("configuration error")
	// ErrRunInProgress is returned when another run holds the sync lock.
	ErrRunInProgress = errors.New("sync already in progress")
)
