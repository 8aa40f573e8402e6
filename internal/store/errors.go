package store

import "errors"

// Sentinel errors returned by the conditional operations in this package.
// Callers use errors.Is to distinguish them from unexpected database
// failures, which are wrapped and returned as-is.
var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned by ClaimRunnership when the current status or
	// heartbeat does not satisfy the conditional claim, and by Heartbeat
	// when the runner no longer owns the campaign.
	ErrConflict = errors.New("store: conflict")

	// ErrStaleCursor is returned by AdvanceCursor when fromIndex no longer
	// matches the persisted currentIndex.
	ErrStaleCursor = errors.New("store: stale cursor")

	// ErrInvalidState is returned by status-transition updates when the
	// campaign's current status does not allow the requested transition.
	ErrInvalidState = errors.New("store: invalid state")
)
