package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrLockTimeout occurs when a ledger lock could not be acquired in time.
	ErrLockTimeout = errors.New("lock wait timed out")
	// ErrLockLost occurs when a held lock expired or was taken over.
	ErrLockLost = errors.New("lock lost before release")
)
