package storage

import "errors"

// State-violation and connectivity errors. Adapter and serialization failures
// are wrapped with operation context instead; use errors.Is to test for these
// sentinels.
var (
	// ErrNoActiveTransaction is returned when commit or rollback is invoked
	// on a transaction that is not active.
	ErrNoActiveTransaction = errors.New("storage: no active transaction")

	// ErrTransactionActive is returned when begin is invoked on a
	// transaction that is already active.
	ErrTransactionActive = errors.New("storage: transaction already active")

	// ErrNotConnected is returned when an adapter operation is attempted
	// before connect or after disconnect.
	ErrNotConnected = errors.New("storage: adapter not connected")
)
