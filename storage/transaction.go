package storage

import "context"

// TxStatus is a transaction's lifecycle state. The state machine is one-way:
// pending is the only initial state, committed and rolledback are terminal.
type TxStatus string

const (
	TxPending    TxStatus = "pending"
	TxCommitted  TxStatus = "committed"
	TxRolledBack TxStatus = "rolledback"
)

// OpType classifies a recorded transaction intent.
type OpType string

const (
	OpRead   OpType = "read"
	OpWrite  OpType = "write"
	OpDelete OpType = "delete"
)

// Operation is a recorded intent on a transaction, kept in order for audit
// and replay. Correctness of rollback does not depend on this log.
type Operation struct {
	Type  OpType `json:"type"`
	Key   string `json:"key"`
	Value any    `json:"value,omitempty"`
}

// Transaction batches operations against a backend.
//
// A transaction is owned by the code that opened it until it reaches a
// terminal state, after which it is inert and every operation fails or
// no-ops. Transactions are never reused.
type Transaction[V any] interface {
	// ID returns the transaction's unique identifier.
	ID() string

	// Status returns the current lifecycle state.
	Status() TxStatus

	// Begin activates the transaction. Memory transactions are active from
	// creation and Begin is a no-op; persistent transactions require Begin
	// before any other operation, and a second Begin fails with
	// ErrTransactionActive.
	Begin(ctx context.Context) error

	// Get reads through the transaction, recording a read intent.
	Get(ctx context.Context, key string) (*Record[V], error)

	// Set writes through the transaction, recording a write intent.
	Set(ctx context.Context, key string, value V, opts ...SetOption) (*Record[V], error)

	// Delete deletes through the transaction, recording a delete intent.
	Delete(ctx context.Context, key string) (bool, error)

	// Commit makes the transaction's effects final and transitions to
	// committed. Fails with ErrNoActiveTransaction outside the pending
	// active state.
	Commit(ctx context.Context) error

	// Rollback undoes the transaction's effects and transitions to
	// rolledback. Calling Rollback on a terminal transaction is a no-op, so
	// cleanup paths may call it unconditionally.
	Rollback(ctx context.Context) error

	// Operations returns the ordered intents recorded so far.
	Operations() []Operation
}
