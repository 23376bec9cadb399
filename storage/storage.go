// Package storage provides a backend-agnostic key-value storage core.
//
// The Backend interface is the unified contract. Memory is the in-process
// implementation with TTL-based lazy expiry and snapshot transactions;
// Persistent delegates durability to an external-engine Adapter (SQLite by
// default, via modernc.org/sqlite).
//
// Every operation updates latency and success/error instrumentation, and
// state-changing operations emit lifecycle events to per-backend subscribers.
package storage

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/unifiedcore/storagekit/observability"
)

// Backend is the unified storage contract shared by all implementations.
// A Backend instance exclusively owns its record set; collaborators interact
// only through these entry points.
type Backend[V any] interface {
	// Get retrieves a record by key. Returns nil if absent or expired.
	Get(ctx context.Context, key string) (*Record[V], error)

	// Set stores a value under key, replacing any existing record wholesale.
	// Metadata is recomputed on every write. Returns the stored record.
	Set(ctx context.Context, key string, value V, opts ...SetOption) (*Record[V], error)

	// Delete removes a record by key. Reports whether a record was removed.
	Delete(ctx context.Context, key string) (bool, error)

	// Has reports whether a live (non-expired) record exists under key.
	Has(ctx context.Context, key string) (bool, error)

	// Keys returns all stored keys, including expired-but-unread entries.
	Keys(ctx context.Context) ([]string, error)

	// Query filters, sorts, and paginates records.
	Query(ctx context.Context, opts QueryOptions[V]) (*QueryResult[V], error)

	// Begin creates a new transaction in the pending state.
	Begin(ctx context.Context) (Transaction[V], error)

	// Clear removes all records.
	Clear(ctx context.Context) error

	// Subscribe registers a lifecycle event handler. The returned function
	// removes the subscription.
	Subscribe(h EventHandler) (unsubscribe func())

	// Stats returns a snapshot of the backend's instrumentation counters
	// and latency summary.
	Stats() Stats

	// Close releases backend resources.
	Close() error
}

// EventType identifies a lifecycle event emitted by a backend.
type EventType string

const (
	EventRecordCreated      EventType = "record:created"
	EventRecordDeleted      EventType = "record:deleted"
	EventTransactionCreated EventType = "transaction:created"
	EventStorageCleared     EventType = "storage:cleared"
)

// Event is a lifecycle notification. Key holds the record key, or the
// transaction ID for transaction:created; it is empty for storage:cleared.
type Event struct {
	Type      EventType `json:"type"`
	Key       string    `json:"key,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventHandler receives lifecycle events. Handlers are invoked synchronously
// on the emitting operation's goroutine and must not block.
type EventHandler func(Event)

// Stats is a point-in-time view of a backend's instrumentation.
type Stats struct {
	Counters map[string]int64      `json:"counters"`
	Latency  observability.Summary `json:"latency"`
}

// SetOption configures a single Set call.
type SetOption func(*setOptions)

type setOptions struct {
	ttl time.Duration
}

// WithTTL gives the written record an absolute expiry of now+d.
func WithTTL(d time.Duration) SetOption {
	return func(o *setOptions) {
		o.ttl = d
	}
}

func applySetOptions(opts []SetOption) setOptions {
	var o setOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Option configures a backend at construction time.
type Option func(*options)

type options struct {
	logger     *observability.Logger
	clk        clock.Clock
	sweepEvery time.Duration
	indexing   bool
}

func newOptions(opts []Option) options {
	o := options{clk: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the backend's structured logger.
func WithLogger(l *observability.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithClock sets the backend's time source. Tests use clock.NewMock().
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clk = c
	}
}

// WithSweepInterval enables the memory backend's periodic expiry sweep.
// Zero (the default) leaves expiry purely lazy.
func WithSweepInterval(d time.Duration) Option {
	return func(o *options) {
		o.sweepEvery = d
	}
}

// WithIndexing allows the backend to maintain secondary lookup structures.
// Currently behavior-neutral; recognized for configuration compatibility.
func WithIndexing() Option {
	return func(o *options) {
		o.indexing = true
	}
}
