package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Row is a generic result row produced by an Adapter.
type Row map[string]any

// Adapter is the minimal capability the persistent backend requires from an
// external storage engine. Relational and document-oriented engines are
// equally valid behind it; the backend does not know the adapter's protocol.
// Connection pooling, retries, and on-disk formats are the adapter's problem.
type Adapter interface {
	// Connect establishes the engine connection. Idempotent.
	Connect(ctx context.Context) error

	// Disconnect tears down the connection, rolling back any open
	// transaction.
	Disconnect(ctx context.Context) error

	// Query runs a returning statement with ?-style parameters.
	Query(ctx context.Context, stmt string, args ...any) ([]Row, error)

	// Execute runs a non-returning statement and reports affected rows.
	Execute(ctx context.Context, stmt string, args ...any) (int64, error)

	// BeginTx opens the adapter's single in-flight transaction. Fails with
	// ErrTransactionActive if one is already open.
	BeginTx(ctx context.Context) error

	// Commit finalizes the open transaction. Fails with
	// ErrNoActiveTransaction if none is open.
	Commit(ctx context.Context) error

	// Rollback abandons the open transaction. Fails with
	// ErrNoActiveTransaction if none is open.
	Rollback(ctx context.Context) error

	// Connected reports whether Connect has succeeded.
	Connected() bool
}

const (
	selectColumns = "key, value, created_at, updated_at, version, checksum, size, expires_at"

	createRecordsTable = `
	CREATE TABLE IF NOT EXISTS records (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		version    INTEGER NOT NULL,
		checksum   TEXT NOT NULL,
		size       INTEGER NOT NULL,
		expires_at TEXT
	)`

	upsertRecord = `
	INSERT INTO records (key, value, created_at, updated_at, version, checksum, size, expires_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value      = excluded.value,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		version    = excluded.version,
		checksum   = excluded.checksum,
		size       = excluded.size,
		expires_at = excluded.expires_at`
)

// Persistent is the backend that delegates durability to an Adapter. It
// translates the unified contract one-to-one into adapter statements against
// a single logical table keyed by record key. Metadata is computed with the
// same scheme as the memory backend.
type Persistent[V any] struct {
	*instruments
	adapter Adapter
}

// NewPersistent connects the adapter (if needed) and ensures the backing
// table exists. Setup is idempotent.
func NewPersistent[V any](ctx context.Context, adapter Adapter, opts ...Option) (*Persistent[V], error) {
	o := newOptions(opts)
	p := &Persistent[V]{
		instruments: newInstruments("persistent", o),
		adapter:     adapter,
	}

	if !adapter.Connected() {
		if err := adapter.Connect(ctx); err != nil {
			return nil, fmt.Errorf("connect adapter: %w", err)
		}
	}
	if _, err := adapter.Execute(ctx, createRecordsTable); err != nil {
		return nil, fmt.Errorf("ensure records table: %w", err)
	}

	p.log.Debug("persistent backend ready")
	return p, nil
}

// Get retrieves a record by key. Returns nil if absent or expired; unlike
// the memory backend, an expired row is not deleted on read.
func (p *Persistent[V]) Get(ctx context.Context, key string) (*Record[V], error) {
	start := p.clk.Now()

	rows, err := p.adapter.Query(ctx,
		"SELECT "+selectColumns+" FROM records WHERE key = ?", key)
	if err != nil {
		p.observe(opRead, start, err)
		p.log.Op("get", key, err)
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	if len(rows) == 0 {
		p.observe(opRead, start, nil)
		return nil, nil
	}

	rec, err := p.decodeRow(rows[0])
	if err != nil {
		p.observe(opRead, start, err)
		p.log.Op("get", key, err)
		return nil, fmt.Errorf("get %q: %w", key, err)
	}

	p.observe(opRead, start, nil)
	if rec.expired(p.clk.Now()) {
		return nil, nil
	}
	return rec, nil
}

// Set upserts a record under key, recomputing metadata wholesale.
func (p *Persistent[V]) Set(ctx context.Context, key string, value V, opts ...SetOption) (*Record[V], error) {
	start := p.clk.Now()
	so := applySetOptions(opts)

	data, err := encodeValue(value)
	if err != nil {
		p.observe(opWrite, start, err)
		p.log.Op("set", key, err)
		return nil, fmt.Errorf("set %q: %w", key, err)
	}

	now := p.clk.Now()
	rec := Record[V]{
		Key:      key,
		Value:    value,
		Metadata: newMetadata(len(data), now),
	}
	var expiresAt any
	if so.ttl > 0 {
		rec.ExpiresAt = now.Add(so.ttl)
		expiresAt = rec.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}

	_, err = p.adapter.Execute(ctx, upsertRecord,
		key, data,
		rec.Metadata.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.Metadata.UpdatedAt.UTC().Format(time.RFC3339Nano),
		rec.Metadata.Version, rec.Metadata.Checksum, rec.Metadata.Size,
		expiresAt,
	)
	if err != nil {
		p.observe(opWrite, start, err)
		p.log.Op("set", key, err)
		return nil, fmt.Errorf("set %q: %w", key, err)
	}

	p.observe(opWrite, start, nil)
	p.emit(EventRecordCreated, key)
	return &rec, nil
}

// Delete removes a record by key, reporting whether a row was removed.
func (p *Persistent[V]) Delete(ctx context.Context, key string) (bool, error) {
	start := p.clk.Now()

	affected, err := p.adapter.Execute(ctx, "DELETE FROM records WHERE key = ?", key)
	if err != nil {
		p.observe(opDelete, start, err)
		p.log.Op("delete", key, err)
		return false, fmt.Errorf("delete %q: %w", key, err)
	}

	p.observe(opDelete, start, nil)
	if affected > 0 {
		p.emit(EventRecordDeleted, key)
	}
	return affected > 0, nil
}

// Has reports whether a live record exists under key.
func (p *Persistent[V]) Has(ctx context.Context, key string) (bool, error) {
	start := p.clk.Now()

	rows, err := p.adapter.Query(ctx, "SELECT expires_at FROM records WHERE key = ?", key)
	if err != nil {
		p.observe(opRead, start, err)
		p.log.Op("has", key, err)
		return false, fmt.Errorf("has %q: %w", key, err)
	}
	p.observe(opRead, start, nil)

	if len(rows) == 0 {
		return false, nil
	}
	expiresAt := parseRowTime(rows[0], "expires_at")
	if !expiresAt.IsZero() && p.clk.Now().After(expiresAt) {
		return false, nil
	}
	return true, nil
}

// Keys returns all stored keys in lexical order, including expired rows.
func (p *Persistent[V]) Keys(ctx context.Context) ([]string, error) {
	start := p.clk.Now()

	rows, err := p.adapter.Query(ctx, "SELECT key FROM records ORDER BY key")
	if err != nil {
		p.observe(opRead, start, err)
		p.log.Op("keys", "", err)
		return nil, fmt.Errorf("keys: %w", err)
	}

	keys := make([]string, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, rowString(row, "key"))
	}

	p.observe(opRead, start, nil)
	return keys, nil
}

// Query pages records. Pagination is pushed down to the adapter when no
// in-process filter or sort accessor is supplied. Total is the full table
// count before filtering; HasMore is always false for this backend.
func (p *Persistent[V]) Query(ctx context.Context, opts QueryOptions[V]) (*QueryResult[V], error) {
	start := p.clk.Now()

	res, err := p.runQuery(ctx, start, opts)
	p.observe(opRead, start, err)
	if err != nil {
		p.log.Op("query", "", err)
		return nil, fmt.Errorf("query: %w", err)
	}
	return res, nil
}

func (p *Persistent[V]) runQuery(ctx context.Context, start time.Time, opts QueryOptions[V]) (*QueryResult[V], error) {
	countRows, err := p.adapter.Query(ctx, "SELECT COUNT(*) AS n FROM records")
	if err != nil {
		return nil, err
	}
	total := 0
	if len(countRows) > 0 {
		total = rowInt(countRows[0], "n")
	}

	pushdown := opts.Filter == nil && opts.SortKey == nil
	stmt := "SELECT " + selectColumns + " FROM records ORDER BY key"
	var args []any
	if pushdown && (opts.Limit > 0 || opts.Offset > 0) {
		limit := int64(opts.Limit)
		if limit == 0 {
			limit = -1 // No limit, offset only.
		}
		stmt += " LIMIT ? OFFSET ?"
		args = append(args, limit, int64(opts.Offset))
	}

	rows, err := p.adapter.Query(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}

	records := make([]Record[V], 0, len(rows))
	for _, row := range rows {
		rec, err := p.decodeRow(row)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if !pushdown {
		records = applyQuery(records, opts)
	}

	return &QueryResult[V]{
		Records:   records,
		Total:     total,
		HasMore:   false,
		QueryTime: p.clk.Now().Sub(start),
	}, nil
}

// Begin returns a transaction that activates the adapter's transaction on
// its first Begin call.
func (p *Persistent[V]) Begin(ctx context.Context) (Transaction[V], error) {
	start := p.clk.Now()

	tx := &persistentTx[V]{
		id:     uuid.New().String(),
		status: TxPending,
		store:  p,
	}

	p.observe(opWrite, start, nil)
	p.emit(EventTransactionCreated, tx.id)
	return tx, nil
}

// Clear deletes all rows unconditionally.
func (p *Persistent[V]) Clear(ctx context.Context) error {
	start := p.clk.Now()

	if _, err := p.adapter.Execute(ctx, "DELETE FROM records"); err != nil {
		p.observe(opDelete, start, err)
		p.log.Op("clear", "", err)
		return fmt.Errorf("clear: %w", err)
	}

	p.observe(opDelete, start, nil)
	p.emit(EventStorageCleared, "")
	return nil
}

// Close disconnects the adapter.
func (p *Persistent[V]) Close() error {
	p.log.Debug("persistent backend closing")
	if err := p.adapter.Disconnect(context.Background()); err != nil {
		return fmt.Errorf("disconnect adapter: %w", err)
	}
	return nil
}

// decodeRow reconstructs a record from an adapter row.
func (p *Persistent[V]) decodeRow(row Row) (*Record[V], error) {
	value, err := decodeValue[V](rowBytes(row, "value"))
	if err != nil {
		return nil, err
	}
	return &Record[V]{
		Key:   rowString(row, "key"),
		Value: value,
		Metadata: Metadata{
			CreatedAt: parseRowTime(row, "created_at"),
			UpdatedAt: parseRowTime(row, "updated_at"),
			Version:   rowInt(row, "version"),
			Checksum:  rowString(row, "checksum"),
			Size:      rowInt(row, "size"),
		},
		ExpiresAt: parseRowTime(row, "expires_at"),
	}, nil
}

// persistentTx delegates transaction control to the adapter. Begin must be
// called before any other operation; commit and rollback round-trip to the
// engine, whose isolation level governs visibility.
type persistentTx[V any] struct {
	id     string
	status TxStatus
	active bool
	store  *Persistent[V]
	ops    []Operation
}

func (t *persistentTx[V]) ID() string { return t.id }

func (t *persistentTx[V]) Status() TxStatus { return t.status }

// Begin activates the adapter transaction. A second Begin without an
// intervening terminal transition fails with ErrTransactionActive.
func (t *persistentTx[V]) Begin(ctx context.Context) error {
	if t.active {
		return ErrTransactionActive
	}
	if t.status != TxPending {
		return ErrNoActiveTransaction
	}
	if err := t.store.adapter.BeginTx(ctx); err != nil {
		return fmt.Errorf("begin transaction %s: %w", t.id, err)
	}
	t.active = true
	return nil
}

func (t *persistentTx[V]) record(op Operation) error {
	if !t.active || t.status != TxPending {
		return ErrNoActiveTransaction
	}
	t.ops = append(t.ops, op)
	return nil
}

func (t *persistentTx[V]) Get(ctx context.Context, key string) (*Record[V], error) {
	if err := t.record(Operation{Type: OpRead, Key: key}); err != nil {
		return nil, err
	}
	return t.store.Get(ctx, key)
}

func (t *persistentTx[V]) Set(ctx context.Context, key string, value V, opts ...SetOption) (*Record[V], error) {
	if err := t.record(Operation{Type: OpWrite, Key: key, Value: value}); err != nil {
		return nil, err
	}
	return t.store.Set(ctx, key, value, opts...)
}

func (t *persistentTx[V]) Delete(ctx context.Context, key string) (bool, error) {
	if err := t.record(Operation{Type: OpDelete, Key: key}); err != nil {
		return false, err
	}
	return t.store.Delete(ctx, key)
}

func (t *persistentTx[V]) Commit(ctx context.Context) error {
	if !t.active || t.status != TxPending {
		return ErrNoActiveTransaction
	}
	if err := t.store.adapter.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction %s: %w", t.id, err)
	}
	t.status = TxCommitted
	t.active = false
	return nil
}

// Rollback is a no-op once terminal; before Begin it fails with
// ErrNoActiveTransaction.
func (t *persistentTx[V]) Rollback(ctx context.Context) error {
	if t.status != TxPending {
		return nil
	}
	if !t.active {
		return ErrNoActiveTransaction
	}
	if err := t.store.adapter.Rollback(ctx); err != nil {
		return fmt.Errorf("rollback transaction %s: %w", t.id, err)
	}
	t.status = TxRolledBack
	t.active = false
	return nil
}

func (t *persistentTx[V]) Operations() []Operation {
	ops := make([]Operation, len(t.ops))
	copy(ops, t.ops)
	return ops
}
