package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unifiedcore/storagekit/observability"
)

// Memory is the in-process backend: an ownership-exclusive map from key to
// record with TTL-based lazy expiry.
//
// Expiry is evaluated only on direct access (Get/Has); an expired key that is
// never read stays resident until a read, an explicit delete, a Clear, or a
// sweep pass. The optional background sweeper (WithSweepInterval) bounds that
// growth without changing the read-path contract.
//
// The internal mutex protects the map itself; it does not provide multi-key
// atomicity or isolation from concurrent readers. Callers needing
// all-or-nothing multi-key updates use the snapshot transaction as an undo
// mechanism or serialize externally.
type Memory[V any] struct {
	*instruments

	mu   sync.RWMutex
	data map[string]Record[V]

	sweepStop chan struct{}
	closeOnce sync.Once
	indexing  bool
}

// NewMemory creates an empty memory backend.
func NewMemory[V any](opts ...Option) *Memory[V] {
	o := newOptions(opts)
	m := &Memory[V]{
		instruments: newInstruments("memory", o),
		data:        make(map[string]Record[V]),
		indexing:    o.indexing,
	}
	if o.sweepEvery > 0 {
		m.sweepStop = make(chan struct{})
		m.startSweeper(o.sweepEvery)
	}
	return m
}

// Get returns the record stored under key, or nil if absent or expired.
// Reading an expired record deletes it as a side effect.
func (m *Memory[V]) Get(ctx context.Context, key string) (*Record[V], error) {
	start := m.clk.Now()

	m.mu.Lock()
	rec, ok := m.data[key]
	if ok && rec.expired(m.clk.Now()) {
		delete(m.data, key)
		ok = false
	}
	m.mu.Unlock()

	m.observe(opRead, start, nil)
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Set replaces any record under key wholesale and recomputes its metadata.
func (m *Memory[V]) Set(ctx context.Context, key string, value V, opts ...SetOption) (*Record[V], error) {
	start := m.clk.Now()
	so := applySetOptions(opts)

	data, err := encodeValue(value)
	if err != nil {
		m.observe(opWrite, start, err)
		m.log.Op("set", key, err)
		return nil, fmt.Errorf("set %q: %w", key, err)
	}

	now := m.clk.Now()
	rec := Record[V]{
		Key:      key,
		Value:    value,
		Metadata: newMetadata(len(data), now),
	}
	if so.ttl > 0 {
		rec.ExpiresAt = now.Add(so.ttl)
	}

	m.mu.Lock()
	m.data[key] = rec
	m.mu.Unlock()

	m.observe(opWrite, start, nil)
	m.emit(EventRecordCreated, key)
	return &rec, nil
}

// Delete removes the record under key. Reports whether a record was removed;
// no event is emitted for an absent key.
func (m *Memory[V]) Delete(ctx context.Context, key string) (bool, error) {
	start := m.clk.Now()

	m.mu.Lock()
	_, ok := m.data[key]
	if ok {
		delete(m.data, key)
	}
	m.mu.Unlock()

	m.observe(opDelete, start, nil)
	if ok {
		m.emit(EventRecordDeleted, key)
	}
	return ok, nil
}

// Has reports whether a live record exists under key, with the same lazy
// expiry side effect as Get.
func (m *Memory[V]) Has(ctx context.Context, key string) (bool, error) {
	start := m.clk.Now()

	m.mu.Lock()
	rec, ok := m.data[key]
	if ok && rec.expired(m.clk.Now()) {
		delete(m.data, key)
		ok = false
	}
	m.mu.Unlock()

	m.observe(opRead, start, nil)
	return ok, nil
}

// Keys returns all stored keys in lexical order. Expired-but-unread entries
// are included; callers needing a precise live set must validate via Has.
func (m *Memory[V]) Keys(ctx context.Context) ([]string, error) {
	start := m.clk.Now()

	m.mu.RLock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	m.mu.RUnlock()
	sort.Strings(keys)

	m.observe(opRead, start, nil)
	return keys, nil
}

// Query filters, sorts, and paginates the current records. Total is the full
// backend size before filtering. Records are keyed in lexical order before
// any caller-supplied sort, so pagination is deterministic.
func (m *Memory[V]) Query(ctx context.Context, opts QueryOptions[V]) (*QueryResult[V], error) {
	start := m.clk.Now()

	m.mu.RLock()
	total := len(m.data)
	records := make([]Record[V], 0, total)
	for _, rec := range m.data {
		records = append(records, rec)
	}
	m.mu.RUnlock()
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })

	matched := applyQuery(records, opts)
	res := &QueryResult[V]{
		Records:   matched,
		Total:     total,
		HasMore:   opts.Limit > 0 && opts.Offset+opts.Limit < total,
		QueryTime: m.clk.Now().Sub(start),
	}

	m.observe(opRead, start, nil)
	return res, nil
}

// Begin opens a transaction bound to a snapshot of the entire current map.
// The transaction is active from creation; mutations issued through it apply
// directly to the live map, and Rollback restores the snapshot.
func (m *Memory[V]) Begin(ctx context.Context) (Transaction[V], error) {
	start := m.clk.Now()

	m.mu.RLock()
	snap := make(map[string]Record[V], len(m.data))
	for k, v := range m.data {
		snap[k] = v
	}
	m.mu.RUnlock()

	tx := &memoryTx[V]{
		id:       uuid.New().String(),
		status:   TxPending,
		store:    m,
		snapshot: snap,
	}

	m.observe(opWrite, start, nil)
	m.emit(EventTransactionCreated, tx.id)
	return tx, nil
}

// Clear removes all records.
func (m *Memory[V]) Clear(ctx context.Context) error {
	start := m.clk.Now()

	m.mu.Lock()
	m.data = make(map[string]Record[V])
	m.mu.Unlock()

	m.observe(opDelete, start, nil)
	m.emit(EventStorageCleared, "")
	return nil
}

// Len returns the number of resident records, expired or not.
func (m *Memory[V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Sweep evicts all expired records and returns the eviction count.
func (m *Memory[V]) Sweep() int {
	now := m.clk.Now()

	m.mu.Lock()
	n := 0
	for k, rec := range m.data {
		if rec.expired(now) {
			delete(m.data, k)
			n++
		}
	}
	m.mu.Unlock()

	if n > 0 {
		m.metrics.Record(observability.MetricSweepEvictions, float64(n), nil)
		m.log.Debug("sweep evicted expired records", "count", n)
	}
	return n
}

// startSweeper runs Sweep on a ticker until Close. The ticker comes from the
// backend clock, so tests drive it with a mock.
func (m *Memory[V]) startSweeper(every time.Duration) {
	ticker := m.clk.Ticker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Sweep()
			case <-m.sweepStop:
				return
			}
		}
	}()
}

// Close stops the background sweeper, if any.
func (m *Memory[V]) Close() error {
	m.closeOnce.Do(func() {
		if m.sweepStop != nil {
			close(m.sweepStop)
		}
	})
	m.log.Debug("memory backend closed")
	return nil
}

// replaceAll swaps the live map wholesale. Used by transaction rollback.
func (m *Memory[V]) replaceAll(data map[string]Record[V]) {
	m.mu.Lock()
	m.data = data
	m.mu.Unlock()
}

// memoryTx provides all-or-nothing undo via snapshot restore. Mutations apply
// directly to the live map while the transaction is pending; there is no
// isolation from concurrent readers during that window.
type memoryTx[V any] struct {
	mu       sync.Mutex
	id       string
	status   TxStatus
	store    *Memory[V]
	snapshot map[string]Record[V]
	ops      []Operation
}

func (t *memoryTx[V]) ID() string { return t.id }

func (t *memoryTx[V]) Status() TxStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Begin is a no-op: memory transactions are active from creation.
func (t *memoryTx[V]) Begin(ctx context.Context) error {
	return nil
}

func (t *memoryTx[V]) record(op Operation) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != TxPending {
		return ErrNoActiveTransaction
	}
	t.ops = append(t.ops, op)
	return nil
}

func (t *memoryTx[V]) Get(ctx context.Context, key string) (*Record[V], error) {
	if err := t.record(Operation{Type: OpRead, Key: key}); err != nil {
		return nil, err
	}
	return t.store.Get(ctx, key)
}

func (t *memoryTx[V]) Set(ctx context.Context, key string, value V, opts ...SetOption) (*Record[V], error) {
	if err := t.record(Operation{Type: OpWrite, Key: key, Value: value}); err != nil {
		return nil, err
	}
	return t.store.Set(ctx, key, value, opts...)
}

func (t *memoryTx[V]) Delete(ctx context.Context, key string) (bool, error) {
	if err := t.record(Operation{Type: OpDelete, Key: key}); err != nil {
		return false, err
	}
	return t.store.Delete(ctx, key)
}

// Commit discards the snapshot; mutations already happened against the live
// map.
func (t *memoryTx[V]) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != TxPending {
		return ErrNoActiveTransaction
	}
	t.status = TxCommitted
	t.snapshot = nil
	return nil
}

// Rollback restores the snapshot taken at creation, discarding every
// mutation since. Idempotent once terminal.
func (t *memoryTx[V]) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != TxPending {
		return nil
	}
	t.store.replaceAll(t.snapshot)
	t.status = TxRolledBack
	t.snapshot = nil
	return nil
}

func (t *memoryTx[V]) Operations() []Operation {
	t.mu.Lock()
	defer t.mu.Unlock()
	ops := make([]Operation, len(t.ops))
	copy(ops, t.ops)
	return ops
}
