package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"

	"github.com/unifiedcore/storagekit/observability"
)

func newTestMemory(t *testing.T, opts ...Option) (*Memory[string], *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	opts = append([]Option{WithClock(mock)}, opts...)
	m := NewMemory[string](opts...)
	t.Cleanup(func() { m.Close() })
	return m, mock
}

func TestMemory_SetGet(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	if _, err := m.Set(ctx, "greeting", "hello world"); err != nil {
		t.Fatal(err)
	}

	rec, err := m.Get(ctx, "greeting")
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil {
		t.Fatal("record not found")
	}
	if rec.Value != "hello world" {
		t.Errorf("Value = %q", rec.Value)
	}
	if rec.Metadata.Version != 1 {
		t.Errorf("Version = %d, want 1", rec.Metadata.Version)
	}
	if rec.Metadata.Size == 0 {
		t.Error("Size not computed")
	}
	if rec.Metadata.Checksum == "" {
		t.Error("Checksum not computed")
	}
}

func TestMemory_Get_NotFound(t *testing.T) {
	m, _ := newTestMemory(t)

	rec, err := m.Get(context.Background(), "missing")
	if err != nil {
		t.Fatal(err)
	}
	if rec != nil {
		t.Error("expected nil for missing key")
	}
}

func TestMemory_Set_ReplacesWholesale(t *testing.T) {
	m, mock := newTestMemory(t)
	ctx := context.Background()

	first, _ := m.Set(ctx, "k1", "v1")
	mock.Add(time.Second)
	second, _ := m.Set(ctx, "k1", "v2")

	rec, _ := m.Get(ctx, "k1")
	if rec.Value != "v2" {
		t.Errorf("Value = %q, want v2", rec.Value)
	}
	// Metadata is recomputed, not merged: version stays 1, checksum changes.
	if rec.Metadata.Version != 1 {
		t.Errorf("Version = %d, want 1", rec.Metadata.Version)
	}
	if first.Metadata.Checksum == second.Metadata.Checksum {
		t.Error("checksum did not change across rewrite")
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}
}

func TestMemory_Delete(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	m.Set(ctx, "k1", "v1")
	removed, err := m.Delete(ctx, "k1")
	if err != nil {
		t.Fatal(err)
	}
	if !removed {
		t.Error("Delete = false, want true")
	}

	rec, _ := m.Get(ctx, "k1")
	if rec != nil {
		t.Error("expected nil after delete")
	}
}

func TestMemory_Delete_Absent(t *testing.T) {
	m, _ := newTestMemory(t)

	removed, err := m.Delete(context.Background(), "missing")
	if err != nil {
		t.Fatal(err)
	}
	if removed {
		t.Error("Delete = true for absent key")
	}
}

func TestMemory_TTL_LazyExpiry(t *testing.T) {
	m, mock := newTestMemory(t)
	ctx := context.Background()

	m.Set(ctx, "session", "abc", WithTTL(time.Minute))

	rec, _ := m.Get(ctx, "session")
	if rec == nil {
		t.Fatal("record expired immediately")
	}

	mock.Add(2 * time.Minute)

	rec, _ = m.Get(ctx, "session")
	if rec != nil {
		t.Error("expected nil after TTL elapsed")
	}
	// The expired record was removed as a side effect of the read.
	if m.Len() != 0 {
		t.Errorf("Len = %d, want 0 after lazy eviction", m.Len())
	}
}

func TestMemory_Has_LazyExpiry(t *testing.T) {
	m, mock := newTestMemory(t)
	ctx := context.Background()

	m.Set(ctx, "k1", "v1", WithTTL(time.Minute))

	ok, _ := m.Has(ctx, "k1")
	if !ok {
		t.Error("Has = false before expiry")
	}

	mock.Add(2 * time.Minute)

	ok, _ = m.Has(ctx, "k1")
	if ok {
		t.Error("Has = true after expiry")
	}
	if m.Len() != 0 {
		t.Errorf("Len = %d, want 0 after lazy eviction", m.Len())
	}
}

func TestMemory_Keys_IncludesExpiredUnread(t *testing.T) {
	m, mock := newTestMemory(t)
	ctx := context.Background()

	m.Set(ctx, "live", "v")
	m.Set(ctx, "stale", "v", WithTTL(time.Minute))
	mock.Add(2 * time.Minute)

	// Expiry is only evaluated on direct access, so the stale key is still
	// reported until something reads it.
	keys, err := m.Keys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"live", "stale"}, keys); diff != "" {
		t.Errorf("Keys mismatch (-want +got):\n%s", diff)
	}

	m.Get(ctx, "stale")
	keys, _ = m.Keys(ctx)
	if diff := cmp.Diff([]string{"live"}, keys); diff != "" {
		t.Errorf("Keys after read (-want +got):\n%s", diff)
	}
}

func TestMemory_Query_Pagination(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		m.Set(ctx, fmt.Sprintf("key-%02d", i), fmt.Sprintf("v%d", i))
	}

	res, err := m.Query(ctx, QueryOptions[string]{Limit: 3, Offset: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Records) != 3 {
		t.Errorf("records = %d, want 3", len(res.Records))
	}
	// Total is the full backend size, independent of pagination.
	if res.Total != 10 {
		t.Errorf("Total = %d, want 10", res.Total)
	}
	if !res.HasMore {
		t.Error("HasMore = false, want true")
	}
	if res.Records[0].Key != "key-02" {
		t.Errorf("first key = %q, want key-02", res.Records[0].Key)
	}
}

func TestMemory_Query_TotalIgnoresFilter(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		m.Set(ctx, fmt.Sprintf("key-%02d", i), fmt.Sprintf("v%d", i))
	}

	res, _ := m.Query(ctx, QueryOptions[string]{
		Filter: func(r Record[string]) bool { return r.Key < "key-03" },
	})
	if len(res.Records) != 3 {
		t.Errorf("records = %d, want 3", len(res.Records))
	}
	// Total counts stored records, not matches.
	if res.Total != 10 {
		t.Errorf("Total = %d, want 10", res.Total)
	}
}

func TestMemory_Query_Sort(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	m.Set(ctx, "small", "ab")
	m.Set(ctx, "large", "abcdefgh")
	m.Set(ctx, "mid", "abcd")

	res, _ := m.Query(ctx, QueryOptions[string]{
		SortKey:   func(r Record[string]) float64 { return float64(r.Metadata.Size) },
		SortOrder: SortDesc,
	})

	var keys []string
	for _, rec := range res.Records {
		keys = append(keys, rec.Key)
	}
	if diff := cmp.Diff([]string{"large", "mid", "small"}, keys); diff != "" {
		t.Errorf("sorted keys (-want +got):\n%s", diff)
	}
}

func TestMemory_Query_OffsetPastEnd(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	m.Set(ctx, "k1", "v1")

	res, _ := m.Query(ctx, QueryOptions[string]{Offset: 5})
	if len(res.Records) != 0 {
		t.Errorf("records = %d, want 0", len(res.Records))
	}
	if res.Total != 1 {
		t.Errorf("Total = %d, want 1", res.Total)
	}
}

func TestMemory_Transaction_Commit(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	m.Set(ctx, "k", "v1")

	tx, err := m.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if tx.Status() != TxPending {
		t.Errorf("Status = %q, want pending", tx.Status())
	}

	tx.Set(ctx, "k", "v2")
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	if tx.Status() != TxCommitted {
		t.Errorf("Status = %q, want committed", tx.Status())
	}

	rec, _ := m.Get(ctx, "k")
	if rec.Value != "v2" {
		t.Errorf("Value = %q, want v2", rec.Value)
	}
}

func TestMemory_Transaction_Rollback(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	m.Set(ctx, "k", "v1")

	tx, _ := m.Begin(ctx)
	tx.Set(ctx, "k", "v2")
	tx.Set(ctx, "extra", "x")
	tx.Delete(ctx, "k")

	if err := tx.Rollback(ctx); err != nil {
		t.Fatal(err)
	}
	if tx.Status() != TxRolledBack {
		t.Errorf("Status = %q, want rolledback", tx.Status())
	}

	// Every mutation since the snapshot is discarded.
	rec, _ := m.Get(ctx, "k")
	if rec == nil || rec.Value != "v1" {
		t.Errorf("k not restored: %+v", rec)
	}
	if rec, _ := m.Get(ctx, "extra"); rec != nil {
		t.Error("extra survived rollback")
	}
}

func TestMemory_Transaction_RollbackIdempotent(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	m.Set(ctx, "k", "v1")
	tx, _ := m.Begin(ctx)
	tx.Set(ctx, "k", "v2")

	if err := tx.Rollback(ctx); err != nil {
		t.Fatal(err)
	}

	// A mutation after the terminal transition must not be undone by a
	// second rollback.
	m.Set(ctx, "k", "v3")
	if err := tx.Rollback(ctx); err != nil {
		t.Fatal(err)
	}

	rec, _ := m.Get(ctx, "k")
	if rec.Value != "v3" {
		t.Errorf("Value = %q, want v3", rec.Value)
	}
}

func TestMemory_Transaction_CommitAfterTerminal(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	tx, _ := m.Begin(ctx)
	tx.Rollback(ctx)

	if err := tx.Commit(ctx); err != ErrNoActiveTransaction {
		t.Errorf("Commit = %v, want ErrNoActiveTransaction", err)
	}
}

func TestMemory_Transaction_Operations(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	tx, _ := m.Begin(ctx)
	tx.Set(ctx, "a", "1")
	tx.Get(ctx, "a")
	tx.Delete(ctx, "a")
	tx.Commit(ctx)

	want := []Operation{
		{Type: OpWrite, Key: "a", Value: "1"},
		{Type: OpRead, Key: "a"},
		{Type: OpDelete, Key: "a"},
	}
	if diff := cmp.Diff(want, tx.Operations()); diff != "" {
		t.Errorf("Operations (-want +got):\n%s", diff)
	}

	// Terminal transactions reject further operations.
	if _, err := tx.Set(ctx, "b", "2"); err != ErrNoActiveTransaction {
		t.Errorf("Set after commit = %v, want ErrNoActiveTransaction", err)
	}
}

func TestMemory_Transaction_IDsUnique(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	tx1, _ := m.Begin(ctx)
	tx2, _ := m.Begin(ctx)
	if tx1.ID() == "" || tx1.ID() == tx2.ID() {
		t.Errorf("IDs not unique: %q vs %q", tx1.ID(), tx2.ID())
	}
}

func TestMemory_Clear(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	m.Set(ctx, "k1", "v1")
	m.Set(ctx, "k2", "v2")

	if err := m.Clear(ctx); err != nil {
		t.Fatal(err)
	}

	keys, _ := m.Keys(ctx)
	if len(keys) != 0 {
		t.Errorf("Keys = %v, want empty", keys)
	}
	res, _ := m.Query(ctx, QueryOptions[string]{})
	if res.Total != 0 {
		t.Errorf("Total = %d, want 0", res.Total)
	}
}

func TestMemory_Events(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	var got []Event
	unsub := m.Subscribe(func(ev Event) { got = append(got, ev) })

	m.Set(ctx, "k", "v")
	m.Delete(ctx, "k")
	m.Delete(ctx, "k") // Absent: no event.
	tx, _ := m.Begin(ctx)
	m.Clear(ctx)

	wantTypes := []EventType{
		EventRecordCreated,
		EventRecordDeleted,
		EventTransactionCreated,
		EventStorageCleared,
	}
	if len(got) != len(wantTypes) {
		t.Fatalf("events = %d, want %d: %+v", len(got), len(wantTypes), got)
	}
	for i, ev := range got {
		if ev.Type != wantTypes[i] {
			t.Errorf("event[%d] = %q, want %q", i, ev.Type, wantTypes[i])
		}
	}
	if got[0].Key != "k" {
		t.Errorf("created key = %q", got[0].Key)
	}
	if got[2].Key != tx.ID() {
		t.Errorf("transaction event key = %q, want %q", got[2].Key, tx.ID())
	}

	unsub()
	m.Set(ctx, "k2", "v")
	if len(got) != len(wantTypes) {
		t.Error("handler invoked after unsubscribe")
	}
}

func TestMemory_Set_SerializationError(t *testing.T) {
	mock := clock.NewMock()
	m := NewMemory[any](WithClock(mock))
	t.Cleanup(func() { m.Close() })
	ctx := context.Background()

	before := m.Metrics().Counter(observability.CounterError)
	_, err := m.Set(ctx, "bad", make(chan int))
	if err == nil {
		t.Fatal("expected serialization error")
	}
	// The error counter is incremented before the error propagates.
	if got := m.Metrics().Counter(observability.CounterError); got != before+1 {
		t.Errorf("error counter = %d, want %d", got, before+1)
	}
}

func TestMemory_Stats(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	m.Set(ctx, "k", "v")
	m.Get(ctx, "k")
	m.Get(ctx, "missing")

	stats := m.Stats()
	if stats.Counters[observability.CounterSuccess] != 3 {
		t.Errorf("success = %d, want 3", stats.Counters[observability.CounterSuccess])
	}
	if stats.Counters[observability.CounterError] != 0 {
		t.Errorf("error = %d, want 0", stats.Counters[observability.CounterError])
	}
	// One latency sample per operation.
	if stats.Latency.Count != 3 {
		t.Errorf("latency samples = %d, want 3", stats.Latency.Count)
	}

	reads := m.Metrics().QueryWithLabel(observability.MetricLatency, "op", "read")
	if len(reads) != 2 {
		t.Errorf("read samples = %d, want 2", len(reads))
	}
}

func TestMemory_Sweep(t *testing.T) {
	m, mock := newTestMemory(t)
	ctx := context.Background()

	m.Set(ctx, "stale1", "v", WithTTL(time.Minute))
	m.Set(ctx, "stale2", "v", WithTTL(time.Minute))
	m.Set(ctx, "live", "v")
	mock.Add(2 * time.Minute)

	if n := m.Sweep(); n != 2 {
		t.Errorf("Sweep = %d, want 2", n)
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}
}

func TestMemory_BackgroundSweeper(t *testing.T) {
	mock := clock.NewMock()
	m := NewMemory[string](WithClock(mock), WithSweepInterval(time.Minute))
	t.Cleanup(func() { m.Close() })
	ctx := context.Background()

	m.Set(ctx, "stale", "v", WithTTL(30*time.Second))
	mock.Add(time.Minute)

	// The sweeper runs on its own goroutine; poll briefly for the eviction.
	deadline := time.Now().Add(2 * time.Second)
	for m.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if m.Len() != 0 {
		t.Errorf("Len = %d, want 0 after sweep", m.Len())
	}
}
