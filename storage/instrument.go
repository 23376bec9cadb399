package storage

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/unifiedcore/storagekit/observability"
)

// opKind labels latency samples by operation class.
type opKind string

const (
	opRead   opKind = "read"
	opWrite  opKind = "write"
	opDelete opKind = "delete"
)

// instruments is the shared observability core composed into every backend:
// latency and success/error accounting plus a per-instance event registry.
type instruments struct {
	metrics *observability.MetricsCollector
	log     *observability.Logger
	clk     clock.Clock

	subMu   sync.Mutex
	subs    map[int]EventHandler
	nextSub int
}

func newInstruments(name string, o options) *instruments {
	log := o.logger
	if log == nil {
		log = observability.NewLogger(name, nil)
	}
	return &instruments{
		metrics: observability.NewMetricsCollector(0),
		log:     log,
		clk:     o.clk,
		subs:    make(map[int]EventHandler),
	}
}

// observe records exactly one latency sample and one success-or-error counter
// for a completed operation. Called on every public operation exit, before
// any error propagates to the caller.
func (in *instruments) observe(op opKind, start time.Time, err error) {
	elapsed := in.clk.Now().Sub(start)
	in.metrics.Record(observability.MetricLatency,
		float64(elapsed)/float64(time.Millisecond),
		observability.Labels{"op": string(op)})
	in.metrics.Increment("ops_" + string(op))
	if err != nil {
		in.metrics.Increment(observability.CounterError)
		return
	}
	in.metrics.Increment(observability.CounterSuccess)
}

// emit notifies subscribers of a successful state change. Never called on
// failure paths.
func (in *instruments) emit(t EventType, key string) {
	in.subMu.Lock()
	handlers := make([]EventHandler, 0, len(in.subs))
	for _, h := range in.subs {
		handlers = append(handlers, h)
	}
	in.subMu.Unlock()

	ev := Event{Type: t, Key: key, Timestamp: in.clk.Now()}
	for _, h := range handlers {
		h(ev)
	}
}

// Subscribe registers a lifecycle event handler and returns its
// unsubscribe function. The registry lives and dies with the backend.
func (in *instruments) Subscribe(h EventHandler) func() {
	in.subMu.Lock()
	defer in.subMu.Unlock()

	id := in.nextSub
	in.nextSub++
	in.subs[id] = h
	return func() {
		in.subMu.Lock()
		defer in.subMu.Unlock()
		delete(in.subs, id)
	}
}

// Stats returns the current counter snapshot and overall latency summary.
func (in *instruments) Stats() Stats {
	return Stats{
		Counters: in.metrics.Snapshot(),
		Latency:  in.metrics.Summarize(observability.MetricLatency, time.Time{}),
	}
}

// Metrics exposes the underlying collector for fine-grained queries.
func (in *instruments) Metrics() *observability.MetricsCollector {
	return in.metrics
}
