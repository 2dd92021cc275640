// Package metrics provides lightweight, zero-dependency instrumentation
// primitives for the engine: invocation counts, gas-spent distributions,
// and compile-cache hit/miss counters. Counter and Gauge use atomic
// operations for lock-free concurrent access; Histogram uses a mutex.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a monotonically incrementing counter.
type Counter struct {
	name  string
	value atomic.Int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add increments the counter by n. Negative values are silently ignored
// because counters are monotonically increasing.
func (c *Counter) Add(n int64) {
	if n > 0 {
		c.value.Add(n)
	}
}

// Value returns the current counter value.
func (c *Counter) Value() int64 { return c.value.Load() }

// Name returns the metric name, set by NewRegistry.
func (c *Counter) Name() string { return c.name }

// Gauge is a value that can go up and down.
type Gauge struct {
	name  string
	value atomic.Int64
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v int64) { g.value.Store(v) }

// Value returns the current gauge value.
func (g *Gauge) Value() int64 { return g.value.Load() }

// Name returns the metric name. Registry has no Gauge field and nothing
// in this package sets a Gauge's name, so it is empty.
func (g *Gauge) Name() string { return g.name }

// Histogram tracks the distribution of observed values: count, sum, min,
// max, mean. Intentionally minimal - an embedding application wanting
// quantiles should export these observations into its own metrics system
// rather than this package growing one.
type Histogram struct {
	name  string
	mu    sync.Mutex
	count int64
	sum   float64
	min   float64
	max   float64
}

func newHistogram(name string) *Histogram {
	return &Histogram{name: name, min: math.MaxFloat64, max: -math.MaxFloat64}
}

// Observe records a value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	h.count++
	h.sum += v
	if v < h.min {
		h.min = v
	}
	if v > h.max {
		h.max = v
	}
	h.mu.Unlock()
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Sum returns the sum of all observed values.
func (h *Histogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

// Mean returns the arithmetic mean of all observations, or 0 if none.
func (h *Histogram) Mean() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return 0
	}
	return h.sum / float64(h.count)
}

// Name returns the metric name.
func (h *Histogram) Name() string { return h.name }

// Timer records the elapsed duration (milliseconds) into a Histogram when
// Stop is called.
type Timer struct {
	start time.Time
	hist  *Histogram
}

// NewTimer starts a timer that records into h when stopped.
func NewTimer(h *Histogram) *Timer {
	return &Timer{start: time.Now(), hist: h}
}

// Stop records the elapsed time into the associated histogram and
// returns the duration.
func (t *Timer) Stop() time.Duration {
	d := time.Since(t.start)
	if t.hist != nil {
		t.hist.Observe(float64(d.Milliseconds()))
	}
	return d
}

// Registry is the fixed set of metrics a VM instance reports. Unlike a
// general-purpose metrics library's dynamic registry, this one is a
// closed struct of named fields - the engine only ever emits these six
// series, so there is nothing to look up by string name at the call
// site.
type Registry struct {
	Invocations    Counter
	OutOfGas       Counter
	CompileHits    Counter
	CompileMisses  Counter
	GasSpent       *Histogram
	InvokeDuration *Histogram
}

// NewRegistry returns a Registry with its histograms initialized and
// every field labeled for introspection (e.g. by an embedder that wants
// to print a snapshot).
func NewRegistry() *Registry {
	r := &Registry{
		GasSpent:       newHistogram("metervm_gas_spent"),
		InvokeDuration: newHistogram("metervm_invoke_duration_ms"),
	}
	r.Invocations.name = "metervm_invocations_total"
	r.OutOfGas.name = "metervm_out_of_gas_total"
	r.CompileHits.name = "metervm_compile_cache_hits_total"
	r.CompileMisses.name = "metervm_compile_cache_misses_total"
	return r
}
