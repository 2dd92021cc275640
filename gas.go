package metervm

import "sync/atomic"

// GasMeter tracks a single invocation's gas budget. It is safe to read
// concurrently (Left/Spent/Limit use atomics) but Update/Exhaust must not
// be called concurrently with each other on the same meter, matching the
// one-frame-owns-the-meter-at-a-time discipline in CallContext.
type GasMeter struct {
	limit uint64
	spent atomic.Uint64
}

// NewGasMeter returns a meter with the given budget and zero spent.
func NewGasMeter(limit uint64) *GasMeter {
	return &GasMeter{limit: limit}
}

// Limit returns the total budget this meter was created with.
func (m *GasMeter) Limit() uint64 { return m.limit }

// Spent returns the amount of gas charged so far.
func (m *GasMeter) Spent() uint64 { return m.spent.Load() }

// Left returns the remaining budget. Never underflows: once spent reaches
// limit, Left reports zero rather than wrapping.
func (m *GasMeter) Left() uint64 {
	spent := m.spent.Load()
	if spent >= m.limit {
		return 0
	}
	return m.limit - spent
}

// Update charges delta additional gas. It returns ErrOutOfGas if the
// charge would push spent past limit; in that case spent is still
// recorded so the meter reports Left() == 0 and Spent() reflects the
// attempted total, the same "exhausted, not rolled back" behavior the
// reference's gas_metering crate exhibits: a charge that overruns the
// budget does not get undone, the call simply aborts.
func (m *GasMeter) Update(delta uint64) error {
	spent := m.spent.Add(delta)
	if spent > m.limit {
		return ErrOutOfGas
	}
	return nil
}

// Exhaust forces spent to limit, used when a nested call context reports
// an unrecoverable gas error and the caller's meter must reflect total
// exhaustion regardless of what it had charged so far.
func (m *GasMeter) Exhaust() {
	m.spent.Store(m.limit)
}

// Clone returns a new meter with the same limit and spent-so-far, used to
// hand a child stack frame its own meter that starts where the parent
// left off, per the call-context reconciliation algorithm (4.7): the
// child accrues independently and its spent is folded back into the
// parent via Update on return.
func (m *GasMeter) Clone() *GasMeter {
	c := NewGasMeter(m.limit)
	c.spent.Store(m.spent.Load())
	return c
}
