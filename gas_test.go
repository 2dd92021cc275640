package metervm

import "testing"

func TestGasMeterUpdateWithinLimit(t *testing.T) {
	m := NewGasMeter(100)
	if err := m.Update(40); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := m.Spent(); got != 40 {
		t.Fatalf("Spent() = %d, want 40", got)
	}
	if got := m.Left(); got != 60 {
		t.Fatalf("Left() = %d, want 60", got)
	}
}

func TestGasMeterOutOfGas(t *testing.T) {
	m := NewGasMeter(10)
	if err := m.Update(5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Update(6); err == nil {
		t.Fatalf("expected ErrOutOfGas")
	} else if err != ErrOutOfGas {
		t.Fatalf("got %v, want ErrOutOfGas", err)
	}
	if got := m.Left(); got != 0 {
		t.Fatalf("Left() after exhaustion = %d, want 0", got)
	}
}

func TestGasMeterExhaust(t *testing.T) {
	m := NewGasMeter(50)
	m.Exhaust()
	if got := m.Spent(); got != 50 {
		t.Fatalf("Spent() after Exhaust = %d, want 50", got)
	}
	if got := m.Left(); got != 0 {
		t.Fatalf("Left() after Exhaust = %d, want 0", got)
	}
}

func TestGasMeterCloneIndependence(t *testing.T) {
	m := NewGasMeter(100)
	_ = m.Update(30)
	clone := m.Clone()
	_ = clone.Update(20)

	if m.Spent() != 30 {
		t.Fatalf("parent Spent() = %d, want 30 (clone must not affect parent)", m.Spent())
	}
	if clone.Spent() != 50 {
		t.Fatalf("clone Spent() = %d, want 50", clone.Spent())
	}
}
