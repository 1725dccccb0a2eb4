package circuit

import (
	"context"
	"fmt"
	"time"
)

// WaitForState polls for the circuit to reach state, returning once it does
// or once ctx is done. The scheduler drives state changes itself and has no
// need of this; it exists for callers outside the scheduler loop that need
// to block on a circuit reaching StateOpen without reaching into
// CircuitStatus directly.
func (c *Circuit) WaitForState(ctx context.Context, state State) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if c.GetState() == state {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for state %s (current: %s): %w",
				state, c.GetState(), ctx.Err())
		case <-ticker.C:
			// Check state again on next iteration
		}
	}
}

// WaitUntilReady blocks until the circuit reaches StateOpen.
func (c *Circuit) WaitUntilReady(ctx context.Context) error {
	return c.WaitForState(ctx, StateOpen)
}

// AgeWithContext returns how long the circuit has existed, respecting ctx
// cancellation over a plain Age() call.
func (c *Circuit) AgeWithContext(ctx context.Context) (time.Duration, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
		return c.Age(), nil
	}
}

// IsOlderThan reports whether the circuit is older than duration.
func (c *Circuit) IsOlderThan(duration time.Duration) bool {
	return c.Age() > duration
}

// SetStateWithContext sets the circuit state unless ctx is already done.
func (c *Circuit) SetStateWithContext(ctx context.Context, state State) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("state change cancelled: %w", ctx.Err())
	default:
		c.SetState(state)
		return nil
	}
}

// CloseWithDeadline closes every circuit with a bounded deadline instead of
// a caller-supplied context; the shutdown path in cmd/tor-client uses this
// rather than building its own context.WithTimeout.
func (m *Manager) CloseWithDeadline(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return m.Close(ctx)
}

// WaitForCircuitCount blocks until at least minCount circuits are in state,
// or ctx is done. cmd/tor-client uses this at startup to wait for the
// scheduler to warm the clean-circuit pool before reporting ready.
func (m *Manager) WaitForCircuitCount(ctx context.Context, state State, minCount int) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		m.mu.RLock()
		count := 0
		for _, circuit := range m.circuits {
			if circuit.GetState() == state {
				count++
			}
		}
		m.mu.RUnlock()

		if count >= minCount {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for %d circuits in state %s (current: %d): %w",
				minCount, state, count, ctx.Err())
		case <-ticker.C:
			// Check count again on next iteration
		}
	}
}

// GetCircuitsByState returns all circuits in the specified state.
// This is useful for monitoring or selecting circuits based on their state.
func (m *Manager) GetCircuitsByState(state State) []*Circuit {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var circuits []*Circuit
	for _, circuit := range m.circuits {
		if circuit.GetState() == state {
			circuits = append(circuits, circuit)
		}
	}
	return circuits
}

// CountByState returns the number of circuits in the specified state.
func (m *Manager) CountByState(state State) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, circuit := range m.circuits {
		if circuit.GetState() == state {
			count++
		}
	}
	return count
}

// CloseCircuitWithContext closes a circuit, forcing the close through even
// if ctx expires before CloseCircuit returns.
func (m *Manager) CloseCircuitWithContext(ctx context.Context, id uint32) error {
	done := make(chan error, 1)
	go func() {
		done <- m.CloseCircuit(id)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		// Try to force close even if context expires
		_ = m.CloseCircuit(id)
		return fmt.Errorf("close circuit timeout: %w", ctx.Err())
	}
}

// CreateCircuitWithContext creates a new circuit with context support.
// This allows circuit creation to be cancelled if needed.
func (m *Manager) CreateCircuitWithContext(ctx context.Context) (*Circuit, error) {
	done := make(chan struct {
		circuit *Circuit
		err     error
	}, 1)

	go func() {
		circuit, err := m.CreateCircuit()
		done <- struct {
			circuit *Circuit
			err     error
		}{circuit, err}
	}()

	select {
	case result := <-done:
		return result.circuit, result.err
	case <-ctx.Done():
		return nil, fmt.Errorf("create circuit cancelled: %w", ctx.Err())
	}
}
