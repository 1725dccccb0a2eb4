package circuit

import (
	"context"
	"testing"
)

func TestManagerRegistryTransitions(t *testing.T) {
	m := NewManager()
	c, err := m.CreateCircuit()
	if err != nil {
		t.Fatalf("CreateCircuit() error = %v", err)
	}

	m.circuitStartConnect(c)
	pending, active, clean := m.snapshotSets()
	if len(pending) != 1 || len(active) != 0 || len(clean) != 0 {
		t.Fatalf("after circuitStartConnect: pending=%d active=%d clean=%d, want 1/0/0",
			len(pending), len(active), len(clean))
	}

	m.circuitConnected(c)
	pending, active, clean = m.snapshotSets()
	if len(pending) != 0 || len(active) != 1 || len(clean) != 1 {
		t.Fatalf("after circuitConnected: pending=%d active=%d clean=%d, want 0/1/1",
			len(pending), len(active), len(clean))
	}

	m.circuitDirty(c)
	pending, active, clean = m.snapshotSets()
	if len(active) != 1 || len(clean) != 0 {
		t.Fatalf("after circuitDirty: active=%d clean=%d, want 1/0", len(active), len(clean))
	}

	m.circuitInactive(c)
	pending, active, clean = m.snapshotSets()
	if len(pending) != 0 || len(active) != 0 || len(clean) != 0 {
		t.Fatalf("after circuitInactive: pending=%d active=%d clean=%d, want 0/0/0",
			len(pending), len(active), len(clean))
	}

	// circuitInactive never removes the circuit from the flat lookup map.
	if _, err := m.GetCircuit(c.ID); err != nil {
		t.Fatalf("GetCircuit() after circuitInactive: %v", err)
	}
}

func TestManagerMatchTargetsReflectsActiveSet(t *testing.T) {
	m := NewManager()
	c1, _ := m.CreateCircuit()
	c2, _ := m.CreateCircuit()

	m.circuitStartConnect(c1)
	m.circuitConnected(c1)
	m.circuitStartConnect(c2) // c2 stays pending

	targets := m.matchTargets()
	if len(targets) != 1 {
		t.Fatalf("matchTargets() length = %d, want 1 (only c1 is active)", len(targets))
	}
}

func TestOpenExitStreamToTimesOutWithNoCircuits(t *testing.T) {
	m := NewManager()
	req := newStreamExitRequest("", "203.0.113.1", 80, nil, 0)
	m.queue.Enqueue(req)
	resp := m.queue.Wait(context.Background(), req)
	if resp.Status != StreamTimedOut {
		t.Fatalf("Status = %v, want StreamTimedOut", resp.Status)
	}
}
