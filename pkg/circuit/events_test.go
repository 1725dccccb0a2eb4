package circuit

import (
	"testing"
	"time"
)

// TestInitializationTrackerOrdersEvents verifies the ordering contract
// OpenDirectoryStream depends on: a circuit build notification always
// precedes the stream-open notification for the same circuit, and every
// subscriber observes that same order.
func TestInitializationTrackerOrdersEvents(t *testing.T) {
	tr := NewInitializationTracker()
	ch, unsubscribe := tr.Subscribe()
	defer unsubscribe()

	tr.notifyEvent(Event{Kind: EventCircuitBuilt, CircuitID: 7})
	tr.notifyEvent(Event{Kind: EventStreamOpened, CircuitID: 7, StreamID: 1})

	first := <-ch
	second := <-ch

	if first.Kind != EventCircuitBuilt || first.CircuitID != 7 {
		t.Fatalf("first event = %+v, want CircuitBuilt for circuit 7", first)
	}
	if second.Kind != EventStreamOpened || second.CircuitID != 7 || second.StreamID != 1 {
		t.Fatalf("second event = %+v, want StreamOpened for circuit 7 stream 1", second)
	}

	log := tr.Events()
	if len(log) != 2 || log[0].Kind != EventCircuitBuilt || log[1].Kind != EventStreamOpened {
		t.Fatalf("Events() = %+v, want [CircuitBuilt, StreamOpened]", log)
	}
}

// TestInitializationTrackerMultipleSubscribers verifies every live
// subscriber receives the same events, and unsubscribing stops delivery
// without blocking later notifications.
func TestInitializationTrackerMultipleSubscribers(t *testing.T) {
	tr := NewInitializationTracker()
	ch1, unsub1 := tr.Subscribe()
	ch2, unsub2 := tr.Subscribe()
	defer unsub2()

	tr.notifyEvent(Event{Kind: EventCircuitBuilt, CircuitID: 1})

	select {
	case e := <-ch1:
		if e.CircuitID != 1 {
			t.Errorf("ch1 got circuit %d, want 1", e.CircuitID)
		}
	case <-time.After(time.Second):
		t.Fatal("ch1 did not receive event")
	}
	select {
	case e := <-ch2:
		if e.CircuitID != 1 {
			t.Errorf("ch2 got circuit %d, want 1", e.CircuitID)
		}
	case <-time.After(time.Second):
		t.Fatal("ch2 did not receive event")
	}

	unsub1()
	// Unsubscribing ch1 must not block a later notification from reaching
	// the still-live ch2.
	tr.notifyEvent(Event{Kind: EventCircuitClosed, CircuitID: 1})
	select {
	case e := <-ch2:
		if e.Kind != EventCircuitClosed {
			t.Errorf("ch2 got %v, want EventCircuitClosed", e.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("ch2 did not receive second event")
	}
}

// TestManagerDestroyCircuitNotifiesClosed verifies CloseCircuit's teardown
// path emits EventCircuitClosed through the manager's tracker.
func TestManagerDestroyCircuitNotifiesClosed(t *testing.T) {
	m := NewManager()
	c, err := m.CreateCircuit()
	if err != nil {
		t.Fatalf("CreateCircuit() error = %v", err)
	}
	m.circuitStartConnect(c)
	m.circuitConnected(c)

	ch, unsubscribe := m.Tracker().Subscribe()
	defer unsubscribe()

	if err := m.CloseCircuit(c.ID); err != nil {
		t.Fatalf("CloseCircuit() error = %v", err)
	}

	select {
	case e := <-ch:
		if e.Kind != EventCircuitClosed || e.CircuitID != c.ID {
			t.Errorf("got %+v, want EventCircuitClosed for circuit %d", e, c.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a circuit-closed event")
	}
}
