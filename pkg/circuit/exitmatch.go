package circuit

import (
	"context"
	"fmt"

	"github.com/opd-ai/go-tor/pkg/directory"
)

// SetExitPolicy records the exit policy of this circuit's last hop, so
// canHandleExitTo can evaluate whether the circuit admits a given port
// without reaching back into the directory on every match attempt.
func (c *Circuit) SetExitPolicy(policy *directory.ExitPolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exitPolicy = policy
}

// canHandleExitTo implements matchTarget: the circuit's last hop must
// admit port, the circuit must not have already failed on this exact
// target, and isolation must be compatible.
func (c *Circuit) canHandleExitTo(target string, port int, isolation *IsolationKey) bool {
	c.mu.RLock()
	state := c.State
	policy := c.exitPolicy
	failed := c.failedExitTargets
	existing := c.IsolationKey
	c.mu.RUnlock()

	if state != StateOpen {
		return false
	}
	if failed != nil {
		if _, ok := failed[target]; ok {
			return false
		}
	}
	if existing != nil && isolation != nil && !existing.Equals(isolation) {
		return false
	}

	if policy == nil {
		return true
	}
	return policy.Allows(port)
}

// recordFailedExitTarget implements matchTarget: remembers target so a
// future match attempt skips this circuit for the same destination.
func (c *Circuit) recordFailedExitTarget(target string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failedExitTargets == nil {
		c.failedExitTargets = make(map[string]struct{})
	}
	c.failedExitTargets[target] = struct{}{}
}

// hasFailedExitTarget reports whether target was previously recorded as
// failed on this circuit (exposed for tests and scenario verification).
func (c *Circuit) hasFailedExitTarget(target string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.failedExitTargets[target]
	return ok
}

// allocateStreamID returns a stream id unique within this circuit. Stream
// id 0 is reserved for circuit-level relay commands.
func (c *Circuit) allocateStreamID() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextStreamID++
	if c.nextStreamID == 0 {
		c.nextStreamID = 1
	}
	return c.nextStreamID
}

// openExitStreamMatch implements matchTarget: opens an application stream
// for req on this circuit and, on the circuit's first attached stream,
// marks it dirty and records the isolation key the request carried.
func (c *Circuit) openExitStreamMatch(ctx context.Context, req *StreamExitRequest) (*ExitStream, error) {
	c.mu.Lock()
	if c.IsolationKey == nil && req.Isolation != nil {
		c.IsolationKey = req.Isolation
	}
	c.mu.Unlock()

	streamID := c.allocateStreamID()
	target := req.Target()
	if err := c.OpenStream(streamID, target, uint16(req.Port)); err != nil {
		return nil, fmt.Errorf("opening exit stream to %s:%d: %w", target, req.Port, err)
	}

	if c.status != nil {
		c.status.markDirty()
	}
	if c.mgr != nil {
		c.mgr.circuitDirty(c)
		c.mgr.tracker.notifyEvent(Event{Kind: EventStreamOpened, CircuitID: c.ID, StreamID: streamID})
	}
	c.RecordActivity()

	return &ExitStream{Circuit: c, StreamID: streamID}, nil
}
