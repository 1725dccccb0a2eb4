package circuit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/go-tor/pkg/cell"
	"github.com/opd-ai/go-tor/pkg/errors"
)

// StreamState is a stream's position in its circuit's stream table.
type StreamState int

const (
	// StreamOpening indicates a RELAY_BEGIN/RELAY_BEGIN_DIR has been sent
	// but no RELAY_CONNECTED/RELAY_END has arrived yet.
	StreamOpening StreamState = iota
	// StreamOpen indicates the exit accepted the stream.
	StreamOpen
	// StreamClosed is terminal: RELAY_END arrived, the circuit was
	// destroyed, or the caller tore the stream down locally.
	StreamClosed
)

// String renders the state for logging.
func (s StreamState) String() string {
	switch s {
	case StreamOpening:
		return "OPENING"
	case StreamOpen:
		return "OPEN"
	case StreamClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Per-stream flow control window, the tor-spec.txt §7.4 end-to-end analogue
// of the circuit-level windows in circuit.go: a stream starts with 500 and
// the far end grants another 50 with every stream-level SENDME.
const (
	streamWindowStart     = 500
	streamWindowIncrement = 50
)

// Stream is one entry in a circuit's stream table: createNewStream inserts
// one per RELAY_BEGIN/RELAY_BEGIN_DIR, and DeliverRelayCell routes every
// relay cell whose StreamID matches to its recvChan instead of funneling
// every stream on the circuit into one shared channel.
type Stream struct {
	ID uint16

	mu            sync.Mutex
	state         StreamState
	recvChan      chan *cell.RelayCell
	packageWindow int
	deliverWindow int
	deliverCount  int
	closed        bool
	createdAt     time.Time
}

func newStream(id uint16) *Stream {
	return &Stream{
		ID:            id,
		state:         StreamOpening,
		recvChan:      make(chan *cell.RelayCell, 32),
		packageWindow: streamWindowStart,
		deliverWindow: streamWindowStart,
		createdAt:     time.Now(),
	}
}

// State returns the stream's current state.
func (s *Stream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Stream) setState(st StreamState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// deliver routes a decoded relay cell addressed to this stream into its
// receive buffer, applying stream-level flow control (tor-spec.txt §7.4)
// for DATA cells and consuming (rather than forwarding) stream-level
// SENDME cells. Every other cell is pushed to recvChan here. Returns nil
// once the cell is queued or consumed, or an error if the stream is closed,
// its deliver window is exhausted, or recvChan stays full for 100ms.
func (s *Stream) deliver(rc *cell.RelayCell) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("stream %d is closed", s.ID)
	}

	switch rc.Command {
	case cell.RelaySendme:
		s.packageWindow += streamWindowIncrement
		s.mu.Unlock()
		return nil
	case cell.RelayData:
		if s.deliverWindow <= 0 {
			s.mu.Unlock()
			return fmt.Errorf("stream %d deliver window exhausted", s.ID)
		}
		s.deliverWindow--
		s.deliverCount++
	case cell.RelayConnected:
		s.state = StreamOpen
	case cell.RelayEnd:
		s.state = StreamClosed
	}
	s.mu.Unlock()

	select {
	case s.recvChan <- rc:
		return nil
	case <-time.After(100 * time.Millisecond):
		return fmt.Errorf("stream %d receive buffer full or blocked", s.ID)
	}
}

// receive blocks for the next relay cell addressed to this stream, until
// ctx is cancelled (returning ctx.Err()), or until the stream is closed out
// from under the caller (closeStream or circuit destruction), in which case
// it returns a CircuitDestroyed error so callers can distinguish local
// cancellation from the stream actually ending. A RELAY_END from the far
// end is returned as an ordinary cell.
func (s *Stream) receive(ctx context.Context) (*cell.RelayCell, error) {
	select {
	case rc, ok := <-s.recvChan:
		if !ok {
			return nil, errors.CircuitDestroyed(fmt.Sprintf("stream %d closed", s.ID))
		}
		return rc, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// close marks the stream closed and unblocks any receive() waiter. Safe to
// call more than once.
func (s *Stream) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.state = StreamClosed
	s.mu.Unlock()
	close(s.recvChan)
}

// --- Circuit's stream table ---

// createNewStream inserts a new OPENING stream into this circuit's stream
// table. Callers must do this before sending RELAY_BEGIN/RELAY_BEGIN_DIR so
// the response has a table entry to land in.
func (c *Circuit) createNewStream(streamID uint16) *Stream {
	s := newStream(streamID)
	c.streamsMu.Lock()
	c.streams[streamID] = s
	c.streamsMu.Unlock()
	return s
}

// getStream looks up a stream by id, returning nil if none is open.
func (c *Circuit) getStream(streamID uint16) *Stream {
	c.streamsMu.Lock()
	defer c.streamsMu.Unlock()
	return c.streams[streamID]
}

// closeStream removes a stream from the table and unblocks its reader.
func (c *Circuit) closeStream(streamID uint16) {
	c.streamsMu.Lock()
	s, ok := c.streams[streamID]
	delete(c.streams, streamID)
	c.streamsMu.Unlock()
	if ok {
		s.close()
	}
}

// destroyAllStreams closes every stream on the circuit, used when a DESTROY
// cell arrives or the manager tears the circuit down: every caller blocked
// in receive()/ReadFromStream unblocks with CircuitDestroyed.
func (c *Circuit) destroyAllStreams() {
	c.streamsMu.Lock()
	streams := make([]*Stream, 0, len(c.streams))
	for id, s := range c.streams {
		streams = append(streams, s)
		delete(c.streams, id)
	}
	c.streamsMu.Unlock()
	for _, s := range streams {
		s.close()
	}
}

// streamCount reports how many streams are currently open on this circuit.
func (c *Circuit) streamCount() int {
	c.streamsMu.Lock()
	defer c.streamsMu.Unlock()
	return len(c.streams)
}
