package circuit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opd-ai/go-tor/pkg/errors"
	"github.com/opd-ai/go-tor/pkg/logger"
	"github.com/opd-ai/go-tor/pkg/randsrc"
)

// OpenStreamStatus reports the outcome of a stream-open request.
type OpenStreamStatus int

const (
	// StreamOpened indicates the exit stream completed successfully.
	StreamOpened OpenStreamStatus = iota
	// StreamTimedOut indicates the request's deadline elapsed unmatched.
	StreamTimedOut
	// StreamFailed indicates a circuit accepted the request but the stream
	// open itself failed.
	StreamFailed
	// StreamConnectionFailed indicates no circuit could be reached at all.
	StreamConnectionFailed
	// StreamCancelled indicates the caller's context was cancelled while
	// the request was still queued.
	StreamCancelled
)

// OpenStreamResponse is the result handed back to the caller of
// openExitStreamTo/openDirectoryStream.
type OpenStreamResponse struct {
	Status  OpenStreamStatus
	Stream  *ExitStream
	Err     error
}

// ExitStream is a minimal handle to an opened relay stream, enough for a
// caller to read/write application bytes through the owning circuit.
type ExitStream struct {
	Circuit  *Circuit
	StreamID uint16
}

// StreamExitRequest is a pending caller request, queued until a clean
// circuit whose last hop admits the target is found.
type StreamExitRequest struct {
	ID       string
	Hostname string // set when the target is a name rather than an IPv4 literal
	IPv4     string
	Port     int
	Isolation *IsolationKey

	createdAt time.Time
	deadline  time.Time

	mu        sync.Mutex
	completed bool
	response  OpenStreamResponse
	done      chan struct{}
}

// Target returns the address this request resolves to for exit-policy
// checks: the hostname if one was given, otherwise the IPv4 literal.
func (r *StreamExitRequest) Target() string {
	if r.Hostname != "" {
		return r.Hostname
	}
	return r.IPv4
}

func newStreamExitRequest(hostname, ipv4 string, port int, isolation *IsolationKey, timeout time.Duration) *StreamExitRequest {
	now := time.Now()
	return &StreamExitRequest{
		ID:        uuid.NewString(),
		Hostname:  hostname,
		IPv4:      ipv4,
		Port:      port,
		Isolation: isolation,
		createdAt: now,
		deadline:  now.Add(timeout),
		done:      make(chan struct{}),
	}
}

// complete marks the request done exactly once; subsequent calls are no-ops
// so a race between a late match and a timeout can't double-complete it.
func (r *StreamExitRequest) complete(resp OpenStreamResponse) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.completed {
		return false
	}
	r.completed = true
	r.response = resp
	close(r.done)
	return true
}

func (r *StreamExitRequest) isCompleted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed
}

// RequestQueue is the shared FIFO of pending StreamExitRequests (C6).
// Matching against circuits is driven externally (by the scheduler or a
// circuit transition) via Match; RequestQueue itself only owns enqueue,
// dequeue-on-completion, and randomized-order iteration support.
type RequestQueue struct {
	mu      sync.Mutex
	pending []*StreamExitRequest
	rng     *randsrc.Source
	logger  *logger.Logger
}

// NewRequestQueue constructs an empty request queue.
func NewRequestQueue(log *logger.Logger) *RequestQueue {
	if log == nil {
		log = logger.NewDefault()
	}
	return &RequestQueue{
		rng:    randsrc.New(),
		logger: log.Component("requestqueue"),
	}
}

// Enqueue adds req to the pending queue.
func (q *RequestQueue) Enqueue(req *StreamExitRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, req)
}

// remove drops req from the pending slice, if present.
func (q *RequestQueue) remove(req *StreamExitRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, r := range q.pending {
		if r == req {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

// Pending returns a snapshot of the currently queued requests.
func (q *RequestQueue) Pending() []*StreamExitRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*StreamExitRequest, len(q.pending))
	copy(out, q.pending)
	return out
}

// Len reports the number of requests currently queued.
func (q *RequestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Wait blocks the caller until req completes, its deadline passes, or ctx
// is cancelled, removing it from the queue in every case
// §5 Cancellation).
func (q *RequestQueue) Wait(ctx context.Context, req *StreamExitRequest) OpenStreamResponse {
	deadline := time.Until(req.deadline)
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case <-req.done:
		return req.response
	case <-timer.C:
		if req.complete(OpenStreamResponse{Status: StreamTimedOut, Err: errors.StreamTimeout("request queue deadline exceeded")}) {
			q.remove(req)
		}
		return req.response
	case <-ctx.Done():
		if req.complete(OpenStreamResponse{Status: StreamCancelled, Err: errors.Interrupted("caller cancelled")}) {
			q.remove(req)
		}
		return req.response
	}
}

// matchTarget is the subset of Circuit that matching needs, kept as an
// interface so tests can substitute fakes without a live handshake.
type matchTarget interface {
	canHandleExitTo(target string, port int, isolation *IsolationKey) bool
	openExitStreamMatch(ctx context.Context, req *StreamExitRequest) (*ExitStream, error)
	recordFailedExitTarget(target string)
}

// Match attempts to pair every still-pending request with one of
// circuits, visited in a randomized order per request so repeated matches
// don't pin all streams for a destination pattern onto one circuit
// to avoid leaking which circuit served which stream. A request completed
// by a match is removed from the queue by matchOne.
func (q *RequestQueue) Match(ctx context.Context, circuits []matchTarget) {
	for _, req := range q.Pending() {
		if req.isCompleted() {
			continue
		}
		q.matchOne(ctx, req, circuits)
	}
}

func (q *RequestQueue) matchOne(ctx context.Context, req *StreamExitRequest, circuits []matchTarget) {
	order := q.rng.ShuffleIndices(len(circuits))
	target := req.Target()

	for _, idx := range order {
		c := circuits[idx]
		if !c.canHandleExitTo(target, req.Port, req.Isolation) {
			continue
		}

		stream, err := c.openExitStreamMatch(ctx, req)
		if err != nil {
			c.recordFailedExitTarget(target)
			continue
		}

		if req.complete(OpenStreamResponse{Status: StreamOpened, Stream: stream}) {
			q.remove(req)
		}
		return
	}
}
