package circuit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/go-tor/pkg/connection"
	"github.com/opd-ai/go-tor/pkg/errors"
	"github.com/opd-ai/go-tor/pkg/logger"
	"github.com/opd-ai/go-tor/pkg/metrics"
	"github.com/opd-ai/go-tor/pkg/path"
)

// defaultStreamTimeout bounds how long openExitStreamTo/openDirectoryStream
// wait in the request queue before giving up.
const defaultStreamTimeout = 60 * time.Second

// Manager owns every circuit's lifetime plus the three registry sets that
// drive the build scheduler and request matching:
//
//   - pending: circuits mid-build, not yet usable.
//   - active:  connected circuits not yet destroyed.
//   - clean:   connected circuits that have never carried a user stream.
//
// clean is always a subset of active. circuits retains every circuit from
// creation until it is closed (pending, active, or otherwise) for CloseCircuit/GetCircuit/
// ListCircuits lookups and the context-aware helpers in
// circuit_context.go, which predate the registry-set design and still
// index by plain circuit ID.
type Manager struct {
	circuits map[uint32]*Circuit
	pending  map[uint32]*Circuit
	active   map[uint32]*Circuit
	clean    map[uint32]*Circuit
	nextID   uint32
	mu       sync.RWMutex
	closed   bool

	selector  *path.Selector
	connCache *connection.Cache
	queue     *RequestQueue
	scheduler *Scheduler
	logger    *logger.Logger
	metrics   *metrics.Metrics
	tracker   *InitializationTracker
}

// ManagerConfig wires the collaborators a Manager needs to actually build
// circuits and satisfy stream requests. A Manager constructed via
// NewManager (selector/connCache nil) still supports the pre-existing
// CreateCircuit/GetCircuit/CloseCircuit/ListCircuits/Close surface used by
// callers that manage hops themselves.
type ManagerConfig struct {
	Selector        *path.Selector
	ConnCache       *connection.Cache
	Logger          *logger.Logger
	SchedulerConfig *SchedulerConfig
	// Metrics records circuit build outcomes and timing. Nil disables
	// recording.
	Metrics *metrics.Metrics
}

// NewManager creates a new circuit manager with no build collaborators.
// StartBuildingCircuits and CreateNewCircuit require NewManagerWithConfig.
func NewManager() *Manager {
	return &Manager{
		circuits: make(map[uint32]*Circuit),
		pending:  make(map[uint32]*Circuit),
		active:   make(map[uint32]*Circuit),
		clean:    make(map[uint32]*Circuit),
		nextID:   1, // Circuit ID 0 is reserved
		queue:    NewRequestQueue(nil),
		logger:   logger.NewDefault().Component("circuit-manager"),
		tracker:  NewInitializationTracker(),
	}
}

// Tracker returns the manager's InitializationTracker, letting callers
// subscribe to circuit-built/stream-opened/circuit-closed events instead of
// polling GetCircuit/Status.
func (m *Manager) Tracker() *InitializationTracker {
	return m.tracker
}

// NewManagerWithConfig creates a manager able to build real circuits and
// service exit/directory stream requests against them.
func NewManagerWithConfig(cfg ManagerConfig) *Manager {
	m := NewManager()
	m.selector = cfg.Selector
	m.connCache = cfg.ConnCache
	m.metrics = cfg.Metrics
	if cfg.Logger != nil {
		m.logger = cfg.Logger.Component("circuit-manager")
		m.queue = NewRequestQueue(cfg.Logger)
	}
	m.scheduler = NewScheduler(m, cfg.SchedulerConfig, m.logger)
	return m
}

// CreateCircuit creates a bare circuit and returns it, without building
// any hops. Preserved for callers that drive AddHop/SetState themselves.
func (m *Manager) CreateCircuit() (*Circuit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("manager is closed")
	}

	id, err := m.allocateIDLocked()
	if err != nil {
		return nil, err
	}

	circ := NewCircuit(id)
	circ.mgr = m
	m.circuits[id] = circ
	return circ, nil
}

func (m *Manager) allocateIDLocked() (uint32, error) {
	id := m.nextID
	for {
		if _, exists := m.circuits[id]; !exists {
			break
		}
		id++
		if id == 0 {
			id = 1 // Skip 0
		}
		if id == m.nextID {
			return 0, fmt.Errorf("no available circuit IDs")
		}
	}
	m.nextID = id + 1
	if m.nextID == 0 {
		m.nextID = 1
	}
	return id, nil
}

// GetCircuit returns a circuit by ID
func (m *Manager) GetCircuit(id uint32) (*Circuit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	circ, exists := m.circuits[id]
	if !exists {
		return nil, fmt.Errorf("circuit %d not found", id)
	}
	return circ, nil
}

// CloseCircuit closes a circuit locally: it sends a DESTROY cell to the
// circuit's first hop (tor-spec.txt §5.4), aborts every stream open on it
// with CircuitDestroyed, and removes it from every registry set in one
// lock acquisition.
func (m *Manager) CloseCircuit(id uint32) error {
	m.mu.Lock()
	circ, exists := m.circuits[id]
	m.mu.Unlock()
	if !exists {
		return fmt.Errorf("circuit %d not found", id)
	}

	circ.sendDestroyCell(destroyReasonNone)
	circ.markForClose()
	m.destroyCircuit(circ)
	return nil
}

// destroyCircuit removes c from the flat circuits map and every registry
// set in one lock acquisition. Used both by CloseCircuit (caller-initiated
// teardown) and by a Circuit reacting to an inbound DESTROY cell, so a
// concurrent scheduler tick can never observe c in only some of the sets.
func (m *Manager) destroyCircuit(c *Circuit) {
	m.mu.Lock()
	delete(m.circuits, c.ID)
	delete(m.pending, c.ID)
	delete(m.active, c.ID)
	delete(m.clean, c.ID)
	m.mu.Unlock()
	m.tracker.notifyEvent(Event{Kind: EventCircuitClosed, CircuitID: c.ID})
}

// ListCircuits returns a list of all circuit IDs
func (m *Manager) ListCircuits() []uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]uint32, 0, len(m.circuits))
	for id := range m.circuits {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of circuits the manager tracks (pending, active,
// or otherwise not yet closed)
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.circuits)
}

// Close closes all circuits and shuts down the manager gracefully
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("manager already closed")
	}
	m.closed = true
	circuits := make([]*Circuit, 0, len(m.circuits))
	for _, circ := range m.circuits {
		circuits = append(circuits, circ)
	}
	m.circuits = make(map[uint32]*Circuit)
	m.pending = make(map[uint32]*Circuit)
	m.active = make(map[uint32]*Circuit)
	m.clean = make(map[uint32]*Circuit)
	m.mu.Unlock()

	for _, circ := range circuits {
		circ.sendDestroyCell(destroyReasonNone)
		circ.markForClose()
	}

	if m.scheduler != nil {
		m.scheduler.Stop()
	}
	return nil
}

// IsClosed returns true if the manager has been closed
func (m *Manager) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// --- Registry-set transitions ---
//
// These are invoked by the scheduler and by stream-matching code as a
// circuit's CircuitStatus changes; they never touch CircuitStatus
// themselves, only this Manager's bookkeeping of which set a circuit ID
// belongs to.

// circuitStartConnect records that a circuit has begun building.
func (m *Manager) circuitStartConnect(c *Circuit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.circuits[c.ID] = c
	m.pending[c.ID] = c
}

// circuitConnected moves a circuit from pending into active and clean: it
// is now usable but has not yet carried a user stream.
func (m *Manager) circuitConnected(c *Circuit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, c.ID)
	m.active[c.ID] = c
	m.clean[c.ID] = c
}

// circuitDirty removes a circuit from clean once it has accepted its
// first user stream; it remains active.
func (m *Manager) circuitDirty(c *Circuit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clean, c.ID)
}

// circuitInactive removes a circuit from every registry set (but not from
// the flat circuits map, which retains it for lookup/Close bookkeeping).
func (m *Manager) circuitInactive(c *Circuit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, c.ID)
	delete(m.active, c.ID)
	delete(m.clean, c.ID)
}

// snapshotSets returns copies of the three registry sets for the
// scheduler to inspect without holding the manager lock while it works.
func (m *Manager) snapshotSets() (pending, active, clean []*Circuit) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.pending {
		pending = append(pending, c)
	}
	for _, c := range m.active {
		active = append(active, c)
	}
	for _, c := range m.clean {
		clean = append(clean, c)
	}
	return
}

// matchTargets returns the active circuits as matchTarget, for
// RequestQueue.Match.
func (m *Manager) matchTargets() []matchTarget {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]matchTarget, 0, len(m.active))
	for _, c := range m.active {
		out = append(out, c)
	}
	return out
}

// StartBuildingCircuits starts the background build scheduler (C5), which
// maintains the target clean-circuit count and drains the stream-request
// queue as circuits become available. Calling it more than once, or on a
// manager built with plain NewManager, is a no-op.
func (m *Manager) StartBuildingCircuits(ctx context.Context) {
	if m.scheduler == nil {
		return
	}
	m.scheduler.Start(ctx)
}

// CreateNewCircuit builds a real circuit end-to-end: selects a path,
// dials/reuses a connection to the guard, and performs the CREATE2/
// EXTEND2 handshakes for every hop. isDirectory marks the circuit as a
// one-hop (guard-only) directory circuit rather than a three-hop exit
// circuit.
func (m *Manager) CreateNewCircuit(ctx context.Context, isDirectory bool) (*Circuit, error) {
	start := time.Now()
	circ, err := m.createNewCircuit(ctx, isDirectory)
	if m.metrics != nil {
		m.metrics.RecordCircuitBuild(err == nil, time.Since(start))
		m.metrics.ActiveCircuits.Set(int64(m.Count()))
	}
	return circ, err
}

func (m *Manager) createNewCircuit(ctx context.Context, isDirectory bool) (*Circuit, error) {
	if m.selector == nil || m.connCache == nil {
		return nil, fmt.Errorf("circuit manager has no build collaborators configured")
	}

	targetPort := 443
	p, err := m.selector.SelectPath(targetPort)
	if err != nil {
		return nil, fmt.Errorf("selecting path: %w", err)
	}

	circ, err := m.CreateCircuit()
	if err != nil {
		return nil, err
	}
	circ.SetDirectory(isDirectory)
	circ.Status().setStateBuilding()
	m.circuitStartConnect(circ)

	conn, err := m.connCache.GetConnectionTo(ctx, p.Guard.GetAddress())
	if err != nil {
		circ.Status().setStateFailed()
		m.circuitInactive(circ)
		return nil, errors.ConnectionFail(fmt.Sprintf("dialing guard %s", p.Guard.Fingerprint), err)
	}
	circ.Bind(conn)

	ext := NewExtension(circ, m.logger)
	if err := ext.CreateFirstHop(ctx, p.Guard); err != nil {
		circ.Status().setStateFailed()
		m.circuitInactive(circ)
		return nil, err
	}

	if !isDirectory {
		if err := ext.ExtendCircuit(ctx, p.Middle, false); err != nil {
			circ.Status().setStateFailed()
			m.circuitInactive(circ)
			return nil, err
		}
		if err := ext.ExtendCircuit(ctx, p.Exit, true); err != nil {
			circ.Status().setStateFailed()
			m.circuitInactive(circ)
			return nil, err
		}
		if p.Exit.ExitPolicy != nil {
			circ.SetExitPolicy(p.Exit.ExitPolicy)
		}
	}

	circ.SetState(StateOpen)
	circ.Status().setStateOpen()
	m.circuitConnected(circ)
	m.tracker.notifyEvent(Event{Kind: EventCircuitBuilt, CircuitID: circ.ID})

	return circ, nil
}

// OpenExitStreamTo queues an exit-stream request and blocks until a clean
// or already-active circuit services it, the request times out, or ctx is
// cancelled.
func (m *Manager) OpenExitStreamTo(ctx context.Context, hostname, ipv4 string, port int, isolation *IsolationKey) OpenStreamResponse {
	req := newStreamExitRequest(hostname, ipv4, port, isolation, defaultStreamTimeout)
	m.queue.Enqueue(req)
	m.queue.Match(ctx, m.matchTargets())
	return m.queue.Wait(ctx, req)
}

// ResolveHostname resolves hostname to an address through any currently
// active exit circuit, via RELAY_RESOLVE rather than opening an
// application stream (tor-spec.txt §6.4) — the path a SOCKS4a/SOCKS5
// "resolve" request or a control-port RESOLVE command takes when the
// caller wants an address, not a connection.
func (m *Manager) ResolveHostname(ctx context.Context, hostname string) (*DNSResult, error) {
	m.mu.RLock()
	var circ *Circuit
	for _, c := range m.active {
		if !c.IsDirectory() && c.GetState() == StateOpen {
			circ = c
			break
		}
	}
	m.mu.RUnlock()

	if circ == nil {
		return nil, fmt.Errorf("no active exit circuit available to resolve %s", hostname)
	}
	return circ.ResolveHostname(ctx, hostname)
}

// OpenDirectoryStream builds a dedicated one-hop directory circuit and
// opens a RELAY_BEGIN_DIR stream on it. The circuit build completes before
// the stream open begins, so callers observing both events always see them
// in that order: this call performs them in sequence and only returns
// once both have happened.
func (m *Manager) OpenDirectoryStream(ctx context.Context) OpenStreamResponse {
	circ, err := m.CreateNewCircuit(ctx, true)
	if err != nil {
		return OpenStreamResponse{Status: StreamConnectionFailed, Err: err}
	}

	streamID := circ.allocateStreamID()
	if err := circ.OpenDirectoryStream(streamID); err != nil {
		return OpenStreamResponse{Status: StreamFailed, Err: err}
	}
	circ.Status().markDirty()
	m.circuitDirty(circ)
	circ.RecordActivity()
	m.tracker.notifyEvent(Event{Kind: EventStreamOpened, CircuitID: circ.ID, StreamID: streamID})

	return OpenStreamResponse{Status: StreamOpened, Stream: &ExitStream{Circuit: circ, StreamID: streamID}}
}
