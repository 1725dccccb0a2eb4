package circuit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/go-tor/pkg/logger"
)

// SchedulerConfig tunes the build scheduler's tick rate, target clean
// circuit count, and upkeep deadlines.
type SchedulerConfig struct {
	// TickInterval is how often the scheduler re-evaluates registries and
	// the pending-request queue. Design default: 1 second.
	TickInterval time.Duration
	// TargetCleanCircuits is the floor of general-purpose clean circuits
	// the scheduler tries to maintain at all times.
	TargetCleanCircuits int
	// MaxPendingBuilds caps how many circuits may be concurrently mid-build.
	MaxPendingBuilds int
	// MaxDirtyAge closes a circuit once it has been dirty this long.
	MaxDirtyAge time.Duration
	// MaxBuildAge closes a circuit whose build has exceeded this duration
	// without reaching OPEN.
	MaxBuildAge time.Duration
}

// DefaultSchedulerConfig returns the scheduler's baseline tuning defaults.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		TickInterval:        1 * time.Second,
		TargetCleanCircuits: 3,
		MaxPendingBuilds:    4,
		MaxDirtyAge:         10 * time.Minute,
		MaxBuildAge:         60 * time.Second,
	}
}

// Scheduler is the build scheduler (C5): a single periodic task that keeps
// the manager's clean-circuit count at its target, retires stale circuits,
// and runs one match pass over the request queue at the end of each tick,
// after that tick's builds. It builds only to cover the clean-circuit
// shortfall; it does not build extra circuits for pending exit ports that
// no clean circuit admits.
type Scheduler struct {
	manager *Manager
	cfg     *SchedulerConfig
	logger  *logger.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewScheduler constructs a scheduler bound to manager. cfg may be nil to
// use DefaultSchedulerConfig.
func NewScheduler(manager *Manager, cfg *SchedulerConfig, log *logger.Logger) *Scheduler {
	if cfg == nil {
		cfg = DefaultSchedulerConfig()
	}
	if log == nil {
		log = logger.NewDefault()
	}
	return &Scheduler{
		manager: manager,
		cfg:     cfg,
		logger:  log.Component("scheduler"),
	}
}

// Start begins the periodic tick loop in a background goroutine. A second
// call while already running is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.run(runCtx)
}

// Stop ends the tick loop and waits for the in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	<-done
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick performs one scheduling pass.
func (s *Scheduler) tick(ctx context.Context) {
	pending, active, clean := s.manager.snapshotSets()

	s.upkeep(pending, active)

	need := s.circuitsNeeded(pending, clean)
	if need > 0 {
		s.buildBatch(ctx, need)
	}

	s.manager.queue.Match(ctx, s.manager.matchTargets())
}

// circuitsNeeded determines how many new circuit builds to start this
// tick: the shortfall against TargetCleanCircuits, accounting for builds
// already in flight, bounded by MaxPendingBuilds.
func (s *Scheduler) circuitsNeeded(pending, clean []*Circuit) int {
	have := len(clean) + len(pending)
	need := s.cfg.TargetCleanCircuits - have
	if need <= 0 {
		return 0
	}
	room := s.cfg.MaxPendingBuilds - len(pending)
	if room <= 0 {
		return 0
	}
	if need > room {
		need = room
	}
	return need
}

// buildBatch launches n circuit builds concurrently via errgroup, logging
// the first error but never failing the tick: a build failure just means
// fewer clean circuits are available next tick.
func (s *Scheduler) buildBatch(ctx context.Context, n int) {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			buildCtx, cancel := context.WithTimeout(gctx, s.cfg.MaxBuildAge)
			defer cancel()
			_, err := s.manager.CreateNewCircuit(buildCtx, false)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Warn("Circuit build failed", "error", err)
	}
}

// upkeep closes circuits that have been dirty too long or whose build has
// run past its deadline. Dirty age is checked against active (not clean):
// a circuit leaves clean the moment it picks up its first stream, so
// clean can never hold a dirty circuit and checking it here would make
// this retirement path dead code on the real tick() call path.
func (s *Scheduler) upkeep(pending, active []*Circuit) {
	for _, c := range pending {
		if c.Status().millisecondsSinceCreation() > s.cfg.MaxBuildAge.Milliseconds() {
			s.logger.Debug("Closing circuit stuck building", "circuit_id", c.ID)
			c.Status().setStateFailed()
			s.manager.circuitInactive(c)
			_ = s.manager.CloseCircuit(c.ID)
		}
	}
	for _, c := range active {
		if ms := c.Status().millisecondsDirty(); ms > 0 && ms > s.cfg.MaxDirtyAge.Milliseconds() {
			s.logger.Debug("Closing circuit dirty too long", "circuit_id", c.ID)
			s.manager.circuitInactive(c)
			_ = s.manager.CloseCircuit(c.ID)
		}
	}
}
