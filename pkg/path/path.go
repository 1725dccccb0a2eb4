// Package path provides path selection algorithms for Tor circuits.
// This package implements guard, middle, and exit node selection.
package path

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"

	"github.com/opd-ai/go-tor/pkg/directory"
	"github.com/opd-ai/go-tor/pkg/logger"
)

// Path is a selected guard/middle/exit triple ready for circuit building.
type Path struct {
	Guard  *directory.Relay
	Middle *directory.Relay
	Exit   *directory.Relay
}

// DirectoryClient is the subset of directory.Client the selector needs,
// kept as an interface so tests can substitute a fixed relay set.
type DirectoryClient interface {
	FetchConsensus(ctx context.Context) ([]*directory.Relay, error)
}

// Selector chooses guard/middle/exit relays for new circuits from the
// latest fetched consensus, observing the diversity rule that no two hops
// in a path may be the same relay.
type Selector struct {
	dirClient DirectoryClient
	logger    *logger.Logger

	mu       sync.RWMutex
	relays   []*directory.Relay
	guards   []*directory.Relay
	guardMgr *GuardManager
}

// SetGuardManager wires persisted guard selection/rotation into the
// selector. When set, selectGuard prefers a confirmed persisted guard that
// is still present in the current consensus over a fresh random pick.
func (s *Selector) SetGuardManager(gm *GuardManager) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guardMgr = gm
}

// NewSelector creates a path selector backed by dirClient.
func NewSelector(dirClient DirectoryClient, log *logger.Logger) *Selector {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Selector{
		dirClient: dirClient,
		logger:    log.Component("path"),
	}
}

// UpdateConsensus refreshes the relay and guard pools from the directory
// client. Should be called periodically by whatever owns the selector.
func (s *Selector) UpdateConsensus(ctx context.Context) error {
	relays, err := s.dirClient.FetchConsensus(ctx)
	if err != nil {
		return fmt.Errorf("fetching consensus: %w", err)
	}

	valid := make([]*directory.Relay, 0, len(relays))
	guards := make([]*directory.Relay, 0, len(relays))
	for _, r := range relays {
		if !r.IsRunning() || !r.IsValid() {
			continue
		}
		valid = append(valid, r)
		if r.IsGuard() {
			guards = append(guards, r)
		}
	}

	s.mu.Lock()
	s.relays = valid
	s.guards = guards
	s.mu.Unlock()

	s.logger.Info("Consensus updated", "relays", len(valid), "guards", len(guards))
	return nil
}

// SelectPath picks a guard/middle/exit triple able to exit to targetPort.
func (s *Selector) SelectPath(targetPort int) (*Path, error) {
	guard, err := s.selectGuard()
	if err != nil {
		return nil, err
	}

	exit, err := s.selectExit(targetPort, guard)
	if err != nil {
		return nil, err
	}

	middle, err := s.selectMiddle(guard, exit)
	if err != nil {
		return nil, err
	}

	return &Path{Guard: guard, Middle: middle, Exit: exit}, nil
}

func (s *Selector) selectGuard() (*directory.Relay, error) {
	s.mu.RLock()
	guards := s.guards
	guardMgr := s.guardMgr
	s.mu.RUnlock()

	if len(guards) == 0 {
		return nil, fmt.Errorf("no guard relays available")
	}

	if guardMgr != nil {
		for _, persisted := range guardMgr.GetGuards() {
			if !persisted.Confirmed {
				continue
			}
			for _, r := range guards {
				if r.Fingerprint == persisted.Fingerprint {
					return r, nil
				}
			}
		}
	}

	idx, err := randomIndex(len(guards))
	if err != nil {
		return nil, err
	}
	chosen := guards[idx]
	if guardMgr != nil {
		if err := guardMgr.AddGuard(chosen); err != nil {
			s.logger.Warn("Failed to persist new guard", "error", err)
		}
	}
	return chosen, nil
}

// selectExit picks a relay flagged Exit, distinct from guard, whose
// exit policy (when known) allows targetPort.
func (s *Selector) selectExit(targetPort int, guard *directory.Relay) (*directory.Relay, error) {
	s.mu.RLock()
	relays := s.relays
	s.mu.RUnlock()

	candidates := make([]*directory.Relay, 0, len(relays))
	for _, r := range relays {
		if !r.IsExit() || r.Fingerprint == guard.Fingerprint {
			continue
		}
		if r.ExitPolicy != nil && !r.ExitPolicy.Allows(targetPort) {
			continue
		}
		candidates = append(candidates, r)
	}

	if len(candidates) == 0 {
		return nil, fmt.Errorf("no exit relay available for port %d", targetPort)
	}

	idx, err := randomIndex(len(candidates))
	if err != nil {
		return nil, err
	}
	return candidates[idx], nil
}

// selectMiddle picks any relay distinct from guard and exit.
func (s *Selector) selectMiddle(guard, exit *directory.Relay) (*directory.Relay, error) {
	s.mu.RLock()
	relays := s.relays
	s.mu.RUnlock()

	candidates := make([]*directory.Relay, 0, len(relays))
	for _, r := range relays {
		if r.Fingerprint == guard.Fingerprint || r.Fingerprint == exit.Fingerprint {
			continue
		}
		candidates = append(candidates, r)
	}

	if len(candidates) == 0 {
		return nil, fmt.Errorf("no middle relay candidates available")
	}

	idx, err := randomIndex(len(candidates))
	if err != nil {
		return nil, err
	}
	return candidates[idx], nil
}

// randomIndex returns an unbiased random index in [0, n) using rejection
// sampling over crypto/rand, rather than a modulus that would bias toward
// lower indices when n doesn't divide the RNG's range evenly.
func randomIndex(n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("randomIndex: n must be positive, got %d", n)
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("randomIndex: %w", err)
	}
	return int(v.Int64()), nil
}
