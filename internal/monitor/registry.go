package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iahmadwaqar/ticket-scout-sub002/api/schemas"
	"github.com/iahmadwaqar/ticket-scout-sub002/internal/config"
)

var (
	// ErrAlreadyRunning means Start was called for a profile whose loop has
	// not finished yet.
	ErrAlreadyRunning = errors.New("profile loop already running")
	// ErrUnknownProfile means the registry has no entry for the profile id.
	ErrUnknownProfile = errors.New("unknown profile")
)

// Registry owns every running profile loop: one goroutine and one cancel
// function per profile. Entries outlive their loops so terminal states stay
// visible until the profile is started again.
type Registry struct {
	logger *zap.Logger
	cfg    config.EngineConfig
	netCfg config.NetworkConfig

	mu    sync.Mutex
	loops map[string]*runningLoop
	wg    sync.WaitGroup
}

type runningLoop struct {
	loop   *Loop
	cancel context.CancelFunc
	done   chan struct{}
}

func (r *runningLoop) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// NewRegistry builds an empty registry.
func NewRegistry(logger *zap.Logger, cfg config.EngineConfig, netCfg config.NetworkConfig) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger: logger.Named("registry"),
		cfg:    cfg,
		netCfg: netCfg,
		loops:  make(map[string]*runningLoop),
	}
}

// Start validates the profile and launches its monitoring loop. Restarting a
// profile whose loop has finished replaces the old entry; starting one that
// is still running fails with ErrAlreadyRunning.
func (r *Registry) Start(ctx context.Context, profile schemas.ProfileConfig, deps LoopDeps) error {
	if err := profile.Validate(); err != nil {
		return fmt.Errorf("cannot start profile: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.loops[profile.ProfileID]; ok && !existing.finished() {
		return fmt.Errorf("profile %s: %w", profile.ProfileID, ErrAlreadyRunning)
	}

	loop := NewLoop(r.logger, r.cfg, r.netCfg, profile, deps)
	runCtx, cancel := context.WithCancel(ctx)
	entry := &runningLoop{
		loop:   loop,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.loops[profile.ProfileID] = entry

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(entry.done)
		defer cancel()
		loop.Run(runCtx)
	}()

	r.logger.Info("Profile loop started", zap.String("profile_id", profile.ProfileID))
	return nil
}

// Stop cancels one profile's loop and waits up to the grace period for it to
// wind down. The entry stays registered with its final state.
func (r *Registry) Stop(profileID string) error {
	r.mu.Lock()
	entry, ok := r.loops[profileID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("profile %s: %w", profileID, ErrUnknownProfile)
	}

	entry.cancel()
	if !r.awaitDone(entry.done) {
		r.logger.Warn("Profile loop did not stop within the grace period",
			zap.String("profile_id", profileID))
		return nil
	}
	r.logger.Info("Profile loop stopped", zap.String("profile_id", profileID))
	return nil
}

// StopAll cancels every loop and waits up to the grace period for all of them.
func (r *Registry) StopAll() {
	r.mu.Lock()
	for _, entry := range r.loops {
		entry.cancel()
	}
	r.mu.Unlock()

	all := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(all)
	}()
	if !r.awaitDone(all) {
		r.logger.Warn("Some profile loops did not stop within the grace period")
		return
	}
	r.logger.Info("All profile loops stopped")
}

// Get returns the run-state snapshot for one profile.
func (r *Registry) Get(profileID string) (schemas.RunState, bool) {
	r.mu.Lock()
	entry, ok := r.loops[profileID]
	r.mu.Unlock()
	if !ok {
		return schemas.RunState{}, false
	}
	return entry.loop.Snapshot(), true
}

// List returns every registered profile's run state, ordered by profile id.
func (r *Registry) List() []schemas.RunState {
	r.mu.Lock()
	states := make([]schemas.RunState, 0, len(r.loops))
	for _, entry := range r.loops {
		states = append(states, entry.loop.Snapshot())
	}
	r.mu.Unlock()

	sort.Slice(states, func(i, j int) bool { return states[i].ProfileID < states[j].ProfileID })
	return states
}

// Running counts loops that have not finished.
func (r *Registry) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, entry := range r.loops {
		if !entry.finished() {
			n++
		}
	}
	return n
}

func (r *Registry) awaitDone(done <-chan struct{}) bool {
	grace := r.cfg.StopGracePeriod
	if grace <= 0 {
		grace = 5 * time.Second
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
