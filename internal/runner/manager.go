package runner

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/sightline-hq/sightline/internal/processor"
)

// Manager owns the live runners, one per run id at most. It is the
// in-process answer to the "two tabs hit start" problem: a second start for
// the same run is rejected with ErrRunActive while a pass is executing.
// Cross-process exclusion is deliberately out of scope; deployments run a
// single instance.
type Manager struct {
	store    Store
	proc     processor.Processor
	newPacer func() Pacer
	logger   *slog.Logger
	maxLog   int

	mu     sync.Mutex
	active map[uuid.UUID]*Runner
	last   map[uuid.UUID]*Runner // most recent runner per run, for progress after a pass ends
	wg     sync.WaitGroup
}

// NewManager creates a Manager. newPacer is called once per pass so pacers
// with internal state (token buckets) are not shared across runs.
func NewManager(store Store, proc processor.Processor, newPacer func() Pacer, logger *slog.Logger, maxLog int) *Manager {
	return &Manager{
		store:    store,
		proc:     proc,
		newPacer: newPacer,
		logger:   logger,
		maxLog:   maxLog,
		active:   make(map[uuid.UUID]*Runner),
		last:     make(map[uuid.UUID]*Runner),
	}
}

// Start launches a processing pass for the run in the background. Returns
// ErrRunActive if a pass for this run is already executing.
func (m *Manager) Start(ctx context.Context, orgID, appID, runID uuid.UUID, opts Options) (*Runner, error) {
	m.mu.Lock()
	if _, ok := m.active[runID]; ok {
		m.mu.Unlock()
		return nil, ErrRunActive
	}
	r := New(m.store, m.proc, m.newPacer(), m.logger, orgID, appID, runID, m.maxLog)
	m.active[runID] = r
	m.last[runID] = r
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.active, runID)
			m.mu.Unlock()
		}()
		if err := r.Start(ctx, opts); err != nil {
			m.logger.Warn("processing pass failed", "run_id", runID, "error", err)
		}
	}()
	return r, nil
}

// Stop requests a cooperative stop for the run's active pass. Returns false
// when no pass is executing.
func (m *Manager) Stop(runID uuid.UUID) bool {
	m.mu.Lock()
	r, ok := m.active[runID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	r.RequestStop()
	return true
}

// Runner returns the most recent runner for the run, if any. The runner may
// have finished; callers combine its snapshot with the persisted run record.
func (m *Manager) Runner(runID uuid.UUID) (*Runner, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.last[runID]
	return r, ok
}

// Shutdown requests a stop on every active pass and waits for them to
// finish, or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	for _, r := range m.active {
		r.RequestStop()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
