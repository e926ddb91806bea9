// Package runner drives one audit run's pending queries through the remote
// processor, one at a time.
//
// Scheduling is single-threaded and cooperative: the loop suspends only at
// the processor call and at the inter-item pacer wait, and a stop request
// takes effect at the next iteration boundary (an in-flight call finishes).
// One bad query never aborts the batch; failures are counted, recorded on
// the item, and the loop moves on.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/sightline-hq/sightline/internal/model"
	"github.com/sightline-hq/sightline/internal/processor"
)

var (
	// ErrNoQuerySource is returned when a run has no queries and the start
	// request supplied neither prebuilt queries nor templates. Terminal for
	// the run: its status becomes error.
	ErrNoQuerySource = errors.New("runner: no queries and no generation source")

	// ErrRunActive is returned when a pass is already executing for the run.
	ErrRunActive = errors.New("runner: run already has an active pass")
)

// pauseWriteTimeout bounds the best-effort paused-status write issued after
// the loop's own context is gone.
const pauseWriteTimeout = 5 * time.Second

var (
	meter             = otel.Meter("sightline/runner")
	itemsProcessed, _ = meter.Int64Counter("sightline.runner.items_processed",
		metric.WithDescription("Audit queries processed, by outcome."))
	runsFinished, _ = meter.Int64Counter("sightline.runner.runs_finished",
		metric.WithDescription("Processing passes finished, by terminal status."))
)

// Store is the slice of the storage layer the runner needs. *storage.DB
// satisfies it; tests substitute an in-memory fake.
type Store interface {
	GetRun(ctx context.Context, orgID, id uuid.UUID) (model.AuditRun, error)
	MarkRunRunning(ctx context.Context, orgID, id uuid.UUID) error
	MarkRunCompleted(ctx context.Context, orgID, id uuid.UUID) error
	MarkRunPaused(ctx context.Context, orgID, id uuid.UUID) error
	MarkRunError(ctx context.Context, orgID, id uuid.UUID) error
	SetRunQueriesGenerated(ctx context.Context, orgID, id uuid.UUID, total int) error
	IncrementRunCompleted(ctx context.Context, orgID, id uuid.UUID) error
	InsertQueries(ctx context.Context, queries []model.AuditQuery) (int64, error)
	PendingQueries(ctx context.Context, orgID, runID uuid.UUID) ([]model.AuditQuery, error)
	MarkQueryCompleted(ctx context.Context, orgID, id uuid.UUID) error
	MarkQueryError(ctx context.Context, orgID, id uuid.UUID, message string) error
}

// Options carries the optional generation sources for a start request.
// Prebuilt queries win over templates; both empty means the run must
// already have queries.
type Options struct {
	Queries   []model.PrebuiltQuery
	Templates []model.QueryTemplate
}

// Runner executes processing passes for a single audit run.
type Runner struct {
	store    Store
	proc     processor.Processor
	pacer    Pacer
	logger   *slog.Logger
	progress *Progress

	orgID uuid.UUID
	runID uuid.UUID
	appID uuid.UUID

	stop    atomic.Bool
	running atomic.Bool
}

// New creates a Runner for one run. maxLog bounds the progress trace ring.
func New(store Store, proc processor.Processor, pacer Pacer, logger *slog.Logger, orgID, appID, runID uuid.UUID, maxLog int) *Runner {
	return &Runner{
		store:    store,
		proc:     proc,
		pacer:    pacer,
		logger:   logger.With("run_id", runID, "org_id", orgID),
		progress: NewProgress(maxLog),
		orgID:    orgID,
		runID:    runID,
		appID:    appID,
	}
}

// Progress returns the live progress view for this runner.
func (r *Runner) Progress() *Progress { return r.progress }

// IsRunning reports whether a pass is currently executing.
func (r *Runner) IsRunning() bool { return r.running.Load() }

// RequestStop asks the current pass to stop at the next iteration boundary.
// Non-blocking; the in-flight processor call is allowed to finish.
func (r *Runner) RequestStop() {
	r.stop.Store(true)
}

// Start executes one processing pass: generate queries if the run has none,
// fetch the still-pending items, and process them in order. A paused run is
// resumed by calling Start again; only pending items are re-fetched.
//
// Only setup failures (generation, fetch, status writes) propagate to the
// caller; per-item failures are absorbed into the failed counter.
func (r *Runner) Start(ctx context.Context, opts Options) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrRunActive
	}
	defer r.running.Store(false)
	r.stop.Store(false)

	run, err := r.store.GetRun(ctx, r.orgID, r.runID)
	if err != nil {
		return fmt.Errorf("runner: load run: %w", err)
	}

	if run.TotalQueries == 0 {
		n, err := r.generate(ctx, opts)
		if err != nil {
			r.markError(ctx)
			return err
		}
		r.progress.Logf("generated %d queries", n)
	}

	items, err := r.store.PendingQueries(ctx, r.orgID, r.runID)
	if err != nil {
		r.markError(ctx)
		return fmt.Errorf("runner: fetch pending queries: %w", err)
	}
	if len(items) == 0 {
		// Already-drained run: idempotent no-op.
		r.logger.Info("no pending queries, nothing to do")
		r.progress.Logf("no pending queries")
		return nil
	}

	r.progress.reset(len(items))
	if err := r.store.MarkRunRunning(ctx, r.orgID, r.runID); err != nil {
		r.markError(ctx)
		return fmt.Errorf("runner: mark run running: %w", err)
	}
	r.logger.Info("processing pass started", "pending", len(items))
	r.progress.Logf("processing %d queries", len(items))

	for i, item := range items {
		if r.stop.Load() {
			return r.pause(ctx)
		}

		r.processItem(ctx, item)
		r.progress.advance()

		if i == len(items)-1 || r.stop.Load() {
			continue
		}
		if err := r.pacer.Wait(ctx); err != nil {
			// Context cancellation behaves like a stop request: the run
			// stays resumable.
			r.pauseBestEffort()
			return fmt.Errorf("runner: pacing interrupted: %w", err)
		}
	}

	if r.stop.Load() {
		return r.pause(ctx)
	}

	if err := r.store.MarkRunCompleted(ctx, r.orgID, r.runID); err != nil {
		r.markError(ctx)
		return fmt.Errorf("runner: mark run completed: %w", err)
	}
	snap := r.progress.Snapshot()
	r.logger.Info("processing pass completed", "completed", snap.Completed, "failed", snap.Failed)
	r.progress.Logf("run completed: %d ok, %d failed", snap.Completed, snap.Failed)
	runsFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "completed")))
	return nil
}

// processItem invokes the processor for one item and records the outcome.
// It never returns an error: failures are absorbed so the loop's counter
// updates run unconditionally.
func (r *Runner) processItem(ctx context.Context, item model.AuditQuery) {
	result, err := r.proc.Process(ctx, processor.Request{
		QueryID:        item.ID,
		QueryText:      item.Text,
		AuditRunID:     r.runID,
		OrganizationID: r.orgID,
		AppID:          r.appID,
	})
	if err != nil {
		r.progress.failure()
		r.progress.Logf("query failed: %s: %v", truncate(item.Text, 60), err)
		itemsProcessed.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "error")))
		// Best-effort: a failure to persist the item's error status is
		// logged but must not abort the run.
		if uerr := r.store.MarkQueryError(ctx, r.orgID, item.ID, err.Error()); uerr != nil {
			r.logger.Warn("persist query error status failed", "query_id", item.ID, "error", uerr)
		}
		return
	}

	r.progress.success()
	if result.Mentioned {
		r.progress.Logf("query ok (mentioned): %s", truncate(item.Text, 60))
	} else {
		r.progress.Logf("query ok: %s", truncate(item.Text, 60))
	}
	itemsProcessed.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "ok")))

	if uerr := r.store.MarkQueryCompleted(ctx, r.orgID, item.ID); uerr != nil {
		r.logger.Warn("persist query completed status failed", "query_id", item.ID, "error", uerr)
	}
	if uerr := r.store.IncrementRunCompleted(ctx, r.orgID, r.runID); uerr != nil {
		r.logger.Warn("increment run counter failed", "error", uerr)
	}
}

func (r *Runner) pause(ctx context.Context) error {
	if err := r.store.MarkRunPaused(ctx, r.orgID, r.runID); err != nil {
		r.logger.Warn("mark run paused failed", "error", err)
	}
	snap := r.progress.Snapshot()
	r.logger.Info("processing pass paused", "current", snap.Current, "total", snap.Total)
	r.progress.Logf("run paused at %d/%d", snap.Current, snap.Total)
	runsFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "paused")))
	return nil
}

// pauseBestEffort persists the paused status with a fresh context, for the
// path where the loop's own context is already canceled.
func (r *Runner) pauseBestEffort() {
	ctx, cancel := context.WithTimeout(context.Background(), pauseWriteTimeout)
	defer cancel()
	if err := r.store.MarkRunPaused(ctx, r.orgID, r.runID); err != nil {
		r.logger.Warn("mark run paused failed", "error", err)
	}
}

func (r *Runner) markError(ctx context.Context) {
	if err := r.store.MarkRunError(ctx, r.orgID, r.runID); err != nil {
		r.logger.Warn("mark run error failed", "error", err)
	}
	runsFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "error")))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
