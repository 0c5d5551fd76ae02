package reconciler

import (
	"context"
	stderrors "errors"
	"time"

	malboxerrors "github.com/dualhorizon/malbox/pkg/errors"
	"github.com/dualhorizon/malbox/pkg/log"
	"github.com/dualhorizon/malbox/pkg/metrics"
	"github.com/dualhorizon/malbox/pkg/resource"
	"github.com/dualhorizon/malbox/pkg/store"
	"github.com/rs/zerolog"
)

// Reconciler periodically sweeps the durable allocation ledger for
// Resources allocated to a task that is absent or terminal in the store
// and releases them.
type Reconciler struct {
	resources *resource.Manager
	store     *store.Store
	interval  time.Duration
	logger    zerolog.Logger
	stopCh    chan struct{}
}

// New creates a Reconciler over resources and store, sweeping every
// interval (defaults to 10s).
func New(resources *resource.Manager, st *store.Store, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Reconciler{
		resources: resources,
		store:     st,
		interval:  interval,
		logger:    log.WithComponent("reconciler"),
		stopCh:    make(chan struct{}),
	}
}

// Start begins the reconciliation loop in a background goroutine.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop terminates the reconciliation loop.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", r.interval).Msg("reconciler started")

	// Sweep once immediately so a crash-restart doesn't wait a full
	// interval before releasing orphaned resources.
	r.sweepOnce()

	for {
		select {
		case <-ticker.C:
			r.sweepOnce()
		case <-r.stopCh:
			r.logger.Info().Msg("reconciler stopped")
			return
		}
	}
}

func (r *Reconciler) sweepOnce() {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), r.interval)
	defer cancel()

	if err := r.reconcileAllocations(ctx); err != nil {
		r.logger.Error().Err(err).Msg("reconciliation cycle failed")
	}
}

// reconcileAllocations releases every ledger entry whose owning task is
// gone from the store or has already reached a terminal state; the
// worker that would have released it on exit never got the chance to.
func (r *Reconciler) reconcileAllocations(ctx context.Context) error {
	records, err := r.store.ListAllocations(ctx)
	if err != nil {
		return err
	}

	for _, rec := range records {
		orphaned, reason := r.isOrphaned(ctx, rec)
		if !orphaned {
			continue
		}

		logger := r.logger.With().Str("resource_id", rec.ResourceID).Int64("task_id", rec.TaskID).Logger()
		logger.Warn().Str("reason", reason).Msg("releasing orphaned resource allocation")

		if err := r.resources.Release(ctx, rec.ResourceID); err != nil {
			logger.Error().Err(err).Msg("failed to release orphaned resource")
			continue
		}
		if err := r.store.DeleteAllocation(ctx, rec.ResourceID); err != nil {
			logger.Error().Err(err).Msg("failed to delete stale allocation ledger entry")
		}
		metrics.ReconciledAllocationsTotal.Inc()
	}

	return nil
}

func (r *Reconciler) isOrphaned(ctx context.Context, rec store.AllocationRecord) (bool, string) {
	task, err := r.store.LoadTask(ctx, rec.TaskID)
	if err != nil {
		if stderrors.Is(err, malboxerrors.ErrNotFound) {
			return true, "owning task not found in store"
		}
		// A transient store error is not evidence of an orphan; leave the
		// allocation alone and retry next cycle.
		return false, ""
	}
	if task.State.IsTerminal() {
		return true, "owning task already in terminal state " + string(task.State)
	}
	return false, ""
}
