package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"tanda/internal/core"
	applog "tanda/internal/log"
	"tanda/internal/services"
	"tanda/internal/storage"
)

// Worker drives circle time forward on an interval: it ticks every active
// circle, defaults obligations past grace, writes off stale advance
// receivables, and settles every closeable cycle.
type Worker struct {
	store    storage.Store
	clock    clockwork.Clock
	circles  *services.CircleService
	defaults *services.DefaultService
	advances *services.AdvanceService
	interval time.Duration
}

func New(store storage.Store, clock clockwork.Clock, circles *services.CircleService, defaults *services.DefaultService, advances *services.AdvanceService, interval time.Duration) *Worker {
	return &Worker{
		store:    store,
		clock:    clock,
		circles:  circles,
		defaults: defaults,
		advances: advances,
		interval: interval,
	}
}

// Sweep runs one full pass. Failures on individual circles are logged and
// skipped so one stuck circle cannot stall the rest.
func (w *Worker) Sweep(ctx context.Context) {
	if err := w.defaults.SweepExpired(ctx); err != nil {
		slog.ErrorContext(ctx, "Default sweep failed",
			applog.FieldComponent, applog.ComponentWorker,
			applog.FieldError, err)
	}
	if err := w.advances.SweepRepayGrace(ctx); err != nil {
		slog.ErrorContext(ctx, "Advance write-off sweep failed",
			applog.FieldComponent, applog.ComponentWorker,
			applog.FieldError, err)
	}

	active, err := w.store.ListCirclesByStatus(ctx, core.CircleActive)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to list active circles",
			applog.FieldComponent, applog.ComponentWorker,
			applog.FieldError, err)
		return
	}
	for _, circle := range active {
		if err := w.circles.Tick(ctx, circle.ID); err != nil {
			slog.ErrorContext(ctx, "Circle tick failed",
				applog.FieldComponent, applog.ComponentWorker,
				applog.FieldCircleID, circle.ID,
				applog.FieldError, err)
		}
	}

	cycles, err := w.store.ListUnsettledCycles(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to list unsettled cycles",
			applog.FieldComponent, applog.ComponentWorker,
			applog.FieldError, err)
		return
	}
	for i := range cycles {
		err := w.circles.CloseCycle(ctx, cycles[i].ID)
		if err == nil {
			continue
		}
		if errors.Is(err, core.ErrCycleNotCloseable) {
			continue
		}
		slog.ErrorContext(ctx, "Cycle close failed",
			applog.FieldComponent, applog.ComponentWorker,
			applog.FieldCycleID, cycles[i].ID,
			applog.FieldError, err)
	}
}

// Run sweeps once immediately and then on every interval until the
// context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	slog.InfoContext(ctx, "Cycle worker started",
		applog.FieldComponent, applog.ComponentWorker,
		"interval", w.interval)

	w.Sweep(ctx)

	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Cycle worker stopped",
				applog.FieldComponent, applog.ComponentWorker)
			return
		case <-ticker.Chan():
			w.Sweep(ctx)
		}
	}
}
