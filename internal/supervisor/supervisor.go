// Package supervisor wraps each resource's burst aggregator in an infinite
// restart loop with a fixed cooldown between crashes.
package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/yatesi-xyz/statserver/internal/errs"
	"github.com/yatesi-xyz/statserver/internal/telemetry"
)

// cooldown is the fixed delay between a restart and the next attempt.
const cooldown = time.Second

// Aggregator is the subset of burst.Aggregator the supervisor drives. Run
// executes one lifetime of the resource's startup sequence and event loop,
// returning when ctx is cancelled (nil error) or a restart-triggering
// condition is hit (non-nil error).
type Aggregator interface {
	Run(ctx context.Context, resource string) error
}

// Run spawns one supervised restart loop per entry in aggregators and blocks
// until ctx is cancelled and every loop has exited. Each Aggregator is
// reused across restarts: it holds no per-run state, only immutable
// dependencies, so re-invoking Run re-executes the full startup sequence
// (fresh live subscription, fresh baseline read, unconditional re-flush).
func Run(ctx context.Context, aggregators map[string]Aggregator, logger *zap.SugaredLogger, metric *telemetry.Metrics) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	var wg conc.WaitGroup
	for resource, agg := range aggregators {
		resource, agg := resource, agg
		wg.Go(func() {
			supervise(ctx, resource, agg, logger, metric)
		})
	}
	wg.Wait()
}

func supervise(ctx context.Context, resource string, agg Aggregator, logger *zap.SugaredLogger, metric *telemetry.Metrics) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := agg.Run(ctx, resource)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Warnw("aggregator exited, restarting after cooldown",
				"resource", resource, "error", err)
			reason := "error"
			var e *errs.E
			if errors.As(err, &e) {
				reason = string(e.Code)
			}
			metric.RecordRestart(ctx, resource, reason)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(cooldown):
		}
	}
}
