package burst

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/yatesi-xyz/statserver/internal/database"
	"github.com/yatesi-xyz/statserver/internal/errs"
	"github.com/yatesi-xyz/statserver/internal/telemetry"
)

// flushTimeout bounds each cache write a tick performs.
const flushTimeout = time.Second

// LiveReader is the subset of the database client the aggregator depends
// on. Accepting an interface (rather than *database.Client directly) keeps
// the event loop testable with a fake stream.
type LiveReader interface {
	Live(ctx context.Context, resource string) (<-chan database.LiveEvent, error)
	ReadOnce(ctx context.Context, resource string) (uint64, error)
}

// CacheWriter is the subset of the cache client the aggregator depends on.
type CacheWriter interface {
	Set(ctx context.Context, key string, value uint64) error
}

// Aggregator wires the pure Step function to a live database subscription and a
// cache client: it merges the live channel with a periodic tick via select,
// preserving single-consumer arrival ordering for this resource's state.
type Aggregator struct {
	db     LiveReader
	cache  CacheWriter
	cfg    Config
	logger *zap.SugaredLogger
	metric *telemetry.Metrics

	syncInterval time.Duration
}

// New constructs an Aggregator for one resource. logger/metric may be nil.
func New(db LiveReader, cacheClient CacheWriter, cfg Config, syncInterval time.Duration, logger *zap.SugaredLogger, metric *telemetry.Metrics) *Aggregator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Aggregator{
		db:           db,
		cache:        cacheClient,
		cfg:          cfg,
		logger:       logger,
		metric:       metric,
		syncInterval: syncInterval,
	}
}

// Run executes one lifetime of the aggregator's startup sequence and event
// loop for resource: it opens the live subscription, reads the baseline,
// unconditionally flushes it, then serves the event loop until ctx is
// cancelled or a restart-triggering error occurs. The caller (the
// supervisor) is responsible for re-invoking Run after a cooldown.
func (a *Aggregator) Run(ctx context.Context, resource string) error {
	events, err := a.db.Live(ctx, resource)
	if err != nil {
		return err
	}

	baseline, err := a.db.ReadOnce(ctx, resource)
	if err != nil {
		return err
	}

	now := time.Now()
	state := Baseline(baseline, now)

	flushCtx, cancel := context.WithTimeout(ctx, flushTimeout)
	err = a.cache.Set(flushCtx, resource, baseline)
	cancel()
	if err != nil {
		// Baseline() pins Flushed == Current == baseline, which would make
		// stepTimerTick see nothing to do on the next tick. Since the write
		// never actually landed, mark Flushed as anything but the baseline
		// so the next tick retries the flush instead of silently skipping it.
		a.logger.Warnw("baseline flush failed, next tick will retry", "resource", resource, "error", err)
		state.Flushed = ^baseline
	}

	ticker := time.NewTicker(a.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-events:
			if !ok {
				return errs.New("burst", errs.CodeStreamStalled,
					errs.WithResource(resource), errs.WithMessage("live channel closed"))
			}
			if evt.Err != nil {
				return errs.New("burst", errs.CodeDatabaseCommand,
					errs.WithResource(resource), errs.WithMessage("live stream error"), errs.WithCause(evt.Err))
			}

			prev := state.Current
			state, _ = Step(state, Event{Kind: EventDatabaseUpdate, Count: evt.Update.Count}, a.cfg, time.Now())
			if state.Current == prev && evt.Update.Count < prev {
				a.metric.RecordSuppression(ctx, resource)
			}

		case <-ticker.C:
			var action Action
			state, action = Step(state, Event{Kind: EventTimerTick}, a.cfg, time.Now())

			switch action {
			case ActionStall:
				return errs.New("burst", errs.CodeStreamStalled,
					errs.WithResource(resource), errs.WithMessage("watchdog threshold exceeded"))

			case ActionFlush:
				setCtx, cancel := context.WithTimeout(ctx, flushTimeout)
				err := a.cache.Set(setCtx, resource, state.Current)
				cancel()
				if err != nil {
					a.logger.Warnw("flush failed, next tick will retry", "resource", resource, "error", err)
					continue
				}
				state = MarkFlushed(state, state.Current)
				a.metric.RecordFlush(ctx, resource)
			}
		}
	}
}
