package burst

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cfg = Config{Expire: time.Second, Watchdog: 5 * time.Second}

func update(count uint64) Event { return Event{Kind: EventDatabaseUpdate, Count: count} }

var tick = Event{Kind: EventTimerTick}

func TestMonotoneGrowthAcceptedImmediately(t *testing.T) {
	now := time.Now()
	state := Baseline(9, now)

	state, action := Step(state, update(10), cfg, now.Add(50*time.Millisecond))
	require.Equal(t, ActionNone, action)
	assert.Equal(t, uint64(10), state.Current)

	state, action = Step(state, update(11), cfg, now.Add(100*time.Millisecond))
	require.Equal(t, ActionNone, action)
	assert.Equal(t, uint64(11), state.Current)

	state, action = Step(state, update(12), cfg, now.Add(150*time.Millisecond))
	require.Equal(t, ActionNone, action)
	assert.Equal(t, uint64(12), state.Current)

	state, action = Step(state, tick, cfg, now.Add(250*time.Millisecond))
	require.Equal(t, ActionFlush, action)
	assert.Equal(t, uint64(12), state.Current)
}

func TestTransientDipSuppressedWithinBurstWindow(t *testing.T) {
	now := time.Now()
	state := Baseline(100, now)

	state, _ = Step(state, update(100), cfg, now.Add(50*time.Millisecond))
	assert.Equal(t, uint64(100), state.Current)

	state, _ = Step(state, update(97), cfg, now.Add(150*time.Millisecond))
	assert.Equal(t, uint64(100), state.Current, "dip within the burst window must be suppressed")

	state, _ = Step(state, update(100), cfg, now.Add(300*time.Millisecond))
	assert.Equal(t, uint64(100), state.Current)
}

func TestSustainedDecreaseAdmittedAfterExpire(t *testing.T) {
	now := time.Now()
	state := Baseline(100, now)

	state, _ = Step(state, update(100), cfg, now.Add(10*time.Millisecond))

	after := now.Add(1300 * time.Millisecond)
	state, _ = Step(state, update(90), cfg, after)
	assert.Equal(t, uint64(90), state.Current, "decrease after expire must be accepted verbatim")

	state, action := Step(state, tick, cfg, after.Add(10*time.Millisecond))
	require.Equal(t, ActionFlush, action)
	assert.Equal(t, uint64(90), state.Current)
}

func TestTieIsNoOpButUpdatesLastUpdate(t *testing.T) {
	now := time.Now()
	state := Baseline(50, now)

	next := now.Add(10 * time.Millisecond)
	state, action := Step(state, update(50), cfg, next)
	require.Equal(t, ActionNone, action)
	assert.Equal(t, uint64(50), state.Current)
	assert.Equal(t, next, state.LastUpdate, "the reference updates last_update on every notification, including ties")
}

func TestNoFlushWhileCurrentEqualsFlushed(t *testing.T) {
	now := time.Now()
	state := Baseline(5, now)

	_, action := Step(state, tick, cfg, now.Add(cfg.Expire))
	assert.Equal(t, ActionNone, action, "write coalescing: no flush while current == flushed")
}

func TestFlushThenNoOpUntilNextChange(t *testing.T) {
	now := time.Now()
	state := Baseline(5, now)

	state, _ = Step(state, update(8), cfg, now.Add(10*time.Millisecond))

	state, action := Step(state, tick, cfg, now.Add(20*time.Millisecond))
	require.Equal(t, ActionFlush, action)

	state = MarkFlushed(state, state.Current)
	assert.Equal(t, state.Current, state.Flushed)

	_, action = Step(state, tick, cfg, now.Add(30*time.Millisecond))
	assert.Equal(t, ActionNone, action, "second flush of the same value is a no-op")
}

func TestWatchdogStallAfterSilence(t *testing.T) {
	now := time.Now()
	state := Baseline(5, now)

	_, action := Step(state, tick, cfg, now.Add(6*time.Second))
	assert.Equal(t, ActionStall, action)
}

func TestWatchdogDoesNotTriggerBeforeThreshold(t *testing.T) {
	now := time.Now()
	state := Baseline(5, now)

	_, action := Step(state, tick, cfg, now.Add(4*time.Second))
	assert.Equal(t, ActionNone, action)
}

func TestFirstPostBaselineNotificationResetsWindowStart(t *testing.T) {
	now := time.Now()
	state := Baseline(100, now)
	assert.Equal(t, now, state.LastUpdate)

	firstUpdate := now.Add(2 * time.Second)
	state, _ = Step(state, update(100), cfg, firstUpdate)
	assert.Equal(t, firstUpdate, state.LastUpdate)

	// A dip arriving within expire of the *first update*, not process start,
	// must still be suppressed even though it is 2s after baseline.
	state, _ = Step(state, update(90), cfg, firstUpdate.Add(500*time.Millisecond))
	assert.Equal(t, uint64(100), state.Current)
}
