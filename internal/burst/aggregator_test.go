package burst

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yatesi-xyz/statserver/internal/database"
)

type fakeDB struct {
	mu       sync.Mutex
	baseline uint64
	events   chan database.LiveEvent
}

func newFakeDB(baseline uint64) *fakeDB {
	return &fakeDB{baseline: baseline, events: make(chan database.LiveEvent, 16)}
}

func (f *fakeDB) Live(ctx context.Context, resource string) (<-chan database.LiveEvent, error) {
	return f.events, nil
}

func (f *fakeDB) ReadOnce(ctx context.Context, resource string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.baseline, nil
}

func (f *fakeDB) push(count uint64) {
	f.events <- database.LiveEvent{Update: database.CountUpdate{Count: count}}
}

type fakeCache struct {
	mu    sync.Mutex
	value uint64
	sets  int
}

func (f *fakeCache) Set(ctx context.Context, key string, value uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = value
	f.sets++
	return nil
}

func (f *fakeCache) get() (uint64, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.sets
}

func TestAggregatorFlushesBaselineOnStartup(t *testing.T) {
	db := newFakeDB(7)
	c := &fakeCache{}
	agg := New(db, c, Config{Expire: time.Second, Watchdog: 5 * time.Second}, 50*time.Millisecond, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	_ = agg.Run(ctx, "total_emoji_count")

	value, sets := c.get()
	assert.Equal(t, uint64(7), value)
	assert.GreaterOrEqual(t, sets, 1)
}

func TestAggregatorCoalescesWritesAcrossTicks(t *testing.T) {
	db := newFakeDB(0)
	c := &fakeCache{}
	agg := New(db, c, Config{Expire: time.Second, Watchdog: 5 * time.Second}, 20*time.Millisecond, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = agg.Run(ctx, "total_emoji_count")
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	db.push(5)
	time.Sleep(120 * time.Millisecond)
	cancel()
	<-done

	value, sets := c.get()
	assert.Equal(t, uint64(5), value)
	assert.LessOrEqual(t, sets, 4, "write-coalescing: repeated no-change ticks must not re-flush")
}

type flakyCache struct {
	mu        sync.Mutex
	failTimes int
	calls     int
	value     uint64
	sets      int
}

func (f *flakyCache) Set(ctx context.Context, key string, value uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failTimes {
		return assert.AnError
	}
	f.value = value
	f.sets++
	return nil
}

func (f *flakyCache) get() (uint64, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.sets
}

func TestAggregatorRetriesBaselineFlushAfterInitialFailure(t *testing.T) {
	db := newFakeDB(9)
	c := &flakyCache{failTimes: 1}
	agg := New(db, c, Config{Expire: time.Second, Watchdog: 5 * time.Second}, 20*time.Millisecond, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_ = agg.Run(ctx, "total_emoji_count")

	value, sets := c.get()
	assert.Equal(t, uint64(9), value, "a failed baseline flush must be retried on a later tick, not silently dropped")
	assert.GreaterOrEqual(t, sets, 1)
}

func TestAggregatorRestartsOnWatchdogStall(t *testing.T) {
	db := newFakeDB(0)
	c := &fakeCache{}
	agg := New(db, c, Config{Expire: time.Second, Watchdog: 30 * time.Millisecond}, 10*time.Millisecond, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := agg.Run(ctx, "total_emoji_count")
	require.Error(t, err, "silence past the watchdog threshold must surface a restart-triggering error")
}

func TestAggregatorReturnsErrorWhenLiveChannelCloses(t *testing.T) {
	db := newFakeDB(0)
	close(db.events)
	c := &fakeCache{}
	agg := New(db, c, Config{Expire: time.Second, Watchdog: 5 * time.Second}, 50*time.Millisecond, nil, nil)

	err := agg.Run(context.Background(), "total_emoji_count")
	require.Error(t, err)
}
