// Package burst implements the monotone-biased hold-and-release smoothing
// policy applied to each tracked resource's live count.
package burst

import "time"

// State is the per-resource burst state. Mutation is confined to the pure
// Step/MarkFlushed functions so the policy is testable without goroutines or
// I/O.
type State struct {
	Current      uint64
	Flushed      uint64
	LastUpdate   time.Time
	LastActivity time.Time
}

// Action is what the caller must do in response to a Step call.
type Action int

const (
	// ActionNone means no I/O is required.
	ActionNone Action = iota
	// ActionFlush means the caller must write State.Current to the cache and,
	// on success, call MarkFlushed.
	ActionFlush
	// ActionStall means the watchdog threshold elapsed with no activity; the
	// caller must surface this as a stream-stalled restart trigger.
	ActionStall
)

// Config carries the per-resource burst tuning.
type Config struct {
	Expire   time.Duration
	Watchdog time.Duration
}

// EventKind discriminates the two event sources merged by the aggregator.
type EventKind int

const (
	// EventDatabaseUpdate carries a fresh notification or one-shot read.
	EventDatabaseUpdate EventKind = iota
	// EventTimerTick is the periodic flush/watchdog tick.
	EventTimerTick
)

// Event is one element of the merged database-update/timer-tick stream.
type Event struct {
	Kind  EventKind
	Count uint64
}

// Step advances state in response to event at time now, returning the new
// state and the action the caller must perform. Step performs no I/O.
func Step(state State, event Event, cfg Config, now time.Time) (State, Action) {
	switch event.Kind {
	case EventDatabaseUpdate:
		return stepDatabaseUpdate(state, event.Count, cfg, now), ActionNone
	case EventTimerTick:
		return stepTimerTick(state, cfg, now)
	default:
		return state, ActionNone
	}
}

func stepDatabaseUpdate(state State, count uint64, cfg Config, now time.Time) State {
	state.LastActivity = now

	switch {
	case count > state.Current:
		// Monotone growth: always accept.
		state.Current = count
	case now.Sub(state.LastUpdate) >= cfg.Expire:
		// Burst window has ended: accept the lower value verbatim.
		state.Current = count
	default:
		// Burst active: suppress the dip.
	}

	state.LastUpdate = now
	return state
}

func stepTimerTick(state State, cfg Config, now time.Time) (State, Action) {
	if now.Sub(state.LastActivity) > cfg.Watchdog {
		return state, ActionStall
	}
	if state.Current == state.Flushed {
		return state, ActionNone
	}
	return state, ActionFlush
}

// MarkFlushed records that State.Current was successfully written to the
// cache. The caller must call this only after a successful cache.Set.
func MarkFlushed(state State, value uint64) State {
	state.Flushed = value
	return state
}

// Baseline constructs the startup state: current and flushed both pinned to
// the one-shot read baseline, with activity timestamps set to now.
func Baseline(value uint64, now time.Time) State {
	return State{
		Current:      value,
		Flushed:      value,
		LastUpdate:   now,
		LastActivity: now,
	}
}
