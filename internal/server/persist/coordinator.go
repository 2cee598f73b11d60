// Package persist coalesces bursts of mutation notifications into a single
// durable flush of the storage engine.
//
// The durable flush is assumed expensive relative to individual mutations,
// so the coordinator waits for a quiet window after the last notification
// before flushing. Call sites that need a durability guarantee before
// proceeding use ForceSave instead of the debounced path.
package persist

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avolkovs/termvault/internal/common"
	"github.com/avolkovs/termvault/internal/logging"
)

// DefaultQuietWindow is the debounce interval used when the constructor is
// given a non-positive one.
const DefaultQuietWindow = 2 * time.Second

// FlushFunc persists the engine's current state to a durable medium. The
// engine flushes current state, not a queued delta, so one in-flight flush
// captures every mutation that preceded it.
type FlushFunc func(ctx context.Context) error

// Status is a diagnostic snapshot of the coordinator.
type Status struct {
	Initialized     bool
	PendingSave     bool
	HasPendingTimer bool
}

// Coordinator is an explicitly constructed service with a defined lifecycle:
// Initialize exactly once at startup, Cleanup at shutdown. At most one flush
// executes at a time; all state transitions are serialized by mu, including
// the race between a firing timer and a concurrent new trigger (resolved by
// the timer generation counter).
type Coordinator struct {
	logger logging.Logger
	quiet  time.Duration

	mu       sync.Mutex
	flushFn  FlushFunc
	timer    *time.Timer
	timerGen uint64
	saving   bool
}

func New(logger logging.Logger, quietWindow time.Duration) *Coordinator {
	if quietWindow <= 0 {
		quietWindow = DefaultQuietWindow
	}
	return &Coordinator{logger: logger, quiet: quietWindow}
}

// Initialize registers the single durable-flush callback. Must be called
// before any mutation occurs; until then Trigger/ForceSave only warn.
func (c *Coordinator) Initialize(fn FlushFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushFn = fn
}

// TriggerSave (re)starts the quiet-window timer. Any call arriving before
// the timer elapses cancels and restarts it, so a burst of N mutations ends
// in one flush after the window elapses from the last call. TriggerSave
// never blocks the caller and never surfaces flush errors: the triggering
// write has already succeeded at the storage level.
func (c *Coordinator) TriggerSave(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.flushFn == nil {
		c.logger.Warn(context.Background(), "save trigger before initialization, ignoring", "reason", reason)
		return
	}

	if c.timer != nil {
		c.timer.Stop()
	}

	c.timerGen++
	gen := c.timerGen
	c.timer = time.AfterFunc(c.quiet, func() {
		c.quietWindowElapsed(gen, reason)
	})
}

func (c *Coordinator) quietWindowElapsed(gen uint64, reason string) {
	c.mu.Lock()

	// A newer trigger, a ForceSave, or Cleanup invalidated this timer
	// between firing and acquiring the lock.
	if gen != c.timerGen || c.flushFn == nil {
		c.mu.Unlock()
		return
	}

	c.timer = nil

	if c.saving {
		// The in-flight flush persists current state and therefore already
		// covers the mutations behind this cycle.
		c.logger.Debug(context.Background(), "flush already in progress, skipping cycle", "reason", reason)
		c.mu.Unlock()
		return
	}

	c.saving = true
	fn := c.flushFn
	c.mu.Unlock()

	if err := fn(context.Background()); err != nil {
		c.logger.Error(context.Background(), "debounced flush failed", "reason", reason, "error", err)
	}

	c.mu.Lock()
	c.saving = false
	c.mu.Unlock()
}

// ForceSave cancels any pending debounce timer and flushes synchronously,
// returning the flush error to the caller. If a flush is already in flight
// it returns nil immediately, relying on that flush to persist the latest
// state.
func (c *Coordinator) ForceSave(ctx context.Context, reason string) error {
	c.mu.Lock()

	if c.flushFn == nil {
		c.logger.Warn(ctx, "forced save before initialization, ignoring", "reason", reason)
		c.mu.Unlock()
		return nil
	}

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerGen++

	if c.saving {
		c.mu.Unlock()
		return nil
	}

	c.saving = true
	fn := c.flushFn
	c.mu.Unlock()

	err := fn(ctx)

	c.mu.Lock()
	c.saving = false
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrPersistenceFailed, err)
	}
	return nil
}

// Status returns a point-in-time diagnostic snapshot.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Status{
		Initialized:     c.flushFn != nil,
		PendingSave:     c.saving,
		HasPendingTimer: c.timer != nil,
	}
}

// Cleanup cancels any pending timer and drops the flush registration,
// returning the coordinator to its uninitialized state. A flush already in
// flight is allowed to finish.
func (c *Coordinator) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerGen++
	c.flushFn = nil
}
