package session

import (
	"errors"
	"sync"
	"time"
)

// ErrTimerExpired is returned by Start when the resumed epoch has already
// run out. The caller must treat this as an auto-advance trigger, distinct
// from a live countdown.
var ErrTimerExpired = errors.New("station time already elapsed")

// persistEveryTicks controls how often the running timer asks its owner to
// persist the epoch, so a hard reload loses at most ~10s of timer accuracy.
const persistEveryTicks = 10

// TimerHooks are invoked from the timer's tick goroutine.
type TimerHooks struct {
	OnTick    func(remaining int)
	OnExpire  func()
	OnPersist func(epoch time.Time)
}

// StationTimer is a wall-clock-anchored countdown. Remaining time is always
// recomputed from the start epoch (never decremented), so suspension,
// backgrounding, or a delayed tick cannot introduce drift. The epoch, not
// the remaining value, is what gets persisted.
type StationTimer struct {
	duration time.Duration
	hooks    TimerHooks

	// tick and now are fixed in production; tests shorten/replace them.
	tick time.Duration
	now  func() time.Time

	mu      sync.Mutex
	epoch   time.Time
	running bool
	stop    chan struct{}
}

// NewStationTimer creates a timer with the fixed per-station budget.
func NewStationTimer(duration time.Duration, hooks TimerHooks) *StationTimer {
	return &StationTimer{
		duration: duration,
		hooks:    hooks,
		tick:     time.Second,
		now:      time.Now,
	}
}

// Start begins the countdown. With resumeFrom set, the remaining budget is
// recomputed from that epoch; if it has already elapsed, Start returns
// ErrTimerExpired without starting a tick loop. Any previous countdown is
// stopped first.
func (t *StationTimer) Start(resumeFrom *time.Time) error {
	t.Stop()

	t.mu.Lock()
	epoch := t.now()
	if resumeFrom != nil {
		epoch = *resumeFrom
	}

	if t.duration-t.now().Sub(epoch) <= 0 {
		t.mu.Unlock()
		return ErrTimerExpired
	}

	t.epoch = epoch
	t.running = true
	stop := make(chan struct{})
	t.stop = stop
	t.mu.Unlock()

	go t.run(epoch, stop)
	return nil
}

// Stop cancels the tick loop. Idempotent and safe to call when not running.
func (t *StationTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running && t.stop != nil {
		close(t.stop)
		t.stop = nil
		t.running = false
	}
}

// Running reports whether a countdown is in progress.
func (t *StationTimer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Epoch returns the start instant of the running countdown, or nil.
func (t *StationTimer) Epoch() *time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return nil
	}
	epoch := t.epoch
	return &epoch
}

// Remaining returns the whole seconds left, recomputed from the epoch.
// Zero when no countdown is running.
func (t *StationTimer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return 0
	}
	return clampSeconds(t.duration - t.now().Sub(t.epoch))
}

func (t *StationTimer) run(epoch time.Time, stop chan struct{}) {
	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()

	ticks := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ticks++
			remaining := t.duration - t.now().Sub(epoch)

			if remaining <= 0 {
				t.finish(stop)
				if t.hooks.OnTick != nil {
					t.hooks.OnTick(0)
				}
				if t.hooks.OnExpire != nil {
					t.hooks.OnExpire()
				}
				return
			}

			if t.hooks.OnTick != nil {
				t.hooks.OnTick(clampSeconds(remaining))
			}
			if t.hooks.OnPersist != nil && ticks%persistEveryTicks == 0 {
				t.hooks.OnPersist(epoch)
			}
		}
	}
}

// finish marks the timer stopped from inside the tick loop, without closing
// the stop channel the loop is still selecting on.
func (t *StationTimer) finish(stop chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop == stop {
		t.stop = nil
		t.running = false
	}
}

func clampSeconds(d time.Duration) int {
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}
