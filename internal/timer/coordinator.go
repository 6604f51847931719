package timer

import (
	"log/slog"
	"sync"
	"time"
)

const defaultInterval = time.Second

// Ticker abstracts time.Ticker so tests can drive ticks by hand.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type Config struct {
	// Interval between ticks; defaults to one second.
	Interval time.Duration
	// NewTickerFunc is injectable for tests; defaults to a time.Ticker.
	NewTickerFunc func(d time.Duration) Ticker
	// Tick is invoked once per interval with the poll id the countdown
	// belongs to. The callee re-reads the authoritative remaining time; the
	// coordinator never counts down locally.
	Tick func(pollID string)
}

// Coordinator owns the countdown driver for the active poll. Timer handles
// are an explicit map keyed by poll id, and starting a countdown for a poll
// always stops the previous one first: at most one timer instance runs per
// poll.
type Coordinator struct {
	interval  time.Duration
	newTicker func(d time.Duration) Ticker
	tick      func(pollID string)

	mu      sync.Mutex
	running map[string]chan struct{}
}

func NewCoordinator(c Config) *Coordinator {
	co := &Coordinator{
		interval:  c.Interval,
		newTicker: c.NewTickerFunc,
		tick:      c.Tick,
		running:   make(map[string]chan struct{}),
	}
	if co.interval <= 0 {
		co.interval = defaultInterval
	}
	if co.newTicker == nil {
		co.newTicker = newTimeTicker
	}
	return co
}

// Start begins a countdown for the poll, stopping and removing any countdown
// already running for it.
func (c *Coordinator) Start(pollID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked(pollID)

	stop := make(chan struct{})
	c.running[pollID] = stop

	go c.run(pollID, stop)

	slog.Debug("timer: countdown started", "poll", pollID)
}

// Stop halts the countdown for the poll. Stopping a poll with no running
// countdown is a no-op.
func (c *Coordinator) Stop(pollID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked(pollID)
}

// StopAll halts every running countdown. Used on shutdown.
func (c *Coordinator) StopAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id := range c.running {
		c.stopLocked(id)
	}
}

func (c *Coordinator) stopLocked(pollID string) {
	if stop, ok := c.running[pollID]; ok {
		close(stop)
		delete(c.running, pollID)
	}
}

func (c *Coordinator) run(pollID string, stop <-chan struct{}) {
	t := c.newTicker(c.interval)
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-t.C():
			c.tick(pollID)
		}
	}
}

type timeTicker struct {
	*time.Ticker
}

func (t timeTicker) C() <-chan time.Time { return t.Ticker.C }

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{time.NewTicker(d)}
}
