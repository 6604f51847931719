package timer_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"livepoll/internal/timer"
)

func TestCoordinator_TicksUntilStopped(t *testing.T) {
	tickers := newFakeTickers()

	var (
		mu    sync.Mutex
		ticks []string
	)
	c := timer.NewCoordinator(timer.Config{
		NewTickerFunc: tickers.new,
		Tick: func(pollID string) {
			mu.Lock()
			ticks = append(ticks, pollID)
			mu.Unlock()
		},
	})

	c.Start("p1")
	tk := tickers.wait(t)

	tk.tick(t)
	tk.tick(t)

	mu.Lock()
	require.Equal(t, []string{"p1", "p1"}, ticks)
	mu.Unlock()

	c.Stop("p1")
	tk.waitStopped(t)
}

func TestCoordinator_StartReplacesRunningCountdown(t *testing.T) {
	tickers := newFakeTickers()

	c := timer.NewCoordinator(timer.Config{
		NewTickerFunc: tickers.new,
		Tick:          func(string) {},
	})

	c.Start("p1")
	first := tickers.wait(t)

	// Restarting the same poll's countdown must tear down the old instance.
	c.Start("p1")
	first.waitStopped(t)
	second := tickers.wait(t)

	c.StopAll()
	second.waitStopped(t)
}

func TestCoordinator_StopUnknownPollIsNoop(t *testing.T) {
	c := timer.NewCoordinator(timer.Config{
		NewTickerFunc: newFakeTickers().new,
		Tick:          func(string) {},
	})

	c.Stop("never-started")
	c.StopAll()
}

type fakeTicker struct {
	c       chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func (f *fakeTicker) C() <-chan time.Time { return f.c }

func (f *fakeTicker) Stop() {
	f.once.Do(func() { close(f.stopped) })
}

func (f *fakeTicker) tick(t *testing.T) {
	t.Helper()
	select {
	case f.c <- time.Now():
	case <-time.After(time.Second):
		t.Fatal("tick not consumed")
	}
}

func (f *fakeTicker) waitStopped(t *testing.T) {
	t.Helper()
	select {
	case <-f.stopped:
	case <-time.After(time.Second):
		t.Fatal("ticker not stopped")
	}
}

type fakeTickers struct {
	created chan *fakeTicker
}

func newFakeTickers() *fakeTickers {
	return &fakeTickers{created: make(chan *fakeTicker, 8)}
}

func (f *fakeTickers) new(time.Duration) timer.Ticker {
	tk := &fakeTicker{
		c:       make(chan time.Time),
		stopped: make(chan struct{}),
	}
	f.created <- tk
	return tk
}

func (f *fakeTickers) wait(t *testing.T) *fakeTicker {
	t.Helper()
	select {
	case tk := <-f.created:
		return tk
	case <-time.After(time.Second):
		t.Fatal("ticker not created")
		return nil
	}
}
