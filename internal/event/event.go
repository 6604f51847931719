package event

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const (
	defaultPoolSize       = 1000
	defaultHandlerTimeout = 10 * time.Second
)

type Event interface {
	Name() string
}

type Handler func(ctx context.Context, e Event) error

// Bus is an in-memory event bus. Handlers run asynchronously on a bounded
// pool; a panicking or failing handler never takes down the publisher.
type Bus struct {
	pool     chan struct{}
	timeout  time.Duration
	wg       sync.WaitGroup
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewBus creates a new event bus. Caller should call Stop for graceful
// shutdown of in-flight handlers.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		timeout:  defaultHandlerTimeout,
		handlers: make(map[string][]Handler),
	}

	poolSize := defaultPoolSize
	for _, opt := range opts {
		opt(b, &poolSize)
	}

	b.pool = make(chan struct{}, poolSize)
	return b
}

type Option func(b *Bus, poolSize *int)

// WithPoolSize bounds the number of concurrently running handlers.
func WithPoolSize(n int) Option {
	return func(_ *Bus, poolSize *int) {
		*poolSize = n
	}
}

// WithHandlerTimeout bounds the run time of a single handler invocation.
func WithHandlerTimeout(d time.Duration) Option {
	return func(b *Bus, _ *int) {
		b.timeout = d
	}
}

// Subscribe registers h for events published under name.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[name] = append(b.handlers[name], h)
}

// Publish dispatches e to every handler subscribed to its name.
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, h := range b.handlers[e.Name()] {
		b.dispatch(ctx, h, e)
	}
}

func (b *Bus) dispatch(ctx context.Context, h Handler, e Event) {
	b.wg.Add(1)

	b.pool <- struct{}{}

	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(ctx, "event: handler panic",
					"event", e.Name(),
					"error", fmt.Errorf("%v, stack: %s", r, debug.Stack()),
				)
			}

			cancel()
			<-b.pool
			b.wg.Done()
		}()

		if err := h(ctx, e); err != nil {
			slog.ErrorContext(ctx, "event: handle event failed",
				"event", e.Name(),
				"error", err,
			)
		}
	}()
}

// Stop waits for all in-flight handlers to finish.
func (b *Bus) Stop() {
	b.wg.Wait()
}
