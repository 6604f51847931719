package event_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"livepoll/internal/event"
)

func TestBus_PublishSubscribe(t *testing.T) {
	type (
		inputs struct {
			published   []event.Event
			subscribers []subscriber
		}

		outputs struct {
			received map[string][]event.Event
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"a subscriber only receives events it subscribed to": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						eventWithName("poll.created"),
						eventWithName("timer.tick"),
					},
					subscribers: []subscriber{
						{
							name:        "s1",
							subscribeTo: []string{"poll.created"},
						},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{eventWithName("poll.created")}, out.received["s1"])
			},
		},

		"repeated events are all delivered": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						eventWithName("timer.tick"),
						eventWithName("timer.tick"),
						eventWithName("timer.tick"),
					},
					subscribers: []subscriber{
						{
							name:        "s1",
							subscribeTo: []string{"timer.tick"},
						},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.Len(t, out.received["s1"], 3)
			},
		},

		"an event fans out to all subscribers": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						eventWithName("poll.ended"),
					},
					subscribers: []subscriber{
						{
							name:        "s1",
							subscribeTo: []string{"poll.ended"},
						},
						{
							name:        "s2",
							subscribeTo: []string{"poll.ended"},
						},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{eventWithName("poll.ended")}, out.received["s1"])
				assert.ElementsMatch(t, []event.Event{eventWithName("poll.ended")}, out.received["s2"])
			},
		},

		"mixed events are routed by name": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						eventWithName("poll.created"),
						eventWithName("vote.accepted"),
						eventWithName("poll.created"),
						eventWithName("poll.ended"),
					},
					subscribers: []subscriber{
						{
							name:        "s1",
							subscribeTo: []string{"poll.created"},
						},
						{
							name:        "s2",
							subscribeTo: []string{"poll.created", "vote.accepted"},
						},
						{
							name:        "s3",
							subscribeTo: []string{"poll.ended", "vote.accepted"},
						},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{eventWithName("poll.created"), eventWithName("poll.created")}, out.received["s1"])
				assert.ElementsMatch(t, []event.Event{eventWithName("poll.created"), eventWithName("poll.created"), eventWithName("vote.accepted")}, out.received["s2"])
				assert.ElementsMatch(t, []event.Event{eventWithName("poll.ended"), eventWithName("vote.accepted")}, out.received["s3"])
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in := tt.arrange()
			mu := sync.Mutex{}
			out := outputs{received: make(map[string][]event.Event)}

			b := event.NewBus()
			for _, s := range in.subscribers {
				s := s
				for _, e := range s.subscribeTo {
					b.Subscribe(e, func(ctx context.Context, e event.Event) error {
						mu.Lock()
						out.received[s.name] = append(out.received[s.name], e)
						mu.Unlock()
						return nil
					})
				}
			}

			for _, e := range in.published {
				b.Publish(context.Background(), e)
			}
			b.Stop()

			tt.assert(t, out)
		})
	}
}

func TestBus_HandlerPanicDoesNotPropagate(t *testing.T) {
	b := event.NewBus(event.WithPoolSize(1))

	var delivered bool
	var mu sync.Mutex

	b.Subscribe("timer.tick", func(ctx context.Context, e event.Event) error {
		panic("boom")
	})
	b.Subscribe("timer.tick", func(ctx context.Context, e event.Event) error {
		mu.Lock()
		delivered = true
		mu.Unlock()
		return nil
	})

	b.Publish(context.Background(), eventWithName("timer.tick"))
	b.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, delivered, "a panicking handler should not block the others")
}

type eventWithName string

func (e eventWithName) Name() string {
	return string(e)
}

type subscriber struct {
	name        string
	subscribeTo []string
}
