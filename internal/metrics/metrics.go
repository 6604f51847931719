// Package metrics exposes prometheus counters for the poll engine, fed from
// the event bus so the core stays free of instrumentation calls.
package metrics

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"livepoll/internal/domain"
	"livepoll/internal/event"
)

var (
	registerOnce sync.Once

	pollsCreated  prometheus.Counter
	pollsEnded    *prometheus.CounterVec
	votesAccepted prometheus.Counter
	votesRejected *prometheus.CounterVec
)

// Register initializes the collectors on the default registry.
func Register() {
	registerOnce.Do(func() {
		pollsCreated = promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "livepoll",
			Name:      "polls_created_total",
			Help:      "Total polls created.",
		})
		pollsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "livepoll",
			Name:      "polls_ended_total",
			Help:      "Total polls ended, by terminal reason.",
		}, []string{"reason"})
		votesAccepted = promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "livepoll",
			Name:      "votes_accepted_total",
			Help:      "Total votes accepted.",
		})
		votesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "livepoll",
			Name:      "votes_rejected_total",
			Help:      "Total votes rejected, by reason.",
		}, []string{"reason"})
	})
}

// Observe subscribes the collectors to the relevant bus events.
func Observe(eb *event.Bus) {
	Register()

	eb.Subscribe(domain.EventNamePollCreated, func(ctx context.Context, e event.Event) error {
		pollsCreated.Inc()
		return nil
	})
	eb.Subscribe(domain.EventNamePollEnded, func(ctx context.Context, e event.Event) error {
		pollsEnded.WithLabelValues(e.(domain.EventPollEnded).Reason).Inc()
		return nil
	})
	eb.Subscribe(domain.EventNameVoteAccepted, func(ctx context.Context, e event.Event) error {
		votesAccepted.Inc()
		return nil
	})
	eb.Subscribe(domain.EventNameVoteRejected, func(ctx context.Context, e event.Event) error {
		votesRejected.WithLabelValues(e.(domain.EventVoteRejected).Reason).Inc()
		return nil
	})
}
