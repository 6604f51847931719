package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"livepoll/internal/domain"
	"livepoll/internal/event"
	"livepoll/internal/hub"
	"livepoll/internal/retry"
)

const (
	publishAttempts  = 3
	publishBaseDelay = 100 * time.Millisecond
)

// subscribePublisher mirrors the in-process notifications onto redis so other
// instances (and non-SSE consumers) see the same stream. Broadcast events go
// to "<prefix>:events"; participant-targeted events go to
// "<prefix>:participant:<id>".
func (a *API) subscribePublisher(eb *event.Bus) {
	if a.redis == nil {
		return
	}

	eb.Subscribe(domain.EventNamePollCreated, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventPollCreated)
		return a.publishBroadcast(ctx, domain.Notification{
			Event: domain.NotifyPollCreated,
			Data: hub.CreatedPayload{
				Poll:             ev.Poll,
				RemainingSeconds: ev.RemainingSeconds,
			},
		})
	})
	eb.Subscribe(domain.EventNamePollEnded, func(ctx context.Context, e event.Event) error {
		return a.publishBroadcast(ctx, domain.Notification{
			Event: domain.NotifyPollEnded,
			Data:  e.(domain.EventPollEnded).Result,
		})
	})
	eb.Subscribe(domain.EventNameTallyUpdated, func(ctx context.Context, e event.Event) error {
		return a.publishBroadcast(ctx, domain.Notification{
			Event: domain.NotifyPollResults,
			Data:  e.(domain.EventTallyUpdated).Result,
		})
	})
	eb.Subscribe(domain.EventNameTimerTick, func(ctx context.Context, e event.Event) error {
		return a.publishBroadcast(ctx, domain.Notification{
			Event: domain.NotifyTimerUpdate,
			Data:  hub.TimerPayload{RemainingSeconds: e.(domain.EventTimerTick).RemainingSeconds},
		})
	})
	eb.Subscribe(domain.EventNameChatMessage, func(ctx context.Context, e event.Event) error {
		return a.publishBroadcast(ctx, domain.Notification{
			Event: domain.NotifyChatMessage,
			Data:  e.(domain.EventChatMessage).Message,
		})
	})
	eb.Subscribe(domain.EventNameRosterUpdated, func(ctx context.Context, e event.Event) error {
		return a.publishBroadcast(ctx, domain.Notification{
			Event: domain.NotifyParticipantsList,
			Data:  e.(domain.EventRosterUpdated).Participants,
		})
	})

	eb.Subscribe(domain.EventNameVoteAccepted, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventVoteAccepted)
		return a.publishTo(ctx, ev.ParticipantID, domain.Notification{
			Event: domain.NotifyVoteSuccess,
			Data:  hub.VoteAcceptedPayload{PollID: ev.PollID},
		})
	})
	eb.Subscribe(domain.EventNameVoteRejected, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventVoteRejected)
		return a.publishTo(ctx, ev.ParticipantID, domain.Notification{
			Event: domain.NotifyVoteError,
			Data:  hub.VoteRejectedPayload{Reason: ev.Reason, Message: ev.Message},
		})
	})
	eb.Subscribe(domain.EventNameParticipantKicked, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventParticipantKicked)
		return a.publishTo(ctx, ev.ParticipantID, domain.Notification{
			Event: domain.NotifyKickedOut,
			Data:  hub.KickedPayload{Message: "You have been removed from the poll session"},
		})
	})
}

func (a *API) publishBroadcast(ctx context.Context, n domain.Notification) error {
	return a.publish(ctx, a.prefix+":events", n)
}

func (a *API) publishTo(ctx context.Context, participantID string, n domain.Notification) error {
	return a.publish(ctx, a.prefix+":participant:"+participantID, n)
}

func (a *API) publish(ctx context.Context, channel string, n domain.Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}

	err = retry.Do(ctx, publishAttempts, publishBaseDelay, func() error {
		return a.redis.Publish(ctx, channel, b).Err()
	})
	if err != nil {
		slog.ErrorContext(ctx, "pubsub: publish failed", "channel", channel, "event", n.Event, "error", err)
	}

	return err
}
