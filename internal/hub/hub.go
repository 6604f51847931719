// Package hub is the coordination façade for the single active poll. Every
// mutating operation (create, vote, end, timer tick) is a command handled by
// one goroutine, so no two of them can interleave against the active-poll
// slot. Every notification an observer receives is built from one consistent
// read of poll, remaining time and tally.
package hub

import (
	"context"
	"log/slog"
	"time"

	"livepoll/internal/domain"
	"livepoll/internal/errors"
	"livepoll/internal/event"
	"livepoll/internal/ledger"
	"livepoll/internal/poll"
	"livepoll/internal/timer"
)

const (
	defaultObserverBuffer = 32
	defaultCommandBuffer  = 256
)

type Config struct {
	Polls    *poll.Service
	Ledger   *ledger.Service
	EventBus *event.Bus

	// TimerInterval is the tick cadence; defaults to one second.
	TimerInterval time.Duration
	// NewTickerFunc is injectable for tests.
	NewTickerFunc func(d time.Duration) timer.Ticker
	// ObserverBuffer is the per-observer notification buffer size.
	ObserverBuffer int
}

type Hub struct {
	polls  *poll.Service
	votes  *ledger.Service
	eb     *event.Bus
	timers *timer.Coordinator

	buffer    int
	cmds      chan command
	stopped   chan struct{}
	observers map[string]chan domain.Notification
}

func New(c Config) *Hub {
	h := &Hub{
		polls:     c.Polls,
		votes:     c.Ledger,
		eb:        c.EventBus,
		buffer:    c.ObserverBuffer,
		cmds:      make(chan command, defaultCommandBuffer),
		stopped:   make(chan struct{}),
		observers: make(map[string]chan domain.Notification),
	}
	if h.buffer <= 0 {
		h.buffer = defaultObserverBuffer
	}

	h.timers = timer.NewCoordinator(timer.Config{
		Interval:      c.TimerInterval,
		NewTickerFunc: c.NewTickerFunc,
		Tick:          h.Tick,
	})

	// Chat and roster changes come in over the bus and leave through the
	// same fan-out as poll notifications.
	h.eb.Subscribe(domain.EventNameChatMessage, func(ctx context.Context, e event.Event) error {
		h.enqueue(command{kind: cmdNotify, notification: domain.Notification{
			Event: domain.NotifyChatMessage,
			Data:  e.(domain.EventChatMessage).Message,
		}})
		return nil
	})
	h.eb.Subscribe(domain.EventNameRosterUpdated, func(ctx context.Context, e event.Event) error {
		h.enqueue(command{kind: cmdNotify, notification: domain.Notification{
			Event: domain.NotifyParticipantsList,
			Data:  e.(domain.EventRosterUpdated).Participants,
		}})
		return nil
	})
	h.eb.Subscribe(domain.EventNameParticipantKicked, func(ctx context.Context, e event.Event) error {
		h.enqueue(command{
			kind:       cmdNotify,
			observerID: e.(domain.EventParticipantKicked).ParticipantID,
			notification: domain.Notification{
				Event: domain.NotifyKickedOut,
				Data:  KickedPayload{Message: "You have been removed from the poll session"},
			},
		})
		return nil
	})

	return h
}

// StatePayload is the snapshot pushed to a fresh observer and returned by
// state queries. Poll is nil when no poll is active.
type StatePayload struct {
	Poll             *domain.Poll         `json:"poll"`
	RemainingSeconds int                  `json:"remainingTime"`
	Results          []domain.OptionTally `json:"results"`
}

type CreatedPayload struct {
	Poll             domain.Poll `json:"poll"`
	RemainingSeconds int         `json:"remainingTime"`
}

type VoteAcceptedPayload struct {
	PollID string `json:"pollId"`
}

type VoteRejectedPayload struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type TimerPayload struct {
	RemainingSeconds int `json:"remainingTime"`
}

type KickedPayload struct {
	Message string `json:"message"`
}

type SubmitVoteRequest struct {
	PollID        string
	ParticipantID string
	OptionIndex   int
}

type cmdKind int

const (
	cmdCreatePoll cmdKind = iota
	cmdSubmitVote
	cmdEndPoll
	cmdTick
	cmdSubscribe
	cmdUnsubscribe
	cmdState
	cmdNotify
)

type command struct {
	kind cmdKind
	ctx  context.Context

	create       poll.CreateRequest
	vote         SubmitVoteRequest
	pollID       string
	observerID   string
	observer     <-chan domain.Notification
	notification domain.Notification

	reply chan result
}

type result struct {
	poll    *domain.Poll
	state   *StatePayload
	ch      <-chan domain.Notification
	removed bool
	err     error
}

// Run processes commands until ctx is canceled. It must be running for any
// of the public operations to complete.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		h.timers.StopAll()
		for id, ch := range h.observers {
			close(ch)
			delete(h.observers, id)
		}
		close(h.stopped)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.cmds:
			h.handle(cmd)
		}
	}
}

// CreatePoll creates a new poll and makes it the sole active one. A prior
// active poll is force-closed as superseded and its observers get a final
// ended notification before the created one.
func (h *Hub) CreatePoll(ctx context.Context, req poll.CreateRequest) (*domain.Poll, error) {
	r := h.do(ctx, command{kind: cmdCreatePoll, create: req})
	return r.poll, r.err
}

// SubmitVote records one participant's vote. Rejections come back as typed
// errors and are also delivered to the submitting observer as a voteError
// notification with a human-readable reason.
func (h *Hub) SubmitVote(ctx context.Context, req SubmitVoteRequest) error {
	return h.do(ctx, command{kind: cmdSubmitVote, vote: req}).err
}

// EndPoll ends the active poll on the moderator's request.
func (h *Hub) EndPoll(ctx context.Context) (*domain.Poll, error) {
	r := h.do(ctx, command{kind: cmdEndPoll})
	return r.poll, r.err
}

// State returns a consistent snapshot of the current poll, remaining time
// and tally.
func (h *Hub) State(ctx context.Context) (*StatePayload, error) {
	r := h.do(ctx, command{kind: cmdState})
	return r.state, r.err
}

// Subscribe registers an observer and proactively delivers the current
// snapshot on the returned channel. If a poll is active its countdown is
// resumed. An existing subscription under the same id is replaced.
func (h *Hub) Subscribe(ctx context.Context, observerID string) (<-chan domain.Notification, error) {
	if observerID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("observer id is required"))
	}

	r := h.do(ctx, command{kind: cmdSubscribe, observerID: observerID})
	return r.ch, r.err
}

// Unsubscribe removes an observer from fan-out when ch is still its
// registered channel, reporting whether anything was removed. A stale channel
// from a replaced subscription leaves the replacement untouched. Poll state
// is unaffected either way.
func (h *Hub) Unsubscribe(observerID string, ch <-chan domain.Notification) bool {
	r := h.do(context.Background(), command{kind: cmdUnsubscribe, observerID: observerID, observer: ch})
	return r.removed
}

// Tick is the timer coordinator's entry point; it re-reads the
// authoritative remaining time inside the command loop.
func (h *Hub) Tick(pollID string) {
	h.enqueue(command{kind: cmdTick, pollID: pollID})
}

func (h *Hub) do(ctx context.Context, cmd command) result {
	cmd.ctx = ctx
	cmd.reply = make(chan result, 1)

	select {
	case h.cmds <- cmd:
	case <-h.stopped:
		return result{err: errors.New(errors.CodeUnavailable, errors.WithMessagef("session coordinator is stopped"))}
	case <-ctx.Done():
		return result{err: errors.Internal(ctx.Err())}
	}

	select {
	case r := <-cmd.reply:
		return r
	case <-h.stopped:
		return result{err: errors.New(errors.CodeUnavailable, errors.WithMessagef("session coordinator is stopped"))}
	}
}

func (h *Hub) enqueue(cmd command) {
	select {
	case h.cmds <- cmd:
	case <-h.stopped:
	}
}

func (h *Hub) handle(cmd command) {
	ctx := cmd.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	switch cmd.kind {
	case cmdCreatePoll:
		p, err := h.handleCreate(ctx, cmd.create)
		cmd.reply <- result{poll: p, err: err}
	case cmdSubmitVote:
		cmd.reply <- result{err: h.handleVote(ctx, cmd.vote)}
	case cmdEndPoll:
		p, err := h.handleEnd(ctx)
		cmd.reply <- result{poll: p, err: err}
	case cmdTick:
		h.handleTick(ctx, cmd.pollID)
	case cmdSubscribe:
		cmd.reply <- result{ch: h.handleSubscribe(ctx, cmd.observerID)}
	case cmdUnsubscribe:
		var removed bool
		if ch, ok := h.observers[cmd.observerID]; ok {
			if cmd.observer == nil || (<-chan domain.Notification)(ch) == cmd.observer {
				close(ch)
				delete(h.observers, cmd.observerID)
				removed = true
			}
		}
		cmd.reply <- result{removed: removed}
	case cmdState:
		cmd.reply <- result{state: h.buildState(ctx)}
	case cmdNotify:
		h.handleNotify(cmd)
	}
}

func (h *Hub) handleCreate(ctx context.Context, req poll.CreateRequest) (*domain.Poll, error) {
	h.expireDue(ctx)

	prior, err := h.polls.GetActive(ctx)
	if err != nil {
		return nil, err
	}

	p, err := h.polls.Create(ctx, req)
	if err != nil {
		return nil, err
	}

	if prior != nil {
		h.timers.Stop(prior.ID)
		if final, err := h.polls.Get(ctx, prior.ID); err == nil {
			h.finishPoll(ctx, final)
		}
	}

	remaining, err := h.polls.RemainingSeconds(ctx, p.ID)
	if err != nil {
		remaining = p.DurationSeconds
	}

	h.broadcast(domain.Notification{
		Event: domain.NotifyPollCreated,
		Data:  CreatedPayload{Poll: *p, RemainingSeconds: remaining},
	})
	h.timers.Start(p.ID)
	h.eb.Publish(ctx, domain.EventPollCreated{Poll: *p, RemainingSeconds: remaining})

	return p, nil
}

func (h *Hub) handleVote(ctx context.Context, req SubmitVoteRequest) error {
	expired := h.expireDue(ctx)

	active, err := h.polls.GetActive(ctx)
	if err != nil {
		return err
	}

	if active == nil || active.ID != req.PollID {
		rejErr := h.voteRejection(ctx, req.PollID, expired)
		h.rejectVote(ctx, req, rejErr)
		return rejErr
	}

	_, err = h.votes.RecordVote(ctx, active, req.ParticipantID, req.OptionIndex)
	if err != nil {
		if e := errors.Convert(err); e.Code != errors.CodeInternal && e.Code != errors.CodeUnavailable {
			h.rejectVote(ctx, req, err)
		}
		return err
	}

	h.notifyTo(req.ParticipantID, domain.Notification{
		Event: domain.NotifyVoteSuccess,
		Data:  VoteAcceptedPayload{PollID: active.ID},
	})
	h.eb.Publish(ctx, domain.EventVoteAccepted{
		PollID:        active.ID,
		ParticipantID: req.ParticipantID,
		OptionIndex:   req.OptionIndex,
	})

	res, err := h.votes.Tally(ctx, active)
	if err != nil {
		slog.ErrorContext(ctx, "hub: tally after vote failed", "poll", active.ID, "error", err)
		return nil
	}

	h.broadcast(domain.Notification{Event: domain.NotifyPollResults, Data: res})
	h.eb.Publish(ctx, domain.EventTallyUpdated{Result: *res})

	return nil
}

func (h *Hub) handleEnd(ctx context.Context) (*domain.Poll, error) {
	h.expireDue(ctx)

	p, err := h.polls.End(ctx)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("no active poll to end"))
	}

	h.finishPoll(ctx, p)
	return p, nil
}

func (h *Hub) handleTick(ctx context.Context, pollID string) {
	remaining, err := h.polls.RemainingSeconds(ctx, pollID)
	if err != nil {
		// Poll went terminal through another command; that path already
		// announced the end.
		h.timers.Stop(pollID)
		return
	}

	if remaining > 0 {
		h.broadcast(domain.Notification{Event: domain.NotifyTimerUpdate, Data: TimerPayload{RemainingSeconds: remaining}})
		h.eb.Publish(ctx, domain.EventTimerTick{PollID: pollID, RemainingSeconds: remaining})
		return
	}

	// The remaining-time query itself performed the expiry transition.
	p, err := h.polls.Get(ctx, pollID)
	if err != nil {
		h.timers.Stop(pollID)
		return
	}

	h.finishPoll(ctx, p)
	h.broadcast(domain.Notification{Event: domain.NotifyTimerUpdate, Data: TimerPayload{RemainingSeconds: 0}})
}

func (h *Hub) handleSubscribe(ctx context.Context, id string) <-chan domain.Notification {
	if old, ok := h.observers[id]; ok {
		close(old)
	}

	ch := make(chan domain.Notification, h.buffer)
	h.observers[id] = ch

	state := h.buildState(ctx)
	ch <- domain.Notification{Event: domain.NotifyCurrentState, Data: state}

	if state.Poll != nil {
		h.timers.Start(state.Poll.ID)
	}

	return ch
}

func (h *Hub) handleNotify(cmd command) {
	if cmd.observerID == "" {
		h.broadcast(cmd.notification)
		return
	}

	h.notifyTo(cmd.observerID, cmd.notification)

	// A kicked participant is dropped from fan-out right after the
	// targeted notice.
	if cmd.notification.Event == domain.NotifyKickedOut {
		if ch, ok := h.observers[cmd.observerID]; ok {
			close(ch)
			delete(h.observers, cmd.observerID)
		}
	}
}

// expireDue runs the lazy-expiry check and, when it trips, announces the end
// of the expired poll. Returns the expired poll, if any.
func (h *Hub) expireDue(ctx context.Context) *domain.Poll {
	expired, err := h.polls.ExpireIfDue(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "hub: expiry check failed", "error", err)
		return nil
	}
	if expired == nil {
		return nil
	}

	h.finishPoll(ctx, expired)
	return expired
}

// finishPoll stops the poll's countdown and broadcasts the final result.
// The poll must already be terminal.
func (h *Hub) finishPoll(ctx context.Context, p *domain.Poll) {
	h.timers.Stop(p.ID)

	res, err := h.votes.Tally(ctx, p)
	if err != nil {
		slog.ErrorContext(ctx, "hub: final tally failed", "poll", p.ID, "error", err)
		res = &domain.PollResult{Poll: *p, Results: []domain.OptionTally{}}
	}

	h.broadcast(domain.Notification{Event: domain.NotifyPollEnded, Data: res})
	h.eb.Publish(ctx, domain.EventPollEnded{Result: *res, Reason: p.EndReason})
}

func (h *Hub) voteRejection(ctx context.Context, pollID string, justExpired *domain.Poll) error {
	if justExpired != nil && justExpired.ID == pollID {
		return errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("time limit exceeded"))
	}

	if _, err := h.polls.Get(ctx, pollID); err != nil {
		return err
	}
	return errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("poll is no longer active"))
}

func (h *Hub) rejectVote(ctx context.Context, req SubmitVoteRequest, rejErr error) {
	e := errors.Convert(rejErr)

	h.notifyTo(req.ParticipantID, domain.Notification{
		Event: domain.NotifyVoteError,
		Data:  VoteRejectedPayload{Reason: rejectionReason(e), Message: e.Message},
	})
	h.eb.Publish(ctx, domain.EventVoteRejected{
		PollID:        req.PollID,
		ParticipantID: req.ParticipantID,
		Reason:        rejectionReason(e),
		Message:       e.Message,
	})
}

func (h *Hub) buildState(ctx context.Context) *StatePayload {
	state := &StatePayload{Results: []domain.OptionTally{}}

	h.expireDue(ctx)

	p, err := h.polls.GetActive(ctx)
	if err != nil || p == nil {
		return state
	}

	remaining, err := h.polls.RemainingSeconds(ctx, p.ID)
	if err != nil {
		return state
	}

	res, err := h.votes.Tally(ctx, p)
	if err != nil {
		slog.ErrorContext(ctx, "hub: state tally failed", "poll", p.ID, "error", err)
		return state
	}

	state.Poll = p
	state.RemainingSeconds = remaining
	state.Results = res.Results
	return state
}

func (h *Hub) broadcast(n domain.Notification) {
	for id, ch := range h.observers {
		select {
		case ch <- n:
		default:
			slog.Warn("hub: observer buffer full, dropping notification", "observer", id, "event", n.Event)
		}
	}
}

func (h *Hub) notifyTo(id string, n domain.Notification) {
	ch, ok := h.observers[id]
	if !ok {
		return
	}

	select {
	case ch <- n:
	default:
		slog.Warn("hub: observer buffer full, dropping notification", "observer", id, "event", n.Event)
	}
}

func rejectionReason(e *errors.Error) string {
	switch e.Code {
	case errors.CodeAlreadyExists:
		return "already_voted"
	case errors.CodeOutOfRange:
		return "invalid_option"
	case errors.CodeFailedPrecondition:
		return "poll_not_active"
	case errors.CodeNotFound:
		return "poll_not_found"
	case errors.CodeInvalidArgument:
		return "invalid_request"
	default:
		return "internal"
	}
}
