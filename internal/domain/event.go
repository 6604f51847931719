package domain

const (
	EventNamePollCreated       = "poll.created"
	EventNamePollEnded         = "poll.ended"
	EventNameVoteAccepted      = "vote.accepted"
	EventNameVoteRejected      = "vote.rejected"
	EventNameTallyUpdated      = "tally.updated"
	EventNameTimerTick         = "timer.tick"
	EventNameChatMessage       = "chat.message"
	EventNameRosterUpdated     = "roster.updated"
	EventNameParticipantKicked = "roster.kicked"
)

type EventPollCreated struct {
	Poll             Poll
	RemainingSeconds int
}

func (EventPollCreated) Name() string { return EventNamePollCreated }

type EventPollEnded struct {
	Result PollResult
	Reason string
}

func (EventPollEnded) Name() string { return EventNamePollEnded }

type EventVoteAccepted struct {
	PollID        string
	ParticipantID string
	OptionIndex   int
}

func (EventVoteAccepted) Name() string { return EventNameVoteAccepted }

type EventVoteRejected struct {
	PollID        string
	ParticipantID string
	Reason        string
	Message       string
}

func (EventVoteRejected) Name() string { return EventNameVoteRejected }

type EventTallyUpdated struct {
	Result PollResult
}

func (EventTallyUpdated) Name() string { return EventNameTallyUpdated }

type EventTimerTick struct {
	PollID           string
	RemainingSeconds int
}

func (EventTimerTick) Name() string { return EventNameTimerTick }

type EventChatMessage struct {
	Message ChatMessage
}

func (EventChatMessage) Name() string { return EventNameChatMessage }

type EventRosterUpdated struct {
	Participants []Participant
}

func (EventRosterUpdated) Name() string { return EventNameRosterUpdated }

type EventParticipantKicked struct {
	ParticipantID string
}

func (EventParticipantKicked) Name() string { return EventNameParticipantKicked }
