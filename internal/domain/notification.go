package domain

// Notification event names, shared by the in-process observer fan-out and
// the redis publisher. The names are the wire contract clients key on.
const (
	NotifyCurrentState     = "currentState"
	NotifyPollCreated      = "pollCreated"
	NotifyVoteSuccess      = "voteSuccess"
	NotifyVoteError        = "voteError"
	NotifyPollResults      = "pollResults"
	NotifyPollEnded        = "pollEnded"
	NotifyTimerUpdate      = "timerUpdate"
	NotifyChatMessage      = "chatMessage"
	NotifyParticipantsList = "participantsList"
	NotifyKickedOut        = "kickedOut"
)

// Notification is one state-change message delivered to observers.
type Notification struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}
