package domain

import "time"

// Poll terminal reasons. A poll leaves the active state exactly once and
// never returns to it.
const (
	EndReasonExpired    = "expired"
	EndReasonModerator  = "ended_by_moderator"
	EndReasonSuperseded = "superseded"
)

// Poll is a single question with a fixed option set and a countdown window.
// At most one poll is active system-wide at any instant.
type Poll struct {
	ID              string     `json:"id"`
	Question        string     `json:"question"`
	Options         []string   `json:"options"`
	DurationSeconds int        `json:"durationSeconds"`
	StartTime       time.Time  `json:"startTime"`
	EndTime         *time.Time `json:"endTime,omitempty"`
	Active          bool       `json:"active"`
	EndReason       string     `json:"endReason,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// Vote is one participant's single, immutable choice for one poll.
// (PollID, ParticipantID) is unique across all votes ever recorded.
type Vote struct {
	PollID        string    `json:"pollId"`
	ParticipantID string    `json:"participantId"`
	OptionIndex   int       `json:"optionIndex"`
	SubmittedAt   time.Time `json:"submittedAt"`
}

// OptionTally is the derived per-option count for a poll. Percentage is
// rounded independently per option, so a tally's percentages are not
// guaranteed to sum to 100.
type OptionTally struct {
	Option     string `json:"option"`
	Count      int    `json:"count"`
	Percentage int    `json:"percentage"`
}

// PollResult pairs a poll with its tally.
type PollResult struct {
	Poll       Poll          `json:"poll"`
	Results    []OptionTally `json:"results"`
	TotalVotes int           `json:"totalVotes"`
}

// ChatMessage is a message in the shared session chat.
type ChatMessage struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// Participant is a registered member of the session roster.
type Participant struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joinedAt"`
}
