package ledger

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/shopspring/decimal"

	"livepoll/internal/domain"
	"livepoll/internal/errors"
)

// ErrDuplicateVote is returned by Store.Insert when a vote for the same
// (poll, participant) pair already exists. The postgres store translates its
// unique-index violation to this; the memory store raises it directly.
var ErrDuplicateVote = stderrors.New("vote already recorded")

// Store is the append-only vote record. Insert must be an atomic
// check-and-insert with respect to concurrent callers for the same
// (poll, participant) key.
type Store interface {
	Insert(ctx context.Context, v *domain.Vote) error
	// CountByOption returns per-option vote counts and the total for a poll.
	CountByOption(ctx context.Context, pollID string) (map[int]int, int, error)
	HasVoted(ctx context.Context, pollID, participantID string) (bool, error)
}

type Config struct {
	Store Store
	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// Service enforces at-most-one vote per participant per poll. Uniqueness
// rests on the store's atomic insert, so two racing submissions for the same
// key yield exactly one success no matter how they interleave.
type Service struct {
	store Store
	now   func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		store: c.Store,
		now:   c.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// RecordVote appends a vote for p. The option index is checked against p's
// option list at call time. On any failure nothing is recorded.
func (s *Service) RecordVote(ctx context.Context, p *domain.Poll, participantID string, optionIndex int) (*domain.Vote, error) {
	if participantID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("participant id is required"))
	}

	if optionIndex < 0 || optionIndex >= len(p.Options) {
		return nil, errors.New(errors.CodeOutOfRange,
			errors.WithMessagef("invalid option: index %d is out of range for %d options", optionIndex, len(p.Options)),
		)
	}

	v := &domain.Vote{
		PollID:        p.ID,
		ParticipantID: participantID,
		OptionIndex:   optionIndex,
		SubmittedAt:   s.now(),
	}

	if err := s.store.Insert(ctx, v); err != nil {
		if stderrors.Is(err, ErrDuplicateVote) {
			return nil, errors.New(errors.CodeAlreadyExists,
				errors.WithMessagef("you have already voted for this poll"),
				errors.WithCause(err),
			)
		}
		return nil, errors.Unavailable(err)
	}

	return v, nil
}

// Tally computes per-option counts and percentages for p from every vote
// recorded against it. Percentages are rounded half away from zero per
// option and are deliberately not renormalized, so they may not sum to 100.
func (s *Service) Tally(ctx context.Context, p *domain.Poll) (*domain.PollResult, error) {
	counts, total, err := s.store.CountByOption(ctx, p.ID)
	if err != nil {
		return nil, errors.Unavailable(err)
	}

	results := make([]domain.OptionTally, 0, len(p.Options))
	for i, option := range p.Options {
		count := counts[i]
		results = append(results, domain.OptionTally{
			Option:     option,
			Count:      count,
			Percentage: percentage(count, total),
		})
	}

	return &domain.PollResult{
		Poll:       *p,
		Results:    results,
		TotalVotes: total,
	}, nil
}

// HasVoted reports whether a participant already voted for a poll.
// Idempotent status check used by the query surface.
func (s *Service) HasVoted(ctx context.Context, pollID, participantID string) (bool, error) {
	voted, err := s.store.HasVoted(ctx, pollID, participantID)
	if err != nil {
		return false, errors.Unavailable(err)
	}
	return voted, nil
}

// CountVotes returns the total number of votes recorded for a poll.
func (s *Service) CountVotes(ctx context.Context, pollID string) (int, error) {
	_, total, err := s.store.CountByOption(ctx, pollID)
	if err != nil {
		return 0, errors.Unavailable(err)
	}
	return total, nil
}

func percentage(count, total int) int {
	if total <= 0 {
		return 0
	}

	return int(decimal.NewFromInt(int64(count) * 100).
		DivRound(decimal.NewFromInt(int64(total)), 0).
		IntPart())
}
