package ledger_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"livepoll/internal/domain"
	"livepoll/internal/errors"
	"livepoll/internal/ledger"
	"livepoll/internal/store/memory"
)

func TestService_RecordVote(t *testing.T) {
	poll := &domain.Poll{
		ID:       "p1",
		Question: "What is your favorite color?",
		Options:  []string{"Red", "Blue", "Green"},
	}

	type (
		inputs struct {
			participantID string
			optionIndex   int
			prior         []domain.Vote
		}

		outputs struct {
			vote *domain.Vote
			err  error
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"should record a first vote": {
			arrange: func() inputs {
				return inputs{participantID: "u1", optionIndex: 1}
			},

			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				require.Equal(t, "p1", out.vote.PollID)
				require.Equal(t, "u1", out.vote.ParticipantID)
				require.Equal(t, 1, out.vote.OptionIndex)
			},
		},

		"should reject a second vote from the same participant": {
			arrange: func() inputs {
				return inputs{
					participantID: "u1",
					optionIndex:   2,
					prior: []domain.Vote{
						{PollID: "p1", ParticipantID: "u1", OptionIndex: 0},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.True(t, errors.IsCode(out.err, errors.CodeAlreadyExists))
				require.Equal(t, "you have already voted for this poll", errors.Convert(out.err).Message)
			},
		},

		"should reject an option index past the option list": {
			arrange: func() inputs {
				return inputs{participantID: "u1", optionIndex: 3}
			},

			assert: func(t *testing.T, out outputs) {
				require.True(t, errors.IsCode(out.err, errors.CodeOutOfRange))
			},
		},

		"should reject a negative option index": {
			arrange: func() inputs {
				return inputs{participantID: "u1", optionIndex: -1}
			},

			assert: func(t *testing.T, out outputs) {
				require.True(t, errors.IsCode(out.err, errors.CodeOutOfRange))
			},
		},

		"should reject an empty participant id": {
			arrange: func() inputs {
				return inputs{participantID: "", optionIndex: 0}
			},

			assert: func(t *testing.T, out outputs) {
				require.True(t, errors.IsCode(out.err, errors.CodeInvalidArgument))
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in := tt.arrange()

			store := memory.NewStore()
			s := ledger.NewService(ledger.Config{Store: store})

			for _, v := range in.prior {
				v := v
				require.NoError(t, store.Insert(context.Background(), &v))
			}

			vote, err := s.RecordVote(context.Background(), poll, in.participantID, in.optionIndex)
			tt.assert(t, outputs{vote: vote, err: err})
		})
	}
}

func TestService_RecordVote_Concurrent(t *testing.T) {
	poll := &domain.Poll{
		ID:      "p1",
		Options: []string{"Yes", "No"},
	}

	s := ledger.NewService(ledger.Config{Store: memory.NewStore()})

	const submissions = 50

	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
	)
	for i := 0; i < submissions; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := s.RecordVote(context.Background(), poll, "u1", i%2)
			if err == nil {
				accepted.Add(1)
				return
			}
			require.True(t, errors.IsCode(err, errors.CodeAlreadyExists))
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), accepted.Load(), "racing votes for the same participant must yield exactly one success")

	total, err := s.CountVotes(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, 1, total)
}

func TestService_Tally(t *testing.T) {
	poll := &domain.Poll{
		ID:      "p1",
		Options: []string{"Red", "Blue", "Green"},
	}

	tests := map[string]struct {
		votes []int // option index per participant
		want  []domain.OptionTally
	}{
		"no votes yet": {
			votes: nil,
			want: []domain.OptionTally{
				{Option: "Red", Count: 0, Percentage: 0},
				{Option: "Blue", Count: 0, Percentage: 0},
				{Option: "Green", Count: 0, Percentage: 0},
			},
		},

		"single vote takes 100 percent": {
			votes: []int{2},
			want: []domain.OptionTally{
				{Option: "Red", Count: 0, Percentage: 0},
				{Option: "Blue", Count: 0, Percentage: 0},
				{Option: "Green", Count: 1, Percentage: 100},
			},
		},

		"thirds round to 33 and do not renormalize": {
			votes: []int{0, 1, 2},
			want: []domain.OptionTally{
				{Option: "Red", Count: 1, Percentage: 33},
				{Option: "Blue", Count: 1, Percentage: 33},
				{Option: "Green", Count: 1, Percentage: 33},
			},
		},

		"two thirds round half up": {
			votes: []int{0, 0, 1},
			want: []domain.OptionTally{
				{Option: "Red", Count: 2, Percentage: 67},
				{Option: "Blue", Count: 1, Percentage: 33},
				{Option: "Green", Count: 0, Percentage: 0},
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s := ledger.NewService(ledger.Config{
				Store: memory.NewStore(),
				Now:   func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) },
			})

			for i, opt := range tt.votes {
				_, err := s.RecordVote(context.Background(), poll, fmt.Sprintf("u%d", i), opt)
				require.NoError(t, err)
			}

			res, err := s.Tally(context.Background(), poll)
			require.NoError(t, err)
			require.Equal(t, tt.want, res.Results)
			require.Equal(t, len(tt.votes), res.TotalVotes)
		})
	}
}

func TestService_HasVoted(t *testing.T) {
	poll := &domain.Poll{ID: "p1", Options: []string{"A", "B"}}

	s := ledger.NewService(ledger.Config{Store: memory.NewStore()})

	voted, err := s.HasVoted(context.Background(), "p1", "u1")
	require.NoError(t, err)
	require.False(t, voted)

	_, err = s.RecordVote(context.Background(), poll, "u1", 0)
	require.NoError(t, err)

	voted, err = s.HasVoted(context.Background(), "p1", "u1")
	require.NoError(t, err)
	require.True(t, voted)
}
