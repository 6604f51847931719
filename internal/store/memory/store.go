// Package memory is the process-lifetime storage backend. It backs the
// storage "memory" driver and every storage-dependent test; the postgres
// store is the durable twin with the same semantics.
package memory

import (
	"context"
	"sync"

	"livepoll/internal/domain"
	"livepoll/internal/ledger"
)

type Store struct {
	mu    sync.RWMutex
	polls map[string]domain.Poll
	order []string
	votes map[string]map[string]domain.Vote
}

func NewStore() *Store {
	return &Store{
		polls: make(map[string]domain.Poll),
		votes: make(map[string]map[string]domain.Vote),
	}
}

// Create inserts p and, in the same critical section, closes the superseded
// poll. Either both are visible or neither is.
func (s *Store) Create(_ context.Context, p *domain.Poll, superseded *domain.Poll) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if superseded != nil {
		s.polls[superseded.ID] = clonePoll(*superseded)
	}
	s.polls[p.ID] = clonePoll(*p)
	s.order = append(s.order, p.ID)
	return nil
}

func (s *Store) Update(_ context.Context, p *domain.Poll) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.polls[p.ID] = clonePoll(*p)
	return nil
}

func (s *Store) FindActive(_ context.Context) (*domain.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.polls {
		if p.Active {
			out := clonePoll(p)
			return &out, nil
		}
	}
	return nil, nil
}

func (s *Store) FindByID(_ context.Context, id string) (*domain.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.polls[id]
	if !ok {
		return nil, nil
	}
	out := clonePoll(p)
	return &out, nil
}

// List returns all polls, newest first.
func (s *Store) List(_ context.Context) ([]domain.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Poll, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, clonePoll(s.polls[s.order[i]]))
	}
	return out, nil
}

// Insert is the atomic check-and-insert for votes: under the store lock the
// (poll, participant) key is checked and written indivisibly.
func (s *Store) Insert(_ context.Context, v *domain.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byParticipant := s.votes[v.PollID]
	if byParticipant == nil {
		byParticipant = make(map[string]domain.Vote)
		s.votes[v.PollID] = byParticipant
	}

	if _, ok := byParticipant[v.ParticipantID]; ok {
		return ledger.ErrDuplicateVote
	}

	byParticipant[v.ParticipantID] = *v
	return nil
}

func (s *Store) CountByOption(_ context.Context, pollID string) (map[int]int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[int]int)
	total := 0
	for _, v := range s.votes[pollID] {
		counts[v.OptionIndex]++
		total++
	}
	return counts, total, nil
}

func (s *Store) HasVoted(_ context.Context, pollID, participantID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.votes[pollID][participantID]
	return ok, nil
}

func clonePoll(p domain.Poll) domain.Poll {
	p.Options = append([]string(nil), p.Options...)
	if p.EndTime != nil {
		endAt := *p.EndTime
		p.EndTime = &endAt
	}
	return p
}
