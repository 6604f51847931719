package roster

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"livepoll/internal/domain"
	"livepoll/internal/errors"
	"livepoll/internal/event"
)

type Config struct {
	EventBus *event.Bus
	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// Service tracks the participants connected to the session. Roster changes
// never affect poll state; they only drive the participants fan-out.
type Service struct {
	eb  *event.Bus
	now func() time.Time

	mu           sync.RWMutex
	participants map[string]domain.Participant
}

func NewService(c Config) *Service {
	s := &Service{
		eb:           c.EventBus,
		now:          c.Now,
		participants: make(map[string]domain.Participant),
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Register adds a participant under a caller-supplied opaque id.
// Re-registering the same id updates the name and keeps the original join
// time.
func (s *Service) Register(ctx context.Context, id, name string) (*domain.Participant, error) {
	id = strings.TrimSpace(id)
	name = strings.TrimSpace(name)

	if id == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("participant id is required"))
	}
	if name == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("participant name is required"))
	}

	s.mu.Lock()
	p, ok := s.participants[id]
	if ok {
		p.Name = name
	} else {
		p = domain.Participant{ID: id, Name: name, JoinedAt: s.now()}
	}
	s.participants[id] = p
	s.mu.Unlock()

	s.publishRoster(ctx)

	return &p, nil
}

// List returns the registered participants ordered by join time.
func (s *Service) List() []domain.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked()
}

// Kick removes a participant and announces the removal. The kicked
// participant gets a targeted notification before being dropped from
// fan-out.
func (s *Service) Kick(ctx context.Context, id string) error {
	s.mu.Lock()
	_, ok := s.participants[id]
	if ok {
		delete(s.participants, id)
	}
	s.mu.Unlock()

	if !ok {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("participant not found: %s", id))
	}

	s.eb.Publish(ctx, domain.EventParticipantKicked{ParticipantID: id})
	s.publishRoster(ctx)
	return nil
}

// Disconnect removes a participant that dropped its connection. Unknown ids
// are ignored: disconnects can race with kicks.
func (s *Service) Disconnect(ctx context.Context, id string) {
	s.mu.Lock()
	_, ok := s.participants[id]
	if ok {
		delete(s.participants, id)
	}
	s.mu.Unlock()

	if ok {
		s.publishRoster(ctx)
	}
}

func (s *Service) publishRoster(ctx context.Context) {
	s.mu.RLock()
	list := s.listLocked()
	s.mu.RUnlock()

	s.eb.Publish(ctx, domain.EventRosterUpdated{Participants: list})
}

func (s *Service) listLocked() []domain.Participant {
	out := make([]domain.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}
