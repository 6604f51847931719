package poll

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"livepoll/internal/domain"
	"livepoll/internal/errors"
)

const (
	maxQuestionLen = 100
	minDuration    = 1
	maxDuration    = 60
)

// Store is the durable record of polls. Create must atomically close the
// superseded poll (when given) and insert the new one.
type Store interface {
	Create(ctx context.Context, p *domain.Poll, superseded *domain.Poll) error
	Update(ctx context.Context, p *domain.Poll) error
	// FindActive returns (nil, nil) when no poll is active.
	FindActive(ctx context.Context) (*domain.Poll, error)
	// FindByID returns (nil, nil) when the poll does not exist.
	FindByID(ctx context.Context, id string) (*domain.Poll, error)
	List(ctx context.Context) ([]domain.Poll, error)
}

type Config struct {
	Store Store
	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// Service owns the single active-poll slot. Every read or transition of the
// slot happens under one mutex, so no two callers can observe the same poll
// as simultaneously active and terminal.
type Service struct {
	store Store
	now   func() time.Time

	mu     sync.Mutex
	active *domain.Poll
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

// Resume loads whatever poll is currently active from the store into the
// slot. Called once at startup so a restarted process picks up a mid-flight
// poll instead of losing it.
func (s *Service) Resume(ctx context.Context) error {
	p, err := s.store.FindActive(ctx)
	if err != nil {
		return fmt.Errorf("poll: resume active poll: %w", err)
	}

	s.mu.Lock()
	s.active = p
	s.mu.Unlock()
	return nil
}

type CreateRequest struct {
	Question        string
	Options         []string
	DurationSeconds int
}

// Create validates the request, force-closes any currently active poll as
// superseded, and installs the new poll as the sole active one. Validation
// failures never mutate state.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*domain.Poll, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, errors.Internal(fmt.Errorf("generate poll ID: %w", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	var superseded *domain.Poll
	if s.active != nil && s.active.Active {
		prior := *s.active
		endAt := now
		prior.Active = false
		prior.EndTime = &endAt
		prior.EndReason = domain.EndReasonSuperseded
		superseded = &prior
	}

	p := &domain.Poll{
		ID:              id.String(),
		Question:        strings.TrimSpace(req.Question),
		Options:         append([]string(nil), req.Options...),
		DurationSeconds: req.DurationSeconds,
		StartTime:       now,
		Active:          true,
		CreatedAt:       now,
	}

	if err := s.store.Create(ctx, p, superseded); err != nil {
		return nil, errors.Unavailable(err)
	}

	s.active = p

	out := *p
	return &out, nil
}

// GetActive returns the currently active poll, expiring it first when its
// window has elapsed. Returns (nil, nil) when no poll is active.
func (s *Service) GetActive(ctx context.Context) (*domain.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.expireIfDueLocked(ctx); err != nil {
		return nil, err
	}

	if s.active == nil || !s.active.Active {
		return nil, nil
	}

	out := *s.active
	return &out, nil
}

// End transitions the active poll to ended-by-moderator and returns it.
// Returns (nil, nil) when no poll is active; calling it twice in a row has
// the effect of calling it once.
func (s *Service) End(ctx context.Context) (*domain.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil || !s.active.Active {
		return nil, nil
	}

	ended := *s.active
	endAt := s.now()
	ended.Active = false
	ended.EndTime = &endAt
	ended.EndReason = domain.EndReasonModerator

	if err := s.store.Update(ctx, &ended); err != nil {
		return nil, errors.Unavailable(err)
	}

	s.active = &ended

	out := ended
	return &out, nil
}

// RemainingSeconds returns duration minus the whole seconds elapsed for the
// active poll. The value stays at least 1 until the window has fully elapsed,
// and the call that first returns 0 performs the same lazy-expiry transition
// as GetActive before returning, so the two can never disagree about whether
// the poll has expired.
func (s *Service) RemainingSeconds(ctx context.Context, pollID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil || s.active.ID != pollID || !s.active.Active {
		return 0, s.notActiveErrLocked(ctx, pollID)
	}

	elapsed := s.now().Sub(s.active.StartTime).Seconds()
	if elapsed >= float64(s.active.DurationSeconds) {
		if _, err := s.expireIfDueLocked(ctx); err != nil {
			return 0, err
		}
		return 0, nil
	}

	return s.active.DurationSeconds - int(elapsed), nil
}

// ExpireIfDue transitions the active poll to expired when its window has
// elapsed, returning the poll it expired or nil. Idempotent: once a caller
// observes the transition, every later caller sees an inactive slot.
func (s *Service) ExpireIfDue(ctx context.Context) (*domain.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expireIfDueLocked(ctx)
}

// CanCreateNew reports whether a create request would be accepted: true
// unless a poll is active and still strictly within its time window.
func (s *Service) CanCreateNew() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil || !s.active.Active {
		return true
	}

	elapsed := s.now().Sub(s.active.StartTime).Seconds()
	return elapsed >= float64(s.active.DurationSeconds)
}

// Get returns a poll by id, active or not.
func (s *Service) Get(ctx context.Context, id string) (*domain.Poll, error) {
	p, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, errors.Unavailable(err)
	}
	if p == nil {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("poll not found: %s", id))
	}
	return p, nil
}

// List returns all polls ever created, newest first. Retained for history
// queries; polls are never deleted.
func (s *Service) List(ctx context.Context) ([]domain.Poll, error) {
	polls, err := s.store.List(ctx)
	if err != nil {
		return nil, errors.Unavailable(err)
	}
	return polls, nil
}

func (s *Service) expireIfDueLocked(ctx context.Context) (*domain.Poll, error) {
	if s.active == nil || !s.active.Active {
		return nil, nil
	}

	now := s.now()
	elapsed := now.Sub(s.active.StartTime).Seconds()
	if elapsed < float64(s.active.DurationSeconds) {
		return nil, nil
	}

	expired := *s.active
	expired.Active = false
	expired.EndTime = &now
	expired.EndReason = domain.EndReasonExpired

	if err := s.store.Update(ctx, &expired); err != nil {
		return nil, errors.Unavailable(err)
	}

	s.active = &expired

	out := expired
	return &out, nil
}

func (s *Service) notActiveErrLocked(ctx context.Context, pollID string) error {
	p, err := s.store.FindByID(ctx, pollID)
	if err != nil {
		return errors.Unavailable(err)
	}
	if p == nil {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("poll not found: %s", pollID))
	}
	return errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("poll is no longer active"))
}

func validateCreate(req CreateRequest) error {
	q := strings.TrimSpace(req.Question)
	if q == "" {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("question is required"))
	}
	if len([]rune(q)) > maxQuestionLen {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("question must be at most %d characters", maxQuestionLen))
	}
	if len(req.Options) < 2 {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("at least 2 options are required"))
	}
	for i, o := range req.Options {
		if strings.TrimSpace(o) == "" {
			return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("option %d must not be empty", i))
		}
	}
	if req.DurationSeconds < minDuration || req.DurationSeconds > maxDuration {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("timer duration must be between %d and %d seconds", minDuration, maxDuration))
	}
	return nil
}
