package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"livepoll/internal/domain"
	"livepoll/internal/errors"
	"livepoll/internal/event"
)

const (
	defaultHistoryLimit = 200
	maxMessageLen       = 500
)

type Config struct {
	EventBus *event.Bus
	// HistoryLimit caps the retained message history; defaults to 200.
	HistoryLimit int
	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// Service is the shared session chat. Messages live for the process lifetime
// only; every posted message goes out on the event bus for fan-out.
type Service struct {
	eb    *event.Bus
	limit int
	now   func() time.Time

	mu       sync.RWMutex
	messages []domain.ChatMessage
}

func NewService(c Config) *Service {
	s := &Service{
		eb:    c.EventBus,
		limit: c.HistoryLimit,
		now:   c.Now,
	}
	if s.limit <= 0 {
		s.limit = defaultHistoryLimit
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type PostRequest struct {
	SenderID   string
	SenderName string
	Message    string
}

func (s *Service) Post(ctx context.Context, req PostRequest) (*domain.ChatMessage, error) {
	name := strings.TrimSpace(req.SenderName)
	text := strings.TrimSpace(req.Message)

	if name == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("sender name is required"))
	}
	if text == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("message must not be empty"))
	}
	if len([]rune(text)) > maxMessageLen {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("message must be at most %d characters", maxMessageLen))
	}

	m := domain.ChatMessage{
		ID:         uuid.New().String(),
		SenderID:   req.SenderID,
		SenderName: name,
		Message:    text,
		Timestamp:  s.now(),
	}

	s.mu.Lock()
	s.messages = append(s.messages, m)
	if len(s.messages) > s.limit {
		s.messages = s.messages[len(s.messages)-s.limit:]
	}
	s.mu.Unlock()

	s.eb.Publish(ctx, domain.EventChatMessage{Message: m})

	return &m, nil
}

// History returns the retained messages, oldest first.
func (s *Service) History() []domain.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}
