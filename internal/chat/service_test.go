package chat_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"livepoll/internal/chat"
	"livepoll/internal/domain"
	"livepoll/internal/errors"
	"livepoll/internal/event"
)

func TestService_Post(t *testing.T) {
	tests := map[string]struct {
		req      chat.PostRequest
		wantCode errors.Code
	}{
		"valid message": {
			req: chat.PostRequest{SenderID: "u1", SenderName: "Ann", Message: "hello"},
		},
		"missing sender name": {
			req:      chat.PostRequest{SenderID: "u1", Message: "hello"},
			wantCode: errors.CodeInvalidArgument,
		},
		"blank message": {
			req:      chat.PostRequest{SenderID: "u1", SenderName: "Ann", Message: "   "},
			wantCode: errors.CodeInvalidArgument,
		},
		"message over 500 characters": {
			req:      chat.PostRequest{SenderID: "u1", SenderName: "Ann", Message: strings.Repeat("x", 501)},
			wantCode: errors.CodeInvalidArgument,
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s := chat.NewService(chat.Config{EventBus: event.NewBus()})

			m, err := s.Post(context.Background(), tt.req)
			if tt.wantCode != 0 {
				require.True(t, errors.IsCode(err, tt.wantCode), "got: %v", err)
				require.Empty(t, s.History())
				return
			}

			require.NoError(t, err)
			require.NotEmpty(t, m.ID)
			require.Equal(t, "hello", m.Message)
			require.Equal(t, []domain.ChatMessage{*m}, s.History())
		})
	}
}

func TestService_Post_PublishesEvent(t *testing.T) {
	eb := event.NewBus()

	var (
		mu        sync.Mutex
		published []domain.EventChatMessage
	)
	eb.Subscribe(domain.EventNameChatMessage, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		published = append(published, e.(domain.EventChatMessage))
		mu.Unlock()
		return nil
	})

	s := chat.NewService(chat.Config{EventBus: eb})

	m, err := s.Post(context.Background(), chat.PostRequest{SenderID: "u1", SenderName: "Ann", Message: "hi all"})
	require.NoError(t, err)

	eb.Stop()

	require.Len(t, published, 1)
	require.Equal(t, *m, published[0].Message)
}

func TestService_HistoryCapped(t *testing.T) {
	s := chat.NewService(chat.Config{EventBus: event.NewBus(), HistoryLimit: 3})

	for i := 0; i < 5; i++ {
		_, err := s.Post(context.Background(), chat.PostRequest{
			SenderID:   "u1",
			SenderName: "Ann",
			Message:    fmt.Sprintf("msg %d", i),
		})
		require.NoError(t, err)
	}

	history := s.History()
	require.Len(t, history, 3)
	require.Equal(t, "msg 2", history[0].Message, "oldest messages are evicted first")
	require.Equal(t, "msg 4", history[2].Message)
}
