//go:build integration_test

package demo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"livepoll/internal/domain"
)

const (
	addr = "http://localhost:8080"
)

func TestLivePoll(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var (
		wg    = new(sync.WaitGroup)
		users = []string{"u1", "u2", "u3"}
	)

	// Prepare Redis subscriber
	subscribeToEvents(t, makeRedis(t), wg)

	// Create new poll
	var pollID string
	{
		var created domain.Poll
		postJSON(ctx, t, "/api/v1/polls", map[string]any{
			"question":      "Which option wins?",
			"options":       []string{"A", "B", "C"},
			"timerDuration": 10,
		}, &created)
		pollID = created.ID
	}

	// All users submit votes concurrently
	var eg errgroup.Group
	for i, u := range users {
		i, u := i, u
		eg.Go(func() error {
			var resp struct {
				Success bool `json:"success"`
			}
			postJSON(ctx, t, "/api/v1/votes", map[string]any{
				"pollId":        pollID,
				"participantId": u,
				"optionIndex":   i % 2,
			}, &resp)

			t.Logf("User %q voted: success=%v", u, resp.Success)
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	// End the poll and let the subscriber drain
	postJSON(ctx, t, "/api/v1/polls/end", map[string]any{}, nil)

	time.Sleep(2 * time.Second)
	wg.Wait()
}

func postJSON(ctx context.Context, t *testing.T, path string, body any, out any) {
	t.Helper()

	b, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, addr+path, bytes.NewReader(b))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Less(t, resp.StatusCode, 300)

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
}

func subscribeToEvents(t *testing.T, rc redis.UniversalClient, wg *sync.WaitGroup) {
	wg.Add(1)
	sub := subscribeRedis(t, rc, "local:pubsub:events")
	go func() {
		defer wg.Done()

		for msg := range sub {
			var n struct {
				Event string          `json:"event"`
				Data  json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				t.Logf("unmarshal notification: %v", err)
				continue
			}

			switch n.Event {
			case domain.NotifyPollResults, domain.NotifyPollEnded:
				var r domain.PollResult
				if err := json.Unmarshal(n.Data, &r); err != nil {
					t.Logf("unmarshal results: %v", err)
					continue
				}

				t.Logf("%s:\n%s", n.Event, formatResults(r))
			}
		}
	}()
}

func subscribeRedis(t *testing.T, rc redis.UniversalClient, channel string) <-chan *redis.Message {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := rc.Subscribe(ctx, channel)
	t.Cleanup(func() { sub.Close() })

	c := make(chan *redis.Message)
	go func() {
		defer close(c)

		for {
			msg, err := sub.ReceiveMessage(ctx)
			if err != nil {
				t.Log(err)
				return
			}

			c <- msg
		}
	}()

	return c
}

func makeRedis(t *testing.T) redis.UniversalClient {
	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{"localhost:6379"},
	})
	t.Cleanup(func() { r.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.Ping(ctx).Err(); err != nil {
		t.Fatal(err)
	}

	return r
}

func formatResults(r domain.PollResult) string {
	var s string
	for _, o := range r.Results {
		s += fmt.Sprintf("%s: %d (%d%%)\n", o.Option, o.Count, o.Percentage)
	}
	return s
}
