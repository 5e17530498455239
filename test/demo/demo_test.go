//go:build integration_test

package demo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/assessment/internal/api"
	"github.com/victornm/assessment/internal/domain"
)

const (
	baseURL = "http://localhost:8080"
)

// TestAssessment runs against a server started with config.example.yaml.
func TestAssessment(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var (
		wg     = new(sync.WaitGroup)
		examID = "demo-" + uuid.NewString()[:8]
		users  = []string{"u1", "u2", "u3"}
	)

	// Prepare Redis subscriber
	subscribeAsUser(t, makeRedis(t), wg, "u1")

	// Author the exam
	{
		var def domain.ExamDefinition
		err := do(ctx, http.MethodPut, "/v1/exams/"+examID, token(t, "author", api.RoleAuthor), map[string]any{
			"title":           "Demo exam",
			"durationMinutes": 1,
			"passingScore":    50,
			"questions": []map[string]any{
				{"text": "2 + 2", "options": []string{"3", "4"}, "correctOptionIndex": 1},
				{"text": "3 * 3", "options": []string{"9", "6"}, "correctOptionIndex": 0},
			},
		}, &def)
		require.NoError(t, err)
		require.Len(t, def.Questions, 2)
	}

	// Every user starts a session and fires two submits at once. Only one result may be stored.
	var eg errgroup.Group
	for i, u := range users {
		tk := token(t, u, api.RoleLearner)

		eg.Go(func() error {
			var ss struct {
				SessionID string `json:"sessionId"`
			}
			if err := do(ctx, http.MethodPost, "/v1/exams/"+examID+"/sessions", tk, nil, &ss); err != nil {
				return fmt.Errorf("user %q start session: %w", u, err)
			}

			answers := []int{1, i % 2}

			var sg errgroup.Group
			for range 2 {
				sg.Go(func() error {
					var resp struct {
						ScorePercent int  `json:"scorePercent"`
						Duplicate    bool `json:"duplicate"`
					}
					status, err := doStatus(ctx, http.MethodPost, "/v1/sessions/"+ss.SessionID+"/submit", tk, map[string]any{"answers": answers}, &resp)
					if err != nil {
						return fmt.Errorf("user %q submit: %w", u, err)
					}
					t.Logf("User %q submit: status=%d, score=%d, duplicate=%t", u, status, resp.ScorePercent, resp.Duplicate)
					return nil
				})
			}
			if err := sg.Wait(); err != nil {
				return err
			}

			var attempts struct {
				Attempts []json.RawMessage `json:"attempts"`
			}
			if err := do(ctx, http.MethodGet, "/v1/exams/"+examID+"/users/"+u+"/attempts", tk, nil, &attempts); err != nil {
				return fmt.Errorf("user %q list attempts: %w", u, err)
			}
			if len(attempts.Attempts) != 1 {
				return fmt.Errorf("user %q: want 1 stored attempt, got %d", u, len(attempts.Attempts))
			}
			return nil
		})
	}

	require.NoError(t, eg.Wait())

	time.Sleep(2 * time.Second)
	wg.Wait()
}

func token(t *testing.T, sub string, role api.Role) string {
	tk := jwt.NewWithClaims(jwt.SigningMethodHS256, api.Claims{
		Name: sub,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	s, err := tk.SignedString([]byte(os.Getenv("AUTH_JWTSECRET")))
	require.NoError(t, err)
	return s
}

func do(ctx context.Context, method, path, token string, body, out any) error {
	status, err := doStatus(ctx, method, path, token, body, out)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("%s %s: status %d", method, path, status)
	}
	return nil
}

func doStatus(ctx context.Context, method, path, token string, body, out any) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}

	return resp.StatusCode, nil
}

func subscribeAsUser(t *testing.T, rc redis.UniversalClient, wg *sync.WaitGroup, u string) {
	wg.Add(1)
	sub := subscribeRedis(t, rc, fmt.Sprintf("assessment:user:%s", u))
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

			t.Logf("%s received %s: %s", u, n.Event, n.Data)
		}
	}()
}

func subscribeRedis(t *testing.T, rc redis.UniversalClient, pattern string) <-chan *redis.Message {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	sub := rc.PSubscribe(ctx, pattern)
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
