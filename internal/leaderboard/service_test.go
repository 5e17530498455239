package leaderboard_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/victornm/assessment/internal/domain"
	"github.com/victornm/assessment/internal/errors"
	"github.com/victornm/assessment/internal/event"
	"github.com/victornm/assessment/internal/leaderboard"
)

func submitted(examID, userID string, score int) domain.EventAttemptSubmitted {
	return domain.EventAttemptSubmitted{
		Result: domain.AttemptResult{
			AttemptID:    examID + "-" + userID,
			ExamID:       examID,
			UserID:       userID,
			ScorePercent: score,
			SubmittedAt:  time.Now(),
		},
	}
}

func TestService_UpdateLeaderboard(t *testing.T) {
	s := makeService(t)
	ctx := context.Background()

	for _, e := range []domain.EventAttemptSubmitted{
		submitted("e1", "u1", 40),
		submitted("e1", "u2", 60),
		submitted("e1", "u1", 80),
		submitted("e1", "u2", 20),
	} {
		require.NoError(t, s.UpdateLeaderboard(ctx, e))
	}

	resp, err := s.GetLeaderboard(ctx, leaderboard.GetLeaderboardRequest{
		ExamID: "e1",
	})
	require.NoError(t, err)

	want := &domain.Leaderboard{
		ExamID: "e1",
		Entries: []domain.LeaderboardEntry{
			{UserID: "u1", ScorePercent: 80},
			{UserID: "u2", ScorePercent: 60},
		},
	}
	require.Equal(t, want, resp, "each user should keep the best score")
}

func TestService_GetLeaderboard(t *testing.T) {
	tests := map[string]struct {
		limit  int
		assert func(t *testing.T, l *domain.Leaderboard, err error)
	}{
		"limit should cap the entries": {
			limit: 2,
			assert: func(t *testing.T, l *domain.Leaderboard, err error) {
				require.NoError(t, err)
				require.Equal(t, []domain.LeaderboardEntry{
					{UserID: "u12", ScorePercent: 100},
					{UserID: "u11", ScorePercent: 95},
				}, l.Entries)
			},
		},
		"zero limit should use the default": {
			assert: func(t *testing.T, l *domain.Leaderboard, err error) {
				require.NoError(t, err)
				require.Len(t, l.Entries, 10)
			},
		},
		"negative limit should return everyone": {
			limit: -1,
			assert: func(t *testing.T, l *domain.Leaderboard, err error) {
				require.NoError(t, err)
				require.Len(t, l.Entries, 12)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			s := makeService(t)
			ctx := context.Background()

			for i := 1; i <= 12; i++ {
				e := submitted("e1", fmt.Sprintf("u%02d", i), 40+5*i)
				require.NoError(t, s.UpdateLeaderboard(ctx, e))
			}

			l, err := s.GetLeaderboard(ctx, leaderboard.GetLeaderboardRequest{ExamID: "e1", Limit: tt.limit})
			tt.assert(t, l, err)
		})
	}
}

func TestService_GetLeaderboard_NotFound(t *testing.T) {
	s := makeService(t)

	_, err := s.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{ExamID: "e1"})
	require.Equal(t, errors.CodeNotFound, errors.Convert(err).Code)
}

func TestServer_PublishLeaderboardUpdated(t *testing.T) {
	type (
		inputs struct {
			receivedEvents []domain.EventAttemptSubmitted
		}

		outputs struct {
			publishedEvents []domain.EventLeaderboardUpdated
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"should publish correct event leaderboard.updated after receiving attempt.submitted": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []domain.EventAttemptSubmitted{
						submitted("e1", "u1", 70),
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1, "should receive 1 leaderboard updated event")
				require.Equal(t, domain.Leaderboard{
					ExamID: "e1",
					Entries: []domain.LeaderboardEntry{
						{UserID: "u1", ScorePercent: 70},
					},
				}, out.publishedEvents[0].Leaderboard)
			},
		},

		"should publish 2 events leaderboard.updated for attempts of 2 different exams": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []domain.EventAttemptSubmitted{
						submitted("e1", "u1", 70),
						submitted("e2", "u2", 90),
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 2, "should receive 2 leaderboard updated event")
			},
		},

		"should publish 1 event leaderboard.updated for attempts of the same exam within the publish interval": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []domain.EventAttemptSubmitted{
						submitted("e1", "u1", 70),
						submitted("e1", "u2", 90),
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1, "should receive 1 leaderboard updated event")
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in, out := tt.arrange(), outputs{}

			eb := event.NewBus()

			var mu sync.Mutex
			eb.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
				mu.Lock()
				out.publishedEvents = append(out.publishedEvents, e.(domain.EventLeaderboardUpdated))
				mu.Unlock()
				return nil
			})

			s := makeService(t,
				withEventBus(eb),
			)

			for _, e := range in.receivedEvents {
				err := s.UpdateLeaderboard(context.Background(), e)
				require.NoError(t, err)
			}

			eb.Stop()

			tt.assert(t, out)
		})
	}
}

func TestService_SubscribesToAttemptSubmitted(t *testing.T) {
	eb := event.NewBus()
	s := makeService(t, withEventBus(eb))

	eb.Publish(context.Background(), submitted("e1", "u1", 55))
	eb.Stop()

	l, err := s.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{ExamID: "e1"})
	require.NoError(t, err)
	require.Equal(t, []domain.LeaderboardEntry{{UserID: "u1", ScorePercent: 55}}, l.Entries)
}

func makeService(t *testing.T, opts ...options) *leaderboard.Service {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	c := leaderboard.Config{
		EventBus: event.NewBus(),
		Redis:    rc,
		Prefix:   "test",
	}

	for _, opt := range opts {
		opt(&c)
	}

	return leaderboard.NewService(c)
}

type options func(c *leaderboard.Config)

func withEventBus(eb *event.Bus) options {
	return func(c *leaderboard.Config) {
		c.EventBus = eb
	}
}
