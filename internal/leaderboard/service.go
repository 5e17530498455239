package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/assessment/internal/domain"
	"github.com/victornm/assessment/internal/errors"
	"github.com/victornm/assessment/internal/event"
)

const (
	publishInterval = 200 * time.Millisecond
	defaultLimit    = 10
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
}

type Service struct {
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	s.eb.Subscribe(domain.EventNameAttemptSubmitted, func(ctx context.Context, e event.Event) error {
		return s.UpdateLeaderboard(ctx, e.(domain.EventAttemptSubmitted))
	})

	return s
}

type GetLeaderboardRequest struct {
	ExamID string
	// Limit caps the number of entries. Zero means the default of 10, negative means all.
	Limit int
}

// GetLeaderboard returns the best score of each user who attempted the exam, highest first.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	stop := int64(req.Limit) - 1
	if req.Limit == 0 {
		stop = defaultLimit - 1
	}

	res, err := s.redis.ZRevRangeWithScores(ctx, s.getLeaderboardKey(req.ExamID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	if len(res) == 0 {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("leaderboard not found: exam=%s", req.ExamID))
	}

	entries := make([]domain.LeaderboardEntry, 0, len(res))
	for _, z := range res {
		entries = append(entries, domain.LeaderboardEntry{
			UserID:       z.Member.(string),
			ScorePercent: int(z.Score),
		})
	}

	return &domain.Leaderboard{
		ExamID:  req.ExamID,
		Entries: entries,
	}, nil
}

// UpdateLeaderboard records the score of a submitted attempt. A lower score never
// replaces the user's best one.
func (s *Service) UpdateLeaderboard(ctx context.Context, e domain.EventAttemptSubmitted) error {
	r := e.Result

	if err := s.redis.ZAddArgs(ctx, s.getLeaderboardKey(r.ExamID), redis.ZAddArgs{
		GT: true,
		Members: []redis.Z{{
			Score:  float64(r.ScorePercent),
			Member: r.UserID,
		}},
	}).Err(); err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}

	return s.schedulePublishLeaderboard(ctx, r)
}

// schedulePublishLeaderboard publishes at most one leaderboard.updated per exam and interval,
// across every instance sharing the Redis.
func (s *Service) schedulePublishLeaderboard(ctx context.Context, r domain.AttemptResult) error {
	ok, err := s.redis.SetNX(ctx, s.getLeaderboardTimeKey(r.ExamID), r.SubmittedAt.UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	l, err := s.GetLeaderboard(ctx, GetLeaderboardRequest{ExamID: r.ExamID})
	if err != nil {
		return fmt.Errorf("get leaderboard failed: exam=%s: %w", r.ExamID, err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: *l,
	})

	return nil
}

func (s *Service) getLeaderboardKey(examID string) string {
	return fmt.Sprintf("%s:%s:leaderboard", s.prefix, examID)
}

func (s *Service) getLeaderboardTimeKey(examID string) string {
	return fmt.Sprintf("%s:%s:time", s.prefix, examID)
}
