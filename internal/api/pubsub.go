package api

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/victornm/assessment/internal/domain"
)

const maxConcurrent = 100

type Notification struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// PublishAttemptSubmitted tells the user an attempt was scored, which covers attempts
// submitted by the timer while no request was in flight.
func (a *API) PublishAttemptSubmitted(ctx context.Context, e domain.EventAttemptSubmitted) error {
	return a.publishNotification(ctx, e.Result.UserID, e.Name(), newResultView(&e.Result))
}

// PublishLeaderboardUpdated sends the new ranking to every user on it.
func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	data := newLeaderboardView(&e.Leaderboard)

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, entry := range data.Entries {
		eg.Go(func() error {
			return a.publishNotification(ctx, entry.UserID, e.Name(), data)
		})
	}

	return eg.Wait()
}

func (a *API) publishNotification(ctx context.Context, user, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, fmt.Sprintf("%s:user:%s", a.prefix, user), b).Err()
}
