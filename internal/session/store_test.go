package session_test

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/assessment/internal/domain"
	"github.com/victornm/assessment/internal/errors"
	"github.com/victornm/assessment/internal/session"
)

func TestRedisStore_SaveLoad(t *testing.T) {
	s := makeStore(t)
	ctx := context.Background()

	in := &domain.AttemptSession{
		SessionID:            "s1",
		Token:                "t1",
		ExamID:               "e1",
		UserID:               "alice",
		Status:               domain.SessionStatusInProgress,
		CurrentQuestionIndex: 2,
		Answers:              []int{1, u, 0},
		TimeRemainingSeconds: 42,
		StartedAt:            time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		Definition:           *fiveQuestionExam(),
	}

	require.NoError(t, s.Save(ctx, in))

	out, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = s.Load(ctx, "s2")
	require.Equal(t, errors.CodeNotFound, errors.Convert(err).Code)
}

func TestRedisStore_IDs(t *testing.T) {
	s := makeStore(t)
	ctx := context.Background()

	for _, id := range []string{"s1", "s2", "s3"} {
		require.NoError(t, s.Save(ctx, &domain.AttemptSession{SessionID: id}))
	}

	_, err := s.ClaimSubmission(ctx, "t1", "p1")
	require.NoError(t, err)

	ids, err := s.IDs(ctx)
	require.NoError(t, err)

	sort.Strings(ids)
	assert.Equal(t, []string{"s1", "s2", "s3"}, ids, "submission slots should not be listed")
}

func TestRedisStore_ClaimSubmission(t *testing.T) {
	s := makeStore(t)
	ctx := context.Background()

	ok, err := s.ClaimSubmission(ctx, "t1", "p1")
	require.NoError(t, err)
	assert.True(t, ok, "free slot should be claimed")

	ok, err = s.ClaimSubmission(ctx, "t1", "p1")
	require.NoError(t, err)
	assert.True(t, ok, "holder should keep its slot")

	ok, err = s.ClaimSubmission(ctx, "t1", "p2")
	require.NoError(t, err)
	assert.False(t, ok, "slot held by another owner")

	require.NoError(t, s.ReleaseSubmission(ctx, "t1", "p2"))

	ok, err = s.ClaimSubmission(ctx, "t1", "p2")
	require.NoError(t, err)
	assert.False(t, ok, "release by a non holder should do nothing")

	require.NoError(t, s.ReleaseSubmission(ctx, "t1", "p1"))

	ok, err = s.ClaimSubmission(ctx, "t1", "p2")
	require.NoError(t, err)
	assert.True(t, ok, "released slot should be claimable")
}

func makeStore(t *testing.T) *session.RedisStore {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	return session.NewRedisStore(rc, "test", time.Hour)
}
