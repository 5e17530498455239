package session

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/assessment/internal/domain"
	"github.com/victornm/assessment/internal/errors"
)

const (
	defaultStateTTL = 24 * time.Hour
	scanCount       = 100
)

// Store keeps session state outside the process so a session survives restarts,
// and holds the single-use submission slot of every session token.
type Store interface {
	Save(ctx context.Context, ss *domain.AttemptSession) error
	Load(ctx context.Context, sessionID string) (*domain.AttemptSession, error)
	// IDs lists the ids of every stored session.
	IDs(ctx context.Context) ([]string, error)
	// ClaimSubmission takes the slot for token. It reports true when the slot was free
	// or is already held by owner.
	ClaimSubmission(ctx context.Context, token, owner string) (bool, error)
	ReleaseSubmission(ctx context.Context, token, owner string) error
}

type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisStore(r redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultStateTTL
	}

	return &RedisStore{
		redis:  r,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisStore) Save(ctx context.Context, ss *domain.AttemptSession) error {
	b, err := json.Marshal(ss)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	if err := s.redis.Set(ctx, s.sessionKey(ss.SessionID), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	return nil
}

func (s *RedisStore) Load(ctx context.Context, sessionID string) (*domain.AttemptSession, error) {
	b, err := s.redis.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("session not found: session=%s", sessionID))
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var ss domain.AttemptSession
	if err := json.Unmarshal(b, &ss); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}

	return &ss, nil
}

func (s *RedisStore) IDs(ctx context.Context) ([]string, error) {
	var (
		ids    []string
		cursor uint64
		prefix = s.sessionKey("")
	)

	for {
		keys, next, err := s.redis.Scan(ctx, cursor, prefix+"*", scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("scan sessions: %w", err)
		}

		for _, k := range keys {
			ids = append(ids, k[len(prefix):])
		}

		if next == 0 {
			return ids, nil
		}
		cursor = next
	}
}

func (s *RedisStore) ClaimSubmission(ctx context.Context, token, owner string) (bool, error) {
	ok, err := s.redis.SetNX(ctx, s.submissionKey(token), owner, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx: %w", err)
	}

	if ok {
		return true, nil
	}

	holder, err := s.redis.Get(ctx, s.submissionKey(token)).Result()
	if stderrors.Is(err, redis.Nil) {
		// Released between SETNX and GET.
		return s.ClaimSubmission(ctx, token, owner)
	}
	if err != nil {
		return false, fmt.Errorf("get submission holder: %w", err)
	}

	return holder == owner, nil
}

// releaseScript deletes the slot only when owner still holds it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

func (s *RedisStore) ReleaseSubmission(ctx context.Context, token, owner string) error {
	if err := releaseScript.Run(ctx, s.redis, []string{s.submissionKey(token)}, owner).Err(); err != nil {
		return fmt.Errorf("release submission: %w", err)
	}
	return nil
}

func (s *RedisStore) sessionKey(sessionID string) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, sessionID)
}

func (s *RedisStore) submissionKey(token string) string {
	return fmt.Sprintf("%s:submission:%s", s.prefix, token)
}
