package exam

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/assessment/internal/domain"
)

// cache keeps validated definitions in Redis as a hash of the definition and its
// version, the UpdateTime in microseconds. A write never replaces a newer version, so a
// read-through fill that raced with a save cannot bring back the old definition.
type cache struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// setScript stores ARGV[2] at version ARGV[1] unless the cached version is newer.
var setScript = redis.NewScript(`
local cur = redis.call("HGET", KEYS[1], "version")
if cur and tonumber(cur) > tonumber(ARGV[1]) then
	return 0
end
redis.call("HSET", KEYS[1], "version", ARGV[1], "definition", ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return 1`)

func (c *cache) get(ctx context.Context, examID string) (*domain.ExamDefinition, bool, error) {
	b, err := c.redis.HGet(ctx, c.key(examID), "definition").Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cached exam: %w", err)
	}

	var def domain.ExamDefinition
	if err := json.Unmarshal(b, &def); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached exam: %w", err)
	}

	return &def, true, nil
}

// set reports whether def was written. It is not written when a newer version is cached.
func (c *cache) set(ctx context.Context, def *domain.ExamDefinition) (bool, error) {
	b, err := json.Marshal(def)
	if err != nil {
		return false, fmt.Errorf("marshal exam: %w", err)
	}

	var version int64
	if !def.UpdateTime.IsZero() {
		version = def.UpdateTime.UnixMicro()
	}

	n, err := setScript.Run(ctx, c.redis, []string{c.key(def.ExamID)}, version, b, c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("set cached exam: %w", err)
	}

	return n == 1, nil
}

func (c *cache) invalidate(ctx context.Context, examID string) error {
	return c.redis.Del(ctx, c.key(examID)).Err()
}

func (c *cache) key(examID string) string {
	return fmt.Sprintf("%s:exam:%s", c.prefix, examID)
}
