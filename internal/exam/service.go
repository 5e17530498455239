package exam

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/assessment/internal/domain"
	"github.com/victornm/assessment/internal/errors"
)

const defaultCacheTTL = 10 * time.Minute

type Config struct {
	Repository Repository
	// Redis is optional. Without it every load goes to the repository.
	Redis    redis.UniversalClient
	Prefix   string
	CacheTTL time.Duration
	Now      func() time.Time
}

type Service struct {
	repo  Repository
	cache *cache
	now   func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		repo: c.Repository,
		now:  c.Now,
	}

	if s.now == nil {
		s.now = time.Now
	}

	if c.Redis != nil {
		ttl := c.CacheTTL
		if ttl <= 0 {
			ttl = defaultCacheTTL
		}
		s.cache = &cache{redis: c.Redis, prefix: c.Prefix, ttl: ttl}
	}

	return s
}

// LoadDefinition returns a complete, validated definition. A stored definition that
// breaks an invariant is reported as ErrInvalidDefinition and never returned.
func (s *Service) LoadDefinition(ctx context.Context, examID string) (*domain.ExamDefinition, error) {
	if s.cache != nil {
		def, ok, err := s.cache.get(ctx, examID)
		if err != nil {
			slog.WarnContext(ctx, "exam: read cache failed", "exam", examID, "error", err)
		}
		if ok {
			return def, nil
		}
	}

	def, err := s.repo.Get(ctx, examID)
	if err != nil {
		return nil, err
	}

	if err := Validate(def); err != nil {
		return nil, errors.From(errors.ErrInvalidDefinition,
			errors.WithMessagef("exam %s cannot be attempted: %v", examID, err))
	}

	if s.cache != nil {
		if ok, err := s.cache.set(ctx, def); err != nil {
			slog.WarnContext(ctx, "exam: fill cache failed", "exam", examID, "error", err)
		} else if !ok {
			slog.DebugContext(ctx, "exam: newer version already cached", "exam", examID)
		}
	}

	return def, nil
}

// SaveDefinition stores a definition on behalf of the authoring side. Running sessions
// keep the snapshot they started with.
func (s *Service) SaveDefinition(ctx context.Context, def domain.ExamDefinition) (*domain.ExamDefinition, error) {
	def = def.Clone()
	assignQuestionIDs(&def)

	if err := Validate(&def); err != nil {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithReason(errors.ReasonInvalidDefinition),
			errors.WithMessagef("invalid exam definition: %v", err))
	}

	// Postgres keeps microseconds; the cache version must match what a reload returns.
	def.UpdateTime = s.now().UTC().Truncate(time.Microsecond)
	if err := s.repo.Upsert(ctx, &def); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if _, err := s.cache.set(ctx, &def); err != nil {
			slog.WarnContext(ctx, "exam: cache new version failed", "exam", def.ExamID, "error", err)

			if err := s.cache.invalidate(ctx, def.ExamID); err != nil {
				return nil, errors.New(errors.CodeUnavailable,
					errors.WithMessagef("exam saved but cache invalidation failed: exam=%s", def.ExamID),
					errors.WithCause(err))
			}
		}
	}

	return &def, nil
}
