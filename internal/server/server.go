package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/victornm/assessment/internal/api"
	"github.com/victornm/assessment/internal/eligibility"
	"github.com/victornm/assessment/internal/event"
	"github.com/victornm/assessment/internal/exam"
	"github.com/victornm/assessment/internal/history"
	"github.com/victornm/assessment/internal/leaderboard"
	"github.com/victornm/assessment/internal/session"
	"github.com/victornm/assessment/internal/telemetry"
)

type RedisConfig struct {
	Addrs  []string
	Pass   string
	Prefix string
}

type PostgresConfig struct {
	Addr string
	User string
	Pass string
	Name string
}

type Config struct {
	HTTP struct {
		Port int32
		// AllowOrigins enables CORS for browser clients. Empty disables it.
		AllowOrigins []string
	}

	GRPC struct {
		Port int32
	}

	Log telemetry.LogConfig

	Auth struct {
		JWTSecret string
	}

	Redis struct {
		State  RedisConfig
		Pubsub RedisConfig
	}

	Postgres struct {
		Exam    PostgresConfig
		History PostgresConfig
	}

	Session struct {
		// TimerMode is derived or volatile.
		TimerMode    string
		TickInterval time.Duration
		StateTTL     time.Duration
	}

	Exam struct {
		CacheTTL time.Duration
	}
}

// DefaultConfig holds the values used for keys missing from the config file.
func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8080
	c.GRPC.Port = 9090
	c.Log = telemetry.LogConfig{Level: "info", Format: "json"}
	c.Redis.State.Prefix = "assessment"
	c.Redis.Pubsub.Prefix = "assessment"
	c.Session.TimerMode = string(session.TimerModeDerived)
	c.Session.TickInterval = time.Second
	c.Session.StateTTL = 24 * time.Hour
	c.Exam.CacheTTL = 5 * time.Minute
	return c
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			state  redis.UniversalClient
			pubsub redis.UniversalClient
		}

		postgres struct {
			exam    *pgxpool.Pool
			history *pgxpool.Pool
		}
	}

	service struct {
		exam        *exam.Service
		history     *history.Service
		session     *session.Service
		eligibility *eligibility.Service
		leaderboard *leaderboard.Service
	}

	http   *http.Server
	grpc   *grpc.Server
	health *health.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	switch session.TimerMode(c.Session.TimerMode) {
	case session.TimerModeDerived, session.TimerModeVolatile:
	default:
		return nil, fmt.Errorf("server: session timer mode %q: want %s or %s",
			c.Session.TimerMode, session.TimerModeDerived, session.TimerModeVolatile)
	}

	if c.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("server: auth.jwtSecret is required")
	}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(name string, rc RedisConfig) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    rc.Addrs,
			Password: rc.Pass,
		})

		if err := telemetry.MonitorRedis(r, name); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.state, err = connect("state", s.c.Redis.State)
	if err != nil {
		return fmt.Errorf("state: %w", err)
	}

	s.infra.redis.pubsub, err = connect("pubsub", s.c.Redis.Pubsub)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() (err error) {
	connect := func(pc PostgresConfig) (*pgxpool.Pool, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", pc.User, pc.Pass, pc.Addr, pc.Name))
		if err != nil {
			return nil, err
		}

		db, err := pgxpool.NewWithConfig(ctx, cc)
		if err != nil {
			return nil, err
		}

		if err := db.Ping(ctx); err != nil {
			return nil, err
		}

		return db, nil
	}

	s.infra.postgres.exam, err = connect(s.c.Postgres.Exam)
	if err != nil {
		return fmt.Errorf("postgres: exam: %w", err)
	}

	s.infra.postgres.history, err = connect(s.c.Postgres.History)
	if err != nil {
		return fmt.Errorf("postgres: history: %w", err)
	}

	return nil
}

func (s *Server) initService() {
	s.service.exam = exam.NewService(exam.Config{
		Repository: exam.NewPostgresRepository(s.infra.postgres.exam),
		Redis:      s.infra.redis.state,
		Prefix:     s.c.Redis.State.Prefix,
		CacheTTL:   s.c.Exam.CacheTTL,
	})

	s.service.history = history.NewService(history.Config{
		DB: s.infra.postgres.history,
	})

	s.service.session = session.NewService(session.Config{
		Definitions:  s.service.exam,
		Results:      s.service.history,
		Store:        session.NewRedisStore(s.infra.redis.state, s.c.Redis.State.Prefix, s.c.Session.StateTTL),
		EventBus:     s.eb,
		TimerMode:    session.TimerMode(s.c.Session.TimerMode),
		TickInterval: s.c.Session.TickInterval,
	})

	s.service.eligibility = eligibility.NewService(eligibility.Config{
		History: s.service.history,
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		Redis:    s.infra.redis.state,
		Prefix:   s.c.Redis.State.Prefix,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.GET("/healthz", s.healthz)
	e.Use(gin.Recovery(), telemetry.GinMetrics(), telemetry.GinLogger())
	if len(s.c.HTTP.AllowOrigins) > 0 {
		e.Use(cors.New(cors.Config{
			AllowOrigins: s.c.HTTP.AllowOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
			AllowHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptor()...)
	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)

	api.New(api.Config{
		Router:       e,
		EventBus:     s.eb,
		Exams:        s.service.exam,
		Sessions:     s.service.session,
		History:      s.service.history,
		Eligibility:  s.service.eligibility,
		Leaderboard:  s.service.leaderboard,
		Redis:        s.infra.redis.pubsub,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
		JWTSecret:    s.c.Auth.JWTSecret,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) healthz(c *gin.Context) {
	var eg errgroup.Group
	eg.Go(func() error { return s.infra.redis.state.Ping(c).Err() })
	eg.Go(func() error { return s.infra.redis.pubsub.Ping(c).Err() })
	eg.Go(func() error { return s.infra.postgres.exam.Ping(c) })
	eg.Go(func() error { return s.infra.postgres.history.Ping(c) })

	if err := eg.Wait(); err != nil {
		slog.WarnContext(c, "server: health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start() {
	ctx := context.TODO()

	n, err := s.service.session.Resume(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "server: resume sessions failed", "error", err)
	} else {
		slog.InfoContext(ctx, "server: sessions resumed", "count", n)
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.health.Shutdown()
	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	// Countdowns first: a forced submission may still publish events.
	s.service.session.Stop()
	s.eb.Stop()

	s.infra.postgres.exam.Close()
	s.infra.postgres.history.Close()
	for _, r := range []redis.UniversalClient{s.infra.redis.state, s.infra.redis.pubsub} {
		if err := r.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close redis failed", "error", err)
		}
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
