package telemetry

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

// MonitorRedis instruments a client with tracing, metrics and debug logging.
// name tells the clients of one process apart in the logs.
func MonitorRedis(r redis.UniversalClient, name string) error {
	if err := redisotel.InstrumentTracing(r); err != nil {
		return fmt.Errorf("instrument tracing: %w", err)
	}
	if err := redisotel.InstrumentMetrics(r); err != nil {
		return fmt.Errorf("instrument metrics: %w", err)
	}
	r.AddHook(redisLog{name: name})
	return nil
}

type redisLog struct {
	name string
}

func (l redisLog) DialHook(hook redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := hook(ctx, network, addr)
		if err != nil {
			slog.WarnContext(ctx, "redis: dial failed", "client", l.name, "addr", addr, "error", err)
			return conn, err
		}

		slog.InfoContext(ctx, "redis: connected", "client", l.name, "network", network, "addr", addr)
		return conn, nil
	}
}

func (l redisLog) ProcessHook(hook redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := hook(ctx, cmd)

		if err != nil && !stderrors.Is(err, redis.Nil) {
			slog.WarnContext(ctx, "redis: command failed", "client", l.name, "cmd", cmd.Name(), "error", err)
			return err
		}

		slog.DebugContext(ctx, "redis: command processed",
			"client", l.name,
			"cmd", cmd.Name(),
			"duration", time.Since(start),
		)
		return err
	}
}

func (l redisLog) ProcessPipelineHook(hook redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := hook(ctx, cmds)

		slog.DebugContext(ctx, "redis: pipeline processed",
			"client", l.name,
			"cmds", len(cmds),
			"duration", time.Since(start),
			"error", err,
		)
		return err
	}
}
