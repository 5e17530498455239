package telemetry

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

type LogConfig struct {
	// Level is one of debug, info, warn or error.
	Level string
	// Format is text or json.
	Format string
}

// SetupLogger installs the default slog logger.
func SetupLogger(c LogConfig, w io.Writer) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Level)); err != nil && c.Level != "" {
		return fmt.Errorf("log level %q: %w", c.Level, err)
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	switch strings.ToLower(c.Format) {
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return fmt.Errorf("log format %q: want text or json", c.Format)
	}

	slog.SetDefault(slog.New(h))
	return nil
}

// GinLogger logs every finished HTTP request.
func GinLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		lvl := slog.LevelInfo
		if c.Writer.Status() >= 500 {
			lvl = slog.LevelError
		}

		slog.Log(c, lvl, "http: request finished",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
