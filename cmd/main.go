package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/victornm/assessment/internal/config"
	"github.com/victornm/assessment/internal/server"
	"github.com/victornm/assessment/internal/telemetry"
)

func main() {
	c, err := loadConfig()
	if err != nil {
		log.Fatalf("Load config failed: %v", err)
	}

	if err := telemetry.SetupLogger(c.Log, os.Stdout); err != nil {
		log.Fatalf("Setup logger failed: %v", err)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGTERM, os.Interrupt)

	s, err := server.Init(c)
	if err != nil {
		log.Fatalf("Init server failed: %v", err)
	}

	go s.Start()

	<-shutdown
	s.Shutdown()
}

func loadConfig() (server.Config, error) {
	c := server.DefaultConfig()

	if err := config.LoadDotEnv(".env"); err != nil {
		return c, fmt.Errorf("load .env: %w", err)
	}

	p := os.Getenv("CONFIG_PATH")
	if p == "" {
		return c, fmt.Errorf("CONFIG_PATH not set")
	}

	if err := config.Load(p, &c); err != nil {
		return c, fmt.Errorf("load config: %w", err)
	}

	return c, nil
}
