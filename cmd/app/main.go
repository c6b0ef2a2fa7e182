package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"FinScan/internal/di"
	"FinScan/pkg/config"
)

func main() {
	path := flag.String("config", envOr("FINSCAN_CONFIG", "config/config.yaml"), "path to the YAML config")
	check := flag.Bool("check", false, "validate the config and exit")
	flag.Parse()

	if err := run(*path, *check); err != nil {
		fmt.Fprintf(os.Stderr, "finscan: %v\n", err)
		os.Exit(1)
	}
}

func run(path string, check bool) error {
	cfg, err := config.LoadWithEnv(path)
	if err != nil {
		return err
	}
	if check {
		fmt.Printf("config ok: env=%s instruments=%d kafka=%t queue=%t scheduler=%t\n",
			cfg.Environment, len(cfg.Instruments), cfg.Kafka.Enabled, cfg.Queue.Enabled, cfg.Scheduler.Enabled)
		return nil
	}

	app, err := di.InitializeApp(cfg)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return app.Run(ctx)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
