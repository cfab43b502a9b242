package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"

	"github.com/kylerisse/ispwatch/pkg/app"
	"github.com/kylerisse/ispwatch/pkg/config"
	"github.com/sirupsen/logrus"
)

// ispwatch runs a single speed test, evaluates the alert threshold and
// prints the run as JSON. It exits non-zero when the test fails.
func main() {
	configPath := flag.String("config", "", "path to an optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Invalid config: %v", err)
	}

	logger, closer, err := cfg.NewLogger()
	if err != nil {
		logrus.Fatalf("Failed to set up logging: %v", err)
	}
	defer closer.Close()

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to build components: %v", err)
	}

	run := a.Monitor.RunOnce(context.Background())

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(run); err != nil {
		logger.Fatalf("Failed to print result: %v", err)
	}

	if run.Result.Err != nil {
		closer.Close()
		os.Exit(1)
	}
}
