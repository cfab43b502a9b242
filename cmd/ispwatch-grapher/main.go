package main

import (
	"flag"
	"fmt"

	"github.com/kylerisse/ispwatch/pkg/config"
	"github.com/kylerisse/ispwatch/pkg/graph"
	"github.com/kylerisse/ispwatch/pkg/store"
	"github.com/sirupsen/logrus"
)

// ispwatch-grapher draws today's daily average chart from the stored
// history and exits.
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

	gen, err := graph.NewGenerator(store.New(cfg.DataFile(), logger), cfg.GraphDir, cfg.AlertThreshold, logger)
	if err != nil {
		logger.Fatalf("Failed to create generator: %v", err)
	}

	path, err := gen.Generate()
	if err != nil {
		logger.Fatalf("Failed to generate graph: %v", err)
	}
	if path == "" {
		fmt.Println("No speed test data yet.")
		return
	}
	fmt.Println(path)
}
