package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kylerisse/ispwatch/pkg/app"
	"github.com/kylerisse/ispwatch/pkg/config"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "path to an optional YAML config file")
	autostart := flag.Bool("autostart", false, "start the periodic schedule at boot")
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

	srv, err := a.NewServer()
	if err != nil {
		logger.Fatalf("Failed to create server: %v", err)
	}
	if err := srv.Start(); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}

	if *autostart {
		if err := a.Automation.Start(); err != nil {
			logger.Errorf("Failed to start automation: %v", err)
		}
	}

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	logger.Infof("ispwatch is running on port %s. Press Ctrl+C to stop.", cfg.ListenPort)
	<-stop
	logger.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		logger.Errorf("Server shutdown: %v", err)
	}

	a.Automation.Stop()
	select {
	case <-a.Automation.Done():
	case <-ctx.Done():
		logger.Warn("Automation did not stop in time")
	}
	logger.Info("Stopped.")
}
