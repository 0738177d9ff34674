package main

import (
	"PriceScraper/internal/app"
	"PriceScraper/internal/server"
	"PriceScraper/pkg/config"
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config.yml", "path to the YAML config")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The server only reads the run history, so source settings are not validated.
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	app.SetupLogging(cfg.Log)
	application, err := app.NewWithConfig(cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer application.Close()
	if application.Repo == nil {
		log.Fatal("output.sqlite must be set to serve records")
	}

	if err := server.Start(ctx, application.Repo, application.Config); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
