package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/0xOucan/PAYVVM/pkg/config"
	"github.com/0xOucan/PAYVVM/pkg/fisher"
)

const sentryFlushTimeout = 2 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if errors.Is(err, config.ErrDisabled) {
		log.Println("Fisher is disabled, set FISHER_ENABLED=true to run")
		return 0
	}
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		return 1
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN}); err != nil {
			log.Printf("Failed to initialize sentry: %v", err)
			return 1
		}
		defer sentry.Flush(sentryFlushTimeout)
	}

	// Set up context with cancellation on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create the relay
	relay, err := fisher.New(ctx, cfg)
	if err != nil {
		log.Printf("Failed to create fisher: %v", err)
		return 1
	}

	// Set up signal handling for graceful shutdown
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalCh
		log.Println("Received termination signal, shutting down gracefully...")
		cancel()
	}()

	log.Println("Starting the fisher...")
	if err := relay.Run(ctx); err != nil {
		if errors.Is(err, fisher.ErrNotEligible) {
			log.Printf("Refusing to start: %v. Stake with the relay address or register it as golden fisher.", err)
		} else {
			log.Printf("Fisher stopped with error: %v", err)
		}
		return 1
	}
	return 0
}
