package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/chrisodt/georef/runner"
	"github.com/chrisodt/georef/runner/listrunner"
	"github.com/chrisodt/georef/runner/statsrunner"
)

func main() {
	_ = godotenv.Load() // Load .env file if present
	ctx, cancel := context.WithCancel(context.Background())

	cfg := runner.ParseConfig()
	runner.Banner()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan

		log.Println("Received signal, shutting down...")

		cancel()
	}()

	runnerInstance, err := runnerFactory(cfg)
	if err != nil {
		cancel()
		os.Stderr.WriteString(err.Error() + "\n")

		os.Exit(1)
	}

	if err := runnerInstance.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		os.Stderr.WriteString(err.Error() + "\n")

		_ = runnerInstance.Close(ctx)

		cancel()

		os.Exit(1)
	}

	_ = runnerInstance.Close(ctx)

	cancel()

	os.Exit(0)
}

func runnerFactory(cfg *runner.Config) (runner.Runner, error) {
	switch cfg.RunMode {
	case runner.RunModeStats:
		return statsrunner.New(cfg)
	case runner.RunModeList:
		return listrunner.New(cfg)
	default:
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}
}
