package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobmcallan/smartfund/internal/app"
	"github.com/bobmcallan/smartfund/internal/common"
	"github.com/bobmcallan/smartfund/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to smartfund.toml (default: $SMARTFUND_CONFIG, then next to the binary)")
	flag.Parse()

	a, err := app.NewApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize app: %v\n", err)
		os.Exit(1)
	}

	common.PrintBanner(a.Config, a.Logger)

	// Start background services
	if err := a.StartScheduler(); err != nil {
		a.Logger.Error().Err(err).Msg("Scheduler not started")
	}

	srv := server.NewServer(a)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	port := a.Config.Server.Port
	a.Logger.Info().
		Str("url", fmt.Sprintf("http://localhost:%d", port)).
		Str("mcp", fmt.Sprintf("http://localhost:%d/mcp", port)).
		Msg("Server ready")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	a.Logger.Info().Msg("Shutdown signal received")
	common.PrintShutdownBanner(a.Logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		a.Logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	a.Close()
	a.Logger.Info().Msg("Server stopped")
}
