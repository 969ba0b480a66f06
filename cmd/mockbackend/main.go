package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/plantwatch/console/internal/logger"
	"github.com/plantwatch/console/internal/mockbackend"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:5007", "listen address")
	fixtures := flag.String("fixtures", "", "YAML fixtures file (built-in demo data if empty)")
	interval := flag.Duration("interval", 2*time.Second, "snapshot push interval")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	if err := logger.Init(logger.Config{Level: *level}); err != nil {
		logger.Fatal().Err(err).Msg("initializing logger")
	}
	log := logger.WithComponent("mockbackend")

	var f *mockbackend.Fixtures
	if *fixtures != "" {
		var err error
		if f, err = mockbackend.LoadFixtures(*fixtures); err != nil {
			log.Fatal().Err(err).Str("path", *fixtures).Msg("loading fixtures")
		}
	}
	srv := mockbackend.New(f)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go srv.Run(ctx, *interval)
	go func() {
		log.Info().Str("addr", *addr).Dur("interval", *interval).Msg("mock backend listening")
		if err := srv.Start(*addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server stopped")
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown")
	}
}
