// Command strataquery-api serves the query engine over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"dev.strata.query/internal/config"
	"dev.strata.query/internal/engine"
	"dev.strata.query/internal/server"
)

var (
	graphPath = flag.String("graph", "", "Graph snapshot path (overrides GRAPH_PATH)")
	host      = flag.String("host", "", "Listen host (overrides SERVER_HOST)")
	port      = flag.Int("port", 0, "Listen port (overrides SERVER_PORT)")
)

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	if parsed, err := logrus.ParseLevel(level); err == nil {
		logger.SetLevel(parsed)
	}
	return logger
}

func run() error {
	settings := config.Load()
	if *graphPath != "" {
		settings.Graph.Path = *graphPath
	}
	if *host != "" {
		settings.Server.Host = *host
	}
	if *port != 0 {
		settings.Server.Port = *port
	}
	logger := newLogger(settings.LogLevel)

	if err := settings.Validate(); err != nil {
		return err
	}

	eng, err := engine.FromSettings(settings, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.WithError(err).Warn("Engine close reported errors")
		}
	}()

	srv := server.New(settings.Server, eng, eng.Metrics().Handler(), server.WithLogger(logger))

	serverErr := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"host":  settings.Server.Host,
			"port":  settings.Server.Port,
			"graph": settings.Graph.Path,
		}).Info("Starting StrataQuery API server")
		if err := srv.Start(); err != nil {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("Server shutdown complete")
	return nil
}

func main() {
	// Environment variables may be set directly; a missing .env file is
	// not an error.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Debug("Could not load .env file")
	}
	flag.Parse()

	if err := run(); err != nil {
		logrus.WithError(err).Fatal("strataquery-api failed")
	}
}
