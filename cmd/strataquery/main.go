// Command strataquery answers a single question from the command line.
//
// The question comes from -query or from the positional arguments:
//
//	strataquery -filter '{"entity_type":"las_curve"}' "What curves does well 15/9-13 have?"
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"dev.strata.query/internal/astra"
	"dev.strata.query/internal/config"
	"dev.strata.query/internal/engine"
	"dev.strata.query/internal/graph"
	"dev.strata.query/internal/workflow"
)

var (
	queryFlag   = flag.String("query", "", "Question to answer (alternative to positional arguments)")
	filterJSON  = flag.String("filter", "", `Vector store filter as JSON, e.g. '{"entity_type":"las_curve"}'`)
	topK        = flag.Int("top-k", 0, "Rerank depth override")
	limit       = flag.Int("limit", 0, "Vector search fan-out override")
	maxHops     = flag.Int("max-hops", 0, "Graph expansion hop count override")
	showContext = flag.Bool("context", false, "Print the retrieved context documents")
	timeout     = flag.Duration("timeout", 2*time.Minute, "Per-query timeout")
)

// errUsage marks problems the user can fix on the command line.
var errUsage = errors.New("usage")

// newLogger keeps stdout clean for the answer. Wiring noise goes to
// stderr at warn and above; set LOG_LEVEL to make it chattier.
func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if parsed, err := logrus.ParseLevel(v); err == nil {
			logger.SetLevel(parsed)
		}
	}
	return logger
}

func run() error {
	query := strings.TrimSpace(*queryFlag)
	if query == "" {
		query = strings.TrimSpace(strings.Join(flag.Args(), " "))
	}
	if query == "" {
		return fmt.Errorf("%w: no question given", errUsage)
	}

	overrides := workflow.Overrides{TopK: *topK, Limit: *limit, MaxHops: *maxHops}
	if *filterJSON != "" {
		if err := json.Unmarshal([]byte(*filterJSON), &overrides.Filter); err != nil {
			return fmt.Errorf("%w: -filter is not valid JSON: %v", errUsage, err)
		}
	}

	settings := config.Load()
	logger := newLogger()
	if err := settings.Validate(); err != nil {
		return err
	}

	eng, err := engine.FromSettings(settings, logger)
	if err != nil {
		if errors.Is(err, graph.ErrNotLoaded) {
			return fmt.Errorf("%w; run strataquery-ingest to build the snapshot", err)
		}
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.WithError(err).Warn("Engine close reported errors")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	started := time.Now()
	state, err := eng.RunQuery(ctx, query, overrides)
	if err != nil {
		if errors.Is(err, engine.ErrEmptyQuery) || errors.Is(err, engine.ErrQueryTooLong) {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		if errors.Is(err, astra.ErrNotFound) {
			return fmt.Errorf("%w; run strataquery-ingest -embed to seed the vector store", err)
		}
		return err
	}

	printState(state, time.Since(started))
	return nil
}

func printState(state *workflow.State, elapsed time.Duration) {
	bold := color.New(color.Bold)
	bold.Printf("Query: %s\n", state.Query)

	if *showContext && len(state.Retrieved) > 0 {
		color.New(color.FgCyan, color.Bold).Println("\nContext")
		for i, doc := range state.Retrieved {
			fmt.Printf("%3d. %s\n", i+1, doc)
		}
	}

	color.New(color.FgGreen, color.Bold).Println("\nAnswer")
	fmt.Println(state.Response)

	color.New(color.FgYellow).Printf("\nstrategy=%s documents=%d elapsed=%s\n",
		state.Meta.Strategy, state.Meta.NumResults, elapsed.Round(time.Millisecond))
	for _, msg := range state.Meta.Errors {
		color.New(color.FgRed).Printf("warning: %s\n", msg)
	}
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Debug("Could not load .env file")
	}
	flag.Parse()

	if err := run(); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, err)
			flag.Usage()
			os.Exit(2)
		}
		logrus.WithError(err).Fatal("strataquery failed")
	}
}
