// Command strataquery-validate runs a scenario suite against a fully
// wired engine and reports which expectations held. It exits non-zero
// when any scenario fails, so it can gate deployments.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"dev.strata.query/internal/config"
	"dev.strata.query/internal/engine"
	"dev.strata.query/internal/validate"
)

var (
	suitePath = flag.String("suite", "", "YAML scenario suite (default: the built-in core scenarios)")
	jsonOut   = flag.Bool("json", false, "Emit the report as JSON instead of colored text")
	timeout   = flag.Duration("timeout", 10*time.Minute, "Whole-suite timeout")
)

// errSuiteFailed distinguishes scenario failures from wiring errors.
var errSuiteFailed = errors.New("suite failed")

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if parsed, err := logrus.ParseLevel(level); err == nil {
		logger.SetLevel(parsed)
	}
	return logger
}

func loadSuite() (*validate.Suite, error) {
	if *suitePath == "" {
		return validate.DefaultSuite()
	}
	return validate.LoadSuiteFile(*suitePath)
}

func printReport(report *validate.Report) {
	pass := color.New(color.FgGreen, color.Bold)
	fail := color.New(color.FgRed, color.Bold)

	for _, res := range report.Results {
		if res.Passed {
			pass.Print("PASS ")
			fmt.Printf("%s (%s, %s)\n", res.Scenario, res.Strategy, res.Elapsed.Round(time.Millisecond))
			continue
		}
		fail.Print("FAIL ")
		fmt.Printf("%s\n", res.Scenario)
		fmt.Printf("     query: %s\n", res.Query)
		for _, f := range res.Failures {
			fmt.Printf("     - %s\n", f)
		}
	}

	fmt.Println()
	if report.OK() {
		pass.Println(report.Summary())
	} else {
		fail.Println(report.Summary())
	}
}

func run() error {
	settings := config.Load()
	logger := newLogger(settings.LogLevel)
	if err := settings.Validate(); err != nil {
		return err
	}

	suite, err := loadSuite()
	if err != nil {
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	report, err := validate.NewHarness(eng, logger).Run(ctx, suite)
	if err != nil {
		return fmt.Errorf("running suite: %w", err)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printReport(report)
	}

	if !report.OK() {
		return fmt.Errorf("%w: %d of %d scenarios", errSuiteFailed, report.Failed(), len(report.Results))
	}
	return nil
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Debug("Could not load .env file")
	}
	flag.Parse()

	if err := run(); err != nil {
		if errors.Is(err, errSuiteFailed) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		logrus.WithError(err).Fatal("strataquery-validate failed")
	}
}
