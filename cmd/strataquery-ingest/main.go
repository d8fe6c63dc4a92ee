// Command strataquery-ingest builds the knowledge graph snapshot from
// source data files (LAS well logs, USGS hydrology JSON, EIA generation
// CSV) and can optionally embed the graph into the vector store.
package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"dev.strata.query/internal/astra"
	"dev.strata.query/internal/config"
	"dev.strata.query/internal/graph"
	"dev.strata.query/internal/ingest"
	"dev.strata.query/internal/watsonx"
)

var (
	lasDir     = flag.String("las-dir", "", "Directory of .las files to ingest (searched recursively)")
	usgsSites  = flag.String("usgs-sites", "", "USGS sites JSON file")
	usgsMeas   = flag.String("usgs-measurements", "", "USGS measurements JSON file")
	eiaCSV     = flag.String("eia", "", "EIA generation records CSV file")
	outPath    = flag.String("out", "", "Graph snapshot output path (default GRAPH_PATH)")
	embed      = flag.Bool("embed", false, "Embed the graph documents and load them into the vector store")
	collection = flag.String("collection", "", "Vector collection name (default ASTRA_COLLECTION)")
)

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	if parsed, err := logrus.ParseLevel(level); err == nil {
		logger.SetLevel(parsed)
	}
	return logger
}

func addLASDir(builder *ingest.Builder, dir string, logger *logrus.Logger) error {
	files := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".las") {
			return nil
		}
		las, err := ingest.ParseLASFile(path)
		if err != nil {
			return err
		}
		if err := builder.AddLASFile(las); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		files++
		return nil
	})
	if err != nil {
		return err
	}
	if files == 0 {
		return fmt.Errorf("no .las files found under %s", dir)
	}
	logger.WithFields(logrus.Fields{"dir": dir, "files": files}).Info("LAS files ingested")
	return nil
}

func addUSGSSites(builder *ingest.Builder, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening USGS sites: %w", err)
	}
	defer f.Close()

	sites, err := ingest.ReadUSGSSites(f)
	if err != nil {
		return err
	}
	for _, site := range sites {
		if err := builder.AddUSGSSite(site); err != nil {
			return err
		}
	}
	return nil
}

func addUSGSMeasurements(builder *ingest.Builder, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening USGS measurements: %w", err)
	}
	defer f.Close()

	measurements, err := ingest.ReadUSGSMeasurements(f)
	if err != nil {
		return err
	}
	for _, m := range measurements {
		if err := builder.AddUSGSMeasurement(m); err != nil {
			return err
		}
	}
	return nil
}

func addEIARecords(builder *ingest.Builder, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening EIA records: %w", err)
	}
	defer f.Close()

	records, err := ingest.ReadEIARecords(f)
	if err != nil {
		return err
	}
	for _, r := range records {
		if err := builder.AddEIARecord(r); err != nil {
			return err
		}
	}
	return nil
}

func run() error {
	if *lasDir == "" && *usgsSites == "" && *usgsMeas == "" && *eiaCSV == "" {
		return fmt.Errorf("nothing to ingest: pass at least one of -las-dir, -usgs-sites, -usgs-measurements, -eia")
	}
	if *usgsMeas != "" && *usgsSites == "" {
		return fmt.Errorf("-usgs-measurements requires -usgs-sites, measurements link to sites")
	}

	settings := config.Load()
	logger := newLogger(settings.LogLevel)
	if *outPath == "" {
		*outPath = settings.Graph.Path
	}
	if *collection == "" {
		*collection = settings.Astra.Collection
	}

	builder := ingest.NewBuilder(logger)
	if *lasDir != "" {
		if err := addLASDir(builder, *lasDir, logger); err != nil {
			return err
		}
	}
	if *usgsSites != "" {
		if err := addUSGSSites(builder, *usgsSites); err != nil {
			return err
		}
	}
	if *usgsMeas != "" {
		if err := addUSGSMeasurements(builder, *usgsMeas); err != nil {
			return err
		}
	}
	if *eiaCSV != "" {
		if err := addEIARecords(builder, *eiaCSV); err != nil {
			return err
		}
	}
	if builder.SkippedMeasurements > 0 {
		logger.WithField("skipped", builder.SkippedMeasurements).Warn("Measurements for unknown sites were dropped")
	}

	g, err := builder.WriteFile(*outPath)
	if err != nil {
		return err
	}

	if !*embed {
		return nil
	}

	if err := settings.Validate(); err != nil {
		return err
	}
	store, err := astra.NewClient(astra.ConfigFromSettings(settings.Astra), logger)
	if err != nil {
		return fmt.Errorf("building astra client: %w", err)
	}
	model, err := watsonx.NewClient(watsonx.ConfigFromSettings(settings.WatsonX), logger)
	if err != nil {
		return fmt.Errorf("building watsonx client: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	docs := ingest.BuildDocuments(graph.NewTraverser(g, logger))
	report, err := ingest.NewIngestor(store, model, logger).Run(ctx, docs, *collection)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"collection": *collection,
		"documents":  report.Documents,
		"inserted":   report.Inserted,
		"dimension":  report.Dimension,
	}).Info("Vector store seeded")
	return nil
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Debug("Could not load .env file")
	}
	flag.Parse()

	if err := run(); err != nil {
		logrus.WithError(err).Fatal("strataquery-ingest failed")
	}
}
