package engine

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"dev.strata.query/internal/astra"
	"dev.strata.query/internal/cache"
	"dev.strata.query/internal/config"
	"dev.strata.query/internal/costlog"
	"dev.strata.query/internal/graph"
	"dev.strata.query/internal/watsonx"
)

// FromSettings builds a fully wired engine: the graph snapshot, the
// Astra and watsonx clients, plus whichever optional components the
// settings enable. The cost ledger failing to open is logged and
// skipped; everything else is fatal.
func FromSettings(settings *config.Settings, logger *logrus.Logger, opts ...Option) (*Engine, error) {
	if logger == nil {
		logger = logrus.New()
	}

	g, err := graph.LoadFile(settings.Graph.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("loading graph snapshot: %w", err)
	}
	traverser := graph.NewTraverser(g, logger)

	store, err := astra.NewClient(astra.ConfigFromSettings(settings.Astra), logger)
	if err != nil {
		return nil, fmt.Errorf("building astra client: %w", err)
	}
	model, err := watsonx.NewClient(watsonx.ConfigFromSettings(settings.WatsonX), logger)
	if err != nil {
		return nil, fmt.Errorf("building watsonx client: %w", err)
	}

	wired := []Option{WithLogger(logger)}
	if c := cache.New(settings.Redis, logger); c != nil {
		wired = append(wired, WithCache(c))
	}
	if settings.CostLog.Path != "" {
		ledger, err := costlog.Open(settings.CostLog.Path, logger)
		if err != nil {
			logger.WithError(err).Warn("Cost ledger disabled")
		} else {
			wired = append(wired, WithCostLedger(ledger))
		}
	}
	wired = append(wired, opts...)

	return New(settings, traverser, store, model, model, wired...)
}
