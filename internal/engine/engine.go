// Package engine composes the full query path: validation, caching,
// embedding, the retrieval pipeline, and the strategy chain. One Engine
// serves many concurrent queries; all shared structures are read-only
// after construction and every query gets its own workflow state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"dev.strata.query/internal/astra"
	"dev.strata.query/internal/cache"
	"dev.strata.query/internal/config"
	"dev.strata.query/internal/costlog"
	"dev.strata.query/internal/graph"
	"dev.strata.query/internal/metrics"
	"dev.strata.query/internal/pipeline"
	"dev.strata.query/internal/reason"
	"dev.strata.query/internal/workflow"
)

// ErrEmptyQuery is returned for queries that are empty after trimming.
var ErrEmptyQuery = errors.New("query is empty")

// ErrQueryTooLong is returned for queries over the configured length cap.
var ErrQueryTooLong = errors.New("query exceeds the maximum length")

// Store is the slice of the vector store client the engine needs: the
// pipeline's search surface plus unpaginated finds for aggregation.
type Store interface {
	VectorSearch(ctx context.Context, vector []float32, opts astra.SearchOptions) ([]astra.Document, error)
	CountDocuments(ctx context.Context, filter map[string]any) (int, error)
	FetchByIDs(ctx context.Context, ids []string, vector []float32) ([]astra.Document, error)
	FindDocuments(ctx context.Context, filter map[string]any, maxDocuments int) ([]astra.Document, error)
}

// Embedder is the embedding side of the model client.
type Embedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// healthChecker is implemented by the Astra and watsonx clients.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Engine answers questions over the document store and the knowledge
// graph.
type Engine struct {
	settings  *config.Settings
	traverser *graph.Traverser
	store     Store
	embedder  Embedder
	generator reason.Generator

	pipeline     *pipeline.Pipeline
	orchestrator *reason.Orchestrator

	collector *metrics.Collector
	cache     *cache.Cache
	ledger    *costlog.Ledger

	logger *logrus.Logger
}

// Option adjusts an Engine during construction.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithCache enables the response and embedding caches.
func WithCache(c *cache.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithCostLedger enables the per-query usage ledger.
func WithCostLedger(l *costlog.Ledger) Option {
	return func(e *Engine) { e.ledger = l }
}

// WithCollector replaces the default metrics collector.
func WithCollector(c *metrics.Collector) Option {
	return func(e *Engine) {
		if c != nil {
			e.collector = c
		}
	}
}

// New wires the pipeline stages and the strategy chain. The traverser,
// store, embedder and generator are required; cache and ledger are
// optional and attached through options.
func New(settings *config.Settings, traverser *graph.Traverser, store Store, embedder Embedder, generator reason.Generator, opts ...Option) (*Engine, error) {
	if settings == nil {
		return nil, fmt.Errorf("engine: settings are required")
	}
	if traverser == nil {
		return nil, fmt.Errorf("engine: graph traverser is required")
	}
	if store == nil {
		return nil, fmt.Errorf("engine: vector store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("engine: embedder is required")
	}

	e := &Engine{
		settings:  settings,
		traverser: traverser,
		store:     store,
		embedder:  embedder,
		generator: generator,
		collector: metrics.NewCollector(),
		logger:    logrus.New(),
	}
	for _, opt := range opts {
		opt(e)
	}

	detector, err := pipeline.NewDetector()
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	e.pipeline = pipeline.New(e.logger,
		pipeline.NewQueryAnalysis(detector, traverser.MnemonicCatalog(), e.logger),
		pipeline.NewVectorSearch(store, settings.Retrieval, e.logger),
		pipeline.NewRerank(e.logger),
		pipeline.NewFilter(settings.Retrieval.FilterTruncate, e.logger),
		pipeline.NewStateFinalize(e.logger),
		pipeline.NewGraphExpansion(traverser, store, e.logger),
	)
	e.pipeline.SetObserver(e.collector.ObserveStage)

	template, err := reason.LoadPromptTemplate(settings.Prompt.TemplatePath)
	if err != nil {
		e.logger.WithError(err).WithField("path", settings.Prompt.TemplatePath).
			Warn("Prompt template unavailable, using the built-in template")
		template = reason.DefaultPromptTemplate()
	}

	scope := reason.NewScopeChecker(generator, e.logger)
	e.orchestrator = reason.NewOrchestrator(e.logger,
		reason.NewOutOfScope(scope, e.logger),
		reason.NewCurveCount(traverser, e.logger),
		reason.NewWellCount(store, traverser, e.logger),
		reason.NewRelationshipQuery(traverser, e.logger),
		reason.NewStructuredExtraction(traverser, e.logger),
		reason.NewAggregation(store, generator, traverser, settings.Retrieval, settings.WatsonX.MaxNewTokens, e.logger),
		reason.NewDomainRules(e.logger),
		reason.NewLLMGeneration(generator, template, settings.Prompt, settings.WatsonX.MaxNewTokens, e.logger),
	)
	return e, nil
}

// Metrics returns the engine's collector for mounting a scrape endpoint.
func (e *Engine) Metrics() *metrics.Collector { return e.collector }

// Traverser returns the engine's graph traverser.
func (e *Engine) Traverser() *graph.Traverser { return e.traverser }

// RunQuery answers one question. The returned state always carries a
// response and retrieved context on success; validation and embedding
// failures are the only errors that abort a query outright.
func (e *Engine) RunQuery(ctx context.Context, query string, overrides workflow.Overrides) (*workflow.State, error) {
	started := time.Now()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if n, max := utf8.RuneCountInString(query), e.settings.Retrieval.QueryMaxLength; n > max {
		return nil, fmt.Errorf("%w: %d > %d characters", ErrQueryTooLong, n, max)
	}

	state := workflow.NewState(query)
	state.Meta.Overrides = overrides

	log := e.logger.WithFields(logrus.Fields{"query_id": state.ID})
	log.WithField("query", query).Info("Query received")

	if e.cache != nil {
		if cached, ok := e.cache.GetResponse(ctx, query); ok {
			e.collector.CacheHit("response")
			state.Response = cached.Response
			state.Retrieved = cached.Retrieved
			state.Meta.Strategy = cached.Strategy
			state.Meta.NumResults = len(cached.Retrieved)
			state.Meta.AddDecision("answered from the response cache")
			e.collector.ObserveQuery(cached.Strategy, "cached", time.Since(started), len(cached.Retrieved))
			log.WithField("strategy", cached.Strategy).Info("Query answered from cache")
			return state, nil
		}
		e.collector.CacheMiss("response")
	}

	vector, err := e.embedQuery(ctx, query)
	if err != nil {
		e.collector.ObserveQuery("", "error", time.Since(started), 0)
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	state.Meta.Embedding = vector

	if err := e.pipeline.Run(ctx, state); err != nil {
		e.collector.ObserveQuery("", "error", time.Since(started), 0)
		return nil, err
	}
	if err := e.orchestrator.Answer(ctx, state); err != nil {
		e.collector.ObserveQuery(state.Meta.Strategy, "error", time.Since(started), len(state.Retrieved))
		return nil, err
	}

	duration := time.Since(started)
	status := "ok"
	if len(state.Meta.Errors) > 0 {
		status = "partial"
	}
	e.collector.ObserveQuery(state.Meta.Strategy, status, duration, len(state.Retrieved))
	e.collector.AddTokens(state.Meta.GenModel, state.Meta.InputTokens, state.Meta.GeneratedTokens)

	if e.ledger != nil {
		if err := e.ledger.Record(ctx, costlog.Entry{
			QueryID:         state.ID,
			Query:           state.Query,
			Strategy:        state.Meta.Strategy,
			Model:           state.Meta.GenModel,
			InputTokens:     state.Meta.InputTokens,
			GeneratedTokens: state.Meta.GeneratedTokens,
			Duration:        duration,
		}); err != nil {
			log.WithError(err).Warn("Cost ledger write failed")
		}
	}

	if e.cache != nil {
		e.cache.SetResponse(ctx, query, &cache.CachedResponse{
			Response:  state.Response,
			Strategy:  state.Meta.Strategy,
			Retrieved: state.Retrieved,
		})
	}

	log.WithFields(logrus.Fields{
		"strategy": state.Meta.Strategy,
		"status":   status,
		"elapsed":  duration.String(),
	}).Info("Query completed")
	return state, nil
}

// embedQuery resolves the query vector, preferring the embedding cache.
func (e *Engine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if e.cache != nil {
		if vector, ok := e.cache.GetEmbedding(ctx, query); ok {
			e.collector.CacheHit("embedding")
			return vector, nil
		}
		e.collector.CacheMiss("embedding")
	}
	vector, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.SetEmbedding(ctx, query, vector)
	}
	return vector, nil
}

// ComponentStatus is one dependency's health verdict.
type ComponentStatus struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Health reports the engine's view of its dependencies.
type Health struct {
	Graph graph.Stats                `json:"graph"`
	Deps  map[string]ComponentStatus `json:"dependencies"`
}

// OK reports whether every checked dependency is healthy.
func (h Health) OK() bool {
	for _, s := range h.Deps {
		if !s.OK {
			return false
		}
	}
	return true
}

// CheckHealth probes the store, the model client and the cache. Probes
// share the caller's deadline.
func (e *Engine) CheckHealth(ctx context.Context) Health {
	h := Health{
		Graph: e.traverser.Stats(),
		Deps:  make(map[string]ComponentStatus),
	}
	check := func(name string, target any) {
		hc, ok := target.(healthChecker)
		if !ok {
			return
		}
		if err := hc.HealthCheck(ctx); err != nil {
			h.Deps[name] = ComponentStatus{Error: err.Error()}
			return
		}
		h.Deps[name] = ComponentStatus{OK: true}
	}
	check("store", e.store)
	check("model", e.embedder)

	if e.cache != nil {
		if err := e.cache.Ping(ctx); err != nil {
			h.Deps["cache"] = ComponentStatus{Error: err.Error()}
		} else {
			h.Deps["cache"] = ComponentStatus{OK: true}
		}
	}
	return h
}

// Close releases the optional cache and ledger handles.
func (e *Engine) Close() error {
	var errs []error
	if e.cache != nil {
		if err := e.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing cache: %w", err))
		}
	}
	if e.ledger != nil {
		if err := e.ledger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing cost ledger: %w", err))
		}
	}
	return errors.Join(errs...)
}
