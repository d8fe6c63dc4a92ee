// Package reason turns retrieved context into answers. Strategies are
// arranged as a chain of responsibility: the first strategy that can
// handle the query executes, and only the structured extractor may
// decline after the fact, passing the query further down the chain. The
// LLM generation fallback sits last and accepts everything.
package reason

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"dev.strata.query/internal/watsonx"
	"dev.strata.query/internal/workflow"
)

// ErrNotHandled signals that a strategy inspected the state and could
// not produce an answer; the orchestrator moves to the next strategy.
var ErrNotHandled = errors.New("strategy could not produce an answer")

// Generator is the generation side of the watsonx client.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxNewTokens int) (*watsonx.GenResult, error)
}

// Strategy is one way of answering a query.
type Strategy interface {
	Name() string
	// CanHandle inspects the state without mutating it.
	CanHandle(state *workflow.State) bool
	// Execute writes the response and its metadata onto the state.
	Execute(ctx context.Context, state *workflow.State) error
}

// Orchestrator walks the strategy chain for each query.
type Orchestrator struct {
	strategies []Strategy
	logger     *logrus.Logger
}

// NewOrchestrator builds the chain in the given order.
func NewOrchestrator(logger *logrus.Logger, strategies ...Strategy) *Orchestrator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Orchestrator{strategies: strategies, logger: logger}
}

// Answer runs the first applicable strategy. The state always comes
// back with a non-empty response and non-empty retrieved context; hard
// strategy failures are recorded and produce a readable failure answer
// instead of propagating.
func (o *Orchestrator) Answer(ctx context.Context, state *workflow.State) error {
	for _, strat := range o.strategies {
		if !strat.CanHandle(state) {
			continue
		}

		err := strat.Execute(ctx, state)
		if errors.Is(err, ErrNotHandled) {
			state.Meta.AddDecision("strategy %s declined", strat.Name())
			continue
		}

		state.Meta.Strategy = strat.Name()
		if err != nil {
			state.Meta.AddError("strategy %s: %s", strat.Name(), err)
			if state.Response == "" {
				state.Response = "I was unable to produce an answer for this question from the available data."
			}
			o.finish(state, strat.Name())
			o.logger.WithFields(logrus.Fields{
				"query_id": state.ID,
				"strategy": strat.Name(),
			}).WithError(err).Warn("Strategy failed")
			return nil
		}

		if state.Response == "" {
			state.Meta.AddError("strategy %s produced an empty response", strat.Name())
			state.Response = "I was unable to produce an answer for this question from the available data."
		}
		o.finish(state, strat.Name())
		o.logger.WithFields(logrus.Fields{
			"query_id": state.ID,
			"strategy": strat.Name(),
		}).Info("Query answered")
		return nil
	}

	// The chain ends with a catch-all, so reaching this point means no
	// strategies were configured at all.
	state.Meta.Strategy = "unanswered"
	state.Response = "I was unable to produce an answer for this question from the available data."
	o.finish(state, "unanswered")
	return nil
}

func (o *Orchestrator) finish(state *workflow.State, strategy string) {
	if !state.HasRetrieved() {
		state.Retrieved = append([]string{"No documents were retrieved for this query (answered by " + strategy + ")."}, state.Retrieved...)
	}
}

// ensureContext prepends a summary line when no documents survived
// retrieval, so the retrieved context is never empty for strategies
// that answer from the graph or the store directly.
func ensureContext(state *workflow.State, line string) {
	if !state.HasRetrieved() {
		state.Retrieved = append([]string{line}, state.Retrieved...)
	}
}
