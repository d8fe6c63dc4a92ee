// Package pipeline implements the six-stage retrieval pipeline: query
// analysis, vector search, reranking, filtering, state finalization,
// and graph traversal expansion. Stages communicate only through the
// workflow state; a failing stage records its error and the pipeline
// continues with whatever partial state exists.
package pipeline

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"dev.strata.query/internal/workflow"
)

// Stage is one step of the retrieval pipeline.
type Stage interface {
	Name() string
	Run(ctx context.Context, state *workflow.State) error
}

// Observer is notified after each stage completes, for metrics.
type Observer func(stage string, duration time.Duration, failed bool)

// Pipeline runs stages in a fixed order.
type Pipeline struct {
	stages   []Stage
	observer Observer
	logger   *logrus.Logger
}

// New assembles a pipeline from stages in execution order.
func New(logger *logrus.Logger, stages ...Stage) *Pipeline {
	if logger == nil {
		logger = logrus.New()
	}
	return &Pipeline{stages: stages, logger: logger}
}

// SetObserver registers a per-stage completion callback.
func (p *Pipeline) SetObserver(obs Observer) { p.observer = obs }

// Run executes every stage against the state. Stage errors are recorded
// on the state and do not stop later stages; only context cancellation
// aborts the run.
func (p *Pipeline) Run(ctx context.Context, state *workflow.State) error {
	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			state.Meta.AddError("pipeline aborted at %s: %s", stage.Name(), err)
			return err
		}

		start := time.Now()
		err := stage.Run(ctx, state)
		elapsed := time.Since(start)

		if p.observer != nil {
			p.observer(stage.Name(), elapsed, err != nil)
		}

		fields := logrus.Fields{
			"stage":    stage.Name(),
			"query_id": state.ID,
			"elapsed":  elapsed.String(),
		}
		if err != nil {
			state.Meta.AddError("%s: %s", stage.Name(), err)
			p.logger.WithFields(fields).WithError(err).Warn("Pipeline stage failed, continuing")
			continue
		}
		p.logger.WithFields(fields).Debug("Pipeline stage completed")
	}
	return nil
}
