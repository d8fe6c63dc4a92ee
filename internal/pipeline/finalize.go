package pipeline

import (
	"context"

	"github.com/sirupsen/logrus"

	"dev.strata.query/internal/workflow"
)

// StateFinalize snapshots the surviving documents into the state's
// retrieved context and records the final counts.
type StateFinalize struct {
	logger *logrus.Logger
}

// NewStateFinalize builds the stage.
func NewStateFinalize(logger *logrus.Logger) *StateFinalize {
	if logger == nil {
		logger = logrus.New()
	}
	return &StateFinalize{logger: logger}
}

func (s *StateFinalize) Name() string { return "state_finalize" }

func (s *StateFinalize) Run(ctx context.Context, state *workflow.State) error {
	meta := state.Meta
	docs := meta.Documents

	retrieved := make([]string, 0, len(docs))
	ids := make([]string, 0, len(docs))
	types := make([]string, 0, len(docs))
	for _, doc := range docs {
		retrieved = append(retrieved, doc.ContextText())
		ids = append(ids, doc.ID())
		types = append(types, doc.EntityType())
	}

	state.Retrieved = retrieved
	meta.NumResults = len(docs)
	meta.RetrievedIDs = ids
	meta.RetrievedTypes = types
	meta.AddDecision("finalized %d retrieved documents", len(docs))

	s.logger.WithFields(logrus.Fields{
		"query_id": state.ID,
		"results":  len(docs),
	}).Debug("State finalized")
	return nil
}
