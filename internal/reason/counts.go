package reason

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"dev.strata.query/internal/astra"
	"dev.strata.query/internal/graph"
	"dev.strata.query/internal/pipeline"
	"dev.strata.query/internal/workflow"
)

// DocumentCounter is the counting side of the vector store client.
type DocumentCounter interface {
	CountDocuments(ctx context.Context, filter map[string]any) (int, error)
}

// CurveCount answers "how many curves does well X have" from the graph
// alone. The response is the bare number.
type CurveCount struct {
	traverser *graph.Traverser
	logger    *logrus.Logger
}

// NewCurveCount builds the strategy.
func NewCurveCount(traverser *graph.Traverser, logger *logrus.Logger) *CurveCount {
	if logger == nil {
		logger = logrus.New()
	}
	return &CurveCount{traverser: traverser, logger: logger}
}

func (s *CurveCount) Name() string { return "curve_count" }

func (s *CurveCount) CanHandle(state *workflow.State) bool {
	lowered := strings.ToLower(state.Query)
	if !strings.Contains(lowered, "how many") || !strings.Contains(lowered, "curve") {
		return false
	}
	return s.wellID(state) != ""
}

func (s *CurveCount) Execute(ctx context.Context, state *workflow.State) error {
	wellID := s.wellID(state)
	if s.traverser.GetNode(graph.WellNodeID(wellID)) == nil {
		state.Response = fmt.Sprintf("No well matching %s was found in the knowledge graph.", wellID)
		state.Meta.AddDecision("curve count requested for unknown well %s", wellID)
		ensureContext(state, fmt.Sprintf("Graph lookup found no node for well %s.", wellID))
		return nil
	}

	curves := s.traverser.GetCurvesForWell(wellID)
	n := len(curves)
	state.Meta.CurveCount = &n
	state.Response = strconv.Itoa(n)
	state.Meta.AddDecision("counted %d curves for well %s via graph traversal", n, wellID)
	ensureContext(state, fmt.Sprintf("Graph traversal: well %s is described by %d curve nodes.", wellID, n))

	s.logger.WithFields(logrus.Fields{
		"well_id": wellID,
		"curves":  n,
	}).Debug("Curve count answered from graph")
	return nil
}

func (s *CurveCount) wellID(state *workflow.State) string {
	if state.Meta.WellID != "" {
		return state.Meta.WellID
	}
	ids := pipeline.ExtractWellIDs(state.Query)
	if len(ids) > 0 {
		return ids[0]
	}
	return ""
}

// WellCount answers corpus-wide "how many wells" questions with a
// direct store count, falling back to the graph when the store fails.
type WellCount struct {
	counter   DocumentCounter
	traverser *graph.Traverser
	logger    *logrus.Logger
}

// NewWellCount builds the strategy. The traverser may be nil when no
// graph is loaded; the store count is then the only source.
func NewWellCount(counter DocumentCounter, traverser *graph.Traverser, logger *logrus.Logger) *WellCount {
	if logger == nil {
		logger = logrus.New()
	}
	return &WellCount{counter: counter, traverser: traverser, logger: logger}
}

func (s *WellCount) Name() string { return "well_count" }

func (s *WellCount) CanHandle(state *workflow.State) bool {
	lowered := strings.ToLower(state.Query)
	if !strings.Contains(lowered, "how many") {
		return false
	}
	if !strings.Contains(lowered, "well") {
		return false
	}
	// Per-well curve counts belong to the curve strategy, and
	// which-wells-carry-a-mnemonic questions to the relationship one.
	if strings.Contains(lowered, "curve") {
		return false
	}
	if rel := state.Meta.Relationship; rel != nil && rel.Matched && rel.Type == workflow.RelCurveToWell {
		return false
	}
	return state.Meta.WellID == "" && len(pipeline.ExtractWellIDs(state.Query)) == 0
}

func (s *WellCount) Execute(ctx context.Context, state *workflow.State) error {
	n, source, err := s.count(ctx, state)
	if err != nil {
		return fmt.Errorf("counting wells: %w", err)
	}

	state.Meta.DirectCount = &n
	state.Response = fmt.Sprintf("There are %d wells.", n)
	state.Meta.AddDecision("well count %d from %s", n, source)
	ensureContext(state, fmt.Sprintf("Direct count: %d documents with entity_type=las_document (%s).", n, source))
	return nil
}

func (s *WellCount) count(ctx context.Context, state *workflow.State) (int, string, error) {
	if state.Meta.DirectCount != nil {
		return *state.Meta.DirectCount, "retrieval fast path", nil
	}

	if s.counter != nil {
		n, err := s.counter.CountDocuments(ctx, map[string]any{astra.FieldEntityType: string(graph.NodeLASDocument)})
		if err == nil {
			return n, "vector store", nil
		}
		state.Meta.AddError("well count via store: %s", err)
		s.logger.WithError(err).Warn("Store count failed, falling back to graph")
	}

	if s.traverser != nil {
		return s.traverser.WellCount(), "knowledge graph", nil
	}
	return 0, "", fmt.Errorf("no counting source available")
}
