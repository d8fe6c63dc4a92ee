package pipeline

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"dev.strata.query/internal/graph"
	"dev.strata.query/internal/workflow"
)

// Rerank depths by relationship confidence.
const (
	topKHighConfidence = 30
	topKMidConfidence  = 18
	topKDefault        = 15
)

// Confidence thresholds shared by analysis and traversal.
const (
	confidenceHigh = 0.85
	confidenceMid  = 0.6
)

// QueryAnalysis classifies the query and settles the retrieval knobs
// every later stage reads: aggregation type, relationship detection,
// entity filter, well id, rerank depth, and the traversal strategy.
type QueryAnalysis struct {
	detector *Detector
	catalog  map[string]bool
	logger   *logrus.Logger
}

// NewQueryAnalysis builds the stage. The mnemonic catalog comes from
// the traverser so entity extraction matches the loaded graph.
func NewQueryAnalysis(detector *Detector, mnemonics []string, logger *logrus.Logger) *QueryAnalysis {
	if logger == nil {
		logger = logrus.New()
	}
	catalog := make(map[string]bool, len(mnemonics))
	for _, m := range mnemonics {
		catalog[strings.ToUpper(m)] = true
	}
	return &QueryAnalysis{detector: detector, catalog: catalog, logger: logger}
}

func (s *QueryAnalysis) Name() string { return "query_analysis" }

func (s *QueryAnalysis) Run(ctx context.Context, state *workflow.State) error {
	lowered := strings.ToLower(state.Query)
	meta := state.Meta

	meta.Aggregation = s.detector.DetectAggregation(lowered)
	if meta.Aggregation != workflow.AggregationNone {
		meta.AddDecision("aggregation type: %s", meta.Aggregation)
	}

	rel := s.detector.DetectRelationship(state.Query, s.catalog)
	meta.Relationship = rel
	if rel.Matched {
		meta.AddDecision("relationship detected: %s (confidence %.2f)", rel.Type, rel.Confidence)
	}

	if wid := rel.PrimaryWellID(); wid != "" {
		meta.WellID = wid
		meta.AddDecision("well id detected: %s", wid)
	}

	switch {
	case meta.Overrides.Filter != nil:
		meta.Filter = meta.Overrides.Filter
		meta.AddDecision("caller filter applied")
	default:
		if entityType := s.detector.AutoFilter(lowered); entityType != "" {
			meta.Filter = map[string]any{"entity_type": entityType}
			meta.AddDecision("auto filter: entity_type=%s", entityType)
		}
	}

	switch {
	case meta.Overrides.TopK > 0:
		meta.TopK = meta.Overrides.TopK
		meta.AddDecision("caller top_k: %d", meta.TopK)
	case rel.Confidence >= confidenceHigh:
		meta.TopK = topKHighConfidence
	case rel.Confidence >= confidenceMid:
		meta.TopK = topKMidConfidence
	default:
		meta.TopK = topKDefault
	}

	meta.Traversal = traversalFor(rel)
	if meta.Traversal.Apply {
		meta.AddDecision("traversal planned: %s, %s, max_hops=%d",
			meta.Traversal.EdgeType, meta.Traversal.Direction, meta.Traversal.MaxHops)
	}

	s.logger.WithFields(logrus.Fields{
		"query_id":    state.ID,
		"aggregation": meta.Aggregation,
		"rel_matched": rel.Matched,
		"confidence":  rel.Confidence,
		"top_k":       meta.TopK,
	}).Debug("Query analyzed")
	return nil
}

// traversalFor derives the expansion plan from a relationship verdict.
// Below the mid confidence threshold no traversal happens; at high
// confidence the walk goes two hops instead of one.
func traversalFor(rel *workflow.RelationshipDetection) *workflow.TraversalStrategy {
	strat := &workflow.TraversalStrategy{}
	if rel == nil || !rel.Matched || rel.Confidence < confidenceMid {
		return strat
	}
	strat.Apply = true
	strat.MaxHops = 1
	if rel.Confidence >= confidenceHigh {
		strat.MaxHops = 2
	}
	switch rel.Type {
	case workflow.RelWellToCurves:
		strat.Direction = graph.DirectionIncoming
		strat.EdgeType = graph.EdgeDescribes
	case workflow.RelCurveToWell:
		strat.Direction = graph.DirectionOutgoing
		strat.EdgeType = graph.EdgeDescribes
	case workflow.RelSiteToMeasurement:
		strat.Direction = graph.DirectionIncoming
		strat.EdgeType = graph.EdgeReportsOn
	case workflow.RelMeasurementToSite:
		strat.Direction = graph.DirectionOutgoing
		strat.EdgeType = graph.EdgeReportsOn
	case workflow.RelCurveToDocument:
		strat.Direction = graph.DirectionOutgoing
		strat.EdgeType = graph.EdgeDescribes
	}
	return strat
}
