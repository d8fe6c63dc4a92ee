// Package workflow defines the per-query state threaded through the
// retrieval pipeline and the answering strategies. One State is created
// per query and owned by that query's goroutine; nothing here is shared.
package workflow

import (
	"fmt"

	"github.com/google/uuid"

	"dev.strata.query/internal/astra"
	"dev.strata.query/internal/graph"
)

// AggregationType classifies what kind of aggregate a query asks for.
type AggregationType string

const (
	AggregationNone       AggregationType = ""
	AggregationCount      AggregationType = "count"
	AggregationList       AggregationType = "list"
	AggregationDistinct   AggregationType = "distinct"
	AggregationSum        AggregationType = "sum"
	AggregationMax        AggregationType = "max"
	AggregationMin        AggregationType = "min"
	AggregationRange      AggregationType = "range"
	AggregationComparison AggregationType = "comparison"
)

// RelationshipType classifies graph-shaped questions.
type RelationshipType string

const (
	RelWellToCurves      RelationshipType = "well_to_curves"
	RelCurveToWell       RelationshipType = "curve_to_well"
	RelSiteToMeasurement RelationshipType = "site_to_measurements"
	RelMeasurementToSite RelationshipType = "measurement_to_site"
	RelCurveToDocument   RelationshipType = "curve_to_document"
)

// RelationshipDetection is the analyzer's verdict on whether the query
// asks about graph structure, and how confidently.
type RelationshipDetection struct {
	Type       RelationshipType
	Matched    bool
	Confidence float64
	WellIDs    []string
	SiteCodes  []string
	Mnemonics  []string
}

// PrimaryWellID returns the first detected well id, already normalized.
func (r *RelationshipDetection) PrimaryWellID() string {
	if r == nil || len(r.WellIDs) == 0 {
		return ""
	}
	return r.WellIDs[0]
}

// TraversalStrategy tells the expansion stage whether and how to walk
// the graph.
type TraversalStrategy struct {
	Apply     bool
	MaxHops   int
	Direction graph.Direction
	EdgeType  graph.EdgeType
}

// Overrides carries caller-supplied knobs from the API or CLI surface.
type Overrides struct {
	Filter  map[string]any
	TopK    int
	Limit   int
	MaxHops int
}

// Meta accumulates every per-query decision and intermediate product as
// the state moves through the stages.
type Meta struct {
	Embedding []float32

	Aggregation  AggregationType
	Relationship *RelationshipDetection
	Traversal    *TraversalStrategy

	// Filter is the vector store filter in effect, nil for none.
	Filter map[string]any
	// WellID is the normalized well identifier detected in the query.
	WellID string
	// TopK is the resolved rerank depth.
	TopK int
	// InitialLimit is the vector search fan-out used.
	InitialLimit int

	// DirectCount holds the store-side count taken on the COUNT fast
	// path, independent of the sampled documents.
	DirectCount *int
	// CurveCount holds the traverser count for curve counting answers.
	CurveCount *int

	VectorDocuments []astra.Document
	Documents       []astra.Document

	InitialCount      int
	Reranked          bool
	RerankWeights     [2]float64
	FilterKeywords    []string
	FilterFallback    bool
	TraversalApplied  bool
	NumAfterTraversal int
	ExpansionRatio    float64
	NumResults        int

	// RetrievedIDs and RetrievedTypes describe the final document set.
	RetrievedIDs   []string
	RetrievedTypes []string

	// Strategy is the name of the answering strategy that produced the
	// response.
	Strategy string

	// Generation accounting, populated when the LLM ran.
	GenModel        string
	InputTokens     int
	GeneratedTokens int

	Decisions []string
	Errors    []string

	Overrides Overrides
}

// AddDecision appends a formatted entry to the decision log.
func (m *Meta) AddDecision(format string, args ...any) {
	m.Decisions = append(m.Decisions, fmt.Sprintf(format, args...))
}

// AddError appends a formatted entry to the per-query error log.
func (m *Meta) AddError(format string, args ...any) {
	m.Errors = append(m.Errors, fmt.Sprintf(format, args...))
}

// State is everything known about one query as it flows through the
// engine.
type State struct {
	ID    string
	Query string
	// Retrieved is the context presented to strategies and returned to
	// the caller, one string per document or summary line.
	Retrieved []string
	Response  string
	Meta      *Meta
}

// NewState builds a fresh state for a query.
func NewState(query string) *State {
	return &State{
		ID:    uuid.NewString(),
		Query: query,
		Meta:  &Meta{},
	}
}

// HasRetrieved reports whether any context survived retrieval.
func (s *State) HasRetrieved() bool {
	for _, r := range s.Retrieved {
		if r != "" {
			return true
		}
	}
	return false
}
