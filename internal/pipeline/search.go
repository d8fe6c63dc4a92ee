package pipeline

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"dev.strata.query/internal/astra"
	"dev.strata.query/internal/config"
	"dev.strata.query/internal/workflow"
)

// countSampleLimit caps the sample retrieval taken alongside a direct
// count, keeping the fast path fast.
const countSampleLimit = 100

// VectorStore is the slice of the Astra client the search stages use.
type VectorStore interface {
	VectorSearch(ctx context.Context, vector []float32, opts astra.SearchOptions) ([]astra.Document, error)
	CountDocuments(ctx context.Context, filter map[string]any) (int, error)
	FetchByIDs(ctx context.Context, ids []string, vector []float32) ([]astra.Document, error)
}

// VectorSearch retrieves candidate documents by embedding similarity.
// COUNT aggregations take a fast path: the store counts matching
// documents directly, and only a small sample is retrieved for context.
type VectorSearch struct {
	store     VectorStore
	retrieval config.RetrievalSettings
	logger    *logrus.Logger
}

// NewVectorSearch builds the stage.
func NewVectorSearch(store VectorStore, retrieval config.RetrievalSettings, logger *logrus.Logger) *VectorSearch {
	if logger == nil {
		logger = logrus.New()
	}
	return &VectorSearch{store: store, retrieval: retrieval, logger: logger}
}

func (s *VectorSearch) Name() string { return "vector_search" }

func (s *VectorSearch) Run(ctx context.Context, state *workflow.State) error {
	meta := state.Meta
	if len(meta.Embedding) == 0 {
		return fmt.Errorf("no query embedding available")
	}

	limit := s.resolveLimit(meta)
	meta.InitialLimit = limit

	searchLimit := limit
	if s.isCountFastPath(meta) {
		count, err := s.store.CountDocuments(ctx, meta.Filter)
		if err != nil {
			meta.AddError("direct count failed: %s", err)
		} else {
			meta.DirectCount = &count
			meta.AddDecision("direct count: %d", count)
		}
		if !s.retrieval.CountSampleEnabled {
			meta.AddDecision("count sampling disabled, skipping retrieval")
			return nil
		}
		if meta.DirectCount != nil {
			searchLimit = countSampleLimit
			if searchLimit > limit {
				searchLimit = limit
			}
			meta.AddDecision("count fast path: sampling %d documents", searchLimit)
		}
	}

	docs, err := s.store.VectorSearch(ctx, meta.Embedding, astra.SearchOptions{
		Limit:             searchLimit,
		Filter:            meta.Filter,
		IncludeSimilarity: true,
	})
	if err != nil {
		return fmt.Errorf("vector search: %w", err)
	}

	meta.VectorDocuments = docs
	meta.InitialCount = len(docs)
	s.logger.WithFields(logrus.Fields{
		"query_id":  state.ID,
		"retrieved": len(docs),
		"limit":     searchLimit,
		"filtered":  meta.Filter != nil,
	}).Debug("Vector search completed")
	return nil
}

// resolveLimit picks the retrieval fan-out: the caller's override, the
// aggregation limit for aggregate queries, or the default.
func (s *VectorSearch) resolveLimit(meta *workflow.Meta) int {
	if meta.Overrides.Limit > 0 {
		return meta.Overrides.Limit
	}
	if meta.Aggregation != workflow.AggregationNone {
		return s.retrieval.AggregationLimit
	}
	return s.retrieval.DefaultLimit
}

// isCountFastPath reports whether the store can answer the count
// directly: a COUNT aggregation with no specific well in play.
func (s *VectorSearch) isCountFastPath(meta *workflow.Meta) bool {
	if meta.Aggregation != workflow.AggregationCount {
		return false
	}
	if meta.WellID != "" {
		return false
	}
	if meta.Filter != nil {
		if _, targetsID := meta.Filter[astra.FieldID]; targetsID {
			return false
		}
	}
	return true
}
