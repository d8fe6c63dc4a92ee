package pipeline

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"dev.strata.query/internal/astra"
	"dev.strata.query/internal/workflow"
)

// Rerank weight sets: vector rank weight, keyword overlap weight. High
// relationship confidence shifts weight toward keyword overlap, since
// those queries name their entities explicitly.
var (
	weightsDefault        = [2]float64{0.7, 0.3}
	weightsHighConfidence = [2]float64{0.6, 0.4}
)

var wordPattern = regexp.MustCompile(`\w+`)

// tokenize lowercases and splits on word characters.
func tokenize(s string) []string {
	return wordPattern.FindAllString(strings.ToLower(s), -1)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range tokenize(s) {
		set[tok] = true
	}
	return set
}

// keywordOverlap is the fraction of query tokens present in the text.
func keywordOverlap(queryTokens map[string]bool, text string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	hits := 0
	docTokens := tokenSet(text)
	for tok := range queryTokens {
		if docTokens[tok] {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTokens))
}

// vectorRankScore converts a one-based rank into a score in (0, 1],
// rank 1 scoring 1.
func vectorRankScore(rank, total int) float64 {
	if total <= 0 {
		return 0
	}
	return 1 - float64(rank-1)/float64(total)
}

// Rerank reorders the vector search results by a weighted blend of the
// vector rank and keyword overlap with the query, then keeps the top_k
// chosen during analysis. Ties preserve vector order.
type Rerank struct {
	logger *logrus.Logger
}

// NewRerank builds the stage.
func NewRerank(logger *logrus.Logger) *Rerank {
	if logger == nil {
		logger = logrus.New()
	}
	return &Rerank{logger: logger}
}

func (s *Rerank) Name() string { return "rerank" }

func (s *Rerank) Run(ctx context.Context, state *workflow.State) error {
	meta := state.Meta
	docs := meta.VectorDocuments
	if len(docs) == 0 {
		meta.Documents = nil
		return nil
	}

	weights := weightsDefault
	if meta.Relationship != nil && meta.Relationship.Confidence >= confidenceHigh {
		weights = weightsHighConfidence
	}
	meta.RerankWeights = weights

	queryTokens := tokenSet(state.Query)
	total := len(docs)

	type scored struct {
		doc   astra.Document
		score float64
	}
	ranked := make([]scored, total)
	for i, doc := range docs {
		combined := weights[0]*vectorRankScore(i+1, total) +
			weights[1]*keywordOverlap(queryTokens, doc.ContextText())
		ranked[i] = scored{doc: doc, score: combined}
	}

	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].score > ranked[b].score
	})

	topK := meta.TopK
	if topK <= 0 {
		topK = topKDefault
	}
	if topK > len(ranked) {
		topK = len(ranked)
	}

	out := make([]astra.Document, topK)
	for i := 0; i < topK; i++ {
		out[i] = ranked[i].doc
	}
	meta.Documents = out
	meta.Reranked = true
	meta.AddDecision("reranked %d documents to top %d (weights %.1f/%.1f)",
		total, topK, weights[0], weights[1])

	s.logger.WithFields(logrus.Fields{
		"query_id": state.ID,
		"in":       total,
		"out":      topK,
	}).Debug("Rerank completed")
	return nil
}
