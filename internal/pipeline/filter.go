package pipeline

import (
	"context"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"dev.strata.query/internal/astra"
	"dev.strata.query/internal/workflow"
)

// filterFallbackSize is how many reranked documents survive when a
// filter eliminates everything.
const filterFallbackSize = 5

// Keyword demand phrasings: each capture group is one demanded keyword.
var keywordDemandPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)contain(?:s|ing)? (?:the )?(?:word|term|string) "?([\w.$-]+)"?`),
	regexp.MustCompile(`(?i)with "?([\w.$-]+)"? in (?:the |its )?name`),
	regexp.MustCompile(`(?i)(?:called|named) "?([\w.$-]+)"?`),
	regexp.MustCompile(`(?i)mention(?:s|ing)? "?([\w.$-]+)"?`),
}

// extractKeywordDemands returns the lowercased keywords the query
// explicitly demands of documents.
func extractKeywordDemands(query string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range keywordDemandPatterns {
		for _, m := range p.FindAllStringSubmatch(query, -1) {
			kw := strings.ToLower(strings.Trim(m[1], `."?`))
			if kw == "" || seen[kw] {
				continue
			}
			seen[kw] = true
			out = append(out, kw)
		}
	}
	return out
}

// Filter drops documents that fail the query's explicit keyword demands
// or do not mention the detected well. When a filter wipes out the
// whole candidate set, the stage falls back to the top reranked
// documents instead of returning nothing.
type Filter struct {
	truncateLimit int
	logger        *logrus.Logger
}

// NewFilter builds the stage. truncateLimit caps the surviving set.
func NewFilter(truncateLimit int, logger *logrus.Logger) *Filter {
	if logger == nil {
		logger = logrus.New()
	}
	if truncateLimit <= 0 {
		truncateLimit = 15
	}
	return &Filter{truncateLimit: truncateLimit, logger: logger}
}

func (s *Filter) Name() string { return "filter" }

func (s *Filter) Run(ctx context.Context, state *workflow.State) error {
	meta := state.Meta
	docs := meta.Documents
	if len(docs) == 0 {
		return nil
	}

	keywords := extractKeywordDemands(state.Query)
	wellID := meta.WellID
	if len(keywords) == 0 && wellID == "" {
		return nil
	}
	meta.FilterKeywords = keywords

	// OR semantics when the relationship is confident or a well is
	// named; otherwise every demanded keyword must appear.
	orMode := wellID != ""
	if meta.Relationship != nil && meta.Relationship.Confidence >= confidenceHigh {
		orMode = true
	}

	loweredWell := strings.ToLower(wellID)
	var filtered []astra.Document
	for _, doc := range docs {
		serialized := strings.ToLower(doc.Serialize())

		wellHit := wellID != "" &&
			(strings.Contains(strings.ToLower(doc.ID()), loweredWell) || strings.Contains(serialized, loweredWell))

		kwAll := len(keywords) > 0
		kwAny := false
		for _, kw := range keywords {
			if strings.Contains(serialized, kw) {
				kwAny = true
			} else {
				kwAll = false
			}
		}

		keep := false
		if orMode {
			keep = wellHit || kwAny
		} else {
			keep = kwAll
			if wellID != "" {
				keep = keep && wellHit
			}
		}
		if keep {
			filtered = append(filtered, doc)
		}
	}

	if len(filtered) == 0 {
		meta.FilterFallback = true
		meta.AddDecision("filter removed every document, keeping top %d reranked", filterFallbackSize)
		n := filterFallbackSize
		if n > len(docs) {
			n = len(docs)
		}
		filtered = docs[:n]
	} else {
		mode := "and"
		if orMode {
			mode = "or"
		}
		meta.AddDecision("filter kept %d of %d documents (mode=%s, keywords=%v, well=%s)",
			len(filtered), len(docs), mode, keywords, wellID)
	}

	if len(filtered) > s.truncateLimit {
		meta.AddDecision("truncated filtered set from %d to %d", len(filtered), s.truncateLimit)
		filtered = filtered[:s.truncateLimit]
	}
	meta.Documents = filtered

	s.logger.WithFields(logrus.Fields{
		"query_id": state.ID,
		"kept":     len(filtered),
		"fallback": meta.FilterFallback,
	}).Debug("Filter completed")
	return nil
}
