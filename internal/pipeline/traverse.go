package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"dev.strata.query/internal/astra"
	"dev.strata.query/internal/graph"
	"dev.strata.query/internal/workflow"
)

// GraphExpansion widens the retrieved set by walking the knowledge
// graph from the current documents (or from the named well) and pulling
// the discovered nodes' documents back from the vector store.
type GraphExpansion struct {
	traverser *graph.Traverser
	store     VectorStore
	logger    *logrus.Logger
}

// NewGraphExpansion builds the stage.
func NewGraphExpansion(traverser *graph.Traverser, store VectorStore, logger *logrus.Logger) *GraphExpansion {
	if logger == nil {
		logger = logrus.New()
	}
	return &GraphExpansion{traverser: traverser, store: store, logger: logger}
}

func (s *GraphExpansion) Name() string { return "graph_expansion" }

func (s *GraphExpansion) Run(ctx context.Context, state *workflow.State) error {
	meta := state.Meta
	strat := meta.Traversal
	if strat == nil || !strat.Apply {
		meta.AddDecision("traversal skipped: below confidence threshold")
		return nil
	}

	maxHops := strat.MaxHops
	if meta.Overrides.MaxHops > 0 {
		maxHops = meta.Overrides.MaxHops
		meta.AddDecision("caller max_hops: %d", maxHops)
	}

	seeds, direction := s.resolveSeeds(meta)
	if len(seeds) == 0 {
		meta.AddDecision("traversal skipped: no seeds available")
		return nil
	}

	nodes := s.traverser.Expand(seeds, direction, maxHops)

	before := len(meta.Documents)
	known := make(map[string]bool, before)
	for _, doc := range meta.Documents {
		known[doc.ID()] = true
	}

	var discoveredIDs []string
	discovered := make(map[string]*graph.Node)
	for _, n := range nodes {
		if n.ID == "" || known[n.ID] {
			continue
		}
		known[n.ID] = true
		discoveredIDs = append(discoveredIDs, n.ID)
		discovered[n.ID] = n
	}

	if len(discoveredIDs) == 0 {
		meta.TraversalApplied = true
		meta.NumAfterTraversal = before
		meta.ExpansionRatio = 1
		meta.AddDecision("traversal found no new nodes")
		return nil
	}

	// Prefer the stored documents for discovered nodes; their text is
	// richer than anything reconstructable from attributes.
	fetched := make(map[string]astra.Document, len(discoveredIDs))
	docs, err := s.store.FetchByIDs(ctx, discoveredIDs, meta.Embedding)
	if err != nil {
		meta.AddError("fetching expanded documents: %s", err)
	} else {
		for _, d := range docs {
			fetched[d.ID()] = d
		}
	}

	expanded := meta.Documents
	for _, id := range discoveredIDs {
		if doc, ok := fetched[id]; ok {
			expanded = append(expanded, doc)
			continue
		}
		expanded = append(expanded, synthesizeDocument(discovered[id]))
	}

	meta.Documents = expanded
	meta.TraversalApplied = true
	meta.NumAfterTraversal = len(expanded)
	if before > 0 {
		meta.ExpansionRatio = float64(len(expanded)) / float64(before)
	} else {
		meta.ExpansionRatio = float64(len(expanded))
	}

	// Rebuild the retrieved context so strategies see the expanded set.
	retrieved := make([]string, 0, len(expanded))
	ids := make([]string, 0, len(expanded))
	types := make([]string, 0, len(expanded))
	for _, doc := range expanded {
		retrieved = append(retrieved, doc.ContextText())
		ids = append(ids, doc.ID())
		types = append(types, doc.EntityType())
	}
	state.Retrieved = retrieved
	meta.RetrievedIDs = ids
	meta.RetrievedTypes = types
	meta.NumResults = len(expanded)
	meta.AddDecision("traversal expanded %d documents to %d (%d hops, %s)",
		before, len(expanded), maxHops, direction)

	s.logger.WithFields(logrus.Fields{
		"query_id": state.ID,
		"before":   before,
		"after":    len(expanded),
		"hops":     maxHops,
	}).Debug("Graph expansion completed")
	return nil
}

// resolveSeeds picks traversal seeds: the named well's node when the
// query is well-centric and the well exists, otherwise nodes fabricated
// from the filtered documents. When the seeds sit on the opposite side
// of the relationship (curve documents for a well-to-curves question),
// the walk goes both directions so it can cross to the other side.
func (s *GraphExpansion) resolveSeeds(meta *workflow.Meta) ([]*graph.Node, graph.Direction) {
	strat := meta.Traversal
	rel := meta.Relationship
	direction := strat.Direction

	wellCentric := rel != nil &&
		(rel.Type == workflow.RelWellToCurves || rel.Type == workflow.RelCurveToDocument)
	if wellCentric && meta.WellID != "" {
		if node := s.traverser.GetNode(graph.WellNodeID(meta.WellID)); node != nil {
			return []*graph.Node{node}, direction
		}
	}

	seeds := make([]*graph.Node, 0, len(meta.Documents))
	var haveCurve, haveWell bool
	for _, doc := range meta.Documents {
		node := documentSeed(doc)
		if node == nil {
			continue
		}
		switch node.Type {
		case graph.NodeLASCurve:
			haveCurve = true
		case graph.NodeLASDocument:
			haveWell = true
		}
		seeds = append(seeds, node)
	}

	if rel != nil {
		if rel.Type == workflow.RelWellToCurves && haveCurve {
			direction = graph.DirectionBoth
		}
		if rel.Type == workflow.RelCurveToWell && haveWell {
			direction = graph.DirectionBoth
		}
	}
	return seeds, direction
}

// documentSeed fabricates a graph node from a stored document so the
// walk can start from vector search hits.
func documentSeed(doc astra.Document) *graph.Node {
	id := doc.ID()
	if id == "" {
		return nil
	}
	attrs := graph.Attributes{}
	for k, v := range doc.AttributeFields() {
		val := graph.FromAny(v)
		if val.IsAbsent() {
			continue
		}
		attrs[k] = val
	}
	return &graph.Node{
		ID:         id,
		Type:       graph.NodeType(doc.EntityType()),
		Attributes: attrs,
	}
}

// synthesizeDocument renders a node discovered only in the graph as a
// document, with a deterministic attribute listing as its text.
func synthesizeDocument(node *graph.Node) astra.Document {
	keys := make([]string, 0, len(node.Attributes))
	for k := range node.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)", node.ID, node.Type)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %s", k, node.Attributes[k].Display())
	}

	doc := astra.Document{
		astra.FieldID:         node.ID,
		astra.FieldEntityType: string(node.Type),
		astra.FieldText:       b.String(),
	}
	for k, v := range node.Attributes {
		if s, ok := v.AsString(); ok {
			doc[k] = s
		}
	}
	return doc
}
