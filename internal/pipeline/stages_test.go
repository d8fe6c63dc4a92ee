package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.strata.query/internal/astra"
	"dev.strata.query/internal/config"
	"dev.strata.query/internal/graph"
	"dev.strata.query/internal/workflow"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

type stubStore struct {
	docs      []astra.Document
	searchErr error

	count      int
	countErr   error
	countCalls int

	searches []astra.SearchOptions

	fetch    map[string]astra.Document
	fetchErr error
	fetchIDs [][]string
}

func (s *stubStore) VectorSearch(ctx context.Context, vector []float32, opts astra.SearchOptions) ([]astra.Document, error) {
	s.searches = append(s.searches, opts)
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	if opts.Limit < len(s.docs) {
		return s.docs[:opts.Limit], nil
	}
	return s.docs, nil
}

func (s *stubStore) CountDocuments(ctx context.Context, filter map[string]any) (int, error) {
	s.countCalls++
	return s.count, s.countErr
}

func (s *stubStore) FetchByIDs(ctx context.Context, ids []string, vector []float32) ([]astra.Document, error) {
	s.fetchIDs = append(s.fetchIDs, ids)
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	var out []astra.Document
	for _, id := range ids {
		if d, ok := s.fetch[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func curveDoc(id, mnemonic, unit, well string) astra.Document {
	return astra.Document{
		"_id":           id,
		"entity_type":   "las_curve",
		"semantic_text": fmt.Sprintf("Curve %s (%s) recorded for well %s", mnemonic, unit, well),
		"mnemonic":      mnemonic,
		"unit":          unit,
		"well_id":       well,
	}
}

func retrievalSettings() config.RetrievalSettings {
	return config.RetrievalSettings{
		QueryMaxLength:     500,
		DefaultLimit:       100,
		AggregationLimit:   1000,
		AggregationMaxDocs: 5000,
		FilterTruncate:     15,
		CountSampleEnabled: true,
	}
}

func analyzedState(t *testing.T, query string) *workflow.State {
	t.Helper()
	stage := NewQueryAnalysis(newTestDetector(t), []string{"GR", "NPHI", "DEPT", "RDEP", "RHOB"}, testLogger())
	state := workflow.NewState(query)
	require.NoError(t, stage.Run(context.Background(), state))
	return state
}

func TestQueryAnalysisStage(t *testing.T) {
	t.Run("relationship query settles all knobs", func(t *testing.T) {
		state := analyzedState(t, "What curves are available for well 15/9-13?")
		meta := state.Meta

		assert.Equal(t, workflow.AggregationNone, meta.Aggregation)
		require.NotNil(t, meta.Relationship)
		assert.True(t, meta.Relationship.Matched)
		assert.Equal(t, "15_9-13", meta.WellID)
		assert.Equal(t, topKHighConfidence, meta.TopK)
		assert.Equal(t, map[string]any{"entity_type": "las_curve"}, meta.Filter)
		require.NotNil(t, meta.Traversal)
		assert.True(t, meta.Traversal.Apply)
		assert.Equal(t, 2, meta.Traversal.MaxHops)
		assert.Equal(t, graph.DirectionIncoming, meta.Traversal.Direction)
		assert.Equal(t, graph.EdgeDescribes, meta.Traversal.EdgeType)
		assert.NotEmpty(t, meta.Decisions)
	})

	t.Run("plain definition query stays minimal", func(t *testing.T) {
		state := analyzedState(t, "Define porosity")
		meta := state.Meta

		assert.Equal(t, workflow.AggregationNone, meta.Aggregation)
		assert.Equal(t, topKDefault, meta.TopK)
		assert.Nil(t, meta.Filter)
		assert.False(t, meta.Traversal.Apply)
	})

	t.Run("caller overrides win", func(t *testing.T) {
		stage := NewQueryAnalysis(newTestDetector(t), nil, testLogger())
		state := workflow.NewState("what curves are available for well 15/9-13?")
		state.Meta.Overrides = workflow.Overrides{
			Filter: map[string]any{"entity_type": "usgs_site"},
			TopK:   7,
		}
		require.NoError(t, stage.Run(context.Background(), state))

		assert.Equal(t, map[string]any{"entity_type": "usgs_site"}, state.Meta.Filter)
		assert.Equal(t, 7, state.Meta.TopK)
	})
}

func TestVectorSearchStage(t *testing.T) {
	t.Run("missing embedding fails", func(t *testing.T) {
		stage := NewVectorSearch(&stubStore{}, retrievalSettings(), testLogger())
		state := workflow.NewState("q")
		err := stage.Run(context.Background(), state)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "embedding")
	})

	t.Run("default limit for plain queries", func(t *testing.T) {
		store := &stubStore{docs: []astra.Document{curveDoc("c1", "GR", "gAPI", "15_9-13")}}
		stage := NewVectorSearch(store, retrievalSettings(), testLogger())
		state := workflow.NewState("define porosity")
		state.Meta.Embedding = []float32{0.1}
		require.NoError(t, stage.Run(context.Background(), state))

		require.Len(t, store.searches, 1)
		assert.Equal(t, 100, store.searches[0].Limit)
		assert.Equal(t, 100, state.Meta.InitialLimit)
		assert.Equal(t, 1, state.Meta.InitialCount)
		assert.Zero(t, store.countCalls)
	})

	t.Run("aggregation widens the fan-out", func(t *testing.T) {
		store := &stubStore{}
		stage := NewVectorSearch(store, retrievalSettings(), testLogger())
		state := workflow.NewState("list all counties with sites")
		state.Meta.Embedding = []float32{0.1}
		state.Meta.Aggregation = workflow.AggregationList
		require.NoError(t, stage.Run(context.Background(), state))

		require.Len(t, store.searches, 1)
		assert.Equal(t, 1000, store.searches[0].Limit)
	})

	t.Run("count fast path counts directly and samples", func(t *testing.T) {
		store := &stubStore{count: 1542}
		stage := NewVectorSearch(store, retrievalSettings(), testLogger())
		state := workflow.NewState("how many wells are there?")
		state.Meta.Embedding = []float32{0.1}
		state.Meta.Aggregation = workflow.AggregationCount
		state.Meta.Filter = map[string]any{"entity_type": "las_document"}
		require.NoError(t, stage.Run(context.Background(), state))

		assert.Equal(t, 1, store.countCalls)
		require.NotNil(t, state.Meta.DirectCount)
		assert.Equal(t, 1542, *state.Meta.DirectCount)
		require.Len(t, store.searches, 1)
		assert.Equal(t, countSampleLimit, store.searches[0].Limit)
	})

	t.Run("count sampling can be disabled", func(t *testing.T) {
		store := &stubStore{count: 12}
		settings := retrievalSettings()
		settings.CountSampleEnabled = false
		stage := NewVectorSearch(store, settings, testLogger())
		state := workflow.NewState("how many sites are there?")
		state.Meta.Embedding = []float32{0.1}
		state.Meta.Aggregation = workflow.AggregationCount
		require.NoError(t, stage.Run(context.Background(), state))

		assert.Equal(t, 1, store.countCalls)
		assert.Empty(t, store.searches)
		assert.Nil(t, state.Meta.VectorDocuments)
	})

	t.Run("well-specific count skips the fast path", func(t *testing.T) {
		store := &stubStore{}
		stage := NewVectorSearch(store, retrievalSettings(), testLogger())
		state := workflow.NewState("how many curves does well 15/9-13 have?")
		state.Meta.Embedding = []float32{0.1}
		state.Meta.Aggregation = workflow.AggregationCount
		state.Meta.WellID = "15_9-13"
		require.NoError(t, stage.Run(context.Background(), state))

		assert.Zero(t, store.countCalls)
		require.Len(t, store.searches, 1)
	})

	t.Run("count failure still retrieves", func(t *testing.T) {
		store := &stubStore{countErr: errors.New("boom")}
		stage := NewVectorSearch(store, retrievalSettings(), testLogger())
		state := workflow.NewState("how many wells are there?")
		state.Meta.Embedding = []float32{0.1}
		state.Meta.Aggregation = workflow.AggregationCount
		require.NoError(t, stage.Run(context.Background(), state))

		assert.Nil(t, state.Meta.DirectCount)
		assert.NotEmpty(t, state.Meta.Errors)
		require.Len(t, store.searches, 1)
		assert.Equal(t, 1000, store.searches[0].Limit)
	})
}

func TestRerankStage(t *testing.T) {
	t.Run("keyword overlap promotes matching documents", func(t *testing.T) {
		state := workflow.NewState("gamma ray curve")
		state.Meta.TopK = 10
		state.Meta.VectorDocuments = []astra.Document{
			{"_id": "a", "semantic_text": "streamflow site in illinois"},
			{"_id": "b", "semantic_text": "gamma ray curve for a well"},
			{"_id": "c", "semantic_text": "net generation record"},
		}
		require.NoError(t, NewRerank(testLogger()).Run(context.Background(), state))

		require.Len(t, state.Meta.Documents, 3)
		assert.Equal(t, "b", state.Meta.Documents[0].ID())
		assert.True(t, state.Meta.Reranked)
		assert.Equal(t, weightsDefault, state.Meta.RerankWeights)
	})

	t.Run("high confidence shifts the weights", func(t *testing.T) {
		state := workflow.NewState("q")
		state.Meta.TopK = 5
		state.Meta.Relationship = &workflow.RelationshipDetection{Matched: true, Confidence: 0.9}
		state.Meta.VectorDocuments = []astra.Document{{"_id": "a"}}
		require.NoError(t, NewRerank(testLogger()).Run(context.Background(), state))
		assert.Equal(t, weightsHighConfidence, state.Meta.RerankWeights)
	})

	t.Run("truncates to top_k preserving tie order", func(t *testing.T) {
		state := workflow.NewState("zzz unrelated")
		state.Meta.TopK = 2
		state.Meta.VectorDocuments = []astra.Document{
			{"_id": "first"}, {"_id": "second"}, {"_id": "third"},
		}
		require.NoError(t, NewRerank(testLogger()).Run(context.Background(), state))

		require.Len(t, state.Meta.Documents, 2)
		assert.Equal(t, "first", state.Meta.Documents[0].ID())
		assert.Equal(t, "second", state.Meta.Documents[1].ID())
	})

	t.Run("empty input is a no-op", func(t *testing.T) {
		state := workflow.NewState("q")
		require.NoError(t, NewRerank(testLogger()).Run(context.Background(), state))
		assert.Nil(t, state.Meta.Documents)
		assert.False(t, state.Meta.Reranked)
	})
}

func TestFilterStage(t *testing.T) {
	docs := []astra.Document{
		curveDoc("force2020-well-15_9-13-curve-GR", "GR", "gAPI", "15_9-13"),
		curveDoc("force2020-well-16_10-1-curve-GR", "GR", "gAPI", "16_10-1"),
		curveDoc("force2020-well-15_9-13-curve-RDEP", "RDEP", "ohm.m", "15_9-13"),
	}

	t.Run("well filter keeps matching documents", func(t *testing.T) {
		state := workflow.NewState("what curves are available for well 15/9-13?")
		state.Meta.WellID = "15_9-13"
		state.Meta.Documents = docs
		require.NoError(t, NewFilter(15, testLogger()).Run(context.Background(), state))

		require.Len(t, state.Meta.Documents, 2)
		for _, d := range state.Meta.Documents {
			assert.Contains(t, d.ID(), "15_9-13")
		}
	})

	t.Run("keyword demand in and mode", func(t *testing.T) {
		state := workflow.NewState(`which curves contain the word "RDEP"?`)
		state.Meta.Documents = docs
		require.NoError(t, NewFilter(15, testLogger()).Run(context.Background(), state))

		require.Len(t, state.Meta.Documents, 1)
		assert.Equal(t, "force2020-well-15_9-13-curve-RDEP", state.Meta.Documents[0].ID())
	})

	t.Run("wipeout falls back to top reranked", func(t *testing.T) {
		state := workflow.NewState(`curves named QUARTZ`)
		state.Meta.Documents = docs
		require.NoError(t, NewFilter(15, testLogger()).Run(context.Background(), state))

		assert.True(t, state.Meta.FilterFallback)
		assert.Len(t, state.Meta.Documents, 3)
	})

	t.Run("truncates after filtering", func(t *testing.T) {
		many := make([]astra.Document, 20)
		for i := range many {
			many[i] = curveDoc(fmt.Sprintf("force2020-well-15_9-13-curve-%02d", i), "GR", "gAPI", "15_9-13")
		}
		state := workflow.NewState("curves for well 15/9-13")
		state.Meta.WellID = "15_9-13"
		state.Meta.Documents = many
		require.NoError(t, NewFilter(15, testLogger()).Run(context.Background(), state))
		assert.Len(t, state.Meta.Documents, 15)
	})

	t.Run("nothing demanded is a no-op", func(t *testing.T) {
		many := make([]astra.Document, 20)
		for i := range many {
			many[i] = curveDoc(fmt.Sprintf("c%02d", i), "GR", "gAPI", "15_9-13")
		}
		state := workflow.NewState("define porosity")
		state.Meta.Documents = many
		require.NoError(t, NewFilter(15, testLogger()).Run(context.Background(), state))
		assert.Len(t, state.Meta.Documents, 20)
	})
}

func TestStateFinalizeStage(t *testing.T) {
	state := workflow.NewState("q")
	state.Meta.Documents = []astra.Document{
		curveDoc("c1", "GR", "gAPI", "15_9-13"),
		{"_id": "w1", "entity_type": "las_document", "text": "well document"},
	}
	require.NoError(t, NewStateFinalize(testLogger()).Run(context.Background(), state))

	require.Len(t, state.Retrieved, 2)
	assert.Contains(t, state.Retrieved[0], "Curve GR")
	assert.Equal(t, "well document", state.Retrieved[1])
	assert.Equal(t, []string{"c1", "w1"}, state.Meta.RetrievedIDs)
	assert.Equal(t, []string{"las_curve", "las_document"}, state.Meta.RetrievedTypes)
	assert.Equal(t, 2, state.Meta.NumResults)
}

func expansionGraph(t *testing.T) *graph.Traverser {
	t.Helper()
	nodes := []*graph.Node{
		{ID: "force2020-well-15_9-13", Type: graph.NodeLASDocument,
			Attributes: graph.Attributes{"well_name": graph.String("15/9-13")}},
		{ID: "force2020-well-15_9-13-curve-DEPT", Type: graph.NodeLASCurve,
			Attributes: graph.Attributes{"mnemonic": graph.String("DEPT"), "unit": graph.String("m")}},
		{ID: "force2020-well-15_9-13-curve-GR", Type: graph.NodeLASCurve,
			Attributes: graph.Attributes{"mnemonic": graph.String("GR"), "unit": graph.String("gAPI")}},
		{ID: "force2020-well-15_9-13-curve-RDEP", Type: graph.NodeLASCurve,
			Attributes: graph.Attributes{"mnemonic": graph.String("RDEP"), "unit": graph.String("ohm.m")}},
	}
	edges := []*graph.Edge{
		{Source: "force2020-well-15_9-13-curve-DEPT", Target: "force2020-well-15_9-13", Type: graph.EdgeDescribes},
		{Source: "force2020-well-15_9-13-curve-GR", Target: "force2020-well-15_9-13", Type: graph.EdgeDescribes},
		{Source: "force2020-well-15_9-13-curve-RDEP", Target: "force2020-well-15_9-13", Type: graph.EdgeDescribes},
	}
	g, err := graph.Build(nodes, edges)
	require.NoError(t, err)
	return graph.NewTraverser(g, testLogger())
}

func TestGraphExpansionStage(t *testing.T) {
	t.Run("well-seeded expansion pulls curves", func(t *testing.T) {
		store := &stubStore{fetch: map[string]astra.Document{
			"force2020-well-15_9-13": {"_id": "force2020-well-15_9-13", "entity_type": "las_document", "text": "well 15/9-13"},
			"force2020-well-15_9-13-curve-DEPT": curveDoc("force2020-well-15_9-13-curve-DEPT", "DEPT", "m", "15_9-13"),
		}}
		stage := NewGraphExpansion(expansionGraph(t), store, testLogger())

		state := workflow.NewState("what curves are available for well 15/9-13?")
		state.Meta.Embedding = []float32{0.5}
		state.Meta.WellID = "15_9-13"
		state.Meta.Relationship = &workflow.RelationshipDetection{
			Type: workflow.RelWellToCurves, Matched: true, Confidence: 1.0,
		}
		state.Meta.Traversal = &workflow.TraversalStrategy{
			Apply: true, MaxHops: 2, Direction: graph.DirectionIncoming, EdgeType: graph.EdgeDescribes,
		}
		state.Meta.Documents = []astra.Document{
			curveDoc("force2020-well-15_9-13-curve-GR", "GR", "gAPI", "15_9-13"),
		}
		state.Retrieved = []string{"Curve GR"}

		require.NoError(t, stage.Run(context.Background(), state))

		meta := state.Meta
		assert.True(t, meta.TraversalApplied)
		assert.Equal(t, 4, meta.NumAfterTraversal)
		assert.Equal(t, 4.0, meta.ExpansionRatio)
		assert.Len(t, state.Retrieved, 4)

		// Unfetchable node falls back to a synthesized document.
		synth := meta.Documents[3]
		assert.Equal(t, "force2020-well-15_9-13-curve-RDEP", synth.ID())
		assert.Contains(t, synth.Text(), "las_curve")
		assert.Contains(t, synth.Text(), "mnemonic: RDEP")

		// Fetch happened once, similarity-ordered by the query vector.
		require.Len(t, store.fetchIDs, 1)
		assert.Contains(t, store.fetchIDs[0], "force2020-well-15_9-13-curve-DEPT")
	})

	t.Run("curve seeds upgrade to both directions", func(t *testing.T) {
		store := &stubStore{fetch: map[string]astra.Document{}}
		stage := NewGraphExpansion(expansionGraph(t), store, testLogger())

		state := workflow.NewState("which curves accompany this one?")
		state.Meta.Relationship = &workflow.RelationshipDetection{
			Type: workflow.RelWellToCurves, Matched: true, Confidence: 0.7,
		}
		state.Meta.Traversal = &workflow.TraversalStrategy{
			Apply: true, MaxHops: 2, Direction: graph.DirectionIncoming,
		}
		state.Meta.Documents = []astra.Document{
			curveDoc("force2020-well-15_9-13-curve-GR", "GR", "gAPI", "15_9-13"),
		}

		require.NoError(t, stage.Run(context.Background(), state))
		// GR -> well -> DEPT, RDEP despite the incoming plan.
		assert.Equal(t, 4, state.Meta.NumAfterTraversal)
	})

	t.Run("below threshold skips", func(t *testing.T) {
		store := &stubStore{}
		stage := NewGraphExpansion(expansionGraph(t), store, testLogger())
		state := workflow.NewState("define porosity")
		state.Meta.Traversal = &workflow.TraversalStrategy{}
		require.NoError(t, stage.Run(context.Background(), state))

		assert.False(t, state.Meta.TraversalApplied)
		assert.Empty(t, store.fetchIDs)
	})

	t.Run("caller max hops overrides the plan", func(t *testing.T) {
		store := &stubStore{fetch: map[string]astra.Document{}}
		stage := NewGraphExpansion(expansionGraph(t), store, testLogger())
		state := workflow.NewState("what curves are available for well 15/9-13?")
		state.Meta.WellID = "15_9-13"
		state.Meta.Overrides.MaxHops = 0 // zero means no override
		state.Meta.Relationship = &workflow.RelationshipDetection{
			Type: workflow.RelWellToCurves, Matched: true, Confidence: 1.0,
		}
		state.Meta.Traversal = &workflow.TraversalStrategy{
			Apply: true, MaxHops: 2, Direction: graph.DirectionIncoming,
		}
		require.NoError(t, stage.Run(context.Background(), state))
		assert.Equal(t, 4, state.Meta.NumAfterTraversal)
	})
}

type recordingStage struct {
	name string
	err  error
	ran  *[]string
}

func (s *recordingStage) Name() string { return s.name }

func (s *recordingStage) Run(ctx context.Context, state *workflow.State) error {
	*s.ran = append(*s.ran, s.name)
	return s.err
}

func TestPipelineRun(t *testing.T) {
	t.Run("stage errors are recorded and later stages run", func(t *testing.T) {
		var ran []string
		p := New(testLogger(),
			&recordingStage{name: "first", ran: &ran},
			&recordingStage{name: "second", err: errors.New("boom"), ran: &ran},
			&recordingStage{name: "third", ran: &ran},
		)
		state := workflow.NewState("q")
		require.NoError(t, p.Run(context.Background(), state))

		assert.Equal(t, []string{"first", "second", "third"}, ran)
		require.Len(t, state.Meta.Errors, 1)
		assert.Contains(t, state.Meta.Errors[0], "second")
		assert.Contains(t, state.Meta.Errors[0], "boom")
	})

	t.Run("observer sees every stage", func(t *testing.T) {
		var ran []string
		var observed []string
		p := New(testLogger(),
			&recordingStage{name: "a", ran: &ran},
			&recordingStage{name: "b", err: errors.New("x"), ran: &ran},
		)
		p.SetObserver(func(stage string, d time.Duration, failed bool) {
			suffix := "ok"
			if failed {
				suffix = "failed"
			}
			observed = append(observed, stage+":"+suffix)
		})
		require.NoError(t, p.Run(context.Background(), workflow.NewState("q")))
		assert.Equal(t, []string{"a:ok", "b:failed"}, observed)
	})

	t.Run("cancellation aborts", func(t *testing.T) {
		var ran []string
		p := New(testLogger(), &recordingStage{name: "never", ran: &ran})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		state := workflow.NewState("q")
		err := p.Run(ctx, state)
		require.Error(t, err)
		assert.Empty(t, ran)
		require.NotEmpty(t, state.Meta.Errors)
		assert.Contains(t, strings.Join(state.Meta.Errors, " "), "aborted")
	})
}
