package reason

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.strata.query/internal/astra"
	"dev.strata.query/internal/config"
	"dev.strata.query/internal/workflow"
)

type fakeAggStore struct {
	docs    []astra.Document
	err     error
	filters []map[string]any
	maxes   []int
}

func (s *fakeAggStore) FindDocuments(ctx context.Context, filter map[string]any, maxDocuments int) ([]astra.Document, error) {
	s.filters = append(s.filters, filter)
	s.maxes = append(s.maxes, maxDocuments)
	if s.err != nil {
		return nil, s.err
	}
	return s.docs, nil
}

func aggRetrieval() config.RetrievalSettings {
	return config.RetrievalSettings{
		QueryMaxLength:     500,
		DefaultLimit:       100,
		AggregationLimit:   1000,
		AggregationMaxDocs: 5000,
	}
}

func newAggregation(t *testing.T, store AggregationStore, gen Generator) *Aggregation {
	t.Helper()
	return NewAggregation(store, gen, testTraverser(t), aggRetrieval(), 400, testLogger())
}

func eiaDoc(id string, year string, fuel string, generation float64) astra.Document {
	return astra.Document{
		"_id":            id,
		"entity_type":    "eia_record",
		"year":           year,
		"fuel_type":      fuel,
		"net_generation": generation,
		"text":           fmt.Sprintf("EIA record %s for %s", id, year),
	}
}

func TestAggregationCanHandle(t *testing.T) {
	strategy := newAggregation(t, nil, nil)

	t.Run("needs an aggregation type and data", func(t *testing.T) {
		state := workflow.NewState("What is porosity?")
		assert.False(t, strategy.CanHandle(state))

		state.Meta.Aggregation = workflow.AggregationCount
		assert.False(t, strategy.CanHandle(state))

		n := 5
		state.Meta.DirectCount = &n
		assert.True(t, strategy.CanHandle(state))
	})

	t.Run("curves-per-well questions need only the graph", func(t *testing.T) {
		state := workflow.NewState("Which well has the most curves?")
		assert.True(t, strategy.CanHandle(state))
	})
}

func TestCountAggregation(t *testing.T) {
	strategy := newAggregation(t, nil, nil)

	t.Run("uses the direct count with a labeled entity", func(t *testing.T) {
		state := workflow.NewState("How many USGS sites are there?")
		state.Meta.Aggregation = workflow.AggregationCount
		state.Meta.Filter = map[string]any{"entity_type": "usgs_site"}
		n := 42
		state.Meta.DirectCount = &n
		state.Meta.VectorDocuments = []astra.Document{siteDoc("1", "Madison", "WI", "Dane")}

		require.NoError(t, strategy.Execute(context.Background(), state))
		assert.Equal(t, "There are 42 USGS sites.", state.Response)
	})

	t.Run("singular phrasing for one", func(t *testing.T) {
		state := workflow.NewState("How many wells are there?")
		state.Meta.Aggregation = workflow.AggregationCount
		state.Meta.Filter = map[string]any{"entity_type": "las_document"}
		n := 1
		state.Meta.DirectCount = &n

		require.NoError(t, strategy.Execute(context.Background(), state))
		assert.Equal(t, "There is 1 well.", state.Response)
	})

	t.Run("state names in the query narrow the count", func(t *testing.T) {
		state := workflow.NewState("How many sites are in Illinois?")
		state.Meta.Aggregation = workflow.AggregationCount
		state.Meta.VectorDocuments = []astra.Document{
			siteDoc("1", "Madison", "WI", "Dane"),
			siteDoc("2", "Decatur", "IL", "Macon"),
			siteDoc("3", "Peoria", "IL", "Peoria"),
		}

		require.NoError(t, strategy.Execute(context.Background(), state))
		assert.Equal(t, "There are 2 USGS sites.", state.Response)
	})
}

func TestComparisonAggregation(t *testing.T) {
	strategy := newAggregation(t, nil, nil)

	state := workflow.NewState("Which state has the most USGS sites?")
	state.Meta.Aggregation = workflow.AggregationComparison
	state.Meta.Filter = map[string]any{"entity_type": "usgs_site"}
	state.Meta.VectorDocuments = []astra.Document{
		siteDoc("1", "Decatur", "IL", "Macon"),
		siteDoc("2", "Peoria", "IL", "Peoria"),
		siteDoc("3", "Springfield", "IL", "Sangamon"),
		siteDoc("4", "Madison", "WI", "Dane"),
	}

	require.NoError(t, strategy.Execute(context.Background(), state))
	assert.Equal(t, "IL (Illinois) has the most USGS sites (3).", state.Response)
}

func TestRangeAggregation(t *testing.T) {
	strategy := newAggregation(t, nil, nil)

	state := workflow.NewState("How many years does the data cover?")
	state.Meta.Aggregation = workflow.AggregationRange
	state.Meta.VectorDocuments = []astra.Document{
		eiaDoc("1", "2010", "coal", 1200),
		eiaDoc("2", "2012", "natural gas", 3000),
		eiaDoc("3", "2014", "wind", 400),
	}

	require.NoError(t, strategy.Execute(context.Background(), state))
	assert.Equal(t, "The data spans 5 years, from 2010 to 2014.", state.Response)
}

func TestSumAggregation(t *testing.T) {
	strategy := newAggregation(t, nil, nil)

	state := workflow.NewState("What is the total generation across these plants?")
	state.Meta.Aggregation = workflow.AggregationSum
	state.Meta.VectorDocuments = []astra.Document{
		eiaDoc("1", "2010", "coal", 1200),
		eiaDoc("2", "2012", "natural gas", 3000),
		eiaDoc("3", "2014", "wind", 400),
	}

	require.NoError(t, strategy.Execute(context.Background(), state))
	assert.Equal(t, "The total net_generation across 3 records is 4600.", state.Response)
}

func TestListAggregation(t *testing.T) {
	t.Run("generator phrases the computed values", func(t *testing.T) {
		gen := &fakeGenerator{text: "The plants burn coal, natural gas and wind."}
		strategy := newAggregation(t, nil, gen)

		state := workflow.NewState("What fuel types are used?")
		state.Meta.Aggregation = workflow.AggregationDistinct
		state.Meta.VectorDocuments = []astra.Document{
			eiaDoc("1", "2010", "coal", 1200),
			eiaDoc("2", "2012", "natural gas", 3000),
			eiaDoc("3", "2014", "wind", 400),
		}

		require.NoError(t, strategy.Execute(context.Background(), state))

		assert.Equal(t, "The plants burn coal, natural gas and wind.", state.Response)
		assert.Equal(t, "ibm/granite-3-8b-instruct", state.Meta.GenModel)
		require.Len(t, gen.prompts, 1)
		assert.Contains(t, gen.prompts[0], "What fuel types are used?")
		assert.Contains(t, gen.prompts[0], "coal, natural gas, wind")
		assert.Equal(t, 400, gen.maxToks[0])
	})

	t.Run("generation failure falls back to the computed sentence", func(t *testing.T) {
		gen := &fakeGenerator{err: errors.New("model offline")}
		strategy := newAggregation(t, nil, gen)

		state := workflow.NewState("What fuel types are used?")
		state.Meta.Aggregation = workflow.AggregationList
		state.Meta.VectorDocuments = []astra.Document{
			eiaDoc("1", "2010", "coal", 1200),
			eiaDoc("2", "2012", "natural gas", 3000),
		}

		require.NoError(t, strategy.Execute(context.Background(), state))

		assert.Equal(t, "2 distinct fuel_type values: coal, natural gas.", state.Response)
		require.NotEmpty(t, state.Meta.Errors)
		assert.Contains(t, state.Meta.Errors[0], "model offline")
	})
}

func TestCurvesPerWellAggregation(t *testing.T) {
	strategy := newAggregation(t, nil, nil)

	state := workflow.NewState("Which well has the most curves?")
	require.True(t, strategy.CanHandle(state))
	require.NoError(t, strategy.Execute(context.Background(), state))

	assert.Equal(t,
		"Well 15_9-13 has the most curves (6). Across 2 wells, counts range from 2 to 6 with an average of 4.0.",
		state.Response)
	assert.True(t, state.HasRetrieved())
}

func TestCompleteSliceRefetch(t *testing.T) {
	store := &fakeAggStore{docs: []astra.Document{
		eiaDoc("1", "2010", "coal", 1),
		eiaDoc("2", "2011", "coal", 1),
		eiaDoc("3", "2012", "coal", 1),
		eiaDoc("4", "2013", "coal", 1),
		eiaDoc("5", "2014", "coal", 1),
	}}
	strategy := newAggregation(t, store, nil)

	state := workflow.NewState("List all years in the data")
	state.Meta.Aggregation = workflow.AggregationList
	state.Meta.Filter = map[string]any{"entity_type": "eia_record"}
	state.Meta.InitialLimit = 3
	state.Meta.VectorDocuments = []astra.Document{
		eiaDoc("1", "2010", "coal", 1),
		eiaDoc("2", "2011", "coal", 1),
		eiaDoc("3", "2012", "coal", 1),
	}

	require.NoError(t, strategy.Execute(context.Background(), state))

	require.Len(t, store.maxes, 1)
	assert.Equal(t, 5000, store.maxes[0])
	assert.Equal(t, map[string]any{"entity_type": "eia_record"}, store.filters[0])
	assert.Equal(t, "5 distinct year values: 2010, 2011, 2012, 2013, 2014.", state.Response)
}
