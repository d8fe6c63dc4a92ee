package reason

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.strata.query/internal/astra"
	"dev.strata.query/internal/workflow"
)

func siteDoc(id, name, state, county string) astra.Document {
	return astra.Document{
		"_id":         id,
		"entity_type": "usgs_site",
		"site_name":   name,
		"state":       state,
		"county":      county,
		"text":        fmt.Sprintf("USGS site %s. LOCATION: %s, %s", id, name, state),
	}
}

func TestStructuredExtractionCanHandle(t *testing.T) {
	strategy := NewStructuredExtraction(testTraverser(t), testLogger())

	t.Run("defers aggregate questions", func(t *testing.T) {
		state := workflow.NewState("Which state has the most USGS sites?")
		state.Meta.Aggregation = workflow.AggregationComparison
		state.Meta.Documents = []astra.Document{siteDoc("05428500", "Madison", "WI", "Dane")}
		assert.False(t, strategy.CanHandle(state))
	})

	t.Run("accepts unit questions without documents", func(t *testing.T) {
		state := workflow.NewState("Which curves have units of ohm.m?")
		assert.True(t, strategy.CanHandle(state))
	})

	t.Run("declines with no matching intent", func(t *testing.T) {
		state := workflow.NewState("Tell me about the subsurface")
		assert.False(t, strategy.CanHandle(state))
	})
}

func TestUnitMnemonicExtraction(t *testing.T) {
	strategy := NewStructuredExtraction(testTraverser(t), testLogger())

	t.Run("corpus-wide scan", func(t *testing.T) {
		state := workflow.NewState("Which curves have units of ohm.m?")
		require.NoError(t, strategy.Execute(context.Background(), state))

		assert.Equal(t, "RDEP, RMED", state.Response)
		assert.True(t, state.HasRetrieved())
	})

	t.Run("scoped to the detected well", func(t *testing.T) {
		state := workflow.NewState("Which curves have units of ohm.m?")
		state.Meta.WellID = "16_10-1"
		require.NoError(t, strategy.Execute(context.Background(), state))

		assert.Equal(t, "No curves with units of ohm.m were found.", state.Response)
	})

	t.Run("gAPI scan matches case-insensitively", func(t *testing.T) {
		state := workflow.NewState("Which curves have units of gapi?")
		require.NoError(t, strategy.Execute(context.Background(), state))

		assert.Equal(t, "GR", state.Response)
	})
}

func TestTemporalExtraction(t *testing.T) {
	strategy := NewStructuredExtraction(testTraverser(t), testLogger())

	docs := []astra.Document{
		{"_id": "eia-1", "entity_type": "eia_record", "year": "2010", "text": "Net generation in 2010"},
		{"_id": "eia-2", "entity_type": "eia_record", "year": "2014", "text": "Net generation in 2014"},
		{"_id": "eia-3", "entity_type": "eia_record", "text": "YEAR: 2012. Net generation records."},
	}

	t.Run("reports the covered span", func(t *testing.T) {
		state := workflow.NewState("What years does the data cover?")
		state.Meta.Documents = docs
		require.NoError(t, strategy.Execute(context.Background(), state))

		assert.Equal(t, "The data covers 2010 to 2014.", state.Response)
	})

	t.Run("latest year", func(t *testing.T) {
		state := workflow.NewState("What is the latest year in the data?")
		state.Meta.Documents = docs
		require.NoError(t, strategy.Execute(context.Background(), state))

		assert.Equal(t, "2014", state.Response)
	})

	t.Run("single year", func(t *testing.T) {
		state := workflow.NewState("What year is this record from?")
		state.Meta.Documents = docs[:1]
		require.NoError(t, strategy.Execute(context.Background(), state))

		assert.Equal(t, "The data is from 2010.", state.Response)
	})
}

func TestStateAndLocationExtraction(t *testing.T) {
	strategy := NewStructuredExtraction(testTraverser(t), testLogger())

	t.Run("state attribute normalized and majority wins", func(t *testing.T) {
		state := workflow.NewState("Which state are these sites in?")
		state.Meta.Documents = []astra.Document{
			siteDoc("1", "Madison", "WI", "Dane"),
			siteDoc("2", "Decatur", "IL", "Macon"),
			siteDoc("3", "Peoria", "IL", "Peoria"),
		}
		require.NoError(t, strategy.Execute(context.Background(), state))

		assert.Equal(t, "IL (Illinois)", state.Response)
	})

	t.Run("state parsed from the location line", func(t *testing.T) {
		state := workflow.NewState("What state is this site in?")
		state.Meta.Documents = []astra.Document{
			{"_id": "x", "entity_type": "usgs_site", "text": "Gaging station. LOCATION: Madison, Wisconsin"},
		}
		require.NoError(t, strategy.Execute(context.Background(), state))

		assert.Equal(t, "WI (Wisconsin)", state.Response)
	})

	t.Run("where-is answers city and state", func(t *testing.T) {
		state := workflow.NewState("Where is site 05428500 located?")
		state.Meta.Documents = []astra.Document{
			{"_id": "05428500", "entity_type": "usgs_site", "city": "Madison", "state": "WI", "text": "site"},
		}
		require.NoError(t, strategy.Execute(context.Background(), state))

		assert.Equal(t, "Madison, WI (Wisconsin)", state.Response)
	})
}

func TestWellNameAndMnemonicExtraction(t *testing.T) {
	strategy := NewStructuredExtraction(testTraverser(t), testLogger())

	t.Run("well name from the graph", func(t *testing.T) {
		state := workflow.NewState("What is the name of the well?")
		state.Meta.WellID = "15_9-13"
		require.NoError(t, strategy.Execute(context.Background(), state))

		assert.Equal(t, "Well 15_9-13 is named 15/9-13.", state.Response)
	})

	t.Run("mnemonics with descriptions from documents", func(t *testing.T) {
		state := workflow.NewState("What mnemonics do these curves have?")
		state.Meta.Documents = []astra.Document{
			{"_id": "c1", "entity_type": "las_curve", "mnemonic": "GR", "description": "Gamma Ray"},
			{"_id": "c2", "entity_type": "las_curve", "mnemonic": "NPHI", "description": "Neutron Porosity"},
			{"_id": "c3", "entity_type": "las_curve", "mnemonic": "DEPT"},
		}
		require.NoError(t, strategy.Execute(context.Background(), state))

		assert.Equal(t, "GR (Gamma Ray), NPHI (Neutron Porosity), DEPT", state.Response)
	})
}

func TestGenericExtraction(t *testing.T) {
	strategy := NewStructuredExtraction(testTraverser(t), testLogger())

	t.Run("single value", func(t *testing.T) {
		state := workflow.NewState("Which county is this site in?")
		state.Meta.Documents = []astra.Document{siteDoc("1", "Madison", "WI", "Dane")}
		require.NoError(t, strategy.Execute(context.Background(), state))

		assert.Equal(t, "The county is Dane.", state.Response)
	})

	t.Run("short list joined", func(t *testing.T) {
		state := workflow.NewState("Which county are these sites in?")
		state.Meta.Documents = []astra.Document{
			siteDoc("1", "Madison", "WI", "Dane"),
			siteDoc("2", "Decatur", "IL", "Macon"),
		}
		require.NoError(t, strategy.Execute(context.Background(), state))

		assert.Equal(t, "Dane, Macon", state.Response)
	})

	t.Run("long list is summarized", func(t *testing.T) {
		state := workflow.NewState("Which county are these sites in?")
		for i := 0; i < 7; i++ {
			state.Meta.Documents = append(state.Meta.Documents,
				siteDoc(fmt.Sprintf("site-%d", i), "Name", "WI", fmt.Sprintf("County%d", i)))
		}
		require.NoError(t, strategy.Execute(context.Background(), state))

		assert.Contains(t, state.Response, "7 different values found:")
		assert.Contains(t, state.Response, "County0")
	})

	t.Run("declines when nothing extracts", func(t *testing.T) {
		state := workflow.NewState("Which county is this site in?")
		state.Meta.Documents = []astra.Document{
			{"_id": "x", "entity_type": "usgs_site", "text": "no county attribute here"},
		}
		err := strategy.Execute(context.Background(), state)
		assert.ErrorIs(t, err, ErrNotHandled)
	})
}
