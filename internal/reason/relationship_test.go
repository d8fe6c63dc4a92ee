package reason

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.strata.query/internal/workflow"
)

// wellState builds a state with a matched well_to_curves detection, the
// shape the analyzer leaves behind for relationship questions.
func wellState(query, wellID string) *workflow.State {
	state := workflow.NewState(query)
	state.Meta.WellID = wellID
	state.Meta.Relationship = &workflow.RelationshipDetection{
		Type:       workflow.RelWellToCurves,
		Matched:    true,
		Confidence: 1.0,
		WellIDs:    []string{wellID},
	}
	return state
}

func TestRelationshipQueryCanHandle(t *testing.T) {
	strategy := NewRelationshipQuery(testTraverser(t), testLogger())

	t.Run("requires a matched detection", func(t *testing.T) {
		state := workflow.NewState("what curves are available for well 15/9-13?")
		assert.False(t, strategy.CanHandle(state))
	})

	t.Run("well-centric families need a well id", func(t *testing.T) {
		state := workflow.NewState("what curves are available?")
		state.Meta.Relationship = &workflow.RelationshipDetection{Type: workflow.RelWellToCurves, Matched: true}
		assert.False(t, strategy.CanHandle(state))
	})

	t.Run("curve-to-well needs a mnemonic", func(t *testing.T) {
		state := workflow.NewState("which wells have GR?")
		state.Meta.Relationship = &workflow.RelationshipDetection{
			Type: workflow.RelCurveToWell, Matched: true, Mnemonics: []string{"GR"},
		}
		assert.True(t, strategy.CanHandle(state))
	})
}

func TestRelationshipHandlers(t *testing.T) {
	strategy := NewRelationshipQuery(testTraverser(t), testLogger())

	run := func(t *testing.T, query string) *workflow.State {
		t.Helper()
		state := wellState(query, "15_9-13")
		require.True(t, strategy.CanHandle(state))
		require.NoError(t, strategy.Execute(context.Background(), state))
		require.True(t, state.HasRetrieved())
		return state
	}

	t.Run("curve listing uses canonical order", func(t *testing.T) {
		state := run(t, "What curves are available for well 15/9-13?")
		assert.Equal(t, "6 curves including: DEPT, GR, NPHI, RDEP, RMED and others.", state.Response)
	})

	t.Run("short inventories are listed in full", func(t *testing.T) {
		state := wellState("What curves are available for well 16/10-1?", "16_10-1")
		require.NoError(t, strategy.Execute(context.Background(), state))
		assert.Equal(t, "2 curves: DEPT, GR.", state.Response)
	})

	t.Run("depth curves", func(t *testing.T) {
		state := run(t, "Does well 15/9-13 have a depth curve?")
		assert.Contains(t, state.Response, "1 depth curve")
		assert.Contains(t, state.Response, "DEPT")
	})

	t.Run("porosity curves", func(t *testing.T) {
		state := run(t, "Which porosity curves does well 15/9-13 carry?")
		assert.Contains(t, state.Response, "NPHI")
		assert.Contains(t, state.Response, "neutron porosity")
	})

	t.Run("resistivity share", func(t *testing.T) {
		state := run(t, "What percentage of the curves for well 15/9-13 are resistivity?")
		assert.Contains(t, state.Response, "33%")
		assert.Contains(t, state.Response, "RDEP, RMED")
	})

	t.Run("unit filter scoped to the well", func(t *testing.T) {
		state := run(t, "Which curves for well 15/9-13 have units of ohm.m?")
		assert.Equal(t, "Curves with units of ohm.m for well 15_9-13: RDEP, RMED.", state.Response)
	})

	t.Run("unit filter with no matches still answers", func(t *testing.T) {
		state := run(t, "Which curves for well 15/9-13 have units of us/ft?")
		assert.Contains(t, state.Response, "No curves with units of us/ft")
	})

	t.Run("triple combo exclusion", func(t *testing.T) {
		state := run(t, "What does well 15/9-13 record beyond the triple combo?")
		assert.Contains(t, state.Response, "FORCE_2020_LITHOFACIES_LITHOLOGY")
	})

	t.Run("underscore count", func(t *testing.T) {
		state := run(t, "How many mnemonics of well 15/9-13 contain an underscore?")
		assert.Contains(t, state.Response, "1 of the 6 curve mnemonics")
		assert.Contains(t, state.Response, "FORCE_2020_LITHOFACIES_LITHOLOGY")
	})

	t.Run("log suite classification", func(t *testing.T) {
		state := run(t, "What log suite does well 15/9-13 carry?")
		assert.Contains(t, state.Response, "extended logging suite")
		assert.Contains(t, state.Response, "gamma ray (GR)")
	})

	t.Run("hydrocarbon guidance", func(t *testing.T) {
		state := run(t, "How would I identify hydrocarbons in well 15/9-13?")
		assert.Contains(t, state.Response, "RDEP, RMED")
		assert.Contains(t, state.Response, "NPHI")
	})

	t.Run("petrophysical evaluation", func(t *testing.T) {
		state := run(t, "Can I run a petrophysical evaluation on well 15/9-13?")
		assert.Contains(t, state.Response, "shale volume from gamma ray (GR)")
		assert.Contains(t, state.Response, "water saturation from resistivity")
	})

	t.Run("capability matrix names the missing pieces", func(t *testing.T) {
		state := run(t, "What analyses are possible and impossible for well 15/9-13?")
		assert.Contains(t, state.Response, "Possible for well 15_9-13")
		assert.Contains(t, state.Response, "Not possible")
		assert.Contains(t, state.Response, "velocity modeling")
	})

	t.Run("geological setting without attributes", func(t *testing.T) {
		state := run(t, "What is the geological setting of well 15/9-13?")
		assert.Contains(t, state.Response, "no basin or field attributes")
	})

	t.Run("lithology group", func(t *testing.T) {
		state := run(t, "Does well 15/9-13 include lithology curves?")
		assert.Contains(t, state.Response, "FORCE_2020_LITHOFACIES_LITHOLOGY")
	})

	t.Run("gamma ray coverage", func(t *testing.T) {
		state := run(t, "Does well 15/9-13 have gamma ray coverage?")
		assert.Equal(t, "Well 15_9-13 has gamma ray coverage: GR (gAPI).", state.Response)
	})

	t.Run("mnemonic meaning", func(t *testing.T) {
		state := run(t, "What does GR stand for in well 15/9-13?")
		assert.Equal(t, "GR: Gamma Ray (gAPI).", state.Response)
	})

	t.Run("unknown well", func(t *testing.T) {
		state := wellState("What curves are available for well 99/1-1?", "99_1-1")
		require.NoError(t, strategy.Execute(context.Background(), state))
		assert.Contains(t, state.Response, "Well 99_1-1 was not found")
	})
}

func TestWellsWithMnemonic(t *testing.T) {
	strategy := NewRelationshipQuery(testTraverser(t), testLogger())

	t.Run("lists wells carrying the mnemonic", func(t *testing.T) {
		state := workflow.NewState("Which wells have GR?")
		state.Meta.Relationship = &workflow.RelationshipDetection{
			Type: workflow.RelCurveToWell, Matched: true, Confidence: 0.9, Mnemonics: []string{"GR"},
		}
		require.True(t, strategy.CanHandle(state))
		require.NoError(t, strategy.Execute(context.Background(), state))

		assert.Equal(t, "2 wells carry GR: 15_9-13, 16_10-1.", state.Response)
	})

	t.Run("absent mnemonic", func(t *testing.T) {
		state := workflow.NewState("Which wells have DTCO?")
		state.Meta.Relationship = &workflow.RelationshipDetection{
			Type: workflow.RelCurveToWell, Matched: true, Confidence: 0.9, Mnemonics: []string{"DTCO"},
		}
		require.NoError(t, strategy.Execute(context.Background(), state))
		assert.Equal(t, "No wells in the graph carry the DTCO curve.", state.Response)
	})
}
