package reason

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.strata.query/internal/workflow"
)

func TestScopeCheckerStatic(t *testing.T) {
	checker := NewScopeChecker(nil, testLogger())

	tests := []struct {
		name     string
		query    string
		inScope  bool
		category string
	}{
		{"weather question", "What is the weather today?", false, "weather"},
		{"sports question", "Who won the super bowl?", false, "sports"},
		{"well question", "How many wells are there?", true, ""},
		{"curve question", "What curves are available for well 15/9-13?", true, ""},
		{"mixed signals stay in scope", "What is the water temperature forecast?", true, "weather"},
		{"neutral question", "Tell me something interesting", true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := checker.Static(tt.query)
			assert.Equal(t, tt.inScope, result.InScope)
			if !tt.inScope {
				assert.Equal(t, tt.category, result.Category)
				assert.Greater(t, result.Confidence, outOfScopeThreshold)
			}
		})
	}
}

func TestScopeCheckerConfirm(t *testing.T) {
	t.Run("generator overrules a false positive", func(t *testing.T) {
		gen := &fakeGenerator{text: "Yes, it is about well data."}
		checker := NewScopeChecker(gen, testLogger())

		static := ScopeResult{InScope: false, Category: "weather", Confidence: 0.75}
		result := checker.Confirm(context.Background(), "Does rain affect streamflow gages?", static)

		assert.True(t, result.InScope)
		require.Len(t, gen.prompts, 1)
		assert.Contains(t, gen.prompts[0], "streamflow gages")
	})

	t.Run("generation failure keeps the static verdict", func(t *testing.T) {
		gen := &fakeGenerator{err: errors.New("model offline")}
		checker := NewScopeChecker(gen, testLogger())

		static := ScopeResult{InScope: false, Category: "weather", Confidence: 0.75}
		result := checker.Confirm(context.Background(), "What is the weather today?", static)

		assert.False(t, result.InScope)
		assert.Equal(t, "weather", result.Category)
	})
}

func TestOutOfScopeStrategy(t *testing.T) {
	t.Run("defuses a weather question", func(t *testing.T) {
		strategy := NewOutOfScope(NewScopeChecker(nil, testLogger()), testLogger())

		state := workflow.NewState("What is the weather today?")
		require.True(t, strategy.CanHandle(state))
		require.NoError(t, strategy.Execute(context.Background(), state))

		assert.True(t, strings.HasPrefix(state.Response, "This question appears to be about weather"))
		assert.True(t, state.HasRetrieved())
	})

	t.Run("stands aside for domain questions", func(t *testing.T) {
		strategy := NewOutOfScope(NewScopeChecker(nil, testLogger()), testLogger())

		state := workflow.NewState("Which curves have units of ohm.m?")
		assert.False(t, strategy.CanHandle(state))
	})

	t.Run("generator can rescue a borderline query", func(t *testing.T) {
		gen := &fakeGenerator{text: "yes"}
		strategy := NewOutOfScope(NewScopeChecker(gen, testLogger()), testLogger())

		state := workflow.NewState("What is the weather today?")
		require.True(t, strategy.CanHandle(state))
		err := strategy.Execute(context.Background(), state)

		assert.ErrorIs(t, err, ErrNotHandled)
		assert.Empty(t, state.Response)
	})
}
