package validate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.strata.query/internal/workflow"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

// scriptedRunner answers from a fixed query → (strategy, response) table.
type scriptedRunner struct {
	answers map[string][2]string
	err     error
	queries []string
}

func (r *scriptedRunner) RunQuery(_ context.Context, query string, _ workflow.Overrides) (*workflow.State, error) {
	r.queries = append(r.queries, query)
	if r.err != nil {
		return nil, r.err
	}
	state := workflow.NewState(query)
	if answer, ok := r.answers[query]; ok {
		state.Meta.Strategy = answer[0]
		state.Response = answer[1]
	}
	return state, nil
}

const suiteYAML = `
name: smoke
scenarios:
  - name: count
    query: "How many wells are there?"
    expect:
      strategy: well_count
      prefix: "There are "
      contains: ["wells."]
  - name: scoped
    query: "What is the weather today?"
    expect:
      strategy: out_of_scope
`

func TestLoadSuite(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		suite, err := LoadSuite(strings.NewReader(suiteYAML))
		require.NoError(t, err)
		assert.Equal(t, "smoke", suite.Name)
		require.Len(t, suite.Scenarios, 2)
		assert.Equal(t, "well_count", suite.Scenarios[0].Expect.Strategy)
	})

	t.Run("empty suite", func(t *testing.T) {
		_, err := LoadSuite(strings.NewReader("name: empty\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no scenarios")
	})

	t.Run("scenario without query", func(t *testing.T) {
		_, err := LoadSuite(strings.NewReader("name: bad\nscenarios:\n  - name: oops\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no query")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := LoadSuite(strings.NewReader("scenarios: [\n"))
		require.Error(t, err)
	})
}

func TestDefaultSuite(t *testing.T) {
	suite, err := DefaultSuite()
	require.NoError(t, err)
	assert.Equal(t, "core-scenarios", suite.Name)
	require.Len(t, suite.Scenarios, 6)

	strategies := make([]string, 0, len(suite.Scenarios))
	for _, sc := range suite.Scenarios {
		assert.NotEmpty(t, sc.Query)
		if sc.Expect.Strategy != "" {
			strategies = append(strategies, sc.Expect.Strategy)
		}
	}
	assert.Contains(t, strategies, "well_count")
	assert.Contains(t, strategies, "out_of_scope")
}

func TestHarnessRun(t *testing.T) {
	suite, err := LoadSuite(strings.NewReader(suiteYAML))
	require.NoError(t, err)

	t.Run("all passing", func(t *testing.T) {
		runner := &scriptedRunner{answers: map[string][2]string{
			"How many wells are there?":  {"well_count", "There are 98 wells."},
			"What is the weather today?": {"out_of_scope", "This question appears to be about weather, which is outside the data this system covers."},
		}}
		harness := NewHarness(runner, testLogger())

		report, err := harness.Run(context.Background(), suite)
		require.NoError(t, err)

		assert.True(t, report.OK())
		assert.Equal(t, 2, report.Passed())
		assert.Equal(t, 0, report.Failed())
		assert.Equal(t, "smoke: 2/2 scenarios passed", report.Summary())
		assert.Equal(t, []string{"How many wells are there?", "What is the weather today?"}, runner.queries)
	})

	t.Run("expectation failures are itemized", func(t *testing.T) {
		runner := &scriptedRunner{answers: map[string][2]string{
			"How many wells are there?":  {"llm_generation", "I found 98 wells."},
			"What is the weather today?": {"out_of_scope", "This question appears to be about weather."},
		}}
		harness := NewHarness(runner, testLogger())

		report, err := harness.Run(context.Background(), suite)
		require.NoError(t, err)

		assert.False(t, report.OK())
		assert.Equal(t, 1, report.Failed())

		failed := report.Results[0]
		assert.False(t, failed.Passed)
		require.Len(t, failed.Failures, 2, "wrong strategy and wrong prefix")
		assert.Contains(t, failed.Failures[0], "well_count")
	})

	t.Run("runner errors fail the scenario but not the suite", func(t *testing.T) {
		runner := &scriptedRunner{err: errors.New("store unreachable")}
		harness := NewHarness(runner, testLogger())

		report, err := harness.Run(context.Background(), suite)
		require.NoError(t, err)

		assert.Equal(t, 2, report.Failed())
		assert.Contains(t, report.Results[0].Failures[0], "store unreachable")
	})

	t.Run("empty response always fails", func(t *testing.T) {
		runner := &scriptedRunner{answers: map[string][2]string{
			"How many wells are there?": {"well_count", ""},
		}}
		harness := NewHarness(runner, testLogger())

		report, err := harness.Run(context.Background(), suite)
		require.NoError(t, err)
		assert.Contains(t, report.Results[0].Failures[0], "response is empty")
	})

	t.Run("cancellation aborts the run", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		harness := NewHarness(&scriptedRunner{}, testLogger())
		report, err := harness.Run(ctx, suite)
		require.Error(t, err)
		assert.Empty(t, report.Results)
	})
}
