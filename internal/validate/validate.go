// Package validate runs scripted query scenarios against the engine and
// reports which expectations held. Suites are YAML files, so regression
// queries can be added without recompiling.
package validate

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"dev.strata.query/internal/workflow"
)

//go:embed default.yaml
var defaultSuiteYAML []byte

// Runner answers one query. *engine.Engine satisfies it.
type Runner interface {
	RunQuery(ctx context.Context, query string, overrides workflow.Overrides) (*workflow.State, error)
}

// Expectation lists the checks applied to a scenario's answer. Empty
// fields are skipped; an empty response always fails.
type Expectation struct {
	Strategy string   `yaml:"strategy"`
	Response string   `yaml:"response"`
	Prefix   string   `yaml:"prefix"`
	Contains []string `yaml:"contains"`
}

func (e Expectation) check(state *workflow.State) []string {
	var failures []string
	if state.Response == "" {
		failures = append(failures, "response is empty")
	}
	if e.Strategy != "" && state.Meta.Strategy != e.Strategy {
		failures = append(failures, fmt.Sprintf("strategy %q, want %q", state.Meta.Strategy, e.Strategy))
	}
	if e.Response != "" && state.Response != e.Response {
		failures = append(failures, fmt.Sprintf("response %q, want exactly %q", state.Response, e.Response))
	}
	if e.Prefix != "" && !strings.HasPrefix(state.Response, e.Prefix) {
		failures = append(failures, fmt.Sprintf("response %q does not start with %q", state.Response, e.Prefix))
	}
	for _, want := range e.Contains {
		if !strings.Contains(state.Response, want) {
			failures = append(failures, fmt.Sprintf("response %q does not contain %q", state.Response, want))
		}
	}
	return failures
}

// Scenario is one scripted query with its expected answer shape.
type Scenario struct {
	Name   string         `yaml:"name"`
	Query  string         `yaml:"query"`
	Filter map[string]any `yaml:"filter"`
	TopK   int            `yaml:"top_k"`
	Expect Expectation    `yaml:"expect"`
}

// Suite is a named, ordered list of scenarios.
type Suite struct {
	Name      string     `yaml:"name"`
	Scenarios []Scenario `yaml:"scenarios"`
}

// LoadSuite parses a YAML suite and rejects empty or query-less
// scenarios up front, before any engine work happens.
func LoadSuite(r io.Reader) (*Suite, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading suite: %w", err)
	}
	var suite Suite
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("parsing suite: %w", err)
	}
	if len(suite.Scenarios) == 0 {
		return nil, fmt.Errorf("suite %q has no scenarios", suite.Name)
	}
	for i, sc := range suite.Scenarios {
		if strings.TrimSpace(sc.Query) == "" {
			return nil, fmt.Errorf("scenario %d (%q) has no query", i+1, sc.Name)
		}
	}
	return &suite, nil
}

// LoadSuiteFile reads a suite from disk.
func LoadSuiteFile(path string) (*Suite, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening suite: %w", err)
	}
	defer f.Close()

	suite, err := LoadSuite(f)
	if err != nil {
		return nil, fmt.Errorf("suite %s: %w", path, err)
	}
	return suite, nil
}

// DefaultSuite returns the built-in scenario set covering the core
// answer paths.
func DefaultSuite() (*Suite, error) {
	return LoadSuite(bytes.NewReader(defaultSuiteYAML))
}

// Result is one scenario's outcome.
type Result struct {
	Scenario string        `json:"scenario"`
	Query    string        `json:"query"`
	Passed   bool          `json:"passed"`
	Strategy string        `json:"strategy,omitempty"`
	Response string        `json:"response,omitempty"`
	Failures []string      `json:"failures,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Report aggregates one suite run.
type Report struct {
	Suite   string   `json:"suite"`
	Results []Result `json:"results"`
}

// Passed counts scenarios whose every expectation held.
func (r *Report) Passed() int {
	n := 0
	for _, res := range r.Results {
		if res.Passed {
			n++
		}
	}
	return n
}

// Failed counts scenarios with at least one failure.
func (r *Report) Failed() int { return len(r.Results) - r.Passed() }

// OK reports whether the whole suite passed.
func (r *Report) OK() bool { return r.Failed() == 0 }

// Summary is a one-line human description of the run.
func (r *Report) Summary() string {
	return fmt.Sprintf("%s: %d/%d scenarios passed", r.Suite, r.Passed(), len(r.Results))
}

// Harness runs suites against a Runner.
type Harness struct {
	runner Runner
	logger *logrus.Logger
}

// NewHarness wires a harness to the engine under validation.
func NewHarness(runner Runner, logger *logrus.Logger) *Harness {
	if logger == nil {
		logger = logrus.New()
	}
	return &Harness{runner: runner, logger: logger}
}

// Run executes every scenario in order. A failing or erroring scenario
// never aborts the suite; only context cancellation does.
func (h *Harness) Run(ctx context.Context, suite *Suite) (*Report, error) {
	report := &Report{Suite: suite.Name}
	for _, sc := range suite.Scenarios {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Results = append(report.Results, h.runScenario(ctx, sc))
	}
	return report, nil
}

func (h *Harness) runScenario(ctx context.Context, sc Scenario) Result {
	started := time.Now()
	res := Result{Scenario: sc.Name, Query: sc.Query}

	state, err := h.runner.RunQuery(ctx, sc.Query, workflow.Overrides{Filter: sc.Filter, TopK: sc.TopK})
	res.Elapsed = time.Since(started)
	if err != nil {
		res.Failures = []string{fmt.Sprintf("query failed: %v", err)}
		h.logger.WithError(err).WithField("scenario", sc.Name).Warn("Scenario errored")
		return res
	}

	res.Strategy = state.Meta.Strategy
	res.Response = state.Response
	res.Failures = sc.Expect.check(state)
	res.Passed = len(res.Failures) == 0

	h.logger.WithFields(logrus.Fields{
		"scenario": sc.Name,
		"strategy": res.Strategy,
		"passed":   res.Passed,
		"elapsed":  res.Elapsed,
	}).Info("Scenario finished")
	return res
}
