package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.strata.query/internal/config"
	"dev.strata.query/internal/engine"
	"dev.strata.query/internal/graph"
	"dev.strata.query/internal/metrics"
	"dev.strata.query/internal/workflow"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

type fakeEngine struct {
	state     *workflow.State
	err       error
	health    engine.Health
	queries   []string
	overrides []workflow.Overrides
}

func (f *fakeEngine) RunQuery(ctx context.Context, query string, overrides workflow.Overrides) (*workflow.State, error) {
	f.queries = append(f.queries, query)
	f.overrides = append(f.overrides, overrides)
	if f.err != nil {
		return nil, f.err
	}
	return f.state, nil
}

func (f *fakeEngine) CheckHealth(ctx context.Context) engine.Health { return f.health }

func answeredState(query string) *workflow.State {
	state := workflow.NewState(query)
	state.Response = "There are 98 wells."
	state.Retrieved = []string{"Direct count: 98 documents with entity_type=las_document (vector store)."}
	state.Meta.Strategy = "well_count"
	state.Meta.NumResults = 1
	state.Meta.AddDecision("well count 98 from vector store")
	return state
}

func newTestServer(eng Engine, metricsHandler http.Handler) *Server {
	gin.SetMode(gin.TestMode)
	return New(config.ServerSettings{Host: "127.0.0.1", Port: 0, Mode: gin.TestMode}, eng, metricsHandler, WithLogger(testLogger()))
}

func postQuery(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func TestHandleQuery(t *testing.T) {
	t.Run("answers a valid request", func(t *testing.T) {
		eng := &fakeEngine{state: answeredState("How many wells are there?")}
		s := newTestServer(eng, nil)

		w := postQuery(t, s, `{"query": "How many wells are there?"}`)
		require.Equal(t, http.StatusOK, w.Code)

		var resp queryResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "There are 98 wells.", resp.Response)
		assert.Equal(t, "well_count", resp.Strategy)
		assert.NotEmpty(t, resp.QueryID)
		assert.NotEmpty(t, resp.Retrieved)
		assert.NotEmpty(t, resp.Metadata.Decisions)
	})

	t.Run("missing query field", func(t *testing.T) {
		s := newTestServer(&fakeEngine{state: answeredState("")}, nil)
		w := postQuery(t, s, `{"top_k": 5}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Invalid request")
	})

	t.Run("malformed body", func(t *testing.T) {
		s := newTestServer(&fakeEngine{state: answeredState("")}, nil)
		w := postQuery(t, s, `{"query": `)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("overrides are forwarded", func(t *testing.T) {
		eng := &fakeEngine{state: answeredState("q")}
		s := newTestServer(eng, nil)

		w := postQuery(t, s, `{"query": "list GR curves", "filter": {"entity_type": "las_curve"}, "top_k": 7, "max_hops": 2}`)
		require.Equal(t, http.StatusOK, w.Code)

		require.Len(t, eng.overrides, 1)
		assert.Equal(t, map[string]any{"entity_type": "las_curve"}, eng.overrides[0].Filter)
		assert.Equal(t, 7, eng.overrides[0].TopK)
		assert.Equal(t, 2, eng.overrides[0].MaxHops)
	})

	t.Run("validation errors map to 400", func(t *testing.T) {
		eng := &fakeEngine{err: engine.ErrQueryTooLong}
		s := newTestServer(eng, nil)

		w := postQuery(t, s, `{"query": "way too long"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("engine failures map to 500", func(t *testing.T) {
		eng := &fakeEngine{err: errors.New("embedding query: iam token rejected")}
		s := newTestServer(eng, nil)

		w := postQuery(t, s, `{"query": "what is porosity"}`)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), "Failed to answer query")
	})
}

func TestHandleHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		eng := &fakeEngine{health: engine.Health{
			Graph: graph.Stats{Nodes: 12, Edges: 10},
			Deps: map[string]engine.ComponentStatus{
				"store": {OK: true},
				"model": {OK: true},
			},
		}}
		s := newTestServer(eng, nil)

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		w := httptest.NewRecorder()
		s.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"status":"ok"`)
		assert.Contains(t, w.Body.String(), `"nodes":12`)
	})

	t.Run("degraded dependency yields 503", func(t *testing.T) {
		eng := &fakeEngine{health: engine.Health{
			Deps: map[string]engine.ComponentStatus{
				"store": {Error: "503 from data api"},
			},
		}}
		s := newTestServer(eng, nil)

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		w := httptest.NewRecorder()
		s.ServeHTTP(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), `"status":"degraded"`)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	collector := metrics.NewCollector()
	collector.ObserveQuery("well_count", "ok", 25*time.Millisecond, 1)

	s := newTestServer(&fakeEngine{state: answeredState("q")}, collector.Handler())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "strataquery_queries_total")
}

func TestServerLifecycle(t *testing.T) {
	s := newTestServer(&fakeEngine{state: answeredState("q")}, nil)

	assert.False(t, s.IsRunning())
	assert.NoError(t, s.Shutdown(context.Background()), "shutting down a stopped server is a no-op")
}
