package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dev.strata.query/internal/engine"
	"dev.strata.query/internal/workflow"
)

// queryRequest is the POST /v1/query body. Only the query itself is
// required; the remaining fields override pipeline knobs per request.
type queryRequest struct {
	Query   string         `json:"query" binding:"required"`
	Filter  map[string]any `json:"filter"`
	TopK    int            `json:"top_k"`
	Limit   int            `json:"limit"`
	MaxHops int            `json:"max_hops"`
}

// queryMetadata is the diagnostic slice of the workflow state returned
// to callers.
type queryMetadata struct {
	NumResults       int      `json:"num_results"`
	InitialCount     int      `json:"initial_count"`
	TraversalApplied bool     `json:"traversal_applied"`
	RetrievedIDs     []string `json:"retrieved_ids,omitempty"`
	Decisions        []string `json:"decisions,omitempty"`
	Errors           []string `json:"errors,omitempty"`
	Model            string   `json:"model,omitempty"`
	InputTokens      int      `json:"input_tokens,omitempty"`
	GeneratedTokens  int      `json:"generated_tokens,omitempty"`
	ElapsedMS        int64    `json:"elapsed_ms"`
}

// queryResponse is the POST /v1/query reply.
type queryResponse struct {
	QueryID   string        `json:"query_id"`
	Response  string        `json:"response"`
	Strategy  string        `json:"strategy"`
	Retrieved []string      `json:"retrieved"`
	Metadata  queryMetadata `json:"metadata"`
}

func (s *Server) handleQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	started := time.Now()
	state, err := s.engine.RunQuery(c.Request.Context(), req.Query, workflow.Overrides{
		Filter:  req.Filter,
		TopK:    req.TopK,
		Limit:   req.Limit,
		MaxHops: req.MaxHops,
	})
	if err != nil {
		if errors.Is(err, engine.ErrEmptyQuery) || errors.Is(err, engine.ErrQueryTooLong) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.log.WithError(err).Error("Query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to answer query: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, queryResponse{
		QueryID:   state.ID,
		Response:  state.Response,
		Strategy:  state.Meta.Strategy,
		Retrieved: state.Retrieved,
		Metadata: queryMetadata{
			NumResults:       state.Meta.NumResults,
			InitialCount:     state.Meta.InitialCount,
			TraversalApplied: state.Meta.TraversalApplied,
			RetrievedIDs:     state.Meta.RetrievedIDs,
			Decisions:        state.Meta.Decisions,
			Errors:           state.Meta.Errors,
			Model:            state.Meta.GenModel,
			InputTokens:      state.Meta.InputTokens,
			GeneratedTokens:  state.Meta.GeneratedTokens,
			ElapsedMS:        time.Since(started).Milliseconds(),
		},
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	h := s.engine.CheckHealth(c.Request.Context())

	status := http.StatusOK
	verdict := "ok"
	if !h.OK() {
		status = http.StatusServiceUnavailable
		verdict = "degraded"
	}
	c.JSON(status, gin.H{
		"status":       verdict,
		"graph":        h.Graph,
		"dependencies": h.Deps,
	})
}
