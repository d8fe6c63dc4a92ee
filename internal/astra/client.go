package astra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"dev.strata.query/internal/config"
	"dev.strata.query/internal/httpx"
)

// insertBatchSize is the Data API cap on documents per insertMany call.
const insertBatchSize = 20

// ErrNotFound reports that the target collection does not exist in the
// keyspace. Callers branch on it to suggest running the ingest step.
var ErrNotFound = errors.New("collection does not exist")

// Config holds connection settings for one Astra database.
type Config struct {
	// Endpoint is the database API endpoint, e.g.
	// https://<db-id>-<region>.apps.astra.datastax.com
	Endpoint   string
	Token      string
	Keyspace   string
	Collection string
	Timeout    time.Duration
	// PageLimit caps the per-page document count on paginated finds.
	// The Data API rejects values above 1000.
	PageLimit int
	Retry     httpx.RetryConfig
}

// DefaultConfig returns settings suitable for the hosted Data API.
func DefaultConfig() Config {
	return Config{
		Keyspace:   "default_keyspace",
		Collection: "strata_nodes",
		Timeout:    60 * time.Second,
		PageLimit:  1000,
		Retry:      httpx.DefaultRetryConfig(),
	}
}

// ConfigFromSettings maps application settings onto a client config,
// keeping defaults for anything unset.
func ConfigFromSettings(s config.AstraSettings) Config {
	cfg := DefaultConfig()
	cfg.Endpoint = s.Endpoint
	cfg.Token = s.Token
	if s.Keyspace != "" {
		cfg.Keyspace = s.Keyspace
	}
	if s.Collection != "" {
		cfg.Collection = s.Collection
	}
	if s.Timeout > 0 {
		cfg.Timeout = s.Timeout
	}
	if s.PageLimit > 0 {
		cfg.PageLimit = s.PageLimit
	}
	return cfg
}

// Validate checks that the config can reach a database.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return fmt.Errorf("astra: endpoint is required")
	}
	if strings.TrimSpace(c.Token) == "" {
		return fmt.Errorf("astra: token is required")
	}
	if c.Keyspace == "" {
		return fmt.Errorf("astra: keyspace is required")
	}
	if c.PageLimit <= 0 || c.PageLimit > 1000 {
		return fmt.Errorf("astra: page limit must be in (0, 1000], got %d", c.PageLimit)
	}
	return nil
}

// Client talks to one keyspace of an Astra database.
type Client struct {
	config Config
	http   *httpx.Client
	logger *logrus.Logger
}

// NewClient validates the config and builds a client.
func NewClient(config Config, logger *logrus.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}
	hc := &http.Client{Timeout: config.Timeout}
	return &Client{
		config: config,
		http:   httpx.NewClient(hc, config.Retry),
		logger: logger,
	}, nil
}

// Collection returns the default collection name.
func (c *Client) Collection() string { return c.config.Collection }

type apiError struct {
	Message   string `json:"message"`
	ErrorCode string `json:"errorCode"`
}

type apiResponse struct {
	Data *struct {
		Documents     []Document `json:"documents"`
		NextPageState *string    `json:"nextPageState"`
	} `json:"data"`
	Status map[string]any `json:"status"`
	Errors []apiError     `json:"errors"`
}

// doRequest posts one command envelope. Path is either the keyspace
// ("") or a collection name appended to the keyspace URL.
func (c *Client) doRequest(ctx context.Context, collection string, command map[string]any) (*apiResponse, error) {
	url := fmt.Sprintf("%s/api/json/v1/%s", strings.TrimRight(c.config.Endpoint, "/"), c.config.Keyspace)
	if collection != "" {
		url += "/" + collection
	}

	body, err := json.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("marshaling command: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("X-Cassandra-Token", c.config.Token)

	resp, err := c.http.Do(ctx, http.MethodPost, url, header, body)
	if err != nil {
		return nil, fmt.Errorf("astra request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading astra response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("astra returned status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var parsed apiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decoding astra response: %w", err)
	}
	if len(parsed.Errors) > 0 {
		msgs := make([]string, 0, len(parsed.Errors))
		for _, e := range parsed.Errors {
			if e.ErrorCode == "COLLECTION_NOT_EXIST" {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, e.Message)
			}
			msgs = append(msgs, fmt.Sprintf("%s (%s)", e.Message, e.ErrorCode))
		}
		return nil, fmt.Errorf("astra command failed: %s", strings.Join(msgs, "; "))
	}
	return &parsed, nil
}

// SearchOptions controls a vector search.
type SearchOptions struct {
	// Limit is the total number of documents wanted. Zero means one
	// page at the configured page limit.
	Limit int
	// Filter is a Data API filter document, nil for none.
	Filter map[string]any
	// IncludeSimilarity asks the store to attach $similarity scores.
	IncludeSimilarity bool
}

// VectorSearch runs an ANN search sorted by the query vector, paging
// through results until the limit is reached, the store stops returning
// a paging state, or a page comes back short.
func (c *Client) VectorSearch(ctx context.Context, vector []float32, opts SearchOptions) ([]Document, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("astra: query vector is empty")
	}
	wanted := opts.Limit
	if wanted <= 0 {
		wanted = c.config.PageLimit
	}

	var (
		collected   []Document
		pagingState *string
	)
	for len(collected) < wanted {
		pageSize := wanted - len(collected)
		if pageSize > c.config.PageLimit {
			pageSize = c.config.PageLimit
		}

		findOpts := map[string]any{"limit": pageSize}
		if opts.IncludeSimilarity {
			findOpts["includeSimilarity"] = true
		}
		if pagingState != nil {
			findOpts["pagingState"] = *pagingState
		}
		find := map[string]any{
			"sort":    map[string]any{"$vector": vector},
			"options": findOpts,
		}
		if opts.Filter != nil {
			find["filter"] = opts.Filter
		}

		resp, err := c.doRequest(ctx, c.config.Collection, map[string]any{"find": find})
		if err != nil {
			return nil, err
		}
		if resp.Data == nil {
			break
		}
		collected = append(collected, resp.Data.Documents...)

		if resp.Data.NextPageState == nil || *resp.Data.NextPageState == "" {
			break
		}
		if len(resp.Data.Documents) < pageSize {
			break
		}
		pagingState = resp.Data.NextPageState
	}

	if len(collected) > wanted {
		collected = collected[:wanted]
	}
	c.logger.WithFields(logrus.Fields{
		"collection": c.config.Collection,
		"returned":   len(collected),
		"limit":      wanted,
	}).Debug("Vector search completed")
	return collected, nil
}

// FindDocuments pages through documents matching a filter without
// vector ordering. Used by aggregation retrieval when the whole
// entity-type slice is needed.
func (c *Client) FindDocuments(ctx context.Context, filter map[string]any, maxDocuments int) ([]Document, error) {
	if maxDocuments <= 0 {
		maxDocuments = c.config.PageLimit
	}

	var (
		collected   []Document
		pagingState *string
	)
	for len(collected) < maxDocuments {
		pageSize := maxDocuments - len(collected)
		if pageSize > c.config.PageLimit {
			pageSize = c.config.PageLimit
		}
		findOpts := map[string]any{"limit": pageSize}
		if pagingState != nil {
			findOpts["pagingState"] = *pagingState
		}
		find := map[string]any{"options": findOpts}
		if filter != nil {
			find["filter"] = filter
		}

		resp, err := c.doRequest(ctx, c.config.Collection, map[string]any{"find": find})
		if err != nil {
			return nil, err
		}
		if resp.Data == nil {
			break
		}
		collected = append(collected, resp.Data.Documents...)

		if resp.Data.NextPageState == nil || *resp.Data.NextPageState == "" {
			break
		}
		if len(resp.Data.Documents) < pageSize {
			break
		}
		pagingState = resp.Data.NextPageState
	}

	if len(collected) > maxDocuments {
		collected = collected[:maxDocuments]
	}
	return collected, nil
}

// CountDocuments counts documents matching the filter.
func (c *Client) CountDocuments(ctx context.Context, filter map[string]any) (int, error) {
	command := map[string]any{"countDocuments": map[string]any{}}
	if filter != nil {
		command["countDocuments"] = map[string]any{"filter": filter}
	}
	resp, err := c.doRequest(ctx, c.config.Collection, command)
	if err != nil {
		return 0, err
	}
	count, ok := resp.Status["count"].(float64)
	if !ok {
		return 0, fmt.Errorf("astra: countDocuments response missing count")
	}
	return int(count), nil
}

// FetchByIDs retrieves documents by id. When a query vector is given
// the results come back similarity-ordered, which keeps graph-expanded
// context in relevance order.
func (c *Client) FetchByIDs(ctx context.Context, ids []string, vector []float32) ([]Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	find := map[string]any{
		"filter":  map[string]any{FieldID: map[string]any{"$in": ids}},
		"options": map[string]any{"limit": len(ids)},
	}
	if len(vector) > 0 {
		find["sort"] = map[string]any{"$vector": vector}
	}
	resp, err := c.doRequest(ctx, c.config.Collection, map[string]any{"find": find})
	if err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, nil
	}
	return resp.Data.Documents, nil
}

// InsertDocuments writes documents in insertMany batches and returns
// the number of inserted ids the store acknowledged.
func (c *Client) InsertDocuments(ctx context.Context, docs []Document) (int, error) {
	inserted := 0
	for start := 0; start < len(docs); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(docs) {
			end = len(docs)
		}
		command := map[string]any{
			"insertMany": map[string]any{
				"documents": docs[start:end],
				"options":   map[string]any{"ordered": false},
			},
		}
		resp, err := c.doRequest(ctx, c.config.Collection, command)
		if err != nil {
			return inserted, fmt.Errorf("inserting batch at %d: %w", start, err)
		}
		if ids, ok := resp.Status["insertedIds"].([]any); ok {
			inserted += len(ids)
		}
	}
	c.logger.WithFields(logrus.Fields{
		"collection": c.config.Collection,
		"inserted":   inserted,
	}).Info("Documents inserted")
	return inserted, nil
}

// CreateCollection creates a plain (non-vector) collection.
func (c *Client) CreateCollection(ctx context.Context, name string) error {
	command := map[string]any{
		"createCollection": map[string]any{"name": name},
	}
	if _, err := c.doRequest(ctx, "", command); err != nil {
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	c.logger.WithField("collection", name).Info("Collection created")
	return nil
}

// CreateVectorCollection creates a vector-enabled collection. Metric
// defaults to cosine.
func (c *Client) CreateVectorCollection(ctx context.Context, name string, dimension int, metric string) error {
	if metric == "" {
		metric = "cosine"
	}
	command := map[string]any{
		"createCollection": map[string]any{
			"name": name,
			"options": map[string]any{
				"vector": map[string]any{
					"dimension": dimension,
					"metric":    metric,
				},
			},
		},
	}
	if _, err := c.doRequest(ctx, "", command); err != nil {
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	c.logger.WithFields(logrus.Fields{
		"collection": name,
		"dimension":  dimension,
		"metric":     metric,
	}).Info("Collection created")
	return nil
}

// ListCollections returns the collection names in the keyspace.
func (c *Client) ListCollections(ctx context.Context) ([]string, error) {
	resp, err := c.doRequest(ctx, "", map[string]any{"findCollections": map[string]any{}})
	if err != nil {
		return nil, err
	}
	raw, ok := resp.Status["collections"].([]any)
	if !ok {
		return nil, nil
	}
	names := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			names = append(names, s)
		}
	}
	return names, nil
}

// HealthCheck verifies the database answers.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.ListCollections(ctx)
	return err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
