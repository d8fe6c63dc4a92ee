// Package config loads runtime settings for the StrataQuery engine from
// environment variables, with defaults suitable for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings is the root configuration for every StrataQuery component.
type Settings struct {
	Astra     AstraSettings
	WatsonX   WatsonXSettings
	Graph     GraphSettings
	Retrieval RetrievalSettings
	Prompt    PromptSettings
	Server    ServerSettings
	Redis     RedisSettings
	CostLog   CostLogSettings
	LogLevel  string
}

// AstraSettings configures the Astra DB Data API client.
type AstraSettings struct {
	Endpoint   string
	Token      string
	Keyspace   string
	Collection string
	Timeout    time.Duration
	PageLimit  int
}

// WatsonXSettings configures the watsonx.ai embedding and generation clients.
type WatsonXSettings struct {
	BaseURL        string
	APIKey         string
	ProjectID      string
	EmbedModel     string
	GenModel       string
	Version        string
	TokenURL       string
	EmbedBatchSize int
	MaxNewTokens   int
	Timeout        time.Duration
}

// GraphSettings locates the knowledge graph snapshot.
type GraphSettings struct {
	Path string
}

// RetrievalSettings bounds the retrieval pipeline.
type RetrievalSettings struct {
	QueryMaxLength     int
	DefaultLimit       int
	AggregationLimit   int
	AggregationMaxDocs int
	FilterTruncate     int
	CountSampleEnabled bool
}

// PromptSettings bounds prompt assembly for the generation fallback.
type PromptSettings struct {
	TemplatePath string
	MaxChars     int
	// CompactThreshold is the raw context size, in characters, above
	// which entries are compacted before assembly. Zero disables
	// compaction.
	CompactThreshold int
	CharsPerToken    float64
}

// ServerSettings configures the HTTP API server.
type ServerSettings struct {
	Host string
	Port int
	Mode string
}

// RedisSettings configures the optional response and embedding cache.
type RedisSettings struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// CostLogSettings configures the optional SQLite usage ledger. An empty
// path disables the ledger.
type CostLogSettings struct {
	Path string
}

// Load reads settings from the environment, applying defaults for
// everything optional. Call Validate before wiring clients.
func Load() *Settings {
	return &Settings{
		Astra: AstraSettings{
			Endpoint:   getEnv("ASTRA_API_ENDPOINT", ""),
			Token:      getEnv("ASTRA_TOKEN", ""),
			Keyspace:   getEnv("ASTRA_KEYSPACE", "default_keyspace"),
			Collection: getEnv("ASTRA_COLLECTION", "strata_nodes"),
			Timeout:    getDurationEnv("ASTRA_TIMEOUT", 60*time.Second),
			PageLimit:  getIntEnv("ASTRA_PAGE_LIMIT", 1000),
		},
		WatsonX: WatsonXSettings{
			BaseURL:        getEnv("WATSONX_URL", ""),
			APIKey:         getEnv("WATSONX_APIKEY", ""),
			ProjectID:      getEnv("WATSONX_PROJECT_ID", ""),
			EmbedModel:     getEnv("WATSONX_EMBED_MODEL", "ibm/slate-125m-english-rtrvr-v2"),
			GenModel:       getEnv("WATSONX_GEN_MODEL", "ibm/granite-3-8b-instruct"),
			Version:        getEnv("WATSONX_VERSION", "2024-05-31"),
			TokenURL:       getEnv("IAM_TOKEN_URL", "https://iam.cloud.ibm.com/identity/token"),
			EmbedBatchSize: getIntEnv("WATSONX_EMBED_BATCH_SIZE", 500),
			MaxNewTokens:   getIntEnv("WATSONX_MAX_NEW_TOKENS", 400),
			Timeout:        getDurationEnv("WATSONX_TIMEOUT", 60*time.Second),
		},
		Graph: GraphSettings{
			Path: getEnv("GRAPH_PATH", "data/graph.json"),
		},
		Retrieval: RetrievalSettings{
			QueryMaxLength:     getIntEnv("QUERY_MAX_LENGTH", 500),
			DefaultLimit:       getIntEnv("RETRIEVAL_LIMIT", 100),
			AggregationLimit:   getIntEnv("AGGREGATION_LIMIT", 1000),
			AggregationMaxDocs: getIntEnv("AGGREGATION_MAX_DOCUMENTS", 5000),
			FilterTruncate:     getIntEnv("FILTER_TRUNCATE_LIMIT", 15),
			CountSampleEnabled: getBoolEnv("COUNT_SAMPLE_ENABLED", true),
		},
		Prompt: PromptSettings{
			TemplatePath:     getEnv("PROMPT_TEMPLATE_PATH", "configs/prompt_template.txt"),
			MaxChars:         getIntEnv("PROMPT_MAX_CHARS", 12000),
			CompactThreshold: getIntEnv("PROMPT_COMPACT_THRESHOLD", 24000),
			CharsPerToken:    getFloatEnv("PROMPT_CHARS_PER_TOKEN", 4.0),
		},
		Server: ServerSettings{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getIntEnv("SERVER_PORT", 8080),
			Mode: getEnv("GIN_MODE", "release"),
		},
		Redis: RedisSettings{
			Enabled:  getBoolEnv("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
			TTL:      getDurationEnv("CACHE_TTL", time.Hour),
		},
		CostLog: CostLogSettings{
			Path: getEnv("COST_LOG_PATH", ""),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// Validate reports the first missing or inconsistent setting. Settings
// that only matter for optional components (Redis, cost log) are not
// required here.
func (s *Settings) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"ASTRA_API_ENDPOINT", s.Astra.Endpoint},
		{"ASTRA_TOKEN", s.Astra.Token},
		{"WATSONX_URL", s.WatsonX.BaseURL},
		{"WATSONX_APIKEY", s.WatsonX.APIKey},
		{"WATSONX_PROJECT_ID", s.WatsonX.ProjectID},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("missing required setting %s", r.name)
		}
	}
	if s.Retrieval.QueryMaxLength <= 0 {
		return fmt.Errorf("QUERY_MAX_LENGTH must be positive, got %d", s.Retrieval.QueryMaxLength)
	}
	if s.Retrieval.DefaultLimit <= 0 {
		return fmt.Errorf("RETRIEVAL_LIMIT must be positive, got %d", s.Retrieval.DefaultLimit)
	}
	if s.Retrieval.AggregationMaxDocs < s.Retrieval.AggregationLimit {
		return fmt.Errorf("AGGREGATION_MAX_DOCUMENTS (%d) must be >= AGGREGATION_LIMIT (%d)",
			s.Retrieval.AggregationMaxDocs, s.Retrieval.AggregationLimit)
	}
	if s.Astra.PageLimit <= 0 || s.Astra.PageLimit > 1000 {
		return fmt.Errorf("ASTRA_PAGE_LIMIT must be in (0, 1000], got %d", s.Astra.PageLimit)
	}
	if s.WatsonX.EmbedBatchSize <= 0 || s.WatsonX.EmbedBatchSize > 1000 {
		return fmt.Errorf("WATSONX_EMBED_BATCH_SIZE must be in (0, 1000], got %d", s.WatsonX.EmbedBatchSize)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
