// Package cache provides the optional Redis-backed caches: full query
// responses keyed by normalized query text, and embeddings keyed by a
// hash of the embedded text. Both are best-effort; a cache failure
// never fails the query.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"dev.strata.query/internal/config"
)

const (
	responsePrefix  = "sq:resp:"
	embeddingPrefix = "sq:emb:"
)

// CachedResponse is the stored outcome of one answered query.
type CachedResponse struct {
	Response  string   `json:"response"`
	Strategy  string   `json:"strategy"`
	Retrieved []string `json:"retrieved"`
}

// Cache wraps one Redis connection. A nil *Cache is valid and means
// caching is disabled; every method no-ops on it.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

// New connects per the settings. Returns nil when caching is disabled.
func New(settings config.RedisSettings, logger *logrus.Logger) *Cache {
	if !settings.Enabled {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     settings.Addr,
		Password: settings.Password,
		DB:       settings.DB,
	})
	return NewWithClient(client, settings.TTL, logger)
}

// NewWithClient wraps an existing Redis client.
func NewWithClient(client *redis.Client, ttl time.Duration, logger *logrus.Logger) *Cache {
	if logger == nil {
		logger = logrus.New()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{client: client, ttl: ttl, logger: logger}
}

// GetResponse looks up a cached answer for the query.
func (c *Cache) GetResponse(ctx context.Context, query string) (*CachedResponse, bool) {
	if c == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, responseKey(query)).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.WithError(err).Debug("Response cache lookup failed")
		}
		return nil, false
	}
	var cached CachedResponse
	if err := json.Unmarshal([]byte(data), &cached); err != nil {
		c.logger.WithError(err).Warn("Response cache entry corrupt, ignoring")
		return nil, false
	}
	return &cached, true
}

// SetResponse stores an answered query for the configured TTL.
func (c *Cache) SetResponse(ctx context.Context, query string, resp *CachedResponse) {
	if c == nil || resp == nil {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.WithError(err).Warn("Response cache marshal failed")
		return
	}
	if err := c.client.Set(ctx, responseKey(query), data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).Debug("Response cache write failed")
	}
}

// GetEmbedding looks up a cached vector for the text.
func (c *Cache) GetEmbedding(ctx context.Context, text string) ([]float32, bool) {
	if c == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, embeddingKey(text)).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.WithError(err).Debug("Embedding cache lookup failed")
		}
		return nil, false
	}
	var vector []float32
	if err := json.Unmarshal([]byte(data), &vector); err != nil {
		c.logger.WithError(err).Warn("Embedding cache entry corrupt, ignoring")
		return nil, false
	}
	if len(vector) == 0 {
		return nil, false
	}
	return vector, true
}

// SetEmbedding stores a vector for the text. Embeddings outlive
// responses, so they get double the configured TTL.
func (c *Cache) SetEmbedding(ctx context.Context, text string, vector []float32) {
	if c == nil || len(vector) == 0 {
		return
	}
	data, err := json.Marshal(vector)
	if err != nil {
		c.logger.WithError(err).Warn("Embedding cache marshal failed")
		return
	}
	if err := c.client.Set(ctx, embeddingKey(text), data, 2*c.ttl).Err(); err != nil {
		c.logger.WithError(err).Debug("Embedding cache write failed")
	}
}

// Ping verifies the connection.
func (c *Cache) Ping(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

// Close releases the connection.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

// responseKey normalizes the query so trivially different phrasings of
// the same text share an entry.
func responseKey(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	return responsePrefix + hashKey(normalized)
}

func embeddingKey(text string) string {
	return embeddingPrefix + hashKey(text)
}

func hashKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
