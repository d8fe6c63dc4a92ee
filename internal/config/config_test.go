package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	s := Load()

	assert.Equal(t, "default_keyspace", s.Astra.Keyspace)
	assert.Equal(t, "strata_nodes", s.Astra.Collection)
	assert.Equal(t, 1000, s.Astra.PageLimit)
	assert.Equal(t, 60*time.Second, s.Astra.Timeout)

	assert.Equal(t, "ibm/slate-125m-english-rtrvr-v2", s.WatsonX.EmbedModel)
	assert.Equal(t, 500, s.WatsonX.EmbedBatchSize)
	assert.Equal(t, "https://iam.cloud.ibm.com/identity/token", s.WatsonX.TokenURL)

	assert.Equal(t, 500, s.Retrieval.QueryMaxLength)
	assert.Equal(t, 100, s.Retrieval.DefaultLimit)
	assert.Equal(t, 1000, s.Retrieval.AggregationLimit)
	assert.Equal(t, 5000, s.Retrieval.AggregationMaxDocs)
	assert.Equal(t, 15, s.Retrieval.FilterTruncate)
	assert.True(t, s.Retrieval.CountSampleEnabled)

	assert.Equal(t, 12000, s.Prompt.MaxChars)
	assert.Equal(t, 24000, s.Prompt.CompactThreshold)

	assert.False(t, s.Redis.Enabled)
	assert.Equal(t, time.Hour, s.Redis.TTL)
	assert.Empty(t, s.CostLog.Path)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ASTRA_KEYSPACE", "prod_ks")
	t.Setenv("RETRIEVAL_LIMIT", "42")
	t.Setenv("COUNT_SAMPLE_ENABLED", "false")
	t.Setenv("ASTRA_TIMEOUT", "15s")
	t.Setenv("PROMPT_CHARS_PER_TOKEN", "3.5")

	s := Load()

	assert.Equal(t, "prod_ks", s.Astra.Keyspace)
	assert.Equal(t, 42, s.Retrieval.DefaultLimit)
	assert.False(t, s.Retrieval.CountSampleEnabled)
	assert.Equal(t, 15*time.Second, s.Astra.Timeout)
	assert.Equal(t, 3.5, s.Prompt.CharsPerToken)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("RETRIEVAL_LIMIT", "not-a-number")
	t.Setenv("COUNT_SAMPLE_ENABLED", "definitely")

	s := Load()

	assert.Equal(t, 100, s.Retrieval.DefaultLimit)
	assert.True(t, s.Retrieval.CountSampleEnabled)
}

func validSettings() *Settings {
	s := Load()
	s.Astra.Endpoint = "https://db-region.apps.astra.datastax.com"
	s.Astra.Token = "AstraCS:token"
	s.WatsonX.BaseURL = "https://us-south.ml.cloud.ibm.com"
	s.WatsonX.APIKey = "key"
	s.WatsonX.ProjectID = "proj"
	return s
}

func TestValidate(t *testing.T) {
	t.Run("complete settings pass", func(t *testing.T) {
		require.NoError(t, validSettings().Validate())
	})

	t.Run("missing required setting is named", func(t *testing.T) {
		s := validSettings()
		s.WatsonX.ProjectID = ""
		err := s.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "WATSONX_PROJECT_ID")
	})

	t.Run("aggregation cap below page limit fails", func(t *testing.T) {
		s := validSettings()
		s.Retrieval.AggregationMaxDocs = 10
		err := s.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "AGGREGATION_MAX_DOCUMENTS")
	})

	t.Run("page limit above wire cap fails", func(t *testing.T) {
		s := validSettings()
		s.Astra.PageLimit = 5000
		err := s.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ASTRA_PAGE_LIMIT")
	})
}
