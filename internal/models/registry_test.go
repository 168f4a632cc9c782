package models

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/docintel/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		EmbeddingProvider:     "hash",
		EmbeddingDimension:    384,
		SummaryProvider:       "extractive",
		SummaryNumBeams:       4,
		SummaryGreedy:         true,
		SummaryEarlyStopping:  true,
		SummaryNoRepeatNgram:  2,
		SummaryCombineWords:   250,
		SummaryPassThroughMin: 30,
	}
}

func TestLoad_OfflineProviders(t *testing.T) {
	r, err := Load(context.Background(), testConfig())
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, "hash-v1@384", r.Embedder.ModelVersion())
	assert.Equal(t, "extractive-tf-v1", r.Summarizer.ModelName())

	vec, err := r.Embedder.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Len(t, vec, 384)
}

func TestLoad_UnreachableLocalModelIsNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.EmbeddingProvider = "local"
	cfg.EmbeddingModel = "all-minilm"
	cfg.InferenceBaseURL = srv.URL + "/v1"

	r, err := Load(context.Background(), cfg)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, "local/all-minilm@384", r.Embedder.ModelVersion())
}

func TestLoad_UnknownProvider(t *testing.T) {
	cfg := testConfig()
	cfg.SummaryProvider = "bart"

	_, err := Load(context.Background(), cfg)
	assert.Error(t, err)
}

func TestSummarizerConfig(t *testing.T) {
	cfg := testConfig()
	cfg.SummaryGreedy = false
	cfg.SummaryCombineWords = 400

	sc := SummarizerConfig(cfg)

	assert.False(t, sc.Greedy)
	assert.Equal(t, 400, sc.CombineThresholdWords)
	assert.Equal(t, 30, sc.PassThroughWords)
	assert.Equal(t, 2, sc.NoRepeatNgramSize)
}

func TestOpenAIModel(t *testing.T) {
	assert.Equal(t, "text-embedding-3-small", openAIModel("openai", "all-minilm", "text-embedding-3-small"))
	assert.Equal(t, "text-embedding-3-large", openAIModel("openai", "text-embedding-3-large", "text-embedding-3-small"))
	assert.Equal(t, "gpt-4o-mini", openAIModel("local", "llama3.2", "gpt-4o-mini"))
}
