package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/docintel/internal/domain"
)

const solarText = "Solar panels convert sunlight into electricity using photovoltaic cells. " +
	"Modern panels reach efficiencies above twenty percent in full sun. " +
	"Installers mount them on roofs facing the equator to capture the most light. " +
	"Inverters turn the direct current into alternating current for the home."

func words(n int) string {
	ws := make([]string, n)
	for i := range ws {
		ws[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(ws, " ")
}

func TestProcessDocument_PersistsAllArtifacts(t *testing.T) {
	h := newHarness(t, nil)
	doc := h.addDocument(t, "solar.txt", solarText)

	res, err := h.pipeline.ProcessDocument(context.Background(), doc.ID, solarText)
	require.NoError(t, err)

	assert.Equal(t, doc.ID, res.DocumentID)
	assert.NotEmpty(t, res.Summary)
	assert.False(t, res.Truncated)
	assert.Equal(t, h.embedder.ModelVersion(), res.ModelVersion)
	require.NotEmpty(t, res.Chunks)
	for i, ch := range res.Chunks {
		assert.Equal(t, doc.ID, ch.DocumentID)
		assert.Equal(t, i, ch.Index)
		assert.Len(t, ch.Embedding, 384)
	}

	stored, err := h.repo.GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusCompleted, stored.Status)
	assert.Equal(t, res.Summary, stored.Summary)
	assert.NotNil(t, stored.ProcessedAt)

	assert.Len(t, h.repo.chunks[doc.ID], len(res.Chunks))
	assert.Equal(t, len(res.Chunks), h.vectors.Len())
	assert.Equal(t, int64(1), h.repo.version)
}

func TestProcessDocument_EmptyInput(t *testing.T) {
	h := newHarness(t, nil)
	doc := h.addDocument(t, "blank.txt", "x")

	_, err := h.pipeline.ProcessDocument(context.Background(), doc.ID, " \n\t ")
	assert.ErrorIs(t, err, domain.ErrEmptyInput)

	assert.Equal(t, int32(0), h.embed.calls.Load())
	assert.Equal(t, 0, h.vectors.Len())
	assert.Equal(t, int64(0), h.repo.version)
}

func TestProcessDocument_EmbeddingFailureLeavesNoArtifacts(t *testing.T) {
	h := newHarness(t, nil)
	h.embed.err = errors.New("model server crashed")
	doc := h.addDocument(t, "solar.txt", solarText)

	_, err := h.pipeline.ProcessDocument(context.Background(), doc.ID, solarText)
	assert.ErrorIs(t, err, domain.ErrModelUnavailable)

	stored, err := h.repo.GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusPending, stored.Status)
	assert.Empty(t, stored.Summary)
	assert.Empty(t, h.repo.chunks[doc.ID])
	assert.Equal(t, 0, h.vectors.Len())
	assert.Equal(t, int32(0), h.sum.calls.Load())
}

func TestProcessDocument_SummaryFailureLeavesNoArtifacts(t *testing.T) {
	h := newHarness(t, nil)
	h.sum.err = errors.New("out of memory")
	doc := h.addDocument(t, "solar.txt", solarText)

	_, err := h.pipeline.ProcessDocument(context.Background(), doc.ID, solarText)
	assert.ErrorIs(t, err, domain.ErrModelUnavailable)

	assert.Empty(t, h.repo.chunks[doc.ID])
	assert.Equal(t, 0, h.vectors.Len())
	assert.Equal(t, int64(0), h.repo.version)
}

func TestProcessDocument_FailedCommitRemovesVectors(t *testing.T) {
	h := newHarness(t, nil)
	h.repo.saveErr = errors.New("connection reset")
	doc := h.addDocument(t, "solar.txt", solarText)

	_, err := h.pipeline.ProcessDocument(context.Background(), doc.ID, solarText)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	assert.Equal(t, 0, h.vectors.Len())
	assert.Empty(t, h.repo.chunks[doc.ID])
	assert.Equal(t, int64(0), h.repo.version)
}

func TestProcessDocument_TruncatesLongDocuments(t *testing.T) {
	h := newHarness(t, nil)
	text := words(10000)
	doc := h.addDocument(t, "long.txt", text)

	res, err := h.pipeline.ProcessDocument(context.Background(), doc.ID, text)
	require.NoError(t, err)

	assert.True(t, res.Truncated)
	assert.Equal(t, 10000, res.WordCount)

	covered := make([]string, 0, len(res.Chunks))
	total := 0
	for _, ch := range res.Chunks {
		assert.LessOrEqual(t, ch.WordCount, 300)
		total += ch.WordCount
		covered = append(covered, ch.Content)
	}
	assert.Equal(t, 3000, total)
	assert.Equal(t, words(3000), strings.Join(covered, " "))

	stored, err := h.repo.GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.True(t, stored.Truncated)
}

func TestProcessDocument_IdenticalTextSharesSummary(t *testing.T) {
	h := newHarness(t, nil)
	first := h.ingest(t, "a.txt", solarText)
	calls := h.sum.calls.Load()
	require.Greater(t, calls, int32(0))

	// Same text modulo whitespace and case.
	variant := strings.ToUpper(strings.ReplaceAll(solarText, " ", "   "))
	second := h.ingest(t, "b.txt", variant)

	assert.Equal(t, calls, h.sum.calls.Load())

	a, _ := h.repo.GetByID(context.Background(), first.ID)
	b, _ := h.repo.GetByID(context.Background(), second.ID)
	assert.Equal(t, a.Summary, b.Summary)
	assert.Equal(t, a.ContentHash, b.ContentHash)
}

func TestProcessDocument_IsDeterministic(t *testing.T) {
	h := newHarness(t, nil)
	doc := h.addDocument(t, "solar.txt", solarText)

	first, err := h.pipeline.ProcessDocument(context.Background(), doc.ID, solarText)
	require.NoError(t, err)
	second, err := h.pipeline.ProcessDocument(context.Background(), doc.ID, solarText)
	require.NoError(t, err)

	require.Equal(t, len(first.Chunks), len(second.Chunks))
	for i := range first.Chunks {
		assert.Equal(t, first.Chunks[i].Content, second.Chunks[i].Content)
		assert.InDeltaSlice(t, first.Chunks[i].Embedding, second.Chunks[i].Embedding, 1e-6)
	}
	assert.Equal(t, first.Summary, second.Summary)
	// Reprocessing replaces vectors rather than adding to them.
	assert.Equal(t, len(second.Chunks), h.vectors.Len())
}

func TestProcessStored_UsesStoredContent(t *testing.T) {
	h := newHarness(t, nil)
	doc := h.addDocument(t, "solar.txt", solarText)

	res, err := h.pipeline.ProcessStored(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, res.DocumentID)

	_, err = h.pipeline.ProcessStored(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestMarkFailed_StoresBoundedMessage(t *testing.T) {
	h := newHarness(t, nil)
	doc := h.addDocument(t, "solar.txt", solarText)

	cause := errors.New(strings.Repeat("x", 2000))
	require.NoError(t, h.pipeline.MarkFailed(context.Background(), doc.ID, cause))

	stored, err := h.repo.GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusFailed, stored.Status)
	assert.Len(t, stored.Error, domain.MaxErrorLength)

	require.NoError(t, h.pipeline.MarkPending(context.Background(), doc.ID))
	stored, _ = h.repo.GetByID(context.Background(), doc.ID)
	assert.Equal(t, domain.DocumentStatusPending, stored.Status)
	assert.Empty(t, stored.Error)
}
