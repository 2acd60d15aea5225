package localembed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airweave-ai/airweave-sync/internal/entity"
)

func TestDenseEmbedderIsDeterministic(t *testing.T) {
	var emb DenseEmbedder
	a, err := emb.EmbedBatch(context.Background(), []string{"hello world"})
	require.NoError(t, err)
	b, err := emb.EmbedBatch(context.Background(), []string{"hello world"})
	require.NoError(t, err)

	assert.Len(t, a[0], VectorSize)
	assert.Equal(t, a[0], b[0])
}

func TestDenseEmbedderDiffersAcrossDistinctText(t *testing.T) {
	var emb DenseEmbedder
	out, err := emb.EmbedBatch(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	assert.NotEqual(t, out[0], out[1])
}

func TestSparseEmbedderNormalizesFrequencies(t *testing.T) {
	var emb SparseEmbedder
	out, err := emb.EmbedBatch(context.Background(), []string{"foo foo bar"})
	require.NoError(t, err)

	var total float32
	for _, freq := range out[0] {
		total += freq
	}
	assert.InDelta(t, 1.0, total, 0.01)
}

func TestTextBuilderFallsBackToContentJSON(t *testing.T) {
	var tb TextBuilder
	e := &entity.Entity{EntityID: "e1", Content: map[string]interface{}{"title": "hi"}}
	text, err := tb.Build(context.Background(), e)
	require.NoError(t, err)
	assert.Contains(t, text, "e1")
	assert.Contains(t, text, "title")
}

func TestPlainTextConverterChunksByWindow(t *testing.T) {
	c := PlainTextConverter{WindowSize: 4}
	e := &entity.Entity{TextualRepresentation: "abcdefgh"}
	chunks, err := c.Convert(context.Background(), e)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "abcd", chunks[0].Text)
	assert.Equal(t, "efgh", chunks[1].Text)
}
