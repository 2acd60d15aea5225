// Package localembed is the default, no-external-dependency
// TextualRepresentationBuilder/DenseEmbedder/SparseEmbedder/Converter set
// wired into internal/pipeline when no managed embedding provider is
// configured. Nothing in the pack ships a Go embedding-model SDK (OpenAI's
// and Cohere's are Python-only in original_source/), so this package stands
// in the same place a teacher-style package would wrap one: a small,
// deterministic, offline implementation that satisfies the pipeline's
// interfaces so a sync run can complete end to end without a network call
// to an embedding provider. Production deployments are expected to supply a
// real DenseEmbedder/SparseEmbedder via pipeline.Config instead.
package localembed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/airweave-ai/airweave-sync/internal/entity"
	"github.com/airweave-ai/airweave-sync/internal/pipeline"
)

const ModelName = "local-hash-384"

// VectorSize is the dimensionality hash embeddings are projected into.
const VectorSize = 384

// TextBuilder builds a deterministic metadata header plus body for any
// entity kind, satisfying pipeline.TextualRepresentationBuilder.
type TextBuilder struct{}

func (TextBuilder) Build(ctx context.Context, e *entity.Entity) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "entity_id: %s\n", e.EntityID)
	if e.EntityDefinitionID != "" {
		fmt.Fprintf(&b, "entity_definition_id: %s\n", e.EntityDefinitionID)
	}
	for _, crumb := range e.Breadcrumbs {
		fmt.Fprintf(&b, "breadcrumb: %s (%s)\n", crumb.Name, crumb.Type)
	}
	b.WriteString("\n")

	if e.TextualRepresentation != "" {
		b.WriteString(e.TextualRepresentation)
		return b.String(), nil
	}
	if len(e.Content) == 0 {
		return b.String(), nil
	}
	body, err := json.Marshal(e.Content)
	if err != nil {
		return "", fmt.Errorf("localembed: marshaling content for %s: %w", e.EntityID, err)
	}
	b.Write(body)
	return b.String(), nil
}

// DenseEmbedder hashes each text deterministically into a fixed-size vector.
// Cosine similarity over these vectors carries no semantic meaning; this
// exists to exercise the pipeline's embed stage and the destinations'
// vector-write paths, not to power real retrieval.
type DenseEmbedder struct{}

func (DenseEmbedder) ModelName() string { return ModelName }
func (DenseEmbedder) VectorSize() int   { return VectorSize }

func (DenseEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = hashVector(text, VectorSize)
	}
	return out, nil
}

func hashVector(text string, size int) []float32 {
	sum := sha256.Sum256([]byte(text))
	seed := binary.BigEndian.Uint32(sum[0:4])
	vec := make([]float32, size)
	for i := range vec {
		seed = seed*2654435761 + uint32(i)
		vec[i] = (float32(seed%2000) - 1000) / 1000
	}
	return vec
}

// SparseEmbedder produces a word-frequency sparse vector keyed by a 32-bit
// token hash, standing in for a real BM25/keyword embedder.
type SparseEmbedder struct{}

func (SparseEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]map[uint32]float32, error) {
	out := make([]map[uint32]float32, len(texts))
	for i, text := range texts {
		out[i] = termFrequencies(text)
	}
	return out, nil
}

func termFrequencies(text string) map[uint32]float32 {
	freqs := map[uint32]float32{}
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(word))
		freqs[h.Sum32()]++
	}
	total := float32(0)
	for _, c := range freqs {
		total += c
	}
	if total == 0 {
		return freqs
	}
	for k, c := range freqs {
		freqs[k] = c / total
	}
	return freqs
}

// PlainTextConverter chunks a downloaded file entity's textual
// representation into fixed-size windows, satisfying pipeline.Converter for
// the extensions localembed.SupportedExtensions names.
type PlainTextConverter struct {
	WindowSize int
}

// SupportedExtensions is the set of file extensions PlainTextConverter
// handles: anything fileservice already staged as readable text.
var SupportedExtensions = []string{".txt", ".md", ".csv", ".json", ".html"}

func (c PlainTextConverter) Convert(ctx context.Context, e *entity.Entity) ([]pipeline.Chunk, error) {
	window := c.WindowSize
	if window <= 0 {
		window = 2000
	}
	text := e.TextualRepresentation
	if text == "" {
		return nil, nil
	}
	var chunks []pipeline.Chunk
	for start := 0; start < len(text); start += window {
		end := start + window
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, pipeline.Chunk{Text: text[start:end]})
	}
	return chunks, nil
}

var (
	_ pipeline.TextualRepresentationBuilder = TextBuilder{}
	_ pipeline.DenseEmbedder                = DenseEmbedder{}
	_ pipeline.SparseEmbedder               = SparseEmbedder{}
	_ pipeline.Converter                    = PlainTextConverter{}
)
