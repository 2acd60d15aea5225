// Package pipeline implements the EntityPipeline of §4.3: a stateless batch
// processor that hashes, builds textual representations for, chunks,
// multiplies, and embeds a batch of in-memory entities before they reach the
// ActionResolver. Grounded on eve.evalgo.org/workflow's Expander: that type
// turns one SemanticItemList into a fan-out of dependent Actions via
// expandLoop, bounded by a maxIter safety limit; Multiply here is the same
// one-parent-to-many-children shape, retargeted from actions to chunk
// entities.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/airweave-ai/airweave-sync/internal/entity"
	"github.com/airweave-ai/airweave-sync/internal/logging"
	"github.com/airweave-ai/airweave-sync/internal/workerpool"
)

// maxChunksPerEntity guards against a runaway converter the way expandLoop's
// maxIter guards against a cyclic action graph.
const maxChunksPerEntity = 10000

// Chunk is one piece of chunkable text produced by a Converter.
type Chunk struct {
	Text string
}

// Converter yields chunks for one file entity's textual representation. A
// converter is selected by file extension (§4.3, "routed by extension to a
// type-specific converter"). Returning (nil, nil) skips just this one path;
// returning an error fails the entire batch the converter was asked to
// handle.
type Converter interface {
	Convert(ctx context.Context, e *entity.Entity) ([]Chunk, error)
}

// TextualRepresentationBuilder produces the deterministic, chunkable text for
// one entity: a metadata header plus body. Entities with no embeddable
// content still get a minimal metadata-only representation.
type TextualRepresentationBuilder interface {
	Build(ctx context.Context, e *entity.Entity) (string, error)
}

// DenseEmbedder embeds textual_representation into a fixed-size vector.
type DenseEmbedder interface {
	ModelName() string
	VectorSize() int
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// SparseEmbedder embeds the full JSON of a chunk entity for keyword/BM25
// routing.
type SparseEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([]map[uint32]float32, error)
}

// CollectionStamp is the embedding-config contract a Collection must satisfy:
// stamped on first successful embed, compared on every subsequent run.
type CollectionStamp struct {
	EmbeddingModelName string
	VectorSize         int
}

// CollectionStore persists and retrieves a Collection's embedding-config
// stamp (§4.3, "Embedding-config validation").
type CollectionStore interface {
	GetStamp(ctx context.Context, collectionID string) (CollectionStamp, bool, error)
	SetStamp(ctx context.Context, collectionID string, stamp CollectionStamp) error
}

// Pipeline is the stateless batch processor. It holds no per-run state;
// every method takes the batch it operates on as an argument.
type Pipeline struct {
	converters       map[string]Converter
	textBuilder      TextualRepresentationBuilder
	dense            DenseEmbedder
	sparse           SparseEmbedder
	collections      CollectionStore
	fileReadSem      chan struct{}
	logger           *logging.ContextLogger
}

// Config wires the pluggable stages of the pipeline.
type Config struct {
	Converters            map[string]Converter
	TextBuilder            TextualRepresentationBuilder
	Dense                  DenseEmbedder
	Sparse                 SparseEmbedder
	Collections            CollectionStore
	MaxConcurrentFileReads int
}

func New(cfg Config, logger *logging.ContextLogger) *Pipeline {
	maxReads := cfg.MaxConcurrentFileReads
	if maxReads <= 0 {
		maxReads = 8
	}
	return &Pipeline{
		converters:  cfg.Converters,
		textBuilder: cfg.TextBuilder,
		dense:       cfg.Dense,
		sparse:      cfg.Sparse,
		collections: cfg.Collections,
		fileReadSem: make(chan struct{}, maxReads),
		logger:      logger,
	}
}

// HashBatch computes the hash law of §4.3 over every entity, batch-parallel
// with fileReadSem bounding concurrent file reads. It never mutates the
// ordering of the batch and never drops an entity.
func (p *Pipeline) HashBatch(ctx context.Context, batch []*entity.Entity) error {
	var wg sync.WaitGroup
	errs := make([]error, len(batch))

	for i, e := range batch {
		wg.Add(1)
		go func(i int, e *entity.Entity) {
			defer wg.Done()
			if e.IsFile() {
				p.fileReadSem <- struct{}{}
				defer func() { <-p.fileReadSem }()
			}
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("pipeline: hashing %s panicked: %v", e.EntityID, r)
				}
			}()
			e.System.Hash = entity.ComputeHash(e)
		}(i, e)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// BuildTextualRepresentations runs the configured builder over every entity
// in the batch, including content-free entities (which still receive a
// minimal metadata-only representation per §4.3).
func (p *Pipeline) BuildTextualRepresentations(ctx context.Context, batch []*entity.Entity) error {
	for _, e := range batch {
		text, err := p.textBuilder.Build(ctx, e)
		if err != nil {
			return fmt.Errorf("pipeline: building textual representation for %s: %w", e.EntityID, err)
		}
		e.TextualRepresentation = text
	}
	return nil
}

// converterFor selects a Converter by the entity's file extension, the way
// §4.3 describes "routed by extension to a type-specific converter".
func (p *Pipeline) converterFor(e *entity.Entity) (Converter, bool) {
	ext := strings.ToLower(filepath.Ext(e.FileName))
	c, ok := p.converters[ext]
	return c, ok
}

// ChunkResult reports the outcome of chunking one file entity.
type ChunkResult struct {
	Entity  *entity.Entity
	Chunks  []Chunk
	Skipped bool
	Reason  string
}

// ChunkBatch converts every file entity in the batch to chunks. A converter
// returning an error fails the whole batch (ChunkBatch returns that error
// and no results, per §4.3's "fail entire batch" converter mode); a
// converter returning (nil, nil) for one path only skips that file.
// Non-file entities pass through untouched and are not part of the result.
func (p *Pipeline) ChunkBatch(ctx context.Context, batch []*entity.Entity) ([]ChunkResult, error) {
	results := make([]ChunkResult, 0, len(batch))

	for _, e := range batch {
		if !e.IsFile() {
			continue
		}
		converter, ok := p.converterFor(e)
		if !ok {
			results = append(results, ChunkResult{Entity: e, Skipped: true, Reason: "unsupported extension"})
			continue
		}

		chunks, err := converter.Convert(ctx, e)
		if err != nil {
			return nil, fmt.Errorf("pipeline: converter failed for batch containing %s: %w", e.EntityID, err)
		}
		if chunks == nil {
			results = append(results, ChunkResult{Entity: e, Skipped: true, Reason: "converter returned no chunks"})
			continue
		}
		if len(chunks) > maxChunksPerEntity {
			return nil, fmt.Errorf("pipeline: %s produced %d chunks, exceeding the %d safety limit", e.EntityID, len(chunks), maxChunksPerEntity)
		}
		results = append(results, ChunkResult{Entity: e, Chunks: chunks})
	}

	return results, nil
}

// Multiply turns each chunk result into chunk entities (§4.3): one per
// non-empty chunk, entity id "{parent}.__chunk_{i}", chunk_index = i,
// original_entity_id = parent.entity_id. Empty/whitespace-only chunks are
// dropped. The parent's textual representation is released after
// multiplication to bound memory.
func Multiply(results []ChunkResult) []*entity.Entity {
	var out []*entity.Entity

	for _, r := range results {
		if r.Skipped {
			continue
		}
		parent := r.Entity
		i := 0
		for _, c := range r.Chunks {
			if strings.TrimSpace(c.Text) == "" {
				continue
			}
			child := &entity.Entity{
				EntityID:              entity.ChunkEntityID(parent.EntityID, i),
				EntityDefinitionID:    parent.EntityDefinitionID,
				Kind:                  entity.KindChunk,
				ParentEntityID:        parent.EntityID,
				Breadcrumbs:           parent.Breadcrumbs,
				TextualRepresentation: c.Text,
				CreatedAt:             parent.CreatedAt,
			}
			child.System = parent.System
			child.System.ChunkIndex = i
			child.System.OriginalEntityID = parent.EntityID
			out = append(out, child)
			i++
		}
		parent.TextualRepresentation = ""
	}

	return out
}

// Embed runs one dense-embedder call and one sparse-embedder call over the
// whole batch of chunks (§4.3). A missing vector for any chunk aborts the
// batch with a SyncFailureError: embedding failures are never per-entity.
func (p *Pipeline) Embed(ctx context.Context, chunks []*entity.Entity) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.TextualRepresentation
	}

	dense, err := p.dense.EmbedBatch(ctx, texts)
	if err != nil {
		return &workerpool.SyncFailureError{Reason: "dense embedding batch failed", Err: err}
	}
	if len(dense) != len(chunks) {
		return &workerpool.SyncFailureError{Reason: fmt.Sprintf("dense embedder returned %d vectors for %d chunks", len(dense), len(chunks))}
	}

	jsons := make([]string, len(chunks))
	for i, c := range chunks {
		data, err := json.Marshal(c)
		if err != nil {
			return &workerpool.SyncFailureError{Reason: "marshaling chunk " + c.EntityID + " for sparse embedding", Err: err}
		}
		jsons[i] = string(data)
	}
	sparse, err := p.sparse.EmbedBatch(ctx, jsons)
	if err != nil {
		return &workerpool.SyncFailureError{Reason: "sparse embedding batch failed", Err: err}
	}
	if len(sparse) != len(chunks) {
		return &workerpool.SyncFailureError{Reason: fmt.Sprintf("sparse embedder returned %d vectors for %d chunks", len(sparse), len(chunks))}
	}

	for i, c := range chunks {
		if dense[i] == nil {
			return &workerpool.SyncFailureError{Reason: "missing dense vector for " + c.EntityID}
		}
		c.System.DenseEmbedding = dense[i]
		c.System.SparseEmbedding = sparse[i]
	}

	return nil
}

// ValidateEmbeddingConfig stamps collection.embedding_model_name and
// collection.vector_size on first successful embed, and on every subsequent
// run compares against the embedder's current model/size (§4.3). A mismatch
// raises a SyncFailureError immediately, before any embedding work happens.
func (p *Pipeline) ValidateEmbeddingConfig(ctx context.Context, collectionID string) error {
	current := CollectionStamp{
		EmbeddingModelName: p.dense.ModelName(),
		VectorSize:         p.dense.VectorSize(),
	}

	existing, found, err := p.collections.GetStamp(ctx, collectionID)
	if err != nil {
		return fmt.Errorf("pipeline: loading embedding config stamp for %s: %w", collectionID, err)
	}
	if !found {
		if err := p.collections.SetStamp(ctx, collectionID, current); err != nil {
			return fmt.Errorf("pipeline: stamping embedding config for %s: %w", collectionID, err)
		}
		return nil
	}

	if existing.EmbeddingModelName != current.EmbeddingModelName || existing.VectorSize != current.VectorSize {
		return &workerpool.SyncFailureError{Reason: fmt.Sprintf(
			"embedding config changed for collection %s: stamped %s/%d, current %s/%d",
			collectionID, existing.EmbeddingModelName, existing.VectorSize,
			current.EmbeddingModelName, current.VectorSize,
		)}
	}
	return nil
}

// Run executes the full batch pipeline in order: hash, build textual
// representations, chunk, multiply, embed. It returns the chunk entities
// ready for the ActionResolver plus the count of files skipped during
// chunking (unsupported extension or an empty converter result), which the
// caller folds into the run's skipped counter; the original batch's parent
// entities remain in-place (with their textual representation released) for
// callers that need to track them (e.g. deletion bookkeeping).
func (p *Pipeline) Run(ctx context.Context, collectionID string, batch []*entity.Entity) ([]*entity.Entity, int, error) {
	if err := p.ValidateEmbeddingConfig(ctx, collectionID); err != nil {
		return nil, 0, err
	}
	if err := p.HashBatch(ctx, batch); err != nil {
		return nil, 0, err
	}
	if err := p.BuildTextualRepresentations(ctx, batch); err != nil {
		return nil, 0, err
	}

	fileResults, err := p.ChunkBatch(ctx, batch)
	if err != nil {
		return nil, 0, err
	}
	chunks := Multiply(fileResults)

	skipped := 0
	for _, r := range fileResults {
		if r.Skipped {
			skipped++
		}
	}

	nonFile := make([]*entity.Entity, 0, len(batch))
	for _, e := range batch {
		if !e.IsFile() {
			nonFile = append(nonFile, e)
		}
	}
	chunks = append(chunks, nonFile...)

	if err := p.Embed(ctx, chunks); err != nil {
		return nil, 0, err
	}
	return chunks, skipped, nil
}
