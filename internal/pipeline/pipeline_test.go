package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/airweave-ai/airweave-sync/internal/entity"
	"github.com/airweave-ai/airweave-sync/internal/logging"
)

type fixedConverter struct {
	chunks []Chunk
	err    error
}

func (c *fixedConverter) Convert(ctx context.Context, e *entity.Entity) ([]Chunk, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.chunks, nil
}

type headerBuilder struct{}

func (headerBuilder) Build(ctx context.Context, e *entity.Entity) (string, error) {
	if len(e.Content) == 0 && !e.IsFile() {
		return "metadata:" + e.EntityID, nil
	}
	return "body:" + e.EntityID, nil
}

type fakeDense struct {
	model string
	size  int
	fail  bool
}

func (d *fakeDense) ModelName() string { return d.model }
func (d *fakeDense) VectorSize() int   { return d.size }
func (d *fakeDense) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if d.fail {
		return nil, errors.New("embedder unavailable")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, d.size)
	}
	return out, nil
}

type fakeSparse struct{}

func (fakeSparse) EmbedBatch(ctx context.Context, texts []string) ([]map[uint32]float32, error) {
	out := make([]map[uint32]float32, len(texts))
	for i := range texts {
		out[i] = map[uint32]float32{1: 0.5}
	}
	return out, nil
}

type memStamps struct {
	stamps map[string]CollectionStamp
}

func newMemStamps() *memStamps { return &memStamps{stamps: map[string]CollectionStamp{}} }

func (m *memStamps) GetStamp(ctx context.Context, collectionID string) (CollectionStamp, bool, error) {
	s, ok := m.stamps[collectionID]
	return s, ok, nil
}

func (m *memStamps) SetStamp(ctx context.Context, collectionID string, stamp CollectionStamp) error {
	m.stamps[collectionID] = stamp
	return nil
}

func newTestPipeline(dense *fakeDense, stamps CollectionStore) *Pipeline {
	return New(Config{
		Converters: map[string]Converter{
			".txt": &fixedConverter{chunks: []Chunk{{Text: "hello"}, {Text: "world"}}},
		},
		TextBuilder: headerBuilder{},
		Dense:       dense,
		Sparse:      fakeSparse{},
		Collections: stamps,
	}, logging.NewContextLogger(nil, nil))
}

func TestHashBatchIsDeterministicAndConcurrencySafe(t *testing.T) {
	batch := []*entity.Entity{
		{EntityID: "a", Content: map[string]interface{}{"x": 1}},
		{EntityID: "b", Kind: entity.KindFile, FileName: "doc.txt", FileContentBytes: []byte("hi")},
	}
	p := newTestPipeline(&fakeDense{model: "m1", size: 4}, newMemStamps())
	if err := p.HashBatch(context.Background(), batch); err != nil {
		t.Fatalf("HashBatch: %v", err)
	}
	for _, e := range batch {
		if e.System.Hash == "" {
			t.Fatalf("expected hash set for %s", e.EntityID)
		}
	}
}

func TestChunkAndMultiplyProducesChunkEntities(t *testing.T) {
	parent := &entity.Entity{EntityID: "file-1", Kind: entity.KindFile, FileName: "report.txt"}
	p := newTestPipeline(&fakeDense{model: "m1", size: 4}, newMemStamps())

	results, err := p.ChunkBatch(context.Background(), []*entity.Entity{parent})
	if err != nil {
		t.Fatalf("ChunkBatch: %v", err)
	}
	chunks := Multiply(results)

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunk entities, got %d", len(chunks))
	}
	if chunks[0].EntityID != "file-1.__chunk_0" || chunks[1].EntityID != "file-1.__chunk_1" {
		t.Fatalf("unexpected chunk ids: %q %q", chunks[0].EntityID, chunks[1].EntityID)
	}
	if chunks[0].System.OriginalEntityID != "file-1" {
		t.Fatalf("expected original_entity_id set to parent")
	}
	if parent.TextualRepresentation != "" {
		t.Fatalf("expected parent textual representation released after multiply")
	}
}

func TestMultiplyDropsEmptyChunks(t *testing.T) {
	results := []ChunkResult{
		{Entity: &entity.Entity{EntityID: "p"}, Chunks: []Chunk{{Text: "  "}, {Text: "real"}, {Text: ""}}},
	}
	chunks := Multiply(results)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 non-empty chunk, got %d", len(chunks))
	}
	if chunks[0].EntityID != "p.__chunk_0" {
		t.Fatalf("expected chunk index to only count non-empty chunks, got %q", chunks[0].EntityID)
	}
}

func TestUnsupportedExtensionIsSkippedNotFailed(t *testing.T) {
	p := newTestPipeline(&fakeDense{model: "m1", size: 4}, newMemStamps())
	e := &entity.Entity{EntityID: "f", Kind: entity.KindFile, FileName: "f.exe"}

	results, err := p.ChunkBatch(context.Background(), []*entity.Entity{e})
	if err != nil {
		t.Fatalf("ChunkBatch: %v", err)
	}
	if len(results) != 1 || !results[0].Skipped {
		t.Fatalf("expected the file to be marked skipped, got %+v", results)
	}
	if len(Multiply(results)) != 0 {
		t.Fatalf("expected no chunk entities from a skipped file")
	}
}

func TestConverterErrorFailsWholeBatch(t *testing.T) {
	p := New(Config{
		Converters: map[string]Converter{".txt": &fixedConverter{err: errors.New("corrupt archive")}},
		TextBuilder: headerBuilder{},
		Dense:       &fakeDense{model: "m1", size: 4},
		Sparse:      fakeSparse{},
		Collections: newMemStamps(),
	}, logging.NewContextLogger(nil, nil))

	_, err := p.ChunkBatch(context.Background(), []*entity.Entity{
		{EntityID: "f", Kind: entity.KindFile, FileName: "f.txt"},
	})
	if err == nil {
		t.Fatalf("expected converter failure to fail the whole batch")
	}
}

func TestEmbedAssignsDenseAndSparseVectors(t *testing.T) {
	p := newTestPipeline(&fakeDense{model: "m1", size: 4}, newMemStamps())
	chunks := []*entity.Entity{{EntityID: "c1", TextualRepresentation: "hello"}}

	if err := p.Embed(context.Background(), chunks); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(chunks[0].System.DenseEmbedding) != 4 {
		t.Fatalf("expected dense vector of size 4")
	}
	if chunks[0].System.SparseEmbedding == nil {
		t.Fatalf("expected sparse vector set")
	}
}

func TestEmbedFailureAbortsBatch(t *testing.T) {
	p := newTestPipeline(&fakeDense{model: "m1", size: 4, fail: true}, newMemStamps())
	chunks := []*entity.Entity{{EntityID: "c1", TextualRepresentation: "hello"}}

	err := p.Embed(context.Background(), chunks)
	if err == nil {
		t.Fatalf("expected embed failure to return an error")
	}
}

func TestValidateEmbeddingConfigStampsOnFirstRun(t *testing.T) {
	p := newTestPipeline(&fakeDense{model: "m1", size: 4}, newMemStamps())

	if err := p.ValidateEmbeddingConfig(context.Background(), "coll-1"); err != nil {
		t.Fatalf("ValidateEmbeddingConfig (first run): %v", err)
	}
	if err := p.ValidateEmbeddingConfig(context.Background(), "coll-1"); err != nil {
		t.Fatalf("ValidateEmbeddingConfig (second run, same config): %v", err)
	}
}

func TestValidateEmbeddingConfigRejectsMismatch(t *testing.T) {
	stamps := newMemStamps()
	p1 := newTestPipeline(&fakeDense{model: "m1", size: 4}, stamps)
	if err := p1.ValidateEmbeddingConfig(context.Background(), "coll-1"); err != nil {
		t.Fatalf("stamping run: %v", err)
	}

	p2 := newTestPipeline(&fakeDense{model: "m2", size: 8}, stamps)
	err := p2.ValidateEmbeddingConfig(context.Background(), "coll-1")
	if err == nil {
		t.Fatalf("expected embedding config mismatch to raise an error")
	}
}
