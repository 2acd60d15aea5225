// Package destinations implements the two destination families of §4.6:
// VectorDB (Qdrant, Vespa) and GraphDB (Neo4j). All destinations share a
// tenant-scoping and idempotent-delete contract; VectorDB destinations
// additionally select a processing_requirement that decides whether the
// pipeline or the destination itself does chunking/embedding.
package destinations

import (
	"context"

	"github.com/airweave-ai/airweave-sync/internal/entity"
)

// ProcessingRequirement selects which bulk-insert flavor a VectorDB
// destination needs.
type ProcessingRequirement string

const (
	// RequiresPreEmbeddedChunks means the pipeline must hash/chunk/embed
	// before calling BulkInsert (Qdrant).
	RequiresPreEmbeddedChunks ProcessingRequirement = "pre_embedded_chunks"
	// RequiresRawEntities means the destination does its own
	// chunking/embedding (Vespa).
	RequiresRawEntities ProcessingRequirement = "raw_entities"
)

// VectorDB is the shared contract for Qdrant and Vespa.
type VectorDB interface {
	Name() string
	ProcessingRequirement() ProcessingRequirement

	// SetupCollection is idempotent: Qdrant creates the collection with the
	// given vector size; Vespa verifies the pre-deployed schema is
	// reachable (no-op semantics).
	SetupCollection(ctx context.Context, collectionID string, vectorSize int) error

	// BulkInsert accepts pre-embedded chunk entities (RequiresPreEmbeddedChunks).
	BulkInsert(ctx context.Context, collectionID string, chunks []*entity.Entity) error
	// BulkInsertRaw accepts raw entities and lets the destination embed/chunk
	// (RequiresRawEntities).
	BulkInsertRaw(ctx context.Context, collectionID string, entities []*entity.Entity) error

	Delete(ctx context.Context, collectionID, dbEntityID string) error
	BulkDelete(ctx context.Context, collectionID string, entityIDs []string, syncID string) error
	BulkDeleteByParentID(ctx context.Context, collectionID, parentID, syncID string) error
	DeleteBySyncID(ctx context.Context, collectionID, syncID string) error
}

// GraphDB is the shared contract for Neo4j.
type GraphDB interface {
	Name() string
	SetupCollection(ctx context.Context, collectionID string) error
	BulkInsert(ctx context.Context, collectionID string, entities []*entity.Entity) error
	Delete(ctx context.Context, collectionID, entityID string) error
	BulkDeleteByParentID(ctx context.Context, collectionID, parentID, syncID string) error
	DeleteBySyncID(ctx context.Context, collectionID, syncID string) error
}

// documentID computes the deterministic vector-document id from §4.6:
// "{collection_id}:{entity_id}" for a parent, or
// "{collection_id}:{entity_id}__chunk_{i}" for a chunk.
func documentID(collectionID string, e *entity.Entity) string {
	baseEntityID := e.EntityID
	if e.Kind == entity.KindChunk {
		baseEntityID = e.System.OriginalEntityID
	}
	id := collectionID + ":" + baseEntityID
	if e.Kind == entity.KindChunk {
		id += "__chunk_" + itoa(e.System.ChunkIndex)
	}
	return id
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
