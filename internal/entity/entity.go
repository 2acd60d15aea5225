// Package entity defines the unit of work streamed through the sync pipeline.
//
// An Entity is the typed, hashable record a source connector produces and a
// destination eventually persists. The shape follows the flexible
// Properties-map pattern eve.evalgo.org/semantic uses for its canonical
// Schema.org types: a small set of well-known fields plus an open
// map[string]interface{} for the source-specific payload.
package entity

import "time"

// Kind distinguishes the entity variants the pipeline must special-case.
type Kind string

const (
	KindStandard  Kind = "standard"
	KindFile      Kind = "file"
	KindChunk     Kind = "chunk"
	KindDeletion  Kind = "deletion"
	KindPolymorphic Kind = "polymorphic"
)

// ReservedTableDefinitionID is the entity_definition_id assigned to
// polymorphic (database-sourced) entities whose class can't be resolved to a
// compile-time registry entry.
const ReservedTableDefinitionID = "__polymorphic_table_entity__"

// SystemMetadata holds the mutable, system-owned fields every entity accrues
// as it passes through the pipeline. These are never part of the hash.
type SystemMetadata struct {
	Hash             string    `json:"hash,omitempty"`
	ChunkIndex       int       `json:"chunk_index,omitempty"`
	OriginalEntityID string    `json:"original_entity_id,omitempty"`
	DenseEmbedding   []float32 `json:"dense_embedding,omitempty"`
	SparseEmbedding  map[uint32]float32 `json:"sparse_embedding,omitempty"`
	SyncID           string    `json:"sync_id,omitempty"`
	SyncJobID        string    `json:"sync_job_id,omitempty"`
}

// Entity is the unit of work passed between pipeline stages.
type Entity struct {
	EntityID           string `json:"entity_id"`
	EntityDefinitionID string `json:"entity_definition_id"`
	Kind               Kind   `json:"kind"`

	// Breadcrumbs is the ordered ancestor path (workspace->project->task).
	// Volatile: display-only, excluded from the hash.
	Breadcrumbs []Breadcrumb `json:"breadcrumbs,omitempty"`

	// ParentEntityID links a chunk/derived entity back to its producer, used
	// by graph destinations to materialize IS_PARENT_OF relationships.
	ParentEntityID string `json:"parent_entity_id,omitempty"`

	// TextualRepresentation is the embeddable text, built post-chunking.
	// Released (cleared) on the parent once chunk entities are multiplied.
	TextualRepresentation string `json:"textual_representation,omitempty"`

	// Content carries the source-specific payload. For polymorphic entities
	// this is the entirety of the runtime-derived schema.
	Content map[string]interface{} `json:"content,omitempty"`

	// URL is volatile (token-refreshed download links must not change the
	// hash) and excluded.
	URL string `json:"url,omitempty"`

	// LocalPath is set on FileEntity variants once FileService has
	// downloaded the bytes to a temp path. Volatile, excluded from hash.
	LocalPath string `json:"local_path,omitempty"`

	// FileContentBytes/FileName/FileSize/FileContentType are the
	// content+metadata inputs to the file-entity hash law: renaming changes
	// the hash, a refreshed URL does not.
	FileContentBytes []byte `json:"-"`
	FileName         string `json:"file_name,omitempty"`
	FileSize         int64  `json:"file_size,omitempty"`
	FileContentType  string `json:"file_content_type,omitempty"`

	// Code-file specific fields (§4.3): included in the hash when present.
	CommitID string `json:"commit_id,omitempty"`
	SHA      string `json:"sha,omitempty"`
	Language string `json:"language,omitempty"`

	// DeletionStatus is set on deletion-entity variants; the only other
	// meaningful field on such an entity is EntityID.
	DeletionStatus string `json:"deletion_status,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`

	System SystemMetadata `json:"airweave_system_metadata"`
}

// Breadcrumb is one ancestor reference on an entity's path.
type Breadcrumb struct {
	EntityID string `json:"entity_id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
}

// IsDeletion reports whether e is a deletion marker (§3, "Deletion entity").
func (e *Entity) IsDeletion() bool {
	return e.Kind == KindDeletion || e.DeletionStatus == "removed"
}

// IsFile reports whether e carries downloadable file content.
func (e *Entity) IsFile() bool {
	return e.Kind == KindFile
}

// ChunkEntityID builds the deterministic id for the i-th chunk of parent.
func ChunkEntityID(parentEntityID string, i int) string {
	return parentEntityID + ".__chunk_" + itoa(i)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// DefinitionKey is the composite lookup key used by the persistence contract
// and the ActionResolver's bulk reads: (entity_id, entity_definition_id).
type DefinitionKey struct {
	EntityID           string
	EntityDefinitionID string
}

// Key returns e's lookup key, substituting the reserved polymorphic
// definition id when e carries none (per §4.4 classification rule 2).
func (e *Entity) Key() DefinitionKey {
	defID := e.EntityDefinitionID
	if defID == "" && e.Kind == KindPolymorphic {
		defID = ReservedTableDefinitionID
	}
	return DefinitionKey{EntityID: e.EntityID, EntityDefinitionID: defID}
}
