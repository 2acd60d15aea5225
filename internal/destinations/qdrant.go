package destinations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/airweave-ai/airweave-sync/internal/entity"
)

// Qdrant is a VectorDB destination requiring pre-embedded chunk entities;
// the EntityPipeline hashes/chunks/embeds before calling BulkInsert.
type Qdrant struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewQdrant(baseURL, apiKey string, timeout time.Duration) *Qdrant {
	return &Qdrant{baseURL: baseURL, apiKey: apiKey, httpClient: &http.Client{Timeout: timeout}}
}

func (q *Qdrant) Name() string { return "qdrant" }

func (q *Qdrant) ProcessingRequirement() ProcessingRequirement {
	return RequiresPreEmbeddedChunks
}

func (q *Qdrant) do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("qdrant: marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("qdrant: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qdrant: request failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("qdrant: unexpected status %d for %s %s", resp.StatusCode, method, path)
	}
	return resp, nil
}

// SetupCollection is idempotent: it creates the collection with the given
// vector size unless a GET shows the collection already exists.
func (q *Qdrant) SetupCollection(ctx context.Context, collectionID string, vectorSize int) error {
	if existing, err := q.do(ctx, http.MethodGet, "/collections/"+collectionID, nil); err == nil {
		existing.Body.Close()
		return nil
	}
	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	resp, err := q.do(ctx, http.MethodPut, "/collections/"+collectionID, body)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func pointIDFor(collectionID string, e *entity.Entity) string {
	return documentID(collectionID, e)
}

// BulkInsert upserts pre-embedded chunk entities as Qdrant points.
func (q *Qdrant) BulkInsert(ctx context.Context, collectionID string, chunks []*entity.Entity) error {
	points := make([]map[string]interface{}, 0, len(chunks))
	for _, c := range chunks {
		payload := map[string]interface{}{
			"entity_id":             c.EntityID,
			"entity_definition_id":  c.EntityDefinitionID,
			"textual_representation": c.TextualRepresentation,
			"airweave_collection_id": collectionID,
			"sync_id":               c.System.SyncID,
			"parent_entity_id":      c.ParentEntityID,
			"chunk_index":           c.System.ChunkIndex,
		}
		points = append(points, map[string]interface{}{
			"id":      pointIDFor(collectionID, c),
			"vector":  c.System.DenseEmbedding,
			"payload": payload,
		})
	}

	resp, err := q.do(ctx, http.MethodPut, "/collections/"+collectionID+"/points?wait=true", map[string]interface{}{
		"points": points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: bulk insert: %w", err)
	}
	resp.Body.Close()
	return nil
}

// BulkInsertRaw is unsupported: Qdrant's processing_requirement mandates
// pre-embedded chunks.
func (q *Qdrant) BulkInsertRaw(ctx context.Context, collectionID string, entities []*entity.Entity) error {
	return fmt.Errorf("qdrant: BulkInsertRaw unsupported, processing_requirement is %s", RequiresPreEmbeddedChunks)
}

func (q *Qdrant) Delete(ctx context.Context, collectionID, dbEntityID string) error {
	resp, err := q.do(ctx, http.MethodPost, "/collections/"+collectionID+"/points/delete?wait=true", map[string]interface{}{
		"points": []string{collectionID + ":" + dbEntityID},
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete: %w", err)
	}
	resp.Body.Close()
	return nil
}

func (q *Qdrant) BulkDelete(ctx context.Context, collectionID string, entityIDs []string, syncID string) error {
	ids := make([]string, 0, len(entityIDs))
	for _, id := range entityIDs {
		ids = append(ids, collectionID+":"+id)
	}
	resp, err := q.do(ctx, http.MethodPost, "/collections/"+collectionID+"/points/delete?wait=true", map[string]interface{}{
		"points": ids,
	})
	if err != nil {
		return fmt.Errorf("qdrant: bulk delete: %w", err)
	}
	resp.Body.Close()
	return nil
}

func (q *Qdrant) BulkDeleteByParentID(ctx context.Context, collectionID, parentID, syncID string) error {
	filter := map[string]interface{}{
		"must": []map[string]interface{}{
			{"key": "parent_entity_id", "match": map[string]interface{}{"value": parentID}},
			{"key": "airweave_collection_id", "match": map[string]interface{}{"value": collectionID}},
		},
	}
	if syncID != "" {
		filter["must"] = append(filter["must"].([]map[string]interface{}), map[string]interface{}{
			"key": "sync_id", "match": map[string]interface{}{"value": syncID},
		})
	}
	resp, err := q.do(ctx, http.MethodPost, "/collections/"+collectionID+"/points/delete?wait=true", map[string]interface{}{
		"filter": filter,
	})
	if err != nil {
		return fmt.Errorf("qdrant: bulk delete by parent: %w", err)
	}
	resp.Body.Close()
	return nil
}

func (q *Qdrant) DeleteBySyncID(ctx context.Context, collectionID, syncID string) error {
	filter := map[string]interface{}{
		"must": []map[string]interface{}{
			{"key": "sync_id", "match": map[string]interface{}{"value": syncID}},
			{"key": "airweave_collection_id", "match": map[string]interface{}{"value": collectionID}},
		},
	}
	resp, err := q.do(ctx, http.MethodPost, "/collections/"+collectionID+"/points/delete?wait=true", map[string]interface{}{
		"filter": filter,
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete by sync id: %w", err)
	}
	resp.Body.Close()
	return nil
}
