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

// Vespa is a VectorDB destination that does its own chunking/embedding:
// the pipeline hands it raw entities via BulkInsertRaw. Vespa has no
// selection-based bulk delete visit API reachable without a full document
// scan, so BulkDeleteByParentID here resolves the delete_by_selection open
// question (SPEC_FULL.md §13) as a list-then-delete fallback.
type Vespa struct {
	baseURL    string
	schema     string
	httpClient *http.Client
}

func NewVespa(baseURL, schema string, timeout time.Duration) *Vespa {
	return &Vespa{baseURL: baseURL, schema: schema, httpClient: &http.Client{Timeout: timeout}}
}

func (v *Vespa) Name() string { return "vespa" }

func (v *Vespa) ProcessingRequirement() ProcessingRequirement {
	return RequiresRawEntities
}

// SetupCollection verifies the pre-deployed schema is reachable; Vespa
// schemas are deployed out of band, so this is a liveness check, not a
// create call.
func (v *Vespa) SetupCollection(ctx context.Context, collectionID string, vectorSize int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/ApplicationStatus", nil)
	if err != nil {
		return fmt.Errorf("vespa: building status request: %w", err)
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vespa: schema unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("vespa: schema %s unreachable, status %d", v.schema, resp.StatusCode)
	}
	return nil
}

func (v *Vespa) feedOne(ctx context.Context, collectionID string, e *entity.Entity, fields map[string]interface{}) error {
	data, err := json.Marshal(map[string]interface{}{"fields": fields})
	if err != nil {
		return fmt.Errorf("vespa: marshaling document: %w", err)
	}

	docID := documentID(collectionID, e)
	path := fmt.Sprintf("/document/v1/%s/%s/docid/%s", collectionID, v.schema, docID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("vespa: building feed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vespa: feed request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("vespa: feed returned status %d for %s", resp.StatusCode, docID)
	}
	return nil
}

// BulkInsert is unsupported: Vespa's processing_requirement mandates raw
// entities so it can chunk/embed itself.
func (v *Vespa) BulkInsert(ctx context.Context, collectionID string, chunks []*entity.Entity) error {
	return fmt.Errorf("vespa: BulkInsert unsupported, processing_requirement is %s", RequiresRawEntities)
}

// BulkInsertRaw feeds raw entities; Vespa's own indexing pipeline performs
// chunking and embedding according to the deployed schema.
func (v *Vespa) BulkInsertRaw(ctx context.Context, collectionID string, entities []*entity.Entity) error {
	for _, e := range entities {
		fields := map[string]interface{}{
			"entity_id":               e.EntityID,
			"entity_definition_id":    e.EntityDefinitionID,
			"textual_representation":  e.TextualRepresentation,
			"airweave_collection_id":  collectionID,
			"sync_id":                 e.System.SyncID,
			"parent_entity_id":        e.ParentEntityID,
		}
		if err := v.feedOne(ctx, collectionID, e, fields); err != nil {
			return fmt.Errorf("vespa: bulk insert raw: %w", err)
		}
	}
	return nil
}

func (v *Vespa) Delete(ctx context.Context, collectionID, dbEntityID string) error {
	path := fmt.Sprintf("/document/v1/%s/%s/docid/%s:%s", collectionID, v.schema, collectionID, dbEntityID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, v.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("vespa: building delete request: %w", err)
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vespa: delete failed: %w", err)
	}
	defer resp.Body.Close()
	// Missing-tolerant: 404 is not an error for an idempotent delete.
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("vespa: delete returned status %d", resp.StatusCode)
	}
	return nil
}

func (v *Vespa) BulkDelete(ctx context.Context, collectionID string, entityIDs []string, syncID string) error {
	for _, id := range entityIDs {
		if err := v.Delete(ctx, collectionID, id); err != nil {
			return err
		}
	}
	return nil
}

// documentIDsVisitor lists the document ids under a selection. httpVisitor,
// its only implementation, issues one GET against Vespa's /document/v1
// visit API and returns the ids in that single response; continuation
// pages are not followed, so a selection larger than one page is only
// partly listed.
type documentIDsVisitor interface {
	Visit(ctx context.Context, collectionID, selection string) ([]string, error)
}

type httpVisitor struct {
	v *Vespa
}

func (h *httpVisitor) Visit(ctx context.Context, collectionID, selection string) ([]string, error) {
	path := fmt.Sprintf("/document/v1/%s/%s/docid?selection=%s&cluster=%s",
		collectionID, h.v.schema, selection, collectionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.v.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("vespa: building visit request: %w", err)
	}
	resp, err := h.v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vespa: visit failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("vespa: visit returned status %d", resp.StatusCode)
	}

	var body struct {
		Documents []struct {
			ID string `json:"id"`
		} `json:"documents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("vespa: decoding visit response: %w", err)
	}

	ids := make([]string, 0, len(body.Documents))
	for _, d := range body.Documents {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

// BulkDeleteByParentID has no selection-based bulk delete in Vespa's
// document API, so it visits (lists) every document matching the parent
// selection, then deletes each by id — the document-scan fallback.
func (v *Vespa) BulkDeleteByParentID(ctx context.Context, collectionID, parentID, syncID string) error {
	selection := fmt.Sprintf("%s.parent_entity_id=='%s'", v.schema, parentID)
	if syncID != "" {
		selection += fmt.Sprintf(" and %s.sync_id=='%s'", v.schema, syncID)
	}

	visitor := documentIDsVisitor(&httpVisitor{v: v})
	ids, err := visitor.Visit(ctx, collectionID, selection)
	if err != nil {
		return fmt.Errorf("vespa: scanning documents for parent %s: %w", parentID, err)
	}

	for _, id := range ids {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, v.baseURL+"/document/v1/"+id, nil)
		if err != nil {
			return fmt.Errorf("vespa: building scan-delete request: %w", err)
		}
		resp, err := v.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("vespa: scan-delete failed for %s: %w", id, err)
		}
		resp.Body.Close()
	}
	return nil
}

func (v *Vespa) DeleteBySyncID(ctx context.Context, collectionID, syncID string) error {
	selection := fmt.Sprintf("%s.sync_id=='%s'", v.schema, syncID)
	visitor := documentIDsVisitor(&httpVisitor{v: v})
	ids, err := visitor.Visit(ctx, collectionID, selection)
	if err != nil {
		return fmt.Errorf("vespa: scanning documents for sync %s: %w", syncID, err)
	}
	for _, id := range ids {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, v.baseURL+"/document/v1/"+id, nil)
		if err != nil {
			return fmt.Errorf("vespa: building scan-delete request: %w", err)
		}
		resp, err := v.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("vespa: scan-delete failed for %s: %w", id, err)
		}
		resp.Body.Close()
	}
	return nil
}
