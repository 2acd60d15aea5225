package destinations

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/airweave-ai/airweave-sync/internal/entity"
)

// Neo4jGraph is the GraphDB destination of §4.6: nodes keyed by unique
// entity_id, IS_PARENT_OF relationships materialized after the bulk node
// insert via a single UNWIND query. Grounded directly on
// eve.evalgo.org/db/repository's Neo4jRepository: same
// driver.NewSession/ExecuteWrite/ExecuteRead shape and MERGE/UNWIND/DETACH
// DELETE query style, retargeted from Action/REQUIRES graphs to
// Entity/IS_PARENT_OF graphs.
type Neo4jGraph struct {
	driver neo4j.DriverWithContext
}

func NewNeo4jGraph(uri, username, password string) (*Neo4jGraph, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j: creating driver: %w", err)
	}
	return &Neo4jGraph{driver: driver}, nil
}

func (g *Neo4jGraph) Name() string { return "neo4j" }

func (g *Neo4jGraph) Close(ctx context.Context) error { return g.driver.Close(ctx) }

// SetupCollection issues CREATE CONSTRAINT ... IF NOT EXISTS making
// entity_id unique across every Entity node; the constraint is database-wide,
// not scoped to collectionID. Idempotent: Neo4j no-ops on a repeated
// constraint creation.
func (g *Neo4jGraph) SetupCollection(ctx context.Context, collectionID string) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		query := `
			CREATE CONSTRAINT entity_id_unique IF NOT EXISTS
			FOR (e:Entity) REQUIRE e.entity_id IS UNIQUE
		`
		_, err := tx.Run(ctx, query, nil)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("neo4j: setting up constraint: %w", err)
	}
	return nil
}

// BulkInsert merges every entity as a node, then in a single UNWIND query
// creates IS_PARENT_OF relationships for every entity carrying a
// parent_entity_id (or whose last breadcrumb names the parent).
func (g *Neo4jGraph) BulkInsert(ctx context.Context, collectionID string, entities []*entity.Entity) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		nodes := make([]map[string]interface{}, 0, len(entities))
		var parentEdges []map[string]interface{}

		for _, e := range entities {
			nodes = append(nodes, map[string]interface{}{
				"entity_id":              e.EntityID,
				"entity_definition_id":   e.EntityDefinitionID,
				"airweave_collection_id": collectionID,
				"sync_id":                e.System.SyncID,
				"textual_representation": e.TextualRepresentation,
			})

			parentID := e.ParentEntityID
			if parentID == "" && len(e.Breadcrumbs) > 0 {
				parentID = e.Breadcrumbs[len(e.Breadcrumbs)-1].EntityID
			}
			if parentID != "" {
				parentEdges = append(parentEdges, map[string]interface{}{
					"parentId": parentID,
					"childId":  e.EntityID,
				})
			}
		}

		nodeQuery := `
			UNWIND $nodes AS node
			MERGE (e:Entity {entity_id: node.entity_id})
			SET e.entity_definition_id = node.entity_definition_id,
			    e.airweave_collection_id = node.airweave_collection_id,
			    e.sync_id = node.sync_id,
			    e.textual_representation = node.textual_representation
		`
		if _, err := tx.Run(ctx, nodeQuery, map[string]interface{}{"nodes": nodes}); err != nil {
			return nil, err
		}

		if len(parentEdges) > 0 {
			edgeQuery := `
				UNWIND $edges AS edge
				MATCH (parent:Entity {entity_id: edge.parentId})
				MATCH (child:Entity {entity_id: edge.childId})
				MERGE (parent)-[:IS_PARENT_OF]->(child)
			`
			if _, err := tx.Run(ctx, edgeQuery, map[string]interface{}{"edges": parentEdges}); err != nil {
				return nil, err
			}
		}

		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("neo4j: bulk insert: %w", err)
	}
	return nil
}

// Delete removes a single entity node by its own entity_id.
func (g *Neo4jGraph) Delete(ctx context.Context, collectionID, entityID string) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		query := `
			MATCH (e:Entity {entity_id: $entityId, airweave_collection_id: $collectionId})
			DETACH DELETE e
		`
		_, err := tx.Run(ctx, query, map[string]interface{}{
			"entityId":     entityID,
			"collectionId": collectionID,
		})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("neo4j: deleting entity %s: %w", entityID, err)
	}
	return nil
}

// BulkDeleteByParentID deletes every child reachable via IS_PARENT_OF from
// parentID, optionally filtered by sync_id on the child.
func (g *Neo4jGraph) BulkDeleteByParentID(ctx context.Context, collectionID, parentID, syncID string) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		query := `
			MATCH (parent:Entity {entity_id: $parentId})-[:IS_PARENT_OF]->(child:Entity)
			WHERE child.airweave_collection_id = $collectionId
			  AND ($syncId = '' OR child.sync_id = $syncId)
			DETACH DELETE child
		`
		_, err := tx.Run(ctx, query, map[string]interface{}{
			"parentId":     parentID,
			"collectionId": collectionID,
			"syncId":       syncID,
		})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("neo4j: bulk delete by parent: %w", err)
	}
	return nil
}

func (g *Neo4jGraph) DeleteBySyncID(ctx context.Context, collectionID, syncID string) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		query := `
			MATCH (e:Entity {airweave_collection_id: $collectionId, sync_id: $syncId})
			DETACH DELETE e
		`
		_, err := tx.Run(ctx, query, map[string]interface{}{
			"collectionId": collectionID,
			"syncId":       syncID,
		})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("neo4j: delete by sync id: %w", err)
	}
	return nil
}
