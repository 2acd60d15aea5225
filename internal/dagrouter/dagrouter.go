// Package dagrouter routes entities through a static per-sync DAG of
// source/transformer/destination nodes, fanning out across transformer
// edges and rejecting cyclic graphs at construction. Generalized from
// eve.evalgo.org/graph's action-dependency DAG: the cycle-detection DFS and
// Kahn's-algorithm topological sort are the same shape, retargeted from
// SemanticScheduledAction.Requires edges to entity_definition_filter edges
// between source/transformer/destination nodes.
package dagrouter

import (
	"context"
	"fmt"

	"github.com/airweave-ai/airweave-sync/internal/entity"
)

// NodeKind is one of the four DAG node kinds from the glossary.
type NodeKind string

const (
	NodeSource      NodeKind = "source"
	NodeTransformer NodeKind = "transformer"
	NodeDestination NodeKind = "destination"
	NodeEntity      NodeKind = "entity"
)

// Transformer is invoked on a transformer edge. It must be idempotent for
// the same input hash, since the router may recurse into it multiple times
// across retries.
type Transformer interface {
	Name() string
	Transform(ctx context.Context, e *entity.Entity) ([]*entity.Entity, error)
}

// Destination is invoked on a destination edge; the actual persistence
// contract lives in internal/destinations, this is the minimal surface the
// router needs to hand an entity off.
type Destination interface {
	Name() string
	Persist(ctx context.Context, e *entity.Entity) error
}

// Node is one vertex of the DAG.
type Node struct {
	ID          string
	Kind        NodeKind
	Transformer Transformer // set when Kind == NodeTransformer
	Destination Destination // set when Kind == NodeDestination
}

// Edge connects a producer node to a consumer node, optionally filtered by
// entity_definition_id — an empty Filter matches every entity.
type Edge struct {
	From   string
	To     string
	Filter string
}

// Router holds the static DAG plus the entity-class to entity_definition_id
// map, and the transformer-callable cache built once at construction.
type Router struct {
	nodes map[string]*Node
	out   map[string][]Edge

	sourceNodeID string

	classToDefinitionID map[string]string
}

// Build constructs a Router from nodes and edges, validating there is
// exactly one source node and that the graph is acyclic. Cycles are a
// configuration error rejected here, not at routing time.
func Build(nodes []*Node, edges []Edge, classToDefinitionID map[string]string) (*Router, error) {
	r := &Router{
		nodes:               make(map[string]*Node, len(nodes)),
		out:                 make(map[string][]Edge),
		classToDefinitionID: classToDefinitionID,
	}

	sourceCount := 0
	for _, n := range nodes {
		r.nodes[n.ID] = n
		if n.Kind == NodeSource {
			sourceCount++
			r.sourceNodeID = n.ID
		}
	}
	if sourceCount != 1 {
		return nil, fmt.Errorf("dagrouter: DAG must have exactly one source node, found %d", sourceCount)
	}

	for _, e := range edges {
		if _, ok := r.nodes[e.From]; !ok {
			return nil, fmt.Errorf("dagrouter: edge references unknown node %q", e.From)
		}
		if _, ok := r.nodes[e.To]; !ok {
			return nil, fmt.Errorf("dagrouter: edge references unknown node %q", e.To)
		}
		r.out[e.From] = append(r.out[e.From], e)
	}

	if err := detectCycle(r.nodes, r.out); err != nil {
		return nil, err
	}

	return r, nil
}

// detectCycle runs a DFS with a recursion stack over every node, the same
// shape as the teacher's checkCycleManual/checkCycleRecursive pair.
func detectCycle(nodes map[string]*Node, out map[string][]Edge) error {
	visited := make(map[string]bool, len(nodes))
	stack := make(map[string]bool, len(nodes))

	var visit func(id string) error
	visit = func(id string) error {
		visited[id] = true
		stack[id] = true

		for _, e := range out[id] {
			if !visited[e.To] {
				if err := visit(e.To); err != nil {
					return err
				}
			} else if stack[e.To] {
				return fmt.Errorf("dagrouter: circular dependency detected: %s -> %s", id, e.To)
			}
		}

		stack[id] = false
		return nil
	}

	for id := range nodes {
		if !visited[id] {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// matches reports whether edge e applies to entity definitionID — an empty
// filter matches every entity.
func (e Edge) matches(definitionID string) bool {
	return e.Filter == "" || e.Filter == definitionID
}

// Route dispatches e from producer, fanning out across every matching
// transformer edge and handing it to every matching destination edge.
// Transformer output recurses with the transformer node as the new
// producer, per §4.5.
func (r *Router) Route(ctx context.Context, producerNodeID string, e *entity.Entity) error {
	definitionID := e.EntityDefinitionID
	if definitionID == "" {
		if cls, ok := r.classToDefinitionID[string(e.Kind)]; ok {
			definitionID = cls
		}
	}

	for _, edge := range r.out[producerNodeID] {
		if !edge.matches(definitionID) {
			continue
		}

		node, ok := r.nodes[edge.To]
		if !ok {
			continue
		}

		switch node.Kind {
		case NodeDestination:
			if node.Destination == nil {
				return fmt.Errorf("dagrouter: destination node %q has no bound destination", node.ID)
			}
			if err := node.Destination.Persist(ctx, e); err != nil {
				return fmt.Errorf("dagrouter: destination %s: %w", node.Destination.Name(), err)
			}
		case NodeTransformer:
			if node.Transformer == nil {
				return fmt.Errorf("dagrouter: transformer node %q has no bound transformer", node.ID)
			}
			derived, err := node.Transformer.Transform(ctx, e)
			if err != nil {
				return fmt.Errorf("dagrouter: transformer %s: %w", node.Transformer.Name(), err)
			}
			for _, child := range derived {
				if err := r.Route(ctx, node.ID, child); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("dagrouter: node %q has unroutable kind %q", node.ID, node.Kind)
		}
	}

	return nil
}

// RouteFromSource is the entry point the worker pool calls for every entity
// a source emits.
func (r *Router) RouteFromSource(ctx context.Context, e *entity.Entity) error {
	return r.Route(ctx, r.sourceNodeID, e)
}

// ExecutionOrder returns every node id in topological order (Kahn's
// algorithm): the DAG's plan, computed without routing any entity.
func (r *Router) ExecutionOrder() ([]string, error) {
	inDegree := make(map[string]int, len(r.nodes))
	for id := range r.nodes {
		inDegree[id] = 0
	}
	for _, edges := range r.out {
		for _, e := range edges {
			inDegree[e.To]++
		}
	}

	var queue []string
	for id, d := range inDegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}

	var order []string
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)

		for _, e := range r.out[current] {
			inDegree[e.To]--
			if inDegree[e.To] == 0 {
				queue = append(queue, e.To)
			}
		}
	}

	if len(order) != len(r.nodes) {
		return nil, fmt.Errorf("dagrouter: circular dependency detected in DAG")
	}
	return order, nil
}
