package dagrouter

import (
	"context"
	"testing"

	"github.com/airweave-ai/airweave-sync/internal/entity"
)

type recordingDestination struct {
	name     string
	received []*entity.Entity
}

func (d *recordingDestination) Name() string { return d.name }
func (d *recordingDestination) Persist(_ context.Context, e *entity.Entity) error {
	d.received = append(d.received, e)
	return nil
}

type splittingTransformer struct {
	name string
}

func (t *splittingTransformer) Name() string { return t.name }
func (t *splittingTransformer) Transform(_ context.Context, e *entity.Entity) ([]*entity.Entity, error) {
	return []*entity.Entity{
		{EntityID: e.EntityID + ".chunk0", EntityDefinitionID: "chunk", Kind: entity.KindChunk},
		{EntityID: e.EntityID + ".chunk1", EntityDefinitionID: "chunk", Kind: entity.KindChunk},
	}, nil
}

func buildTestRouter(t *testing.T, dest *recordingDestination) *Router {
	t.Helper()
	nodes := []*Node{
		{ID: "src", Kind: NodeSource},
		{ID: "chunker", Kind: NodeTransformer, Transformer: &splittingTransformer{name: "chunker"}},
		{ID: "dest", Kind: NodeDestination, Destination: dest},
	}
	edges := []Edge{
		{From: "src", To: "chunker", Filter: "file"},
		{From: "chunker", To: "dest", Filter: "chunk"},
	}
	r, err := Build(nodes, edges, nil)
	if err != nil {
		t.Fatalf("building router: %v", err)
	}
	return r
}

func TestRouteFansOutThroughTransformer(t *testing.T) {
	dest := &recordingDestination{name: "dest"}
	r := buildTestRouter(t, dest)

	e := &entity.Entity{EntityID: "doc-1", EntityDefinitionID: "file", Kind: entity.KindFile}
	if err := r.RouteFromSource(context.Background(), e); err != nil {
		t.Fatalf("routing failed: %v", err)
	}

	if len(dest.received) != 2 {
		t.Fatalf("expected 2 derived chunks persisted, got %d", len(dest.received))
	}
}

func TestBuildRejectsCycles(t *testing.T) {
	nodes := []*Node{
		{ID: "src", Kind: NodeSource},
		{ID: "a", Kind: NodeTransformer, Transformer: &splittingTransformer{name: "a"}},
		{ID: "b", Kind: NodeTransformer, Transformer: &splittingTransformer{name: "b"}},
	}
	edges := []Edge{
		{From: "src", To: "a"},
		{From: "a", To: "b"},
		{From: "b", To: "a"},
	}

	if _, err := Build(nodes, edges, nil); err == nil {
		t.Fatalf("expected cycle rejection at construction")
	}
}

func TestBuildRequiresExactlyOneSource(t *testing.T) {
	nodes := []*Node{
		{ID: "src1", Kind: NodeSource},
		{ID: "src2", Kind: NodeSource},
	}
	if _, err := Build(nodes, nil, nil); err == nil {
		t.Fatalf("expected error for multiple source nodes")
	}
}

func TestExecutionOrderIsTopological(t *testing.T) {
	dest := &recordingDestination{name: "dest"}
	r := buildTestRouter(t, dest)

	order, err := r.ExecutionOrder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	if pos["src"] >= pos["chunker"] || pos["chunker"] >= pos["dest"] {
		t.Fatalf("expected src < chunker < dest, got order %v", order)
	}
}

func TestEdgeFilterExcludesNonMatchingEntities(t *testing.T) {
	dest := &recordingDestination{name: "dest"}
	nodes := []*Node{
		{ID: "src", Kind: NodeSource},
		{ID: "dest", Kind: NodeDestination, Destination: dest},
	}
	edges := []Edge{{From: "src", To: "dest", Filter: "task"}}
	r, err := Build(nodes, edges, nil)
	if err != nil {
		t.Fatalf("building router: %v", err)
	}

	e := &entity.Entity{EntityID: "e1", EntityDefinitionID: "note"}
	if err := r.RouteFromSource(context.Background(), e); err != nil {
		t.Fatalf("routing failed: %v", err)
	}
	if len(dest.received) != 0 {
		t.Fatalf("expected non-matching entity to be dropped by the filter")
	}
}
