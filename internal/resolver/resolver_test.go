package resolver

import (
	"testing"

	"github.com/airweave-ai/airweave-sync/internal/entity"
)

func TestDefinitionIDForPolymorphicFallsBackToReserved(t *testing.T) {
	e := &entity.Entity{EntityID: "row-1", Kind: entity.KindPolymorphic}
	got, err := definitionIDFor(e)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != entity.ReservedTableDefinitionID {
		t.Fatalf("got %q want %q", got, entity.ReservedTableDefinitionID)
	}
}

func TestDefinitionIDForMissingOnNonPolymorphicErrors(t *testing.T) {
	e := &entity.Entity{EntityID: "row-1", Kind: entity.KindStandard}
	if _, err := definitionIDFor(e); err == nil {
		t.Fatalf("expected error for missing entity_definition_id on a non-polymorphic entity")
	}
}

func TestBatchAddRoutesToCorrectBucket(t *testing.T) {
	b := &Batch{}
	b.add(Resolution{Action: ActionInsert})
	b.add(Resolution{Action: ActionUpdate})
	b.add(Resolution{Action: ActionKeep})
	b.add(Resolution{Action: ActionDelete})

	if len(b.Inserts) != 1 || len(b.Updates) != 1 || len(b.Keeps) != 1 || len(b.Deletes) != 1 {
		t.Fatalf("expected one resolution per bucket, got %+v", b)
	}
}
