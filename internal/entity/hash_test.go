package entity

import "testing"

func TestHashStableAcrossCopies(t *testing.T) {
	e := &Entity{EntityID: "A", EntityDefinitionID: "task", Content: map[string]interface{}{"name": "A1"}}
	h1 := ComputeHash(e)

	cp := *e
	cp.Content = map[string]interface{}{"name": "A1"}
	h2 := ComputeHash(&cp)

	if h1 != h2 {
		t.Fatalf("expected identical hash for identical copies, got %s vs %s", h1, h2)
	}
}

func TestHashIgnoresBreadcrumbs(t *testing.T) {
	e := &Entity{EntityID: "A", EntityDefinitionID: "task", Content: map[string]interface{}{"name": "A1"}}
	h1 := ComputeHash(e)

	e.Breadcrumbs = []Breadcrumb{{EntityID: "W", Name: "workspace"}}
	h2 := ComputeHash(e)

	if h1 != h2 {
		t.Fatalf("breadcrumbs must not affect hash")
	}
}

func TestFileHashIgnoresURLButNotName(t *testing.T) {
	base := &Entity{
		Kind:             KindFile,
		EntityID:         "F",
		FileContentBytes: []byte("hello world"),
		FileName:         "report.pdf",
		FileSize:         11,
	}
	h1 := ComputeHash(base)

	refreshed := *base
	refreshed.URL = "https://signed.example.com/new-token"
	h2 := ComputeHash(&refreshed)
	if h1 != h2 {
		t.Fatalf("refreshing url must not change file hash")
	}

	renamed := *base
	renamed.FileName = "final-report.pdf"
	h3 := ComputeHash(&renamed)
	if h1 == h3 {
		t.Fatalf("renaming a file must change its hash even with identical bytes")
	}
}

func TestHashChangesWithContent(t *testing.T) {
	e1 := &Entity{EntityID: "A", EntityDefinitionID: "task", Content: map[string]interface{}{"name": "A1"}}
	e2 := &Entity{EntityID: "A", EntityDefinitionID: "task", Content: map[string]interface{}{"name": "A2"}}

	if ComputeHash(e1) == ComputeHash(e2) {
		t.Fatalf("changing a content field must change the hash")
	}
}

func TestChunkEntityID(t *testing.T) {
	got := ChunkEntityID("parent-1", 3)
	want := "parent-1.__chunk_3"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestKeyFallsBackToReservedDefinitionForPolymorphic(t *testing.T) {
	e := &Entity{EntityID: "row-1", Kind: KindPolymorphic}
	k := e.Key()
	if k.EntityDefinitionID != ReservedTableDefinitionID {
		t.Fatalf("expected reserved definition id, got %q", k.EntityDefinitionID)
	}
}
