package gitea

import (
	"testing"

	giteasdk "code.gitea.io/sdk/gitea"
)

func TestIssueToEntityBuildsCompositeEntityID(t *testing.T) {
	issue := &giteasdk.Issue{
		Index:   42,
		Title:   "Sync fails on large batches",
		Body:    "Steps to reproduce...",
		State:   giteasdk.StateOpen,
		HTMLURL: "https://gitea.example.com/acme/widgets/issues/42",
	}

	e := issueToEntity(issue, "acme", "widgets")

	if e.EntityID != "acme/widgets#42" {
		t.Fatalf("expected composite entity id, got %q", e.EntityID)
	}
	if e.EntityDefinitionID != issueDefinitionID {
		t.Fatalf("expected definition id %q, got %q", issueDefinitionID, e.EntityDefinitionID)
	}
	if e.TextualRepresentation != issue.Title+"\n\n"+issue.Body {
		t.Fatalf("unexpected textual representation: %q", e.TextualRepresentation)
	}
	if e.Content["state"] != "open" {
		t.Fatalf("expected content state %q, got %v", "open", e.Content["state"])
	}
	if e.URL != issue.HTMLURL {
		t.Fatalf("expected URL %q, got %q", issue.HTMLURL, e.URL)
	}
}

func TestIssueToEntityDifferentRepoProducesDifferentID(t *testing.T) {
	issue := &giteasdk.Issue{Index: 1}
	a := issueToEntity(issue, "acme", "widgets")
	b := issueToEntity(issue, "acme", "gadgets")
	if a.EntityID == b.EntityID {
		t.Fatalf("expected distinct entity ids across repos, got %q for both", a.EntityID)
	}
}
