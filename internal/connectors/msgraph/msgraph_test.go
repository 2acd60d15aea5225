package msgraph

import (
	"testing"

	"github.com/microsoftgraph/msgraph-sdk-go/models"
)

func TestMessageToEntityMapsCoreFields(t *testing.T) {
	msg := models.NewMessage()
	id := "msg-1"
	subject := "Quarterly numbers"
	preview := "Attached are the..."
	link := "https://outlook.office.com/mail/msg-1"
	msg.SetId(&id)
	msg.SetSubject(&subject)
	msg.SetBodyPreview(&preview)
	msg.SetWebLink(&link)

	e, err := messageToEntity(msg, "alice@example.com")
	if err != nil {
		t.Fatalf("messageToEntity: %v", err)
	}

	if e.EntityID != id {
		t.Fatalf("expected EntityID %q, got %q", id, e.EntityID)
	}
	if e.EntityDefinitionID != messageDefinitionID {
		t.Fatalf("expected definition id %q, got %q", messageDefinitionID, e.EntityDefinitionID)
	}
	if e.URL != link {
		t.Fatalf("expected URL %q, got %q", link, e.URL)
	}
	if e.TextualRepresentation != subject+"\n\n"+preview {
		t.Fatalf("unexpected textual representation: %q", e.TextualRepresentation)
	}
	if e.Content["subject"] != subject {
		t.Fatalf("expected content subject %q, got %v", subject, e.Content["subject"])
	}
	if e.Content["user_id"] != "alice@example.com" {
		t.Fatalf("expected content user_id to carry the mailbox owner, got %v", e.Content["user_id"])
	}
}

func TestMessageToEntityRejectsMissingID(t *testing.T) {
	msg := models.NewMessage()
	if _, err := messageToEntity(msg, "alice@example.com"); err == nil {
		t.Fatalf("expected an error for a message with no id")
	}
}
