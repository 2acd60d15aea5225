// Package msgraph is a worked example of the Source connector contract of
// §6: a OneDrive/Exchange-style source backed by Microsoft Graph, standing
// in for Airweave's Asana/GitHub/Jira connectors. Grounded on
// cloud/azuregraph.go's AzureEmails/AzureCalendar: same
// azidentity.NewClientSecretCredential + msgraphsdk.NewGraphServiceClientWithCredentials
// construction and msgraphcore.PageIterator pagination pattern, retargeted
// from ad hoc logging calls to entity.Entity emission and from a directly
// constructed credential to one backed by the core's TokenManager.
package msgraph

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	msgraphcore "github.com/microsoftgraph/msgraph-sdk-go-core"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/users"

	"github.com/airweave-ai/airweave-sync/internal/entity"
	"github.com/airweave-ai/airweave-sync/internal/fileservice"
	"github.com/airweave-ai/airweave-sync/internal/logging"
	"github.com/airweave-ai/airweave-sync/internal/tokenmanager"
)

const messageDefinitionID = "msgraph.message"

// Config names the Graph tenant, application, and mailbox this Source
// reads from.
type Config struct {
	TenantID     string
	ClientID     string
	UserID       string
	MailFolderID string
	PageSize     int32
}

func DefaultConfig(tenantID, clientID, userID string) Config {
	return Config{
		TenantID:     tenantID,
		ClientID:     clientID,
		UserID:       userID,
		MailFolderID: "inbox",
		PageSize:     50,
	}
}

// tokenCredential adapts tokenmanager.Manager to azcore.TokenCredential so
// the Graph SDK's own transport calls GetValidToken instead of holding a
// client secret itself.
type tokenCredential struct {
	manager *tokenmanager.Manager
}

func (t *tokenCredential) GetToken(ctx context.Context, _ policy.TokenRequestOptions) (azcore.AccessToken, error) {
	token, err := t.manager.GetValidToken(ctx)
	if err != nil {
		return azcore.AccessToken{}, fmt.Errorf("msgraph: getting token: %w", err)
	}
	return azcore.AccessToken{Token: token, ExpiresOn: time.Now().Add(5 * time.Minute)}, nil
}

// Source reads email messages from one user's mailbox via Microsoft Graph,
// satisfying internal/orchestrator.Source.
type Source struct {
	config Config
	tm     *tokenmanager.Manager
	logger *logging.ContextLogger
	fd     *fileservice.Service
}

func New(config Config) *Source {
	return &Source{config: config}
}

func (s *Source) SetTokenManager(tm *tokenmanager.Manager) { s.tm = tm }
func (s *Source) SetLogger(logger *logging.ContextLogger)  { s.logger = logger }
func (s *Source) SetFileDownloader(fd *fileservice.Service) { s.fd = fd }

func (s *Source) client() (*msgraphsdk.GraphServiceClient, error) {
	cred := &tokenCredential{manager: s.tm}
	client, err := msgraphsdk.NewGraphServiceClientWithCredentials(cred, []string{"https://graph.microsoft.com/.default"})
	if err != nil {
		return nil, fmt.Errorf("msgraph: creating graph client: %w", err)
	}
	return client, nil
}

// Validate confirms the configured mailbox is reachable with the current
// token before a sync run starts streaming entities from it.
func (s *Source) Validate(ctx context.Context) bool {
	client, err := s.client()
	if err != nil {
		return false
	}
	_, err = client.Users().ByUserId(s.config.UserID).Get(ctx, nil)
	return err == nil
}

// GenerateEntities lists every message in the configured mail folder,
// paginating via msgraphcore.PageIterator, and emits one entity.Entity per
// message.
func (s *Source) GenerateEntities(ctx context.Context, emit func(*entity.Entity) error) error {
	client, err := s.client()
	if err != nil {
		return err
	}

	top := s.config.PageSize
	opts := &users.ItemMailFoldersItemMessagesRequestBuilderGetRequestConfiguration{
		QueryParameters: &users.ItemMailFoldersItemMessagesRequestBuilderGetQueryParameters{
			Top:    &top,
			Select: []string{"id", "subject", "receivedDateTime", "bodyPreview", "webLink"},
		},
	}

	resp, err := client.Users().
		ByUserId(s.config.UserID).
		MailFolders().
		ByMailFolderId(s.config.MailFolderID).
		Messages().
		Get(ctx, opts)
	if err != nil {
		return fmt.Errorf("msgraph: listing messages: %w", err)
	}

	iterator, err := msgraphcore.NewPageIterator[models.Messageable](
		resp,
		client.GetAdapter(),
		models.CreateMessageCollectionResponseFromDiscriminatorValue,
	)
	if err != nil {
		return fmt.Errorf("msgraph: creating page iterator: %w", err)
	}

	var iterErr error
	err = iterator.Iterate(ctx, func(msg models.Messageable) bool {
		e, convErr := messageToEntity(msg, s.config.UserID)
		if convErr != nil {
			iterErr = convErr
			return false
		}
		if emitErr := emit(e); emitErr != nil {
			iterErr = emitErr
			return false
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("msgraph: iterating messages: %w", err)
	}
	return iterErr
}

func messageToEntity(msg models.Messageable, userID string) (*entity.Entity, error) {
	id := msg.GetId()
	if id == nil {
		return nil, fmt.Errorf("msgraph: message missing id")
	}

	subject := ""
	if msg.GetSubject() != nil {
		subject = *msg.GetSubject()
	}
	preview := ""
	if msg.GetBodyPreview() != nil {
		preview = *msg.GetBodyPreview()
	}
	webLink := ""
	if msg.GetWebLink() != nil {
		webLink = *msg.GetWebLink()
	}

	e := &entity.Entity{
		EntityID:           *id,
		EntityDefinitionID: messageDefinitionID,
		Kind:               entity.KindStandard,
		Content: map[string]interface{}{
			"user_id":      userID,
			"subject":      subject,
			"body_preview": preview,
		},
		TextualRepresentation: subject + "\n\n" + preview,
		URL:                   webLink,
	}
	return e, nil
}
