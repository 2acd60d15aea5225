// Package gitea is a second worked example of the Source connector contract
// of §6: an issue-tracker source backed by a self-hosted Gitea instance.
// Grounded on forge/gitea.go's GiteaGetRepo: same gitea.NewClient(url,
// gitea.SetToken(token)) construction, retargeted from a one-shot archive
// download to a paginated issue listing that emits one entity.Entity per
// issue, with the token sourced from the core's TokenManager instead of a
// directly injected personal access token.
package gitea

import (
	"context"
	"fmt"

	giteasdk "code.gitea.io/sdk/gitea"

	"github.com/airweave-ai/airweave-sync/internal/entity"
	"github.com/airweave-ai/airweave-sync/internal/fileservice"
	"github.com/airweave-ai/airweave-sync/internal/logging"
	"github.com/airweave-ai/airweave-sync/internal/tokenmanager"
)

const issueDefinitionID = "gitea.issue"

// Config names the Gitea instance and repository this Source reads issues
// from.
type Config struct {
	BaseURL  string
	Owner    string
	Repo     string
	PageSize int
}

func DefaultConfig(baseURL, owner, repo string) Config {
	return Config{BaseURL: baseURL, Owner: owner, Repo: repo, PageSize: 50}
}

// Source lists every issue in one Gitea repository, satisfying
// internal/orchestrator.Source.
type Source struct {
	config Config
	tm     *tokenmanager.Manager
	logger *logging.ContextLogger
	fd     *fileservice.Service
}

func New(config Config) *Source {
	return &Source{config: config}
}

func (s *Source) SetTokenManager(tm *tokenmanager.Manager)  { s.tm = tm }
func (s *Source) SetLogger(logger *logging.ContextLogger)   { s.logger = logger }
func (s *Source) SetFileDownloader(fd *fileservice.Service) { s.fd = fd }

func (s *Source) client(ctx context.Context) (*giteasdk.Client, error) {
	token, err := s.tm.GetValidToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("gitea: getting token: %w", err)
	}
	client, err := giteasdk.NewClient(s.config.BaseURL, giteasdk.SetToken(token), giteasdk.SetContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("gitea: creating client: %w", err)
	}
	return client, nil
}

// Validate confirms the configured repository is reachable with the
// current token.
func (s *Source) Validate(ctx context.Context) bool {
	client, err := s.client(ctx)
	if err != nil {
		return false
	}
	_, _, err = client.GetRepo(s.config.Owner, s.config.Repo)
	return err == nil
}

// GenerateEntities pages through every issue in the configured repository
// (open and closed) and emits one entity.Entity per issue.
func (s *Source) GenerateEntities(ctx context.Context, emit func(*entity.Entity) error) error {
	client, err := s.client(ctx)
	if err != nil {
		return err
	}

	page := 1
	pageSize := s.config.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	for {
		issues, _, err := client.ListRepoIssues(s.config.Owner, s.config.Repo, giteasdk.ListIssueOption{
			ListOptions: giteasdk.ListOptions{Page: page, PageSize: pageSize},
			Type:        giteasdk.IssueTypeIssue,
			State:       giteasdk.StateAll,
		})
		if err != nil {
			return fmt.Errorf("gitea: listing issues page %d: %w", page, err)
		}
		if len(issues) == 0 {
			return nil
		}

		for _, issue := range issues {
			if err := emit(issueToEntity(issue, s.config.Owner, s.config.Repo)); err != nil {
				return err
			}
		}

		if len(issues) < pageSize {
			return nil
		}
		page++
	}
}

func issueToEntity(issue *giteasdk.Issue, owner, repo string) *entity.Entity {
	entityID := fmt.Sprintf("%s/%s#%d", owner, repo, issue.Index)

	return &entity.Entity{
		EntityID:           entityID,
		EntityDefinitionID: issueDefinitionID,
		Kind:               entity.KindStandard,
		Content: map[string]interface{}{
			"owner":  owner,
			"repo":   repo,
			"index":  issue.Index,
			"title":  issue.Title,
			"state":  string(issue.State),
			"body":   issue.Body,
		},
		TextualRepresentation: issue.Title + "\n\n" + issue.Body,
		URL:                   issue.HTMLURL,
		CreatedAt:             issue.Created,
	}
}
