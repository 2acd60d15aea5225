package tokenmanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCCredentialProvider is the concrete CredentialProvider behind variant 2:
// it discovers an external identity provider's token endpoint via OIDC and
// refreshes a per-connection token against it, mirroring
// security/oidc.go's OIDCProvider discovery/OAuth2Config split but scoped to
// the refresh-only surface ProviderMediatedSource needs.
type OIDCCredentialProvider struct {
	config *oauth2.Config

	mu      sync.Mutex
	refresh map[string]string

	persist func(ctx context.Context, connectionID, refreshToken string) error
}

// NewOIDCCredentialProvider discovers issuerURL's OIDC configuration and
// builds a provider scoped to clientID/clientSecret. persist is called after
// every refresh with whatever refresh token should now be stored for
// connectionID (unchanged if the provider did not rotate it).
func NewOIDCCredentialProvider(ctx context.Context, issuerURL, clientID, clientSecret string, scopes []string, persist func(ctx context.Context, connectionID, refreshToken string) error) (*OIDCCredentialProvider, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("tokenmanager: discovering oidc provider %s: %w", issuerURL, err)
	}
	return &OIDCCredentialProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     provider.Endpoint(),
			Scopes:       scopes,
		},
		refresh: make(map[string]string),
		persist: persist,
	}, nil
}

// SeedRefreshToken registers the refresh token a connection was set up with,
// before its first FetchCredentials call.
func (p *OIDCCredentialProvider) SeedRefreshToken(connectionID, refreshToken string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refresh[connectionID] = refreshToken
}

func (p *OIDCCredentialProvider) FetchCredentials(ctx context.Context, connectionID string) (string, time.Time, error) {
	p.mu.Lock()
	refreshToken := p.refresh[connectionID]
	p.mu.Unlock()
	if refreshToken == "" {
		return "", time.Time{}, fmt.Errorf("tokenmanager: no refresh token seeded for connection %s", connectionID)
	}

	tok, err := p.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("tokenmanager: refreshing via oidc provider: %w", err)
	}

	if tok.RefreshToken != "" && tok.RefreshToken != refreshToken {
		p.mu.Lock()
		p.refresh[connectionID] = tok.RefreshToken
		p.mu.Unlock()
	}
	return tok.AccessToken, tok.Expiry, nil
}

func (p *OIDCCredentialProvider) PersistCredentials(ctx context.Context, connectionID, accessToken string, expiry time.Time) error {
	if p.persist == nil {
		return nil
	}
	p.mu.Lock()
	refreshToken := p.refresh[connectionID]
	p.mu.Unlock()
	return p.persist(ctx, connectionID, refreshToken)
}

var _ CredentialProvider = (*OIDCCredentialProvider)(nil)
