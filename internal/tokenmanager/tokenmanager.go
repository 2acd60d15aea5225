// Package tokenmanager hands out OAuth access tokens to sync workers,
// refreshing proactively and on 401. Grounded on
// eve.evalgo.org/security's OIDCProvider (provider discovery, OAuth2Config)
// for the auth-provider-mediated variant, and golang.org/x/oauth2 directly
// for the standard refresh-token and client-credentials grants.
package tokenmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/airweave-ai/airweave-sync/internal/logging"
)

// RefreshError wraps any failure during a refresh attempt. The manager's
// cached token is never mutated when this is returned.
type RefreshError struct {
	ConnectionID string
	Err          error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("token refresh failed for connection %s: %v", e.ConnectionID, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// Source is implemented by each of the four refresh variants in §4.1.
type Source interface {
	// CanRefresh reports whether this source supports refreshing at all
	// (variant 1, direct-injection tokens, answers false).
	CanRefresh() bool
	// Refresh exchanges whatever credential state the source holds for a
	// fresh access token.
	Refresh(ctx context.Context) (accessToken string, expiry time.Time, err error)
}

// RotatingRefreshStore persists a rotated refresh token in the same logical
// transaction as the access-token refresh, for providers that issue a new
// refresh token on every grant (original_source/token_manager.py).
type RotatingRefreshStore interface {
	SaveRotatedRefreshToken(ctx context.Context, connectionID, refreshToken string) error
}

// Manager vends a valid access token for one connection, serializing
// refreshes behind a single mutex. Reads are not lock-free: GetValidToken
// briefly holds the same mutex to read the cached token and its age.
type Manager struct {
	connectionID string
	source       Source
	logger       *logging.ContextLogger

	refreshInterval time.Duration
	limiter         *rate.Limiter

	mu              sync.Mutex
	currentToken    string
	lastRefreshTime time.Time
}

// New constructs a Manager. lastRefreshTime starts at zero so the first
// GetValidToken call always refreshes, per §4.1's "syncs never start with a
// stored stale token" rule.
func New(connectionID string, source Source, refreshInterval time.Duration, logger *logging.ContextLogger) *Manager {
	return &Manager{
		connectionID:    connectionID,
		source:          source,
		logger:          logger,
		refreshInterval: refreshInterval,
		limiter:         rate.NewLimiter(rate.Every(time.Second), 3),
	}
}

// GetValidToken returns a token guaranteed fresh by the proactive-refresh
// policy, refreshing first if the interval has elapsed.
func (m *Manager) GetValidToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	needsRefresh := m.lastRefreshTime.IsZero() || time.Since(m.lastRefreshTime) >= m.refreshInterval
	token := m.currentToken
	m.mu.Unlock()

	if !needsRefresh {
		return token, nil
	}
	return m.refreshLocked(ctx)
}

// RefreshOnUnauthorized forces an immediate refresh in response to a
// downstream 401. Never returns a token older than the moment of call.
func (m *Manager) RefreshOnUnauthorized(ctx context.Context) (string, error) {
	m.mu.Lock()
	m.lastRefreshTime = time.Time{}
	m.mu.Unlock()
	return m.refreshLocked(ctx)
}

// refreshLocked acquires the refresh mutex, re-checks elapsed time
// (double-checked locking), performs the refresh if still stale, and
// returns the freshly written token to every contender.
func (m *Manager) refreshLocked(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.source.CanRefresh() {
		if m.currentToken == "" {
			token, _, err := m.source.Refresh(ctx)
			if err != nil {
				return "", &RefreshError{ConnectionID: m.connectionID, Err: err}
			}
			m.currentToken = token
		}
		return m.currentToken, nil
	}

	// Double-checked: another goroutine may have refreshed while we waited
	// for the lock.
	if !m.lastRefreshTime.IsZero() && time.Since(m.lastRefreshTime) < m.refreshInterval {
		return m.currentToken, nil
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return "", &RefreshError{ConnectionID: m.connectionID, Err: err}
	}

	token, _, err := m.source.Refresh(ctx)
	if err != nil {
		if m.logger != nil {
			m.logger.WithField("connection_id", m.connectionID).WithError(err).Error("token refresh failed")
		}
		return "", &RefreshError{ConnectionID: m.connectionID, Err: err}
	}

	m.currentToken = token
	m.lastRefreshTime = time.Now()

	if m.logger != nil {
		m.logger.WithField("connection_id", m.connectionID).Info("token refreshed")
	}

	return m.currentToken, nil
}

// DirectSource implements variant 1: can_refresh=false, the injected token
// is returned unchanged forever.
type DirectSource struct {
	Token string
}

func (d *DirectSource) CanRefresh() bool { return false }
func (d *DirectSource) Refresh(context.Context) (string, time.Time, error) {
	return d.Token, time.Time{}, nil
}

// OAuth2RefreshSource implements variant 3: standard refresh-token grant.
// When Rotating is non-nil, the new refresh token the provider returns is
// persisted back to the credential store in the same call.
type OAuth2RefreshSource struct {
	Config       *oauth2.Config
	RefreshToken string
	Rotating     RotatingRefreshStore
	ConnectionID string
}

func (s *OAuth2RefreshSource) CanRefresh() bool { return true }

func (s *OAuth2RefreshSource) Refresh(ctx context.Context) (string, time.Time, error) {
	ts := s.Config.TokenSource(ctx, &oauth2.Token{RefreshToken: s.RefreshToken})
	tok, err := ts.Token()
	if err != nil {
		return "", time.Time{}, err
	}

	if tok.RefreshToken != "" && tok.RefreshToken != s.RefreshToken {
		s.RefreshToken = tok.RefreshToken
		if s.Rotating != nil {
			if err := s.Rotating.SaveRotatedRefreshToken(ctx, s.ConnectionID, tok.RefreshToken); err != nil {
				return "", time.Time{}, fmt.Errorf("persisting rotated refresh token: %w", err)
			}
		}
	}

	return tok.AccessToken, tok.Expiry, nil
}

// ClientCredentialsSource implements variant 4: client_id+client_secret
// re-acquisition with no refresh token involved.
type ClientCredentialsSource struct {
	Config *clientcredentials.Config
}

func (s *ClientCredentialsSource) CanRefresh() bool { return true }

func (s *ClientCredentialsSource) Refresh(ctx context.Context) (string, time.Time, error) {
	tok, err := s.Config.Token(ctx)
	if err != nil {
		return "", time.Time{}, err
	}
	return tok.AccessToken, tok.Expiry, nil
}

// CredentialProvider is the auth-provider-mediated variant's adapter
// surface: fetch fresh credentials from an external provider and re-encrypt
// them to the credential store (variant 2).
type CredentialProvider interface {
	FetchCredentials(ctx context.Context, connectionID string) (accessToken string, expiry time.Time, err error)
	PersistCredentials(ctx context.Context, connectionID, accessToken string, expiry time.Time) error
}

// ProviderMediatedSource implements variant 2.
type ProviderMediatedSource struct {
	ConnectionID string
	Provider     CredentialProvider
}

func (s *ProviderMediatedSource) CanRefresh() bool { return true }

func (s *ProviderMediatedSource) Refresh(ctx context.Context) (string, time.Time, error) {
	token, expiry, err := s.Provider.FetchCredentials(ctx, s.ConnectionID)
	if err != nil {
		return "", time.Time{}, err
	}
	if err := s.Provider.PersistCredentials(ctx, s.ConnectionID, token, expiry); err != nil {
		return "", time.Time{}, fmt.Errorf("re-encrypting credentials to store: %w", err)
	}
	return token, expiry, nil
}

// ErrNoRefreshSource is returned by constructors when no variant applies.
var ErrNoRefreshSource = errors.New("tokenmanager: no refresh source configured")
