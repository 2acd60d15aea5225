package tokenmanager

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestOIDCServer(t *testing.T, tokenJSON string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var issuer string
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"issuer":                 issuer,
			"token_endpoint":         issuer + "/token",
			"authorization_endpoint": issuer + "/authorize",
			"jwks_uri":               issuer + "/jwks",
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(tokenJSON))
	})
	srv := httptest.NewServer(mux)
	issuer = srv.URL
	return srv
}

func TestOIDCCredentialProviderFetchesAndPersists(t *testing.T) {
	srv := newTestOIDCServer(t, `{"access_token":"at-1","refresh_token":"rt-2","token_type":"Bearer","expires_in":3600}`)
	defer srv.Close()

	var persistedConn, persistedRefresh string
	provider, err := NewOIDCCredentialProvider(context.Background(), srv.URL, "client-id", "client-secret", []string{"openid"},
		func(ctx context.Context, connectionID, refreshToken string) error {
			persistedConn = connectionID
			persistedRefresh = refreshToken
			return nil
		})
	if err != nil {
		t.Fatalf("unexpected error discovering provider: %v", err)
	}

	provider.SeedRefreshToken("conn-1", "rt-1")

	token, _, err := provider.FetchCredentials(context.Background(), "conn-1")
	if err != nil {
		t.Fatalf("unexpected error fetching credentials: %v", err)
	}
	if token != "at-1" {
		t.Fatalf("expected access token %q, got %q", "at-1", token)
	}

	if err := provider.PersistCredentials(context.Background(), "conn-1", token, time.Time{}); err != nil {
		t.Fatalf("unexpected error persisting credentials: %v", err)
	}
	if persistedConn != "conn-1" {
		t.Fatalf("expected persist to be called with conn-1, got %q", persistedConn)
	}
	if persistedRefresh != "rt-2" {
		t.Fatalf("expected rotated refresh token %q to be persisted, got %q", "rt-2", persistedRefresh)
	}
}

func TestOIDCCredentialProviderRequiresSeededRefreshToken(t *testing.T) {
	srv := newTestOIDCServer(t, `{"access_token":"at-1","token_type":"Bearer","expires_in":3600}`)
	defer srv.Close()

	provider, err := NewOIDCCredentialProvider(context.Background(), srv.URL, "client-id", "client-secret", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error discovering provider: %v", err)
	}

	if _, _, err := provider.FetchCredentials(context.Background(), "unseeded"); err == nil {
		t.Fatal("expected an error when no refresh token was seeded for the connection")
	}
}
