package main

import (
	"testing"

	"github.com/spf13/pflag"

	"github.com/airweave-ai/airweave-sync/internal/tokenmanager"
)

func sourceFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("msgraph-tenant-id", "", "")
	flags.String("msgraph-client-id", "", "")
	flags.String("msgraph-user-id", "", "")
	flags.String("gitea-base-url", "", "")
	flags.String("gitea-owner", "", "")
	flags.String("gitea-repo", "", "")
	return flags
}

func TestBuildSourceUnknownName(t *testing.T) {
	_, err := buildSource("sharepoint", sourceFlagSet())
	if err == nil {
		t.Fatal("expected an error for an unknown source name")
	}
}

func TestBuildSourceMsgraphRequiresAllFlags(t *testing.T) {
	flags := sourceFlagSet()
	flags.Set("msgraph-tenant-id", "tenant")
	_, err := buildSource("msgraph", flags)
	if err == nil {
		t.Fatal("expected an error when msgraph-client-id and msgraph-user-id are missing")
	}
}

func TestBuildSourceMsgraphSucceeds(t *testing.T) {
	flags := sourceFlagSet()
	flags.Set("msgraph-tenant-id", "tenant")
	flags.Set("msgraph-client-id", "client")
	flags.Set("msgraph-user-id", "user")
	source, err := buildSource("msgraph", flags)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if source == nil {
		t.Fatal("expected a non-nil source")
	}
}

func TestBuildSourceGiteaRequiresAllFlags(t *testing.T) {
	flags := sourceFlagSet()
	flags.Set("gitea-base-url", "https://gitea.example.com")
	_, err := buildSource("gitea", flags)
	if err == nil {
		t.Fatal("expected an error when gitea-owner and gitea-repo are missing")
	}
}

func TestBuildSourceGiteaSucceeds(t *testing.T) {
	flags := sourceFlagSet()
	flags.Set("gitea-base-url", "https://gitea.example.com")
	flags.Set("gitea-owner", "owner")
	flags.Set("gitea-repo", "repo")
	source, err := buildSource("gitea", flags)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if source == nil {
		t.Fatal("expected a non-nil source")
	}
}

func tokenFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("token", "", "")
	flags.String("refresh-token", "", "")
	flags.String("token-url", "", "")
	flags.String("client-id", "", "")
	flags.String("client-secret", "", "")
	return flags
}

func TestTokenSourceFromFlagsDirectByDefault(t *testing.T) {
	flags := tokenFlagSet()
	flags.Set("token", "static-token")
	src := tokenSourceFromFlags(flags)
	direct, ok := src.(*tokenmanager.DirectSource)
	if !ok {
		t.Fatalf("expected a *tokenmanager.DirectSource, got %T", src)
	}
	if direct.Token != "static-token" {
		t.Fatalf("expected token %q, got %q", "static-token", direct.Token)
	}
}

func TestTokenSourceFromFlagsOAuth2WhenRefreshTokenSet(t *testing.T) {
	flags := tokenFlagSet()
	flags.Set("refresh-token", "refresh-value")
	flags.Set("token-url", "https://example.com/token")
	flags.Set("client-id", "id")
	flags.Set("client-secret", "secret")
	src := tokenSourceFromFlags(flags)
	oauthSrc, ok := src.(*tokenmanager.OAuth2RefreshSource)
	if !ok {
		t.Fatalf("expected a *tokenmanager.OAuth2RefreshSource, got %T", src)
	}
	if oauthSrc.RefreshToken != "refresh-value" {
		t.Fatalf("expected refresh token %q, got %q", "refresh-value", oauthSrc.RefreshToken)
	}
	if oauthSrc.Config.Endpoint.TokenURL != "https://example.com/token" {
		t.Fatalf("expected token url to be wired through, got %q", oauthSrc.Config.Endpoint.TokenURL)
	}
}
