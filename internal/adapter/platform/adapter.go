package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/see4tech/oauth-service/internal/domain"
)

// AuthorizationRequest is the result of building one leg's authorize URL.
type AuthorizationRequest struct {
	URL string
	// PKCE verifier for OAuth2 legs; pinned into the FlowState so the
	// exchange can present it.
	CodeVerifier string
	// Request token pair for OAuth1.0a legs, obtained from the provider's
	// request-token endpoint before the user ever sees the URL.
	RequestToken  string
	RequestSecret string
}

// ExchangeInput carries the callback artifacts for one leg's exchange.
type ExchangeInput struct {
	Flow domain.FlowState
	// Authorization code for OAuth2 legs.
	Code string
	// Verifier for OAuth1.0a legs.
	Verifier string
}

// Adapter isolates one platform's OAuth dialect: how to build an authorize
// URL, exchange callback artifacts for tokens, and refresh an access token.
type Adapter interface {
	Config() domain.PlatformConfig
	BuildAuthorizationURL(ctx context.Context, kind domain.FlowKind, scopes []string, state, redirectURI string) (*AuthorizationRequest, error)
	Exchange(ctx context.Context, in ExchangeInput) (*domain.TokenGrant, error)
	Refresh(ctx context.Context, current domain.OAuth2Credentials) (*domain.TokenGrant, error)
}

// Credentials is one platform's app registration. The consumer pair is
// only meaningful for platforms with an OAuth1.0a leg; when empty the
// OAuth2 pair is reused.
type Credentials struct {
	ClientID       string
	ClientSecret   string
	ConsumerKey    string
	ConsumerSecret string
}

// Registry looks platforms up by identifier.
type Registry struct {
	adapters map[domain.Platform]Adapter
}

// NewRegistry indexes the provided adapters by platform.
func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[domain.Platform]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Config().Platform] = a
	}
	return &Registry{adapters: m}
}

// Get returns the adapter for a platform.
func (r *Registry) Get(p domain.Platform) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("platform %s: %w", p, domain.ErrPlatformUnsupported)
	}
	return a, nil
}

// Platforms lists the registered platform identifiers.
func (r *Registry) Platforms() []domain.Platform {
	out := make([]domain.Platform, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	return out
}

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// withHTTPClient pins the adapter's bounded-timeout client into the context
// so the oauth2 transport uses it for token endpoint calls.
func withHTTPClient(ctx context.Context, client *http.Client) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}

// exchangeError normalizes provider token endpoint failures, preserving the
// provider's response for diagnostics.
func exchangeError(p domain.Platform, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return fmt.Errorf("%s token endpoint status %d: %s: %w",
			p, retrieveErr.Response.StatusCode, bytes.TrimSpace(retrieveErr.Body), domain.ErrProviderExchangeFailed)
	}
	return fmt.Errorf("%s token exchange: %v: %w", p, err, domain.ErrProviderExchangeFailed)
}

func grantFromToken(tok *oauth2.Token, now time.Time) *domain.TokenGrant {
	creds := &domain.OAuth2Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		IssuedAt:     now,
	}
	if !tok.Expiry.IsZero() {
		creds.ExpiresAt = tok.Expiry
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		creds.Scope = scope
	}
	return &domain.TokenGrant{FlowKind: domain.FlowOAuth2, OAuth2: creds}
}
