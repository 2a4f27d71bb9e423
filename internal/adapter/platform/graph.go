package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/see4tech/oauth-service/internal/domain"
)

// graphAdapter covers the Meta Graph dialect shared by Facebook and
// Instagram: a standard OAuth2 code exchange, but "refresh" is a
// fb_exchange_token swap of the current access token for a long-lived one
// rather than a refresh_token grant.
type graphAdapter struct {
	platform domain.Platform
	scopes   []string
	conf     oauth2.Config
	// Token endpoint reused for the long-lived exchange.
	exchangeURL string
	client      *http.Client
	now         func() time.Time
}

func (g *graphAdapter) Config() domain.PlatformConfig {
	return domain.PlatformConfig{
		Platform:               g.platform,
		SupportsRefresh:        true,
		RefreshWithAccessToken: true,
		Scopes:                 g.scopes,
		AuthorizeURL:           g.conf.Endpoint.AuthURL,
		TokenURL:               g.conf.Endpoint.TokenURL,
	}
}

func (g *graphAdapter) BuildAuthorizationURL(ctx context.Context, kind domain.FlowKind, scopes []string, state, redirectURI string) (*AuthorizationRequest, error) {
	if kind != domain.FlowOAuth2 {
		return nil, fmt.Errorf("%s flow kind %s: %w", g.platform, kind, domain.ErrInvalidRequest)
	}
	conf := g.conf
	conf.RedirectURL = redirectURI
	conf.Scopes = scopes
	if len(conf.Scopes) == 0 {
		conf.Scopes = g.scopes
	}
	return &AuthorizationRequest{URL: conf.AuthCodeURL(state)}, nil
}

func (g *graphAdapter) Exchange(ctx context.Context, in ExchangeInput) (*domain.TokenGrant, error) {
	if in.Flow.FlowKind != domain.FlowOAuth2 {
		return nil, fmt.Errorf("%s flow kind %s: %w", g.platform, in.Flow.FlowKind, domain.ErrInvalidRequest)
	}
	conf := g.conf
	conf.RedirectURL = in.Flow.RedirectURI
	tok, err := conf.Exchange(withHTTPClient(ctx, g.client), in.Code)
	if err != nil {
		return nil, exchangeError(g.platform, err)
	}
	return grantFromToken(tok, g.now().UTC()), nil
}

// Refresh swaps the current short-lived access token for a long-lived one.
func (g *graphAdapter) Refresh(ctx context.Context, current domain.OAuth2Credentials) (*domain.TokenGrant, error) {
	if current.AccessToken == "" {
		return nil, fmt.Errorf("%s: no access token to exchange: %w", g.platform, domain.ErrReauthRequired)
	}

	q := url.Values{}
	q.Set("grant_type", "fb_exchange_token")
	q.Set("client_id", g.conf.ClientID)
	q.Set("client_secret", g.conf.ClientSecret)
	q.Set("fb_exchange_token", current.AccessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.exchangeURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build long-lived exchange request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s long-lived exchange: %v: %w", g.platform, err, domain.ErrProviderExchangeFailed)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read long-lived exchange response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s long-lived exchange status %d: %s: %w",
			g.platform, resp.StatusCode, body, domain.ErrProviderExchangeFailed)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode long-lived exchange response: %w", err)
	}
	if payload.AccessToken == "" {
		return nil, fmt.Errorf("%s long-lived exchange returned no token: %w", g.platform, domain.ErrProviderExchangeFailed)
	}

	now := g.now().UTC()
	creds := &domain.OAuth2Credentials{
		AccessToken: payload.AccessToken,
		TokenType:   payload.TokenType,
		Scope:       current.Scope,
		IssuedAt:    now,
	}
	if payload.ExpiresIn > 0 {
		creds.ExpiresAt = now.Add(time.Duration(payload.ExpiresIn) * time.Second)
	}
	return &domain.TokenGrant{FlowKind: domain.FlowOAuth2, OAuth2: creds}, nil
}

// Facebook is the Graph adapter bound to the Facebook dialog endpoints.
type Facebook struct{ graphAdapter }

// NewFacebook constructs the Facebook adapter.
func NewFacebook(creds Credentials) *Facebook {
	const tokenURL = "https://graph.facebook.com/v12.0/oauth/access_token"
	return &Facebook{graphAdapter{
		platform: domain.PlatformFacebook,
		scopes:   []string{"pages_manage_posts", "pages_read_engagement", "public_profile"},
		conf: oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   "https://www.facebook.com/v12.0/dialog/oauth",
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		exchangeURL: tokenURL,
		client:      defaultHTTPClient(),
		now:         time.Now,
	}}
}

// Instagram is the Graph adapter bound to the Instagram (v17) endpoints.
type Instagram struct{ graphAdapter }

// NewInstagram constructs the Instagram adapter. Authorization still runs
// through the Facebook dialog; only the Graph version and scopes differ.
func NewInstagram(creds Credentials) *Instagram {
	const tokenURL = "https://graph.facebook.com/v17.0/oauth/access_token"
	return &Instagram{graphAdapter{
		platform: domain.PlatformInstagram,
		scopes:   []string{"instagram_basic", "instagram_content_publish", "pages_show_list"},
		conf: oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   "https://www.facebook.com/v17.0/dialog/oauth",
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		exchangeURL: tokenURL,
		client:      defaultHTTPClient(),
		now:         time.Now,
	}}
}
