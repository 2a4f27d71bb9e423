package platform

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/see4tech/oauth-service/internal/domain"
)

// LinkedIn is a single-flow OAuth2 adapter with refresh token support.
type LinkedIn struct {
	conf   oauth2.Config
	client *http.Client
	now    func() time.Time
}

// NewLinkedIn constructs the LinkedIn adapter.
func NewLinkedIn(creds Credentials) *LinkedIn {
	return &LinkedIn{
		conf: oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   "https://www.linkedin.com/oauth/v2/authorization",
				TokenURL:  "https://www.linkedin.com/oauth/v2/accessToken",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		client: defaultHTTPClient(),
		now:    time.Now,
	}
}

func (l *LinkedIn) Config() domain.PlatformConfig {
	return domain.PlatformConfig{
		Platform:        domain.PlatformLinkedIn,
		SupportsRefresh: true,
		Scopes:          []string{"openid", "profile", "email", "w_member_social"},
		AuthorizeURL:    l.conf.Endpoint.AuthURL,
		TokenURL:        l.conf.Endpoint.TokenURL,
	}
}

func (l *LinkedIn) BuildAuthorizationURL(ctx context.Context, kind domain.FlowKind, scopes []string, state, redirectURI string) (*AuthorizationRequest, error) {
	if kind != domain.FlowOAuth2 {
		return nil, fmt.Errorf("linkedin flow kind %s: %w", kind, domain.ErrInvalidRequest)
	}
	conf := l.conf
	conf.RedirectURL = redirectURI
	conf.Scopes = scopes
	if len(conf.Scopes) == 0 {
		conf.Scopes = l.Config().Scopes
	}
	return &AuthorizationRequest{URL: conf.AuthCodeURL(state)}, nil
}

func (l *LinkedIn) Exchange(ctx context.Context, in ExchangeInput) (*domain.TokenGrant, error) {
	if in.Flow.FlowKind != domain.FlowOAuth2 {
		return nil, fmt.Errorf("linkedin flow kind %s: %w", in.Flow.FlowKind, domain.ErrInvalidRequest)
	}
	conf := l.conf
	conf.RedirectURL = in.Flow.RedirectURI
	tok, err := conf.Exchange(withHTTPClient(ctx, l.client), in.Code)
	if err != nil {
		return nil, exchangeError(domain.PlatformLinkedIn, err)
	}
	return grantFromToken(tok, l.now().UTC()), nil
}

func (l *LinkedIn) Refresh(ctx context.Context, current domain.OAuth2Credentials) (*domain.TokenGrant, error) {
	if current.RefreshToken == "" {
		return nil, fmt.Errorf("linkedin: no refresh token: %w", domain.ErrReauthRequired)
	}
	conf := l.conf
	src := conf.TokenSource(withHTTPClient(ctx, l.client), &oauth2.Token{RefreshToken: current.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, exchangeError(domain.PlatformLinkedIn, err)
	}
	grant := grantFromToken(tok, l.now().UTC())
	if grant.OAuth2.RefreshToken == "" {
		grant.OAuth2.RefreshToken = current.RefreshToken
	}
	return grant, nil
}
