package platform

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dghubble/oauth1"
	"golang.org/x/oauth2"

	"github.com/see4tech/oauth-service/internal/domain"
)

// Twitter implements both halves of the X/Twitter dual flow: OAuth2 with
// PKCE for the v2 API and OAuth1.0a for the legacy media-upload endpoints.
type Twitter struct {
	oauth2Conf oauth2.Config
	oauth1Conf oauth1.Config
	client     *http.Client
	now        func() time.Time
}

// NewTwitter constructs the Twitter adapter from an app registration.
func NewTwitter(creds Credentials) *Twitter {
	consumerKey, consumerSecret := creds.ConsumerKey, creds.ConsumerSecret
	if consumerKey == "" {
		consumerKey, consumerSecret = creds.ClientID, creds.ClientSecret
	}
	client := defaultHTTPClient()
	return &Twitter{
		oauth2Conf: oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   "https://twitter.com/i/oauth2/authorize",
				TokenURL:  "https://api.twitter.com/2/oauth2/token",
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		oauth1Conf: oauth1.Config{
			ConsumerKey:    consumerKey,
			ConsumerSecret: consumerSecret,
			Endpoint: oauth1.Endpoint{
				RequestTokenURL: "https://api.twitter.com/oauth/request_token",
				AuthorizeURL:    "https://api.twitter.com/oauth/authorize",
				AccessTokenURL:  "https://api.twitter.com/oauth/access_token",
			},
			// The request-token and verifier exchanges would otherwise run
			// on http.DefaultClient, which never times out.
			HTTPClient: client,
		},
		client: client,
		now:    time.Now,
	}
}

// Config describes the dual-flow capability set.
func (t *Twitter) Config() domain.PlatformConfig {
	return domain.PlatformConfig{
		Platform:         domain.PlatformTwitter,
		RequiresDualFlow: true,
		SupportsRefresh:  true,
		Scopes:           []string{"tweet.read", "tweet.write", "users.read", "offline.access"},
		AuthorizeURL:     t.oauth2Conf.Endpoint.AuthURL,
		TokenURL:         t.oauth2Conf.Endpoint.TokenURL,
	}
}

// BuildAuthorizationURL prepares either leg. The OAuth1.0a variant performs
// the provider's request-token round trip first; the returned pair must be
// pinned to the flow so the verifier exchange can find it.
func (t *Twitter) BuildAuthorizationURL(ctx context.Context, kind domain.FlowKind, scopes []string, state, redirectURI string) (*AuthorizationRequest, error) {
	switch kind {
	case domain.FlowOAuth2:
		conf := t.oauth2Conf
		conf.RedirectURL = redirectURI
		conf.Scopes = scopes
		if len(conf.Scopes) == 0 {
			conf.Scopes = t.Config().Scopes
		}
		verifier := oauth2.GenerateVerifier()
		url := conf.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
		return &AuthorizationRequest{URL: url, CodeVerifier: verifier}, nil

	case domain.FlowOAuth1:
		conf := t.oauth1Conf
		conf.CallbackURL = redirectURI
		requestToken, requestSecret, err := conf.RequestToken()
		if err != nil {
			return nil, fmt.Errorf("twitter request token: %v: %w", err, domain.ErrProviderExchangeFailed)
		}
		authURL, err := conf.AuthorizationURL(requestToken)
		if err != nil {
			return nil, fmt.Errorf("twitter authorize url: %w", err)
		}
		return &AuthorizationRequest{
			URL:           authURL.String(),
			RequestToken:  requestToken,
			RequestSecret: requestSecret,
		}, nil

	default:
		return nil, fmt.Errorf("flow kind %s: %w", kind, domain.ErrInvalidRequest)
	}
}

// Exchange swaps the callback artifacts of either leg for tokens.
func (t *Twitter) Exchange(ctx context.Context, in ExchangeInput) (*domain.TokenGrant, error) {
	switch in.Flow.FlowKind {
	case domain.FlowOAuth2:
		conf := t.oauth2Conf
		conf.RedirectURL = in.Flow.RedirectURI
		tok, err := conf.Exchange(withHTTPClient(ctx, t.client), in.Code, oauth2.VerifierOption(in.Flow.CodeVerifier))
		if err != nil {
			return nil, exchangeError(domain.PlatformTwitter, err)
		}
		return grantFromToken(tok, t.now().UTC()), nil

	case domain.FlowOAuth1:
		accessToken, accessSecret, err := t.oauth1Conf.AccessToken(in.Flow.RequestToken, in.Flow.RequestSecret, in.Verifier)
		if err != nil {
			return nil, fmt.Errorf("twitter verifier exchange: %v: %w", err, domain.ErrProviderExchangeFailed)
		}
		return &domain.TokenGrant{
			FlowKind: domain.FlowOAuth1,
			OAuth1: &domain.OAuth1Credentials{
				AccessToken:       accessToken,
				AccessTokenSecret: accessSecret,
			},
		}, nil

	default:
		return nil, fmt.Errorf("flow kind %s: %w", in.Flow.FlowKind, domain.ErrInvalidRequest)
	}
}

// Refresh rotates the OAuth2 access token with the stored refresh token.
func (t *Twitter) Refresh(ctx context.Context, current domain.OAuth2Credentials) (*domain.TokenGrant, error) {
	if current.RefreshToken == "" {
		return nil, fmt.Errorf("twitter: no refresh token: %w", domain.ErrReauthRequired)
	}
	conf := t.oauth2Conf
	src := conf.TokenSource(withHTTPClient(ctx, t.client), &oauth2.Token{RefreshToken: current.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, exchangeError(domain.PlatformTwitter, err)
	}
	grant := grantFromToken(tok, t.now().UTC())
	if grant.OAuth2.RefreshToken == "" {
		// Twitter rotates refresh tokens; keep the old one if the response
		// omitted a replacement.
		grant.OAuth2.RefreshToken = current.RefreshToken
	}
	return grant, nil
}
