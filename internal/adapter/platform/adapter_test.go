package platform

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/see4tech/oauth-service/internal/domain"
)

func TestRegistry_Lookup(t *testing.T) {
	reg := NewRegistry(
		NewTwitter(Credentials{ClientID: "tw", ClientSecret: "sec"}),
		NewLinkedIn(Credentials{ClientID: "li", ClientSecret: "sec"}),
	)

	adapter, err := reg.Get(domain.PlatformTwitter)
	require.NoError(t, err)
	require.True(t, adapter.Config().RequiresDualFlow)

	adapter, err = reg.Get(domain.PlatformLinkedIn)
	require.NoError(t, err)
	require.False(t, adapter.Config().RequiresDualFlow)

	_, err = reg.Get(domain.PlatformFacebook)
	require.ErrorIs(t, err, domain.ErrPlatformUnsupported)
}

func TestTwitter_BuildAuthorizationURL_OAuth2(t *testing.T) {
	tw := NewTwitter(Credentials{ClientID: "client-id", ClientSecret: "secret"})

	req, err := tw.BuildAuthorizationURL(context.Background(), domain.FlowOAuth2, nil, "state-123", "https://broker.example.com/cb")
	require.NoError(t, err)
	require.NotEmpty(t, req.CodeVerifier)
	require.Empty(t, req.RequestToken)

	parsed, err := url.Parse(req.URL)
	require.NoError(t, err)
	q := parsed.Query()
	require.Equal(t, "state-123", q.Get("state"))
	require.Equal(t, "client-id", q.Get("client_id"))
	require.Equal(t, "S256", q.Get("code_challenge_method"))
	require.NotEmpty(t, q.Get("code_challenge"))
	require.Contains(t, q.Get("scope"), "offline.access")
}

func TestTwitter_BuildAuthorizationURL_OAuth1(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/x-www-form-urlencoded")
		w.Write([]byte("oauth_token=rt-1&oauth_token_secret=rts-1&oauth_callback_confirmed=true"))
	}))
	defer srv.Close()

	tw := NewTwitter(Credentials{ClientID: "key", ClientSecret: "secret"})
	tw.oauth1Conf.Endpoint.RequestTokenURL = srv.URL
	tw.oauth1Conf.Endpoint.AuthorizeURL = srv.URL + "/authorize"

	req, err := tw.BuildAuthorizationURL(context.Background(), domain.FlowOAuth1, nil, "state-123", "https://broker.example.com/cb")
	require.NoError(t, err)
	require.Equal(t, "rt-1", req.RequestToken)
	require.Equal(t, "rts-1", req.RequestSecret)
	require.Contains(t, req.URL, "oauth_token=rt-1")
}

func TestTwitter_RequestTokenCallIsBounded(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	tw := NewTwitter(Credentials{ClientID: "key", ClientSecret: "secret"})
	tw.oauth1Conf.Endpoint.RequestTokenURL = srv.URL
	tw.oauth1Conf.HTTPClient = &http.Client{Timeout: 100 * time.Millisecond}

	start := time.Now()
	_, err := tw.BuildAuthorizationURL(context.Background(), domain.FlowOAuth1, nil, "state-123", "https://broker.example.com/cb")
	require.ErrorIs(t, err, domain.ErrProviderExchangeFailed)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestTwitter_OAuth1ConfigCarriesBoundedClient(t *testing.T) {
	tw := NewTwitter(Credentials{ClientID: "key", ClientSecret: "secret"})
	require.NotNil(t, tw.oauth1Conf.HTTPClient)
	require.NotZero(t, tw.oauth1Conf.HTTPClient.Timeout)
}

func TestTwitter_Exchange_OAuth2(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "auth-code", r.PostForm.Get("code"))
		require.Equal(t, "the-verifier", r.PostForm.Get("code_verifier"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-2","refresh_token":"rt-2","token_type":"bearer","expires_in":7200,"scope":"tweet.read"}`))
	}))
	defer srv.Close()

	tw := NewTwitter(Credentials{ClientID: "key", ClientSecret: "secret"})
	tw.oauth2Conf.Endpoint.TokenURL = srv.URL

	grant, err := tw.Exchange(context.Background(), ExchangeInput{
		Flow: domain.FlowState{
			FlowKind:     domain.FlowOAuth2,
			RedirectURI:  "https://broker.example.com/cb",
			CodeVerifier: "the-verifier",
		},
		Code: "auth-code",
	})
	require.NoError(t, err)
	require.Equal(t, domain.FlowOAuth2, grant.FlowKind)
	require.Equal(t, "at-2", grant.OAuth2.AccessToken)
	require.Equal(t, "rt-2", grant.OAuth2.RefreshToken)
	require.WithinDuration(t, time.Now().Add(2*time.Hour), grant.OAuth2.ExpiresAt, time.Minute)
}

func TestTwitter_Exchange_OAuth1(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-www-form-urlencoded")
		w.Write([]byte("oauth_token=at-1&oauth_token_secret=ats-1"))
	}))
	defer srv.Close()

	tw := NewTwitter(Credentials{ClientID: "key", ClientSecret: "secret"})
	tw.oauth1Conf.Endpoint.AccessTokenURL = srv.URL

	grant, err := tw.Exchange(context.Background(), ExchangeInput{
		Flow: domain.FlowState{
			FlowKind:      domain.FlowOAuth1,
			RequestToken:  "rt-1",
			RequestSecret: "rts-1",
		},
		Verifier: "verifier-1",
	})
	require.NoError(t, err)
	require.Equal(t, domain.FlowOAuth1, grant.FlowKind)
	require.Equal(t, "at-1", grant.OAuth1.AccessToken)
	require.Equal(t, "ats-1", grant.OAuth1.AccessTokenSecret)
}

func TestTwitter_ExchangeProviderFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_client"}`))
	}))
	defer srv.Close()

	tw := NewTwitter(Credentials{ClientID: "key", ClientSecret: "bad"})
	tw.oauth2Conf.Endpoint.TokenURL = srv.URL

	_, err := tw.Exchange(context.Background(), ExchangeInput{
		Flow: domain.FlowState{FlowKind: domain.FlowOAuth2},
		Code: "auth-code",
	})
	require.ErrorIs(t, err, domain.ErrProviderExchangeFailed)
	require.Contains(t, err.Error(), "invalid_client")
}

func TestTwitter_Refresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		require.Equal(t, "old-refresh", r.PostForm.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"fresh","token_type":"bearer","expires_in":7200}`))
	}))
	defer srv.Close()

	tw := NewTwitter(Credentials{ClientID: "key", ClientSecret: "secret"})
	tw.oauth2Conf.Endpoint.TokenURL = srv.URL

	grant, err := tw.Refresh(context.Background(), domain.OAuth2Credentials{
		AccessToken:  "stale",
		RefreshToken: "old-refresh",
	})
	require.NoError(t, err)
	require.Equal(t, "fresh", grant.OAuth2.AccessToken)
	// Response omitted a rotated refresh token, the old one is kept.
	require.Equal(t, "old-refresh", grant.OAuth2.RefreshToken)
}

func TestLinkedIn_RefreshWithoutRefreshToken(t *testing.T) {
	li := NewLinkedIn(Credentials{ClientID: "li", ClientSecret: "sec"})

	_, err := li.Refresh(context.Background(), domain.OAuth2Credentials{AccessToken: "only-access"})
	require.ErrorIs(t, err, domain.ErrReauthRequired)
}

func TestFacebook_RefreshLongLivedExchange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		require.Equal(t, "fb_exchange_token", q.Get("grant_type"))
		require.Equal(t, "short-lived", q.Get("fb_exchange_token"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"long-lived","token_type":"bearer","expires_in":5184000}`))
	}))
	defer srv.Close()

	fb := NewFacebook(Credentials{ClientID: "fb", ClientSecret: "sec"})
	fb.exchangeURL = srv.URL

	grant, err := fb.Refresh(context.Background(), domain.OAuth2Credentials{AccessToken: "short-lived"})
	require.NoError(t, err)
	require.Equal(t, "long-lived", grant.OAuth2.AccessToken)
	require.False(t, grant.OAuth2.ExpiresAt.IsZero())
}

func TestFacebook_RefreshWithoutAccessToken(t *testing.T) {
	fb := NewFacebook(Credentials{ClientID: "fb", ClientSecret: "sec"})

	_, err := fb.Refresh(context.Background(), domain.OAuth2Credentials{})
	require.ErrorIs(t, err, domain.ErrReauthRequired)
}

func TestInstagram_BuildAuthorizationURL(t *testing.T) {
	ig := NewInstagram(Credentials{ClientID: "ig", ClientSecret: "sec"})

	req, err := ig.BuildAuthorizationURL(context.Background(), domain.FlowOAuth2, nil, "state-9", "https://broker.example.com/cb")
	require.NoError(t, err)

	parsed, err := url.Parse(req.URL)
	require.NoError(t, err)
	require.Equal(t, "www.facebook.com", parsed.Host)
	require.Equal(t, "state-9", parsed.Query().Get("state"))
	require.Contains(t, parsed.Query().Get("scope"), "instagram_content_publish")
}

func TestAdapter_RejectsWrongFlowKind(t *testing.T) {
	li := NewLinkedIn(Credentials{ClientID: "li", ClientSecret: "sec"})

	_, err := li.BuildAuthorizationURL(context.Background(), domain.FlowOAuth1, nil, "s", "https://cb")
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
}
