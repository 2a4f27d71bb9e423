package domain

import "time"

// OAuth1Credentials is the non-expiring OAuth1.0a access token pair.
type OAuth1Credentials struct {
	AccessToken       string `json:"access_token"`
	AccessTokenSecret string `json:"access_token_secret"`
}

// OAuth2Credentials is the OAuth2 half of a connection.
type OAuth2Credentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// ExpiresWithin reports whether the access token expires inside the buffer
// window. A zero ExpiresAt means the token does not expire.
func (c OAuth2Credentials) ExpiresWithin(buffer time.Duration, now time.Time) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return now.Add(buffer).After(c.ExpiresAt)
}

// TokenRecord is the durable credential for one (user, platform) pair.
// Dual-flow platforms hold both halves once fully connected.
type TokenRecord struct {
	UserID    string             `json:"user_id"`
	Platform  Platform           `json:"platform"`
	OAuth1    *OAuth1Credentials `json:"oauth1,omitempty"`
	OAuth2    *OAuth2Credentials `json:"oauth2,omitempty"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Has reports whether the record holds credentials for the flow kind.
func (r *TokenRecord) Has(kind FlowKind) bool {
	if r == nil {
		return false
	}
	switch kind {
	case FlowOAuth1:
		return r.OAuth1 != nil && r.OAuth1.AccessToken != ""
	case FlowOAuth2:
		return r.OAuth2 != nil && r.OAuth2.AccessToken != ""
	default:
		return false
	}
}

// TokenGrant is the provider-shaped result of one exchange or refresh,
// normalized to the half it fills.
type TokenGrant struct {
	FlowKind FlowKind
	OAuth1   *OAuth1Credentials
	OAuth2   *OAuth2Credentials
}
