package domain

import "time"

// FlowState captures one in-flight authorization leg. It lives in the state
// registry under its correlation token and is consumed exactly once.
type FlowState struct {
	ID                  int64    `json:"id"`
	CorrelationToken    string   `json:"correlation_token"`
	Platform            Platform `json:"platform"`
	FlowKind            FlowKind `json:"flow_kind"`
	UserID              string   `json:"user_id"`
	RedirectURI         string   `json:"redirect_uri"`
	FrontendCallbackURL string   `json:"frontend_callback_url"`

	// PKCE verifier for OAuth2 legs.
	CodeVerifier string `json:"code_verifier,omitempty"`
	// Request token pair obtained during the OAuth1.0a first hop. The
	// provider callback carries the request token, not our state, so the
	// registry also aliases RequestToken back to CorrelationToken.
	RequestToken  string `json:"request_token,omitempty"`
	RequestSecret string `json:"request_secret,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the flow outlived its TTL.
func (f FlowState) Expired(now time.Time) bool {
	return !f.ExpiresAt.IsZero() && now.After(f.ExpiresAt)
}
