package domain

import (
	"fmt"
	"strings"
)

// Platform identifies a supported social network.
type Platform string

const (
	PlatformTwitter   Platform = "twitter"
	PlatformLinkedIn  Platform = "linkedin"
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
)

// ParsePlatform normalizes a platform path/query parameter.
func ParsePlatform(raw string) (Platform, error) {
	switch Platform(strings.ToLower(strings.TrimSpace(raw))) {
	case PlatformTwitter:
		return PlatformTwitter, nil
	case PlatformLinkedIn:
		return PlatformLinkedIn, nil
	case PlatformFacebook:
		return PlatformFacebook, nil
	case PlatformInstagram:
		return PlatformInstagram, nil
	default:
		return "", fmt.Errorf("platform %q: %w", raw, ErrPlatformUnsupported)
	}
}

// FlowKind selects which OAuth dialect one authorization leg uses.
type FlowKind string

const (
	FlowOAuth1 FlowKind = "oauth1"
	FlowOAuth2 FlowKind = "oauth2"
)

// ParseFlowKind normalizes a flow kind value.
func ParseFlowKind(raw string) (FlowKind, error) {
	switch FlowKind(strings.ToLower(strings.TrimSpace(raw))) {
	case FlowOAuth1:
		return FlowOAuth1, nil
	case FlowOAuth2:
		return FlowOAuth2, nil
	default:
		return "", fmt.Errorf("flow kind %q: %w", raw, ErrInvalidRequest)
	}
}

// PlatformConfig is the static capability descriptor for one platform's
// OAuth dialect.
type PlatformConfig struct {
	Platform         Platform
	RequiresDualFlow bool
	SupportsRefresh  bool
	// RefreshWithAccessToken marks the Graph dialect where "refresh" swaps
	// the current access token for a long-lived one instead of presenting
	// a refresh token.
	RefreshWithAccessToken bool
	Scopes                 []string
	AuthorizeURL           string
	TokenURL               string
}

// RequiredFlows returns the flow kinds a full connection needs, in the
// order the orchestrator runs them. Dual-flow platforms run the OAuth2 leg
// first: it yields the identity scopes that label the OAuth1 credential.
func (c PlatformConfig) RequiredFlows() []FlowKind {
	if c.RequiresDualFlow {
		return []FlowKind{FlowOAuth2, FlowOAuth1}
	}
	return []FlowKind{FlowOAuth2}
}
