package state

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"

	"github.com/see4tech/oauth-service/internal/domain"
)

const (
	flowPrefix  = "oauth:flow:"
	usedPrefix  = "oauth:used:"
	aliasPrefix = "oauth:rt:"
)

// Registry issues unforgeable per-flow correlation tokens and validates each
// one exactly once. Backed by Redis; keys expire on their own, so abandoned
// flows need no explicit cleanup.
type Registry struct {
	client redis.UniversalClient
	node   *snowflake.Node
	ttl    time.Duration
	now    func() time.Time
}

// NewRegistry constructs a Redis-backed flow state registry.
func NewRegistry(client redis.UniversalClient, node *snowflake.Node, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Registry{client: client, node: node, ttl: ttl, now: time.Now}
}

// IssueInput carries the flow parameters pinned under the correlation token.
type IssueInput struct {
	// CorrelationToken lets the caller pre-generate the token when it must
	// be embedded in the authorization URL before the flow is stored.
	// Empty means the registry generates one.
	CorrelationToken string

	Platform            domain.Platform
	FlowKind            domain.FlowKind
	UserID              string
	RedirectURI         string
	FrontendCallbackURL string

	// OAuth2 PKCE verifier, generated by the caller before the authorize hop.
	CodeVerifier string
	// OAuth1.0a request token pair. When present the registry also aliases
	// the request token back to the correlation token, since the provider
	// callback carries oauth_token instead of our state parameter.
	RequestToken  string
	RequestSecret string
}

// Issue stores a new pending FlowState under a fresh correlation token.
func (r *Registry) Issue(ctx context.Context, in IssueInput) (domain.FlowState, error) {
	token := in.CorrelationToken
	if token == "" {
		var err error
		if token, err = NewToken(); err != nil {
			return domain.FlowState{}, fmt.Errorf("generate correlation token: %w", err)
		}
	}

	now := r.now().UTC()
	flow := domain.FlowState{
		ID:                  r.node.Generate().Int64(),
		CorrelationToken:    token,
		Platform:            in.Platform,
		FlowKind:            in.FlowKind,
		UserID:              in.UserID,
		RedirectURI:         in.RedirectURI,
		FrontendCallbackURL: in.FrontendCallbackURL,
		CodeVerifier:        in.CodeVerifier,
		RequestToken:        in.RequestToken,
		RequestSecret:       in.RequestSecret,
		CreatedAt:           now,
		ExpiresAt:           now.Add(r.ttl),
	}

	payload, err := json.Marshal(flow)
	if err != nil {
		return domain.FlowState{}, fmt.Errorf("marshal flow state: %w", err)
	}

	// Keys live for twice the logical TTL so a late callback gets the
	// distinguishable StateExpired instead of StateNotFound.
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, flowPrefix+token, payload, 2*r.ttl)
	if in.RequestToken != "" {
		pipe.Set(ctx, aliasPrefix+in.RequestToken, token, 2*r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.FlowState{}, fmt.Errorf("persist flow state: %w", err)
	}

	return flow, nil
}

// ResolveRequestToken maps an OAuth1.0a request token from a provider
// callback to the correlation token it was issued under.
func (r *Registry) ResolveRequestToken(ctx context.Context, requestToken string) (string, error) {
	token, err := r.client.Get(ctx, aliasPrefix+requestToken).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", domain.ErrStateNotFound
		}
		return "", fmt.Errorf("resolve request token: %w", err)
	}
	return token, nil
}

// Validate consumes a correlation token. The GETDEL is atomic: of two
// concurrent calls with the same token exactly one receives the FlowState,
// the other fails with ErrStateAlreadyUsed or ErrStateNotFound.
func (r *Registry) Validate(ctx context.Context, correlationToken string) (domain.FlowState, error) {
	raw, err := r.client.GetDel(ctx, flowPrefix+correlationToken).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			return domain.FlowState{}, fmt.Errorf("consume flow state: %w", err)
		}
		used, existsErr := r.client.Exists(ctx, usedPrefix+correlationToken).Result()
		if existsErr != nil {
			return domain.FlowState{}, fmt.Errorf("check consumed state: %w", existsErr)
		}
		if used > 0 {
			return domain.FlowState{}, domain.ErrStateAlreadyUsed
		}
		return domain.FlowState{}, domain.ErrStateNotFound
	}

	var flow domain.FlowState
	if err := json.Unmarshal(raw, &flow); err != nil {
		return domain.FlowState{}, fmt.Errorf("decode flow state: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, usedPrefix+correlationToken, "1", 2*r.ttl)
	if flow.RequestToken != "" {
		pipe.Del(ctx, aliasPrefix+flow.RequestToken)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.FlowState{}, fmt.Errorf("mark state consumed: %w", err)
	}

	if flow.Expired(r.now()) {
		return domain.FlowState{}, domain.ErrStateExpired
	}
	return flow, nil
}

// NewToken returns a 256-bit random correlation token.
func NewToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
