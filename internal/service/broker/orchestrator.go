package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/see4tech/oauth-service/internal/adapter/platform"
	"github.com/see4tech/oauth-service/internal/domain"
	"github.com/see4tech/oauth-service/internal/state"
)

// StateRegistry is the consume-once correlation token registry.
type StateRegistry interface {
	Issue(ctx context.Context, in state.IssueInput) (domain.FlowState, error)
	ResolveRequestToken(ctx context.Context, requestToken string) (string, error)
	Validate(ctx context.Context, correlationToken string) (domain.FlowState, error)
}

// TokenStore is the encrypted credential store.
type TokenStore interface {
	UpsertOAuth2(ctx context.Context, userID string, p domain.Platform, creds domain.OAuth2Credentials) error
	UpsertOAuth1(ctx context.Context, userID string, p domain.Platform, creds domain.OAuth1Credentials) error
	Mutate(ctx context.Context, userID string, p domain.Platform, fn func(rec *domain.TokenRecord) (*domain.TokenRecord, error)) error
	Get(ctx context.Context, userID string, p domain.Platform) (*domain.TokenRecord, error)
	IsConnected(ctx context.Context, userID string, p domain.Platform, cfg domain.PlatformConfig) (bool, error)
	Delete(ctx context.Context, userID string, p domain.Platform) error
}

// AdapterSource resolves platform adapters.
type AdapterSource interface {
	Get(p domain.Platform) (platform.Adapter, error)
}

// Orchestrator drives an authorization attempt from init to tokens
// persisted, including the Twitter dual-flow chaining where completing the
// OAuth2 leg hands back the OAuth1.0a leg's authorize URL.
type Orchestrator struct {
	registry        StateRegistry
	tokens          TokenStore
	platforms       AdapterSource
	logger          *zap.Logger
	providerTimeout time.Duration
	refresher       *refresher
	now             func() time.Time
}

// NewOrchestrator wires the flow state machine.
func NewOrchestrator(registry StateRegistry, tokens TokenStore, platforms AdapterSource, providerTimeout, refreshBuffer time.Duration, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.L()
	}
	if providerTimeout <= 0 {
		providerTimeout = 15 * time.Second
	}
	o := &Orchestrator{
		registry:        registry,
		tokens:          tokens,
		platforms:       platforms,
		logger:          logger,
		providerTimeout: providerTimeout,
		now:             time.Now,
	}
	o.refresher = newRefresher(o, refreshBuffer)
	return o
}

// InitInput is one leg's initialization request.
type InitInput struct {
	Platform            domain.Platform
	UserID              string
	RedirectURI         string
	FrontendCallbackURL string
	Scopes              []string
	// FlowKind selects the leg explicitly, e.g. to resume the missing half
	// of a partial dual-flow connection. Empty means the first required leg.
	FlowKind domain.FlowKind
}

// InitResult carries the authorize URL the client adapter must open.
type InitResult struct {
	AuthorizationURL string          `json:"authorization_url"`
	State            string          `json:"state"`
	FlowKind         domain.FlowKind `json:"flow_kind"`
}

// Init issues a FlowState and builds the leg's authorization URL.
func (o *Orchestrator) Init(ctx context.Context, in InitInput) (*InitResult, error) {
	if strings.TrimSpace(in.UserID) == "" || strings.TrimSpace(in.RedirectURI) == "" {
		return nil, fmt.Errorf("user_id and redirect_uri required: %w", domain.ErrInvalidRequest)
	}

	adapter, err := o.platforms.Get(in.Platform)
	if err != nil {
		return nil, err
	}
	cfg := adapter.Config()

	kind := in.FlowKind
	if kind == "" {
		kind = cfg.RequiredFlows()[0]
	}

	correlation, err := state.NewToken()
	if err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}

	// The OAuth1.0a variant performs the provider's request-token hop here.
	callCtx, cancel := context.WithTimeout(ctx, o.providerTimeout)
	defer cancel()
	authReq, err := adapter.BuildAuthorizationURL(callCtx, kind, in.Scopes, correlation, in.RedirectURI)
	if err != nil {
		return nil, err
	}

	flow, err := o.registry.Issue(ctx, state.IssueInput{
		CorrelationToken:    correlation,
		Platform:            in.Platform,
		FlowKind:            kind,
		UserID:              in.UserID,
		RedirectURI:         in.RedirectURI,
		FrontendCallbackURL: in.FrontendCallbackURL,
		CodeVerifier:        authReq.CodeVerifier,
		RequestToken:        authReq.RequestToken,
		RequestSecret:       authReq.RequestSecret,
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info("authorization flow initialized",
		zap.String("platform", string(in.Platform)),
		zap.String("flow_kind", string(kind)),
		zap.String("user_id", in.UserID),
		zap.Int64("flow_id", flow.ID))

	return &InitResult{
		AuthorizationURL: authReq.URL,
		State:            flow.CorrelationToken,
		FlowKind:         kind,
	}, nil
}

// CompletionKind tags the two terminal shapes of a Complete call.
type CompletionKind string

const (
	// CompletionDone means the connection's last required leg finished.
	CompletionDone CompletionKind = "done"
	// CompletionContinue means the just-completed leg was the first of a
	// required pair; the caller must open NextAuthorizationURL.
	CompletionContinue CompletionKind = "continue_second_leg"
)

// CompleteInput carries provider callback artifacts. OAuth2 callbacks bring
// state+code, OAuth1.0a callbacks bring oauth_token+oauth_verifier.
type CompleteInput struct {
	Platform      domain.Platform
	State         string
	Code          string
	OAuthToken    string
	OAuthVerifier string
}

// CompletionResult is the tagged union a Complete call resolves to.
type CompletionResult struct {
	Kind                 CompletionKind      `json:"kind"`
	FlowKind             domain.FlowKind     `json:"flow_kind"`
	UserID               string              `json:"user_id"`
	FrontendCallbackURL  string              `json:"frontend_callback_url,omitempty"`
	Record               *domain.TokenRecord `json:"record,omitempty"`
	NextAuthorizationURL string              `json:"next_authorization_url,omitempty"`
	NextState            string              `json:"next_state,omitempty"`
}

// Complete validates and consumes the flow state, exchanges the callback
// artifacts for tokens, and persists them. For the first leg of a dual-flow
// platform it returns the second leg's authorize URL instead of finishing;
// that URL is only built after the first leg's write has been acknowledged.
func (o *Orchestrator) Complete(ctx context.Context, in CompleteInput) (*CompletionResult, error) {
	adapter, err := o.platforms.Get(in.Platform)
	if err != nil {
		return nil, err
	}
	cfg := adapter.Config()

	correlation := strings.TrimSpace(in.State)
	if correlation == "" {
		if strings.TrimSpace(in.OAuthToken) == "" {
			return nil, fmt.Errorf("state or oauth_token required: %w", domain.ErrInvalidRequest)
		}
		if correlation, err = o.registry.ResolveRequestToken(ctx, in.OAuthToken); err != nil {
			return nil, err
		}
	}

	flow, err := o.registry.Validate(ctx, correlation)
	if err != nil {
		return nil, err
	}
	if flow.Platform != in.Platform {
		// A token issued for one platform presented to another's callback
		// fails closed.
		return nil, fmt.Errorf("platform mismatch: %w", domain.ErrStateNotFound)
	}

	callCtx, cancel := context.WithTimeout(ctx, o.providerTimeout)
	defer cancel()
	grant, err := adapter.Exchange(callCtx, platform.ExchangeInput{
		Flow:     flow,
		Code:     in.Code,
		Verifier: in.OAuthVerifier,
	})
	if err != nil {
		o.logger.Warn("token exchange failed",
			zap.String("platform", string(in.Platform)),
			zap.String("flow_kind", string(flow.FlowKind)),
			zap.String("user_id", flow.UserID),
			zap.Error(err))
		return nil, err
	}

	switch grant.FlowKind {
	case domain.FlowOAuth2:
		err = o.tokens.UpsertOAuth2(ctx, flow.UserID, in.Platform, *grant.OAuth2)
	case domain.FlowOAuth1:
		err = o.tokens.UpsertOAuth1(ctx, flow.UserID, in.Platform, *grant.OAuth1)
	default:
		err = fmt.Errorf("flow kind %s: %w", grant.FlowKind, domain.ErrInvalidRequest)
	}
	if err != nil {
		return nil, err
	}

	o.logger.Info("authorization leg completed",
		zap.String("platform", string(in.Platform)),
		zap.String("flow_kind", string(flow.FlowKind)),
		zap.String("user_id", flow.UserID))

	missing, err := o.missingFlow(ctx, flow.UserID, in.Platform, cfg)
	if err != nil {
		return nil, fmt.Errorf("read back token record: %w", err)
	}
	if missing != "" {
		next, err := o.Init(ctx, InitInput{
			Platform:            in.Platform,
			UserID:              flow.UserID,
			RedirectURI:         flow.RedirectURI,
			FrontendCallbackURL: flow.FrontendCallbackURL,
			FlowKind:            missing,
		})
		if err != nil {
			// The completed leg's tokens stay committed; the caller can
			// resume the missing leg later via Status + Init.
			return nil, fmt.Errorf("init second leg: %w", err)
		}
		return &CompletionResult{
			Kind:                 CompletionContinue,
			FlowKind:             flow.FlowKind,
			UserID:               flow.UserID,
			FrontendCallbackURL:  flow.FrontendCallbackURL,
			NextAuthorizationURL: next.AuthorizationURL,
			NextState:            next.State,
		}, nil
	}

	rec, err := o.tokens.Get(ctx, flow.UserID, in.Platform)
	if err != nil {
		return nil, err
	}
	return &CompletionResult{
		Kind:                CompletionDone,
		FlowKind:            flow.FlowKind,
		UserID:              flow.UserID,
		FrontendCallbackURL: flow.FrontendCallbackURL,
		Record:              rec,
	}, nil
}

func (o *Orchestrator) missingFlow(ctx context.Context, userID string, p domain.Platform, cfg domain.PlatformConfig) (domain.FlowKind, error) {
	if !cfg.RequiresDualFlow {
		return "", nil
	}
	rec, err := o.tokens.Get(ctx, userID, p)
	if err != nil {
		// A failed read must not be mistaken for a complete record; the
		// caller would otherwise report Done with a leg still missing.
		return "", err
	}
	for _, kind := range cfg.RequiredFlows() {
		if !rec.Has(kind) {
			return kind, nil
		}
	}
	return "", nil
}

// ConnectionStatus reports whether a (user, platform) pair is connected,
// partially connected, or disconnected.
type ConnectionStatus struct {
	Platform    domain.Platform `json:"platform"`
	UserID      string          `json:"user_id"`
	Connected   bool            `json:"connected"`
	Partial     bool            `json:"partial"`
	HasOAuth1   bool            `json:"has_oauth1"`
	HasOAuth2   bool            `json:"has_oauth2"`
	MissingFlow domain.FlowKind `json:"missing_flow,omitempty"`
}

// Status inspects the stored record. A partial dual-flow connection is a
// valid resumable state, not an error.
func (o *Orchestrator) Status(ctx context.Context, userID string, p domain.Platform) (*ConnectionStatus, error) {
	adapter, err := o.platforms.Get(p)
	if err != nil {
		return nil, err
	}
	cfg := adapter.Config()

	status := &ConnectionStatus{Platform: p, UserID: userID}

	rec, err := o.tokens.Get(ctx, userID, p)
	if err != nil {
		if errors.Is(err, domain.ErrTokenNotFound) {
			return status, nil
		}
		return nil, err
	}
	status.HasOAuth1 = rec.Has(domain.FlowOAuth1)
	status.HasOAuth2 = rec.Has(domain.FlowOAuth2)

	connected, err := o.tokens.IsConnected(ctx, userID, p, cfg)
	if err != nil {
		return nil, err
	}
	status.Connected = connected

	if !connected {
		for _, kind := range cfg.RequiredFlows() {
			if !rec.Has(kind) {
				status.MissingFlow = kind
				break
			}
		}
		status.Partial = status.MissingFlow != "" && (status.HasOAuth1 || status.HasOAuth2)
	}
	return status, nil
}

// EnsureFresh returns a usable OAuth2 access token, refreshing it first
// when it expires inside the buffer window.
func (o *Orchestrator) EnsureFresh(ctx context.Context, userID string, p domain.Platform) (string, error) {
	return o.refresher.ensureFresh(ctx, userID, p)
}

// Disconnect deletes the stored credential.
func (o *Orchestrator) Disconnect(ctx context.Context, userID string, p domain.Platform) error {
	if err := o.tokens.Delete(ctx, userID, p); err != nil {
		return err
	}
	o.logger.Info("platform disconnected",
		zap.String("platform", string(p)),
		zap.String("user_id", userID))
	return nil
}
