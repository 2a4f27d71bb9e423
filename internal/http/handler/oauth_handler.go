package handler

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/see4tech/oauth-service/internal/domain"
	"github.com/see4tech/oauth-service/internal/http/middleware"
	"github.com/see4tech/oauth-service/internal/service/broker"
)

// OAuthService is the orchestrator surface the handlers drive.
type OAuthService interface {
	Init(ctx context.Context, in broker.InitInput) (*broker.InitResult, error)
	Complete(ctx context.Context, in broker.CompleteInput) (*broker.CompletionResult, error)
	Status(ctx context.Context, userID string, p domain.Platform) (*broker.ConnectionStatus, error)
	EnsureFresh(ctx context.Context, userID string, p domain.Platform) (string, error)
	Disconnect(ctx context.Context, userID string, p domain.Platform) error
}

// TokenReader exposes stored credentials to authorized callers.
type TokenReader interface {
	Get(ctx context.Context, userID string, p domain.Platform) (*domain.TokenRecord, error)
}

// KeyService issues and validates per-user API keys.
type KeyService interface {
	Issue(ctx context.Context, userID string, p domain.Platform) (string, error)
	Validate(ctx context.Context, userID string, p domain.Platform, key string) error
}

// OAuthHandler exposes the broker over HTTP.
type OAuthHandler struct {
	Service OAuthService
	Tokens  TokenReader
	Keys    KeyService
	Logger  *zap.Logger
}

func NewOAuthHandler(service OAuthService, tokens TokenReader, keys KeyService, logger *zap.Logger) *OAuthHandler {
	if logger == nil {
		logger = zap.L()
	}
	return &OAuthHandler{Service: service, Tokens: tokens, Keys: keys, Logger: logger}
}

func platformParam(c *gin.Context) (domain.Platform, bool) {
	p, err := domain.ParsePlatform(c.Param("platform"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unsupported_platform", "error_description": "Unknown platform."})
		return "", false
	}
	return p, true
}

// InitFlow starts an authorization attempt and returns the URL the client
// must open.
func (h *OAuthHandler) InitFlow(c *gin.Context) {
	p, ok := platformParam(c)
	if !ok {
		return
	}

	var req struct {
		UserID              string   `json:"user_id"`
		RedirectURI         string   `json:"redirect_uri"`
		FrontendCallbackURL string   `json:"frontend_callback_url"`
		Scopes              []string `json:"scopes"`
		FlowKind            string   `json:"flow_kind"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid payload."})
		return
	}

	var kind domain.FlowKind
	if strings.TrimSpace(req.FlowKind) != "" {
		parsed, err := domain.ParseFlowKind(req.FlowKind)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Unknown flow_kind."})
			return
		}
		kind = parsed
	}

	res, err := h.Service.Init(c.Request.Context(), broker.InitInput{
		Platform:            p,
		UserID:              req.UserID,
		RedirectURI:         req.RedirectURI,
		FrontendCallbackURL: req.FrontendCallbackURL,
		Scopes:              req.Scopes,
		FlowKind:            kind,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// CompleteFlow finishes a leg from callback artifacts relayed by the
// frontend.
func (h *OAuthHandler) CompleteFlow(c *gin.Context) {
	p, ok := platformParam(c)
	if !ok {
		return
	}

	var req struct {
		State         string `json:"state"`
		Code          string `json:"code"`
		OAuthToken    string `json:"oauth_token"`
		OAuthVerifier string `json:"oauth_verifier"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid payload."})
		return
	}

	res, err := h.Service.Complete(c.Request.Context(), broker.CompleteInput{
		Platform:      p,
		State:         req.State,
		Code:          req.Code,
		OAuthToken:    req.OAuthToken,
		OAuthVerifier: req.OAuthVerifier,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, completionBody(res))
}

// CallbackRelay handles the provider redirect directly. It completes the
// leg server-side, then renders a page that hands the outcome to the
// opening window and closes the popup.
func (h *OAuthHandler) CallbackRelay(c *gin.Context) {
	p, ok := platformParam(c)
	if !ok {
		return
	}

	if provErr := c.Query("error"); provErr != "" {
		h.renderRelay(c, gin.H{
			"status":            "error",
			"platform":          string(p),
			"error":             provErr,
			"error_description": c.Query("error_description"),
		})
		return
	}

	res, err := h.Service.Complete(c.Request.Context(), broker.CompleteInput{
		Platform:      p,
		State:         c.Query("state"),
		Code:          c.Query("code"),
		OAuthToken:    c.Query("oauth_token"),
		OAuthVerifier: c.Query("oauth_verifier"),
	})
	if err != nil {
		_, body := errorBody(err)
		body["status"] = "error"
		body["platform"] = string(p)
		h.renderRelay(c, body)
		return
	}

	payload := gin.H{"platform": string(p), "user_id": res.UserID}
	if res.Kind == broker.CompletionContinue {
		payload["status"] = "pending"
		payload["next_authorization_url"] = res.NextAuthorizationURL
		payload["next_state"] = res.NextState
	} else {
		payload["status"] = "success"
	}
	if res.FrontendCallbackURL != "" {
		payload["frontend_callback_url"] = res.FrontendCallbackURL
	}
	h.renderRelay(c, payload)
}

// Refresh returns a usable access token, refreshing it first when needed.
func (h *OAuthHandler) Refresh(c *gin.Context) {
	p, ok := platformParam(c)
	if !ok {
		return
	}

	var req struct {
		UserID string `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "user_id is required."})
		return
	}

	access, err := h.Service.EnsureFresh(c.Request.Context(), req.UserID, p)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"platform": string(p), "access_token": access})
}

// Status reports the connection state for a (user, platform) pair.
func (h *OAuthHandler) Status(c *gin.Context) {
	p, ok := platformParam(c)
	if !ok {
		return
	}
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "user_id is required."})
		return
	}

	status, err := h.Service.Status(c.Request.Context(), userID, p)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// GetToken returns decrypted credentials. The caller must present the
// per-user key issued for the pair, not just the service key.
func (h *OAuthHandler) GetToken(c *gin.Context) {
	p, ok := platformParam(c)
	if !ok {
		return
	}
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "user_id is required."})
		return
	}

	if err := h.Keys.Validate(c.Request.Context(), userID, p, middleware.UserKey(c)); err != nil {
		respondError(c, err)
		return
	}

	// Hand out a live credential: refresh first when the access token is
	// inside the expiry buffer. Platforms without a refresh grant fall
	// through to whatever is stored.
	if _, err := h.Service.EnsureFresh(c.Request.Context(), userID, p); err != nil && !errors.Is(err, domain.ErrRefreshUnsupported) {
		respondError(c, err)
		return
	}

	rec, err := h.Tokens.Get(c.Request.Context(), userID, p)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Disconnect deletes the stored credential for the pair.
func (h *OAuthHandler) Disconnect(c *gin.Context) {
	p, ok := platformParam(c)
	if !ok {
		return
	}
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "user_id is required."})
		return
	}

	if err := h.Service.Disconnect(c.Request.Context(), userID, p); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"platform": string(p), "user_id": userID, "disconnected": true})
}

// IssueKey mints a per-user API key for the pair. The plaintext is
// returned exactly once.
func (h *OAuthHandler) IssueKey(c *gin.Context) {
	p, ok := platformParam(c)
	if !ok {
		return
	}

	var req struct {
		UserID string `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "user_id is required."})
		return
	}

	key, err := h.Keys.Issue(c.Request.Context(), req.UserID, p)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"platform": string(p), "user_id": req.UserID, "api_key": key})
}

// Health is the liveness probe.
func (h *OAuthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func completionBody(res *broker.CompletionResult) gin.H {
	body := gin.H{
		"kind":      res.Kind,
		"flow_kind": res.FlowKind,
		"user_id":   res.UserID,
	}
	if res.FrontendCallbackURL != "" {
		body["frontend_callback_url"] = res.FrontendCallbackURL
	}
	if res.Kind == broker.CompletionContinue {
		body["next_authorization_url"] = res.NextAuthorizationURL
		body["next_state"] = res.NextState
	} else if res.Record != nil {
		body["connected"] = true
	}
	return body
}

// respondError maps domain sentinels onto OAuth-style error bodies.
func respondError(c *gin.Context, err error) {
	code, body := errorBody(err)
	c.JSON(code, body)
}

func errorBody(err error) (int, gin.H) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": err.Error()}
	case errors.Is(err, domain.ErrPlatformUnsupported):
		return http.StatusNotFound, gin.H{"error": "unsupported_platform", "error_description": err.Error()}
	case errors.Is(err, domain.ErrStateExpired):
		return http.StatusBadRequest, gin.H{"error": "state_expired", "error_description": "Authorization attempt expired. Restart the flow."}
	case errors.Is(err, domain.ErrStateAlreadyUsed):
		return http.StatusConflict, gin.H{"error": "state_already_used", "error_description": "Callback already processed."}
	case errors.Is(err, domain.ErrStateNotFound):
		return http.StatusBadRequest, gin.H{"error": "invalid_state", "error_description": "Unknown or expired state token."}
	case errors.Is(err, domain.ErrProviderExchangeFailed):
		return http.StatusBadGateway, gin.H{"error": "provider_exchange_failed", "error_description": "The platform rejected the token exchange."}
	case errors.Is(err, domain.ErrRefreshUnsupported):
		return http.StatusBadRequest, gin.H{"error": "refresh_unsupported", "error_description": "The platform does not support token refresh."}
	case errors.Is(err, domain.ErrReauthRequired):
		return http.StatusUnauthorized, gin.H{"error": "reauthorization_required", "error_description": "No usable credential. The user must reconnect."}
	case errors.Is(err, domain.ErrTokenNotFound):
		return http.StatusNotFound, gin.H{"error": "token_not_found", "error_description": "No stored credential for this user and platform."}
	case errors.Is(err, domain.ErrAPIKeyNotFound), errors.Is(err, domain.ErrAPIKeyInvalid):
		return http.StatusUnauthorized, gin.H{"error": "unauthorized", "error_description": "Invalid API key."}
	case errors.Is(err, domain.ErrCiphertextInvalid):
		return http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Stored credential could not be decrypted."}
	default:
		return http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": err.Error()}
	}
}

var relayTemplate = template.Must(template.New("relay").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Connecting...</title></head>
<body>
<script>
(function () {
  var payload = {{.Payload}};
  if (payload.status === "pending" && payload.next_authorization_url) {
    window.location.replace(payload.next_authorization_url);
    return;
  }
  if (window.opener) {
    window.opener.postMessage(payload, "*");
    window.close();
    return;
  }
  if (payload.frontend_callback_url) {
    window.location.replace(payload.frontend_callback_url);
  }
})();
</script>
<p>You can close this window.</p>
</body>
</html>
`))

// renderRelay emits the popup page. The dual-flow pending case redirects
// straight into the second leg without bouncing through the frontend.
func (h *OAuthHandler) renderRelay(c *gin.Context, payload gin.H) {
	raw, err := json.Marshal(payload)
	if err != nil {
		c.String(http.StatusInternalServerError, "encode relay payload")
		return
	}
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := relayTemplate.Execute(c.Writer, map[string]any{"Payload": template.JS(raw)}); err != nil {
		h.Logger.Warn("render relay page", zap.Error(err))
	}
}
