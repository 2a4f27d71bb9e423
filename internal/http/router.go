package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/see4tech/oauth-service/internal/config"
	"github.com/see4tech/oauth-service/internal/http/handler"
	httpmiddleware "github.com/see4tech/oauth-service/internal/http/middleware"
	"github.com/see4tech/oauth-service/internal/middleware"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, oauthHandler *handler.OAuthHandler, auth *httpmiddleware.Auth, rateLimiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	r.GET("/healthz", oauthHandler.Health)

	oauth := r.Group("/oauth/:platform")
	{
		// The GET callback is the provider redirect target and cannot
		// carry headers; it is authenticated by the consume-once state.
		oauth.GET("/callback", oauthHandler.CallbackRelay)

		oauth.POST("/init", auth.RequireServiceKey, oauthHandler.InitFlow)
		oauth.POST("/callback", auth.RequireServiceKey, oauthHandler.CompleteFlow)
		oauth.POST("/refresh", auth.RequireServiceKey, oauthHandler.Refresh)
		oauth.GET("/status", auth.RequireServiceKey, oauthHandler.Status)
		oauth.GET("/token", auth.RequireServiceKey, oauthHandler.GetToken)
		oauth.DELETE("", auth.RequireServiceKey, oauthHandler.Disconnect)

		oauth.POST("/keys", auth.RequireServiceKey, oauthHandler.IssueKey)
	}

	return r
}
