package server

import (
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/see4tech/oauth-service/internal/config"
)

func TestNewHTTPServer_TimeoutsFromConfig(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := NewHTTPServer(gin.New(), config.Config{
		HTTPReadTimeout:  5 * time.Second,
		HTTPWriteTimeout: 45 * time.Second,
		ShutdownTimeout:  3 * time.Second,
		ProviderTimeout:  15 * time.Second,
	})

	require.Equal(t, 5*time.Second, srv.readTimeout)
	require.Equal(t, 45*time.Second, srv.writeTimeout)
	require.Equal(t, 3*time.Second, srv.shutdownTimeout)
	require.True(t, srv.Engine.HandleMethodNotAllowed)
}

func TestNewHTTPServer_WriteTimeoutCoversProviderCalls(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// A write timeout shorter than the provider timeout would cut off
	// callback responses mid-exchange; it gets widened.
	srv := NewHTTPServer(gin.New(), config.Config{
		HTTPWriteTimeout: 5 * time.Second,
		ProviderTimeout:  15 * time.Second,
	})
	require.Equal(t, 20*time.Second, srv.writeTimeout)

	// Default shutdown grace when unset.
	require.Equal(t, 10*time.Second, srv.shutdownTimeout)
}
