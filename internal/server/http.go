package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/see4tech/oauth-service/internal/config"
)

// HTTPServer wraps a gin.Engine with graceful shutdown helpers. Timeouts
// come from config: callback requests block on provider exchanges, so the
// write timeout must comfortably exceed the provider timeout.
type HTTPServer struct {
	Engine *gin.Engine

	readTimeout     time.Duration
	writeTimeout    time.Duration
	shutdownTimeout time.Duration
}

// NewHTTPServer creates a server with sane defaults such as recovery middleware.
func NewHTTPServer(router *gin.Engine, cfg config.Config) *HTTPServer {
	router.HandleMethodNotAllowed = true
	router.ForwardedByClientIP = true

	s := &HTTPServer{
		Engine:          router,
		readTimeout:     cfg.HTTPReadTimeout,
		writeTimeout:    cfg.HTTPWriteTimeout,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
	if s.writeTimeout > 0 && s.writeTimeout < cfg.ProviderTimeout {
		s.writeTimeout = cfg.ProviderTimeout + 5*time.Second
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = 10 * time.Second
	}
	return s
}

// Run starts the HTTP server on the provided addr and shuts it down when ctx is done.
func (s *HTTPServer) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Engine,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
