package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	apisetup "referral-engine/internal/api"
	"referral-engine/internal/bootstrap"
	"referral-engine/internal/config"
	"referral-engine/internal/observability"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Server encapsulates the HTTP server and its dependencies
type Server struct {
	httpServer *http.Server
	router     *gin.Engine
	deps       *bootstrap.Dependencies
	config     *config.Config
	logger     *observability.Logger
}

// New creates a new Server instance
func New(cfg *config.Config, deps *bootstrap.Dependencies, logger *observability.Logger) *Server {
	return &Server{
		config: cfg,
		deps:   deps,
		logger: logger,
	}
}

// Setup configures the HTTP router with middleware and routes
func (s *Server) Setup() {
	s.router = gin.New()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowCredentials = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS", "DELETE"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Cache-Control"}
	corsConfig.AllowOrigins = []string{s.config.Server.AllowedOrigin}

	// Allow localhost in non-production
	if os.Getenv("GO_ENV") != "production" {
		corsConfig.AllowOrigins = []string{"http://localhost:3000"}
	}

	s.router.Use(cors.New(corsConfig))
	s.router.Use(observability.Middleware(s.logger))

	rootRouter := s.router.Group("/")
	api := apisetup.New(
		rootRouter,
		s.deps.CodeHandler,
		s.deps.ReferralHandler,
		s.deps.RewardHandler,
		s.deps.RateLimiter,
	)
	api.RegisterRoutes()
}

// Start begins listening for HTTP requests
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Server.Port),
		Handler: s.router,
	}

	// Run the server in a goroutine so that it doesn't block
	go func() {
		s.logger.Info(ctx, fmt.Sprintf("Server starting on port %d", s.config.Server.Port))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(ctx, "server failed to start", err)
			os.Exit(1)
		}
	}()

	return nil
}

// WaitForShutdown blocks until a shutdown signal is received, then gracefully shuts down
func (s *Server) WaitForShutdown(ctx context.Context) error {
	quit := make(chan os.Signal, 1)
	// kill (no param) default sends syscall.SIGTERM
	// kill -2 is syscall.SIGINT
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	s.logger.Info(ctx, "Shutting down server...")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	s.deps.Cleanup()

	s.logger.Info(ctx, "Server exited gracefully")
	return nil
}
