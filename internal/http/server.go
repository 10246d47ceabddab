// Package http provides the HTTP server and route registration.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"

	adminHTTP "github.com/hivedb/hivedb/internal/admin/http"
	authHTTP "github.com/hivedb/hivedb/internal/auth/http"
	authService "github.com/hivedb/hivedb/internal/auth/service"
	catalogUseCase "github.com/hivedb/hivedb/internal/catalog/usecase"
	cellsHTTP "github.com/hivedb/hivedb/internal/cells/http"
	"github.com/hivedb/hivedb/internal/config"
	"github.com/hivedb/hivedb/internal/metrics"
	secureHTTP "github.com/hivedb/hivedb/internal/secure/http"
)

// Version is the service version reported by the root endpoint.
const Version = "1.0.0"

// Handlers groups the HTTP handlers wired into the server routes.
type Handlers struct {
	Auth   *authHTTP.AuthHandler
	Cell   *cellsHTTP.CellHandler
	Data   *cellsHTTP.DataHandler
	Query  *cellsHTTP.QueryHandler
	Secure *secureHTTP.SecureHandler
	Admin  *adminHTTP.AdminHandler
}

// Server wraps the HTTP server with graceful shutdown support.
type Server struct {
	httpServer *http.Server
	router     *gin.Engine
	logger     *slog.Logger
}

// NewServer creates a new HTTP server with all routes and middleware
// configured.
func NewServer(
	cfg *config.Config,
	handlers *Handlers,
	tokenService authService.TokenService,
	userUseCase catalogUseCase.UserUseCaseInterface,
	metricsProvider *metrics.Provider,
	logger *slog.Logger,
) *Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestid.New())
	router.Use(CustomLoggerMiddleware(logger))

	if corsMiddleware := createCORSMiddleware(cfg.CORSEnabled, cfg.CORSAllowOrigins, logger); corsMiddleware != nil {
		router.Use(corsMiddleware)
	}

	if metricsProvider != nil {
		router.Use(metrics.HTTPMetricsMiddleware(metricsProvider.MeterProvider(), cfg.MetricsNamespace))
	}

	registerRoutes(router, cfg, handlers, tokenService, userUseCase, logger)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		router: router,
		logger: logger,
	}
}

// registerRoutes wires every route group onto the router.
func registerRoutes(
	router *gin.Engine,
	cfg *config.Config,
	handlers *Handlers,
	tokenService authService.TokenService,
	userUseCase catalogUseCase.UserUseCaseInterface,
	logger *slog.Logger,
) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": "hivedb",
			"version": Version,
			"status":  "running",
		})
	})
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	auth := router.Group("/auth")
	{
		auth.POST("/register", handlers.Auth.RegisterHandler)

		login := auth.Group("")
		if cfg.RateLimitLoginEnabled {
			login.Use(authHTTP.LoginRateLimitMiddleware(
				cfg.RateLimitLoginRequestsPerSec, cfg.RateLimitLoginBurst, logger))
		}
		login.POST("/login", handlers.Auth.LoginHandler)
	}

	authenticated := router.Group("")
	authenticated.Use(authHTTP.AuthenticationMiddleware(tokenService, userUseCase, logger))
	if cfg.RateLimitEnabled {
		authenticated.Use(authHTTP.RateLimitMiddleware(
			cfg.RateLimitRequestsPerSec, cfg.RateLimitBurst, logger))
	}
	{
		cells := authenticated.Group("/cells")
		{
			cells.POST("", handlers.Cell.CreateHandler)
			cells.GET("", handlers.Cell.ListHandler)
			cells.GET("/:key", handlers.Cell.GetHandler)
			cells.DELETE("/:key", handlers.Cell.DeleteHandler)
			cells.POST("/:key/share", handlers.Cell.ShareHandler)
			cells.GET("/:key/keys", handlers.Data.KeysHandler)
			cells.POST("/:key/data", handlers.Data.PutHandler)
			cells.GET("/:key/data/:item", handlers.Data.GetItemHandler)
			cells.DELETE("/:key/data/:item", handlers.Data.DeleteItemHandler)
			cells.POST("/:key/query", handlers.Query.QueryHandler)
		}

		secure := authenticated.Group("/secure")
		{
			secure.POST("/encrypt", handlers.Secure.EncryptHandler)
			secure.POST("/decrypt", handlers.Secure.DecryptHandler)
			secure.POST("/verify", handlers.Secure.VerifyHandler)
			secure.POST("/compute", handlers.Secure.ComputeHandler)
		}

		admin := authenticated.Group("")
		admin.Use(authHTTP.AdminMiddleware(logger))
		{
			admin.GET("/secure/attestation", handlers.Secure.AttestationHandler)
			admin.GET("/admin/stats", handlers.Admin.StatsHandler)
			admin.GET("/admin/cache/stats", handlers.Admin.CacheStatsHandler)
			admin.GET("/admin/cache/hot-patterns", handlers.Admin.HotPatternsHandler)
			admin.GET("/admin/cache/preload-hints", handlers.Admin.PreloadHintsHandler)
			admin.POST("/admin/cache/clear", handlers.Admin.ClearCacheHandler)
		}
	}
}

// Start starts the HTTP server. Blocks until the server stops.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting HTTP server", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// GetHandler exposes the router for tests.
func (s *Server) GetHandler() http.Handler {
	return s.router
}
