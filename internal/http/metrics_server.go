package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hivedb/hivedb/internal/metrics"
)

// MetricsServer serves the Prometheus metrics endpoint on a dedicated port.
type MetricsServer struct {
	httpServer *http.Server
	router     *gin.Engine
	logger     *slog.Logger
}

// NewMetricsServer creates a new metrics server exposing /metrics.
func NewMetricsServer(host string, port int, metricsProvider *metrics.Provider, logger *slog.Logger) *MetricsServer {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(CustomLoggerMiddleware(logger))

	router.GET("/metrics", gin.WrapH(metricsProvider.Handler()))

	return &MetricsServer{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", host, port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		router: router,
		logger: logger,
	}
}

// Start starts the metrics server. Blocks until the server stops.
func (s *MetricsServer) Start(ctx context.Context) error {
	s.logger.Info("starting metrics server", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the metrics server.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down metrics server")
	return s.httpServer.Shutdown(ctx)
}

// GetHandler exposes the router for tests.
func (s *MetricsServer) GetHandler() http.Handler {
	return s.router
}
