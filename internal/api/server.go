// Package api serves the read-only status endpoints and the operator resume
// action over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/afadxb/bot4.1/internal/execution"
	"github.com/afadxb/bot4.1/internal/monitoring"
	"github.com/afadxb/bot4.1/internal/orchestrator"
	"github.com/afadxb/bot4.1/internal/storage"
	"github.com/afadxb/bot4.1/pkg/types"
)

// Views is the subset of storage.Store the API reads.
type Views interface {
	LatestSignals(ctx context.Context) ([]types.Signal, error)
	RiskEventsToday(ctx context.Context) ([]types.RiskEvent, error)
	IntradayExposure(ctx context.Context) ([]storage.Exposure, error)
	DailyEquity(ctx context.Context) ([]types.DailyEquity, error)
	Trades(ctx context.Context, session string) ([]types.TradeRecord, error)
}

// Engine is what the API needs from the orchestrator.
type Engine interface {
	State() orchestrator.State
	Session() string
	Resume(ctx context.Context, reason string) (bool, error)
}

// PositionLister lists open positions.
type PositionLister interface {
	Positions() []execution.Position
}

// Server represents the HTTP status server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	views      Views
	engine     Engine
	positions  PositionLister
	health     *monitoring.HealthChecker
	timeout    time.Duration
	log        zerolog.Logger
}

// NewServer builds the router. engine and positions may be nil, which
// disables the endpoints that need them.
func NewServer(views Views, engine Engine, positions PositionLister, health *monitoring.HealthChecker, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router:    router,
		views:     views,
		engine:    engine,
		positions: positions,
		health:    health,
		timeout:   5 * time.Second,
		log:       log.With().Str("component", "api").Logger(),
	}
	router.Use(s.requestLogger())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(monitoring.Handler()))

	api := s.router.Group("/api")
	api.GET("/signals/latest", s.handleLatestSignals)
	api.GET("/risk/today", s.handleRiskToday)
	api.GET("/exposure", s.handleExposure)
	api.GET("/equity", s.handleEquity)
	api.GET("/trades", s.handleTrades)
	api.GET("/state", s.handleState)
	api.POST("/resume", s.handleResume)
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.log.Info().Str("addr", addr).Msg("status server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
