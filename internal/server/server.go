package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jag18729/guard-quote-sub000/internal/config"
	"github.com/jag18729/guard-quote-sub000/internal/handlers"
	"github.com/jag18729/guard-quote-sub000/internal/middleware"
	"github.com/jag18729/guard-quote-sub000/internal/mlengine"
	"github.com/jag18729/guard-quote-sub000/internal/pricing"
	"github.com/jag18729/guard-quote-sub000/internal/realtime"
	"github.com/jag18729/guard-quote-sub000/internal/reference"
)

// Server wires the pricing service together
type Server struct {
	config       *config.Config
	logger       *zap.Logger
	httpServer   *http.Server
	hub          *realtime.Hub
	mlClient     *mlengine.Client
	rdb          *redis.Client
	shutdownChan chan os.Signal
}

// NewServer constructs the service: shared resources are opened once
// here and reused by all requests.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	refs, err := reference.NewPostgresGateway(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open reference data gateway: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr(),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.Database,
		DialTimeout:  time.Duration(cfg.Redis.DialTimeout) * time.Second,
		ReadTimeout:  time.Duration(cfg.Redis.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Redis.WriteTimeout) * time.Second,
		PoolSize:     cfg.Redis.PoolSize,
	})

	mlClient := mlengine.NewClient(cfg.MLEngine, logger)
	calculator := pricing.NewCalculator(mlClient, refs, logger)
	hub := realtime.NewHub(calculator, rdb, cfg.WebSocket, logger)
	limiter := middleware.NewRateLimiter(rdb, cfg.RateLimit, logger)
	handler := handlers.New(calculator, mlClient, refs, hub, logger)

	server := &Server{
		config:       cfg,
		logger:       logger,
		hub:          hub,
		mlClient:     mlClient,
		rdb:          rdb,
		shutdownChan: make(chan os.Signal, 1),
	}
	server.setupHTTPServer(handler, limiter)

	return server, nil
}

func (s *Server) setupHTTPServer(handler *handlers.Handler, limiter *middleware.RateLimiter) {
	if s.config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(s.logger))

	router.GET("/", handler.Root)
	router.GET("/health", handler.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.GET("/health", handler.Health)
		api.GET("/event-types", limiter.Limit(middleware.TierStandard), handler.EventTypes)
		api.GET("/locations/:zip", limiter.Limit(middleware.TierStandard), handler.Location)
		api.POST("/quotes/calculate", limiter.Limit(middleware.TierPricing), handler.CalculateQuote)
		api.GET("/ml/status", limiter.Limit(middleware.TierStandard), handler.MLStatus)
		api.GET("/ws/stats", limiter.Limit(middleware.TierAdmin), handler.WSStats)
	}

	router.GET("/ws", handler.ClientWS)
	router.GET("/ws/admin", handler.AdminWS(s.config.Security.JWTSecret))

	s.httpServer = &http.Server{
		Addr:           fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:        router,
		ReadTimeout:    time.Duration(s.config.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(s.config.Server.WriteTimeout) * time.Second,
		IdleTimeout:    time.Duration(s.config.Server.IdleTimeout) * time.Second,
		MaxHeaderBytes: s.config.Server.MaxHeaderBytes,
	}
}

// Start runs the server until a shutdown signal arrives
func (s *Server) Start() error {
	go s.hub.Run()

	go func() {
		s.logger.Info("Starting HTTP server", zap.Int("port", s.config.Server.Port))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	signal.Notify(s.shutdownChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-s.shutdownChan
	s.logger.Info("Shutdown signal received", zap.String("signal", sig.String()))

	return s.Shutdown()
}

// Shutdown drains connections and releases shared resources
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.hub.Shutdown()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	if err := s.mlClient.Close(); err != nil {
		s.logger.Warn("ML engine channel close failed", zap.Error(err))
	}
	if err := s.rdb.Close(); err != nil {
		s.logger.Warn("Redis client close failed", zap.Error(err))
	}

	s.logger.Info("Server stopped")
	return nil
}
