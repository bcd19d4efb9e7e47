package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"equity-waterfall-engine/config"
	"equity-waterfall-engine/internal/aggregate"
	"equity-waterfall-engine/internal/cache"
	"equity-waterfall-engine/internal/daycount"
	"equity-waterfall-engine/internal/database"
	"equity-waterfall-engine/internal/events"
)

// RateLimiter provides simple in-memory rate limiting per endpoint
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int           // max requests
	window   time.Duration // time window
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	// Filter out old requests
	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	repo        *database.Repository // nil when persistence is disabled
	runCache    *cache.RunCache      // nil when Redis is disabled
	aggregator  *aggregate.Aggregator
	eventBus    *events.EventBus
	config      config.ServerConfig
	dayCount    daycount.Convention
	rateLimiter *RateLimiter
	logger      zerolog.Logger
}

// NewServer creates a new API server. repo and runCache can be nil; the
// corresponding behaviors (persistence, result caching) are skipped.
func NewServer(
	cfg config.ServerConfig,
	conv daycount.Convention,
	aggregator *aggregate.Aggregator,
	repo *database.Repository,
	runCache *cache.RunCache,
	eventBus *events.EventBus,
	logger zerolog.Logger,
) *Server {
	if cfg.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins == "" || cfg.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	router.Use(cors.New(corsConfig))

	limit := cfg.RateLimit
	if limit <= 0 {
		limit = 60
	}

	server := &Server{
		router:      router,
		repo:        repo,
		runCache:    runCache,
		aggregator:  aggregator,
		eventBus:    eventBus,
		config:      cfg,
		dayCount:    conv,
		rateLimiter: NewRateLimiter(limit, time.Minute),
		logger:      logger.With().Str("component", "APIServer").Logger(),
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		runs := v1.Group("/waterfall/runs")
		runs.POST("", s.rateLimitMiddleware(), s.handleCreateRun)
		runs.GET("", s.handleListRuns)
		runs.GET("/:id", s.handleGetRun)
		runs.GET("/:id/distributions", s.handleGetRunDistributions)
	}
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP() + ":" + c.FullPath()
		if !s.rateLimiter.Allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded, try again later",
			})
			return
		}
		c.Next()
	}
}

// Start runs the HTTP server until Shutdown is called
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

// Router exposes the gin engine for tests
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	cacheStatus := "disabled"
	if s.runCache != nil {
		if s.runCache.IsHealthy() {
			cacheStatus = "healthy"
		} else {
			cacheStatus = "degraded"
		}
	}

	dbStatus := "disabled"
	if s.repo != nil {
		dbStatus = "enabled"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"database":  dbStatus,
		"cache":     cacheStatus,
		"day_count": string(s.dayCount),
	})
}
