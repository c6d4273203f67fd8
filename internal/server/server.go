// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/forgetsubs/forgetsubs/internal/chains"
	"github.com/forgetsubs/forgetsubs/internal/classifier"
	"github.com/forgetsubs/forgetsubs/internal/config"
	"github.com/forgetsubs/forgetsubs/internal/health"
	"github.com/forgetsubs/forgetsubs/internal/idgen"
	"github.com/forgetsubs/forgetsubs/internal/logging"
	"github.com/forgetsubs/forgetsubs/internal/metrics"
	"github.com/forgetsubs/forgetsubs/internal/ratelimit"
	"github.com/forgetsubs/forgetsubs/internal/realtime"
	"github.com/forgetsubs/forgetsubs/internal/referral"
	"github.com/forgetsubs/forgetsubs/internal/report"
	"github.com/forgetsubs/forgetsubs/internal/security"
	"github.com/forgetsubs/forgetsubs/internal/unlock"
	"github.com/forgetsubs/forgetsubs/internal/usdc"
	"github.com/forgetsubs/forgetsubs/internal/validation"
	"github.com/forgetsubs/forgetsubs/internal/verify"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	db           *sql.DB // nil if using in-memory
	chains       *chains.Registry
	classifier   unlock.Classifier
	cache        *report.Cache
	sweeper      *report.Sweeper
	unlockSvc    *unlock.Service
	referralSvc  *referral.Service
	realtimeHub  *realtime.Hub
	checks       *health.Registry
	rateLimiter  *ratelimit.Limiter
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	verifyDialer verify.Dialer
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithClassifier sets a custom classifier (for testing)
func WithClassifier(c unlock.Classifier) Option {
	return func(s *Server) {
		s.classifier = c
	}
}

// WithVerifyDialer sets a custom RPC dialer for on-chain checks (for testing)
func WithVerifyDialer(d verify.Dialer) Option {
	return func(s *Server) {
		s.verifyDialer = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
		checks: health.NewRegistry(),
	}

	// Apply options first (may set classifier/logger/dialer)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	// Initialize referral storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var referralStore referral.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		pgStore := referral.NewPostgresStore(db)
		if err := pgStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate referral store", "error", err)
		}
		referralStore = pgStore
		s.checks.Register("database", health.DBChecker(db))
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		referralStore = referral.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Chain registry with RPC overrides from config
	s.chains = chains.NewRegistry(
		chains.WithRPCURL(chains.MonadID, cfg.MonadRPCURL),
		chains.WithRPCURL(chains.EthereumID, cfg.EthereumRPCURL),
		chains.WithRPCURL(chains.BSCID, cfg.BSCRPCURL),
		chains.WithRPCURL(chains.BaseID, cfg.BaseRPCURL),
	)

	// On-chain verifiers
	unlockPrice, ok := usdc.Parse(cfg.UnlockPrice)
	if !ok {
		return nil, fmt.Errorf("invalid unlock price %q", cfg.UnlockPrice)
	}

	var paymentOpts []verify.PaymentOption
	var ownershipOpts []verify.OwnershipOption
	if s.verifyDialer != nil {
		paymentOpts = append(paymentOpts, verify.WithPaymentDialer(s.verifyDialer))
		ownershipOpts = append(ownershipOpts, verify.WithOwnershipDialer(s.verifyDialer))
	}

	payments := verify.NewPaymentVerifier(s.chains, cfg.ReceiverWallet, unlockPrice, s.logger, paymentOpts...)
	ownership, err := verify.NewOwnershipVerifier(s.chains, cfg.NFTContract, cfg.NFTMinBalance, s.logger, ownershipOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create ownership verifier: %w", err)
	}
	s.logger.Info("on-chain verification enabled",
		"receiver", cfg.ReceiverWallet,
		"unlockPrice", cfg.UnlockPrice,
		"nftContract", cfg.NFTContract,
		"chains", s.chains.IDs(),
	)

	// Statement classifier (injected in tests)
	if s.classifier == nil {
		s.classifier = classifier.New(cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMBaseURL, s.logger)
		s.logger.Info("classifier enabled", "model", cfg.LLMModel)
	}

	// Report cache with TTL sweeper
	s.cache = report.NewCache(cfg.ReportTTL)
	s.sweeper = report.NewSweeper(s.cache, cfg.SweepInterval, s.logger)
	s.checks.Register("report_cache", health.CacheChecker(s.cache.Len))
	s.logger.Info("report cache enabled", "ttl", cfg.ReportTTL, "sweepInterval", cfg.SweepInterval)

	// Create realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)
	s.logger.Info("realtime streaming enabled")

	// Domain services
	s.unlockSvc = unlock.NewService(s.cache, s.classifier, payments, ownership, s.realtimeHub, s.logger)
	s.referralSvc, err = referral.NewService(referralStore, payments, cfg.UnlockPrice, cfg.ReferralReward, s.realtimeHub, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create referral service: %w", err)
	}
	s.logger.Info("referral rewards enabled", "reward", cfg.ReferralReward)

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins; the API carries no cookies or credentials)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (uploads are the largest bodies we accept)
	s.router.Use(validation.RequestSizeMiddleware(s.cfg.MaxUploadBytes))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	rlCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.Hex(16)
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// API group
	api := s.router.Group("/api")

	unlockHandler := unlock.NewHandler(s.unlockSvc)
	unlockHandler.RegisterRoutes(api)

	referralHandler := referral.NewHandler(s.referralSvc)
	referralHandler.RegisterRoutes(api)

	api.GET("/stats", s.statsHandler)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.checks.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   "0.1.0",
		"checks":    statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "ForgetSubs",
		"description": "Find and cancel forgotten subscriptions from your bank statements",
		"version":     "0.1.0",
		"currency":    "USDC",
		"unlockPrice": s.cfg.UnlockPrice,
		"chains":      s.chains.IDs(),
	})
}

// statsHandler returns live operational counters for dashboards
func (s *Server) statsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"cachedReports": s.cache.Len(),
		"realtime":      s.realtimeHub.Stats(),
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start report cache sweeper
	go s.sweeper.Start(runCtx)

	// Start database stats collector
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, sweeper, collectors)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	if s.cfg.IsProduction() {
		time.Sleep(5 * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop report cache sweeper
	if s.sweeper != nil {
		s.sweeper.Stop()
		s.logger.Info("report sweeper stopped")
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
