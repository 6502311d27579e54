// Package server assembles the service: storage, event bus, ledger,
// subscriptions, entity sync, revocation guard, and the HTTP surface.
// Components depend on interfaces; this package is the only place they
// meet concrete implementations.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/kivuli/bizsync/internal/config"
	"github.com/kivuli/bizsync/internal/entitysync"
	"github.com/kivuli/bizsync/internal/events"
	"github.com/kivuli/bizsync/internal/health"
	"github.com/kivuli/bizsync/internal/ledger"
	"github.com/kivuli/bizsync/internal/logging"
	"github.com/kivuli/bizsync/internal/metrics"
	"github.com/kivuli/bizsync/internal/ratelimit"
	"github.com/kivuli/bizsync/internal/revocation"
	"github.com/kivuli/bizsync/internal/subscription"
	"github.com/kivuli/bizsync/internal/traces"
)

// Server wraps the HTTP server and all service components.
type Server struct {
	cfg *config.Config

	bus   *events.Bus
	relay *events.Relay

	ledgerEngine *ledger.Engine
	ledgerStore  ledger.Store

	subService *subscription.Service
	sweeper    *subscription.Sweeper

	syncClient *entitysync.Client
	responder  *entitysync.Responder
	source     entitysync.CacheStore

	guard   *revocation.Guard
	revList revocation.ListStore

	rateLimiter  *ratelimit.Limiter
	healthReg    *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	shutdownOtel func(context.Context) error
	cancelRunCtx context.CancelFunc

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a server instance with all components wired.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.healthy.Store(true)

	s.bus = events.NewBus(s.logger)
	s.healthReg = health.NewRegistry()

	// Storage: Postgres if DATABASE_URL is set, in-memory otherwise.
	var subStore subscription.Store
	var cache entitysync.CacheStore
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		s.ledgerStore = ledger.NewPostgresStore(db)
		subStore = subscription.NewPostgresStore(db)
		cache = entitysync.NewPostgresCache(db)
		s.revList = revocation.NewPostgresList(db)

		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	} else {
		s.logger.Info("using in-memory storage")
		s.ledgerStore = ledger.NewMemoryStore()
		subStore = subscription.NewMemoryStore()
		cache = entitysync.NewMemoryCache()
		s.revList = revocation.NewMemoryList()
	}

	// Ledger engine: the only writer of the ledger store.
	s.ledgerEngine = ledger.NewEngine(s.ledgerStore, s.bus,
		ledger.WithLowBalanceThreshold(cfg.LowBalanceThreshold),
		ledger.WithLogger(s.logger),
	)

	// Subscription lifecycle plus the expiration sweeper.
	s.subService = subscription.NewService(subStore, s.bus, s.logger)
	s.sweeper = subscription.NewSweeper(s.subService, cfg.SweepInterval, s.logger)

	// Entity sync: consumer side over the cache, owning side over the
	// authoritative source for this service's domain.
	s.syncClient = entitysync.NewClient(cache, s.bus, cfg.EntityDomain, cfg.ServiceName,
		entitysync.WithWaitTimeout(cfg.SyncTimeout),
		entitysync.WithRequestTTL(cfg.SyncRequestTTL),
		entitysync.WithClientLogger(s.logger),
	)
	s.syncClient.Attach(s.bus)

	s.source = entitysync.NewMemoryCache()
	s.responder = entitysync.NewResponder(s.source, s.bus, s.logger)
	s.responder.Attach(s.bus)

	// Revocation guard. When no remote authority is configured the
	// service checks its own list in-process.
	var checker revocation.Checker = s.revList
	if cfg.RevocationURL != "" {
		checker = revocation.NewRemoteChecker(cfg.RevocationURL)
	}
	policy := revocation.FailClosed
	if !cfg.FailClosed() {
		policy = revocation.FailOpen
	}
	s.guard = revocation.NewGuard([]byte(cfg.JWTSecret), checker, policy, s.logger)

	// Outbound relay to peer services.
	if len(cfg.RelayTargets) > 0 {
		targets := make([]*events.Target, 0, len(cfg.RelayTargets))
		for i, u := range cfg.RelayTargets {
			targets = append(targets, &events.Target{
				Name:   fmt.Sprintf("peer-%d", i),
				URL:    u,
				Secret: cfg.WebhookSecret,
				Topics: relayedTopics,
			})
		}
		s.relay = events.NewRelay(targets, s.logger)
		s.relay.Attach(s.bus, relayedTopics...)
		s.logger.Info("event relay enabled", "targets", len(targets))
	}

	gin.SetMode(ginMode(cfg))
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// relayedTopics are the outward-facing topics peers subscribe to.
var relayedTopics = []string{
	events.TopicEntityCreated,
	events.TopicEntityUpdated,
	events.TopicSubscriptionChanged,
	events.TopicSubscriptionExpired,
	events.TopicTokenAlert,
}

func ginMode(cfg *config.Config) string {
	if cfg.IsProduction() {
		return gin.ReleaseMode
	}
	return gin.DebugMode
}

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

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPM,
		BurstSize:         s.cfg.RateLimitRPM / 4,
		CleanupInterval:   time.Minute,
	})
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

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

func (s *Server) setupRoutes() {
	// Health and observability
	s.router.GET("/healthz", s.livenessHandler)
	s.router.GET("/readyz", s.readinessHandler)
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/metrics", metrics.Handler())

	ledgerHandler := ledger.NewHandler(s.ledgerEngine, s.ledgerStore)
	subHandler := subscription.NewHandler(s.subService)
	entityHandler := entitysync.NewHTTPHandler(s.syncClient, s.source, s.bus, s.cfg.EntityDomain)
	revHandler := revocation.NewHandler(s.revList)

	// Peer-facing: the revocation authority check is called by other
	// services, not end users.
	s.router.POST("/revocation/check", revHandler.Check)

	// Read-only routes fail open when the authority is unreachable;
	// nothing here moves tokens.
	readOnly := s.router.Group("/v1")
	readOnly.Use(revocation.MiddlewareWithPolicy(s.guard, revocation.FailOpen))
	ledgerHandler.RegisterRoutes(readOnly)
	subHandler.RegisterRoutes(readOnly)
	entityHandler.RegisterRoutes(readOnly)

	// Ledger-adjacent routes stay fail-closed.
	protected := s.router.Group("/v1")
	protected.Use(revocation.Middleware(s.guard))
	ledgerHandler.RegisterProtectedRoutes(protected)
	subHandler.RegisterProtectedRoutes(protected)

	admin := s.router.Group("/v1/admin")
	admin.Use(revocation.Middleware(s.guard))
	ledgerHandler.RegisterAdminRoutes(admin)
	subHandler.RegisterAdminRoutes(admin)
	entityHandler.RegisterAdminRoutes(admin)
	admin.POST("/revocation/revoke", revHandler.Revoke)
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.healthReg.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"service":   s.cfg.ServiceName,
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

// Run starts the HTTP server and all background workers, then blocks
// until a shutdown signal or context cancellation.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	shutdownOtel, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.cfg.ServiceName, s.logger)
	if err != nil {
		s.logger.Warn("failed to init tracing", "error", err)
	} else {
		s.shutdownOtel = shutdownOtel
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"service", s.cfg.ServiceName,
			"domain", s.cfg.EntityDomain,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Expiration sweeper and sync-request janitor.
	go s.sweeper.Start(runCtx)
	go s.syncClient.StartJanitor(runCtx)

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

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

// Shutdown gracefully stops the server and all background workers.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.sweeper.Stop()
	s.syncClient.StopJanitor()

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.shutdownOtel != nil {
		if err := s.shutdownOtel(ctx); err != nil {
			s.logger.Warn("tracer shutdown error", "error", err)
		}
	}

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

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// Router returns the gin router for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Bus returns the event bus for testing.
func (s *Server) Bus() *events.Bus {
	return s.bus
}
