package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"chatgate/internal/api"
	"chatgate/internal/auth"
	"chatgate/internal/channel"
	"chatgate/internal/config"
	"chatgate/internal/database"
	"chatgate/internal/gateway"
	"chatgate/internal/logger"
	"chatgate/internal/metrics"
	"chatgate/internal/ratelimit"
	"chatgate/internal/relay"
	"chatgate/internal/websocket"
	"chatgate/pkg/interfaces"
	pkgdatabase "chatgate/pkg/database"
)

var log = logger.Named("app")

// limiterCleanupInterval is how often idle in-memory limiter keys are pruned
const limiterCleanupInterval = time.Minute

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	dbManager  *database.Manager
	channels   *channel.Manager
	redis      *redis.Client
	limiter    interfaces.RateLimiter
	relay      interfaces.Relay
	metrics    *metrics.Metrics
	gateway    *gateway.Gateway
	apiServer  *api.Server
	httpServer *http.Server

	cancel context.CancelFunc
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Database → Channels → Redis → Limiter/Relay → Gateway → API → HTTP
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize identity verifier: %w", err)
	}

	// STEP 1: Initialize database manager (foundation layer)
	dbConfig := pkgdatabase.DefaultConfig()
	dbConfig.DatabasePath = cfg.Database.Path
	dbConfig.ConnMaxLifetime = cfg.Database.Timeout
	dbConfig.ConnMaxIdleTime = cfg.Database.Timeout / 3
	dbConfig.WriteTimeout = cfg.Database.Timeout
	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	// STEP 1.5: Apply database migrations to ensure schema is up to date
	if err := dbManager.Migrate(); err != nil {
		dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	log.Info("Database migrations applied", zap.String("path", cfg.Database.Path))

	app := &Application{
		config:    cfg,
		dbManager: dbManager,
		channels:  channel.NewManager(dbManager),
		metrics:   metrics.New(),
	}

	// STEP 2: Shared infrastructure for multi-process deployments
	if cfg.NeedsRedis() {
		app.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
	}

	app.limiter, err = ratelimit.New(cfg.RateLimit, app.redis)
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("failed to initialize rate limiter: %w", err)
	}

	app.relay, err = relay.New(cfg.Relay, app.redis)
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("failed to initialize relay: %w", err)
	}

	// STEP 3: Initialize the realtime gateway
	app.gateway, err = gateway.NewGateway(gateway.Options{
		Store:     dbManager,
		Oracle:    app.channels,
		Limiter:   app.limiter,
		Verifier:  verifier,
		Relay:     app.relay,
		Metrics:   app.metrics,
		RateLimit: gateway.RateLimit{Max: cfg.RateLimit.Max, Window: cfg.RateLimit.Window},
	})
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("failed to initialize gateway: %w", err)
	}

	// FUNCTIONAL DISCOVERY: revoking a membership evicts live subscriptions
	app.channels.OnRevoke(app.gateway.RevokeMembership)

	// STEP 4: Initialize API server and WebSocket endpoint
	if len(cfg.WebSocket.AllowedOrigins) == 0 {
		cfg.WebSocket.AllowedOrigins = cfg.HTTP.CORSOrigins
	}
	wsHandler := websocket.NewHandler(cfg.WebSocket, verifier, app.gateway, app.metrics)
	app.apiServer = api.NewServer(api.Options{
		Store:       dbManager,
		Channels:    app.channels,
		Verifier:    verifier,
		WebSocket:   http.HandlerFunc(wsHandler.HandleWebSocket),
		Realtime:    app.gateway,
		Metrics:     app.metrics,
		CORSOrigins: cfg.HTTP.CORSOrigins,
	})

	app.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      app.apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return app, nil
}

// Start begins application execution
// Startup coordination ensures all components ready before serving
// Gateway starts first to handle relay traffic, then HTTP server accepts connections
func (app *Application) Start(ctx context.Context) error {
	log.Info("Starting chatgate", zap.String("addr", app.httpServer.Addr))

	runCtx, cancel := context.WithCancel(ctx)
	app.cancel = cancel

	if app.redis != nil {
		if err := app.redis.Ping(runCtx).Err(); err != nil {
			cancel()
			return errors.Wrap(err, "redis unreachable")
		}
	}

	// STEP 1: Start the gateway (relay subscription)
	if err := app.gateway.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	if mem, ok := app.limiter.(*ratelimit.MemoryLimiter); ok {
		go mem.RunCleanup(runCtx, limiterCleanupInterval)
	}

	// STEP 2: Start HTTP server (accepts connections)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Verify server is ready before returning
	select {
	case err := <-serverErrCh:
		app.gateway.Stop()
		cancel()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Info("chatgate started")
		return nil
	case <-ctx.Done():
		app.gateway.Stop()
		cancel()
		return ctx.Err()
	}
}

// Stop gracefully shuts down the application
// Shutdown coordination ensures proper resource cleanup
// Reverse dependency order: HTTP → Gateway → Relay/Redis → Database
func (app *Application) Stop(ctx context.Context) error {
	log.Info("Shutting down chatgate")

	// STEP 1: Stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Warn("HTTP server shutdown error", zap.Error(err))
	}

	// STEP 2: Close live sockets and stop relay delivery
	if err := app.gateway.Stop(); err != nil && !errors.Is(err, gateway.ErrNotRunning) {
		log.Warn("Gateway shutdown error", zap.Error(err))
	}
	if app.cancel != nil {
		app.cancel()
	}

	// STEP 3: Close shared infrastructure and database connections
	app.closeInfrastructure()

	log.Info("chatgate shutdown complete")
	logger.Sync()
	return nil
}

func (app *Application) closeInfrastructure() {
	if app.relay != nil {
		if err := app.relay.Close(); err != nil {
			log.Warn("Relay shutdown error", zap.Error(err))
		}
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			log.Warn("Redis shutdown error", zap.Error(err))
		}
	}
	if err := app.dbManager.Close(); err != nil {
		log.Warn("Database shutdown error", zap.Error(err))
	}
}

// GetAddr returns the server address for external connections
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}

// Handler exposes the composed HTTP handler
func (app *Application) Handler() http.Handler {
	return app.apiServer
}
