package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"medrelay/internal/api"
	"medrelay/internal/appointment"
	"medrelay/internal/auth"
	"medrelay/internal/config"
	"medrelay/internal/conversation"
	"medrelay/internal/database"
	"medrelay/internal/hub"
	"medrelay/internal/logger"
	"medrelay/internal/metrics"
	"medrelay/internal/presence"
	"medrelay/internal/router"
	"medrelay/internal/websocket"
	pkgdatabase "medrelay/pkg/database"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config *config.Config
	logger *slog.Logger

	metricsRegistry *prometheus.Registry
	dbManager       *database.Manager
	authenticator   *auth.Authenticator
	presence        *presence.Registry
	conversations   *conversation.Store
	appointments    *appointment.Broker
	limiter         *router.RateLimiter
	messageHub      *hub.Hub
	purgeJob        *database.PurgeJob
	httpServer      *http.Server

	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Metrics → Database → Auth → Presence/Store/Broker → Router → Hub → WebSocket → API → HTTP
func NewApplication(cfg *config.Config, log *slog.Logger) (*Application, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	log = logger.OrDefault(log)

	// STEP 1: Metrics registry owned by this application instance
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewCollector(reg)

	// STEP 2: Revocation store (migrations run inside NewManager)
	dbConfig := pkgdatabase.DefaultConfig()
	dbConfig.DatabasePath = cfg.Database.Path
	dbConfig.WriteTimeout = cfg.Database.Timeout
	dbManager, err := database.NewManager(dbConfig, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	// STEP 3: Credential verification
	authenticator, err := auth.NewAuthenticator(auth.Config{
		Secret: cfg.Auth.Secret,
		Issuer: cfg.Auth.Issuer,
		Leeway: cfg.Auth.Leeway,
	}, dbManager)
	if err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to initialize authenticator: %w", err)
	}

	// STEP 4: In-memory coordination state
	registry := presence.NewRegistry()
	store := conversation.NewStore()
	broker := appointment.NewBroker()

	// STEP 5: Message router with optional per-user rate limiting
	var limiter *router.RateLimiter
	if cfg.RateLimit.EventsPerSecond > 0 {
		limiterConfig := router.DefaultRateLimiterConfig()
		limiterConfig.EventsPerSecond = cfg.RateLimit.EventsPerSecond
		limiterConfig.Burst = cfg.RateLimit.Burst
		limiter = router.NewRateLimiter(limiterConfig)
	}
	messageRouter := router.NewRouter(registry, store, limiter, recorder, log)

	// STEP 6: Hub coordinates every connection
	messageHub := hub.NewHub(registry, messageRouter, broker, recorder, log)

	// STEP 7: WebSocket handshake and read pump
	wsHandler := websocket.NewHandler(authenticator, messageHub, websocket.Config{
		SendBuffer:     cfg.WebSocket.BufferSize,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		PongWait:       cfg.WebSocket.ReadTimeout,
		PingInterval:   cfg.WebSocket.PingInterval,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
	}, recorder, log)

	// STEP 8: HTTP surface
	apiServer := api.NewServer(api.Deps{
		WebSocket:     wsHandler,
		Hub:           messageHub,
		Presence:      registry,
		Conversations: store,
		Appointments:  broker,
		Database:      dbManager,
		Revoker:       authenticator,
		ServiceKey:    cfg.Auth.ServiceKey,
		Gatherer:      reg,
		Logger:        log,
	})

	httpServer := &http.Server{
		Addr:         cfg.Address(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:          cfg,
		logger:          log,
		metricsRegistry: reg,
		dbManager:       dbManager,
		authenticator:   authenticator,
		presence:        registry,
		conversations:   store,
		appointments:    broker,
		limiter:         limiter,
		messageHub:      messageHub,
		purgeJob:        database.NewPurgeJob(authenticator, cfg.Database.PurgeInterval, log),
		httpServer:      httpServer,
	}, nil
}

// Start begins application execution
// Hub starts first to handle events, then the HTTP listener accepts connections
func (app *Application) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	app.cancel = cancel

	// STEP 1: Start hub (background event processing)
	if err := app.messageHub.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start hub: %w", err)
	}

	// STEP 2: Periodic revocation purge
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.purgeJob.Start(runCtx)
	}()

	// STEP 3: Bind before returning so callers (and tests using port 0) know the address
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", app.httpServer.Addr)
	if err != nil {
		cancel()
		_ = app.messageHub.Stop()
		app.wg.Wait()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	app.logger.Info("medrelay started", slog.String("addr", listener.Addr().String()))
	return nil
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → Hub → background jobs → Database
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down medrelay")
	var errs []error

	// STEP 1: Stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	// STEP 2: Stop event processing; this closes every live WebSocket
	if err := app.messageHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
	}

	// STEP 3: Background jobs
	if app.cancel != nil {
		app.cancel()
	}
	if app.limiter != nil {
		app.limiter.Stop()
	}
	app.wg.Wait()

	// STEP 4: Close database connections
	if err := app.dbManager.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database close: %w", err))
	}

	app.logger.Info("medrelay shutdown complete")
	return errors.Join(errs...)
}

// Addr returns the bound listen address once started, else the configured one
func (app *Application) Addr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Handler exposes the full HTTP surface, for in-process tests
func (app *Application) Handler() http.Handler {
	return app.httpServer.Handler
}

// Authenticator exposes token revocation to callers embedding the application
func (app *Application) Authenticator() *auth.Authenticator {
	return app.authenticator
}
