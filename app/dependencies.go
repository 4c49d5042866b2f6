package app

import (
	"context"
	"fmt"

	"github.com/upb/ip-broker/config"
	"github.com/upb/ip-broker/handlers"
	"github.com/upb/ip-broker/internal/observability"
	"github.com/upb/ip-broker/middleware"
	"github.com/upb/ip-broker/services/providers"
	"github.com/upb/ip-broker/services/providers/httpgeo"
	"github.com/upb/ip-broker/services/providers/simulated"
	"github.com/upb/ip-broker/services/routing"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger
	Clock  providers.Clock

	// Provider selection
	ProviderRegistry *providers.Registry
	Dispatcher       providers.Dispatcher
	Routing          *routing.RoutingService

	// Metrics is nil when METRICS_ENABLED is false
	Metrics *observability.PrometheusMetrics

	// Auth. AuthMiddleware is nil when AUTH_JWT_SECRET is unset.
	AuthMiddleware *middleware.AuthMiddleware
	TokenIssuer    *middleware.HMACValidator

	// Handlers
	LookupHandler *handlers.LookupHandler
	HealthHandler *handlers.HealthHandler
}

// Option customises dependency construction.
type Option func(*Dependencies)

// WithClock replaces the system clock.
func WithClock(clock providers.Clock) Option {
	return func(d *Dependencies) { d.Clock = clock }
}

// WithDispatcher replaces the dispatcher chosen by DISPATCH_MODE. Payloads it
// returns must be JSON; other bytes are recorded as failed calls.
func WithDispatcher(dispatcher providers.Dispatcher) Option {
	return func(d *Dependencies) { d.Dispatcher = dispatcher }
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
		Clock:  providers.SystemClock,
	}
	for _, opt := range opts {
		opt(deps)
	}

	// Initialize provider registry
	if err := deps.initProviders(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	deps.initDispatcher(cfg)
	deps.initMetrics(cfg)

	if err := deps.initRouting(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize routing: %w", err)
	}

	deps.initAuth(cfg)
	deps.initHandlers()

	logger.Info("all dependencies initialized successfully",
		zap.Int("providers", deps.ProviderRegistry.Count()),
		zap.String("admission", string(deps.Routing.Mode())),
		zap.String("dispatch", cfg.Dispatch.Mode))
	return deps, nil
}

// initProviders builds the registry from the configured descriptors
func (d *Dependencies) initProviders(cfg *config.Config) error {
	registry, err := providers.NewRegistry(cfg.Providers, d.Clock)
	if err != nil {
		return err
	}

	for _, m := range registry.List() {
		desc := m.Descriptor()
		d.Logger.Info("provider registered",
			zap.String("provider", desc.Name),
			zap.Int("max_requests_per_minute", desc.MaxRequestsPerMinute),
			zap.String("endpoint", desc.URL("{ip}")))
	}

	d.ProviderRegistry = registry
	return nil
}

func (d *Dependencies) initDispatcher(cfg *config.Config) {
	if d.Dispatcher != nil {
		return
	}

	switch cfg.Dispatch.Mode {
	case config.DispatchHTTP:
		d.Dispatcher = httpgeo.NewAdapter(httpgeo.Config{
			Timeout:   cfg.Dispatch.Timeout,
			UserAgent: cfg.Dispatch.UserAgent,
		})
	default:
		d.Dispatcher = simulated.NewDispatcher(cfg.Dispatch.Seed)
	}
}

func (d *Dependencies) initMetrics(cfg *config.Config) {
	if !cfg.Observability.MetricsEnabled {
		return
	}
	d.Metrics = observability.NewPrometheusMetrics()
}

func (d *Dependencies) initRouting(cfg *config.Config) error {
	mode, err := routing.ParseAdmissionMode(cfg.Routing.AdmissionMode)
	if err != nil {
		return err
	}

	var metrics observability.Metrics = observability.NopMetrics{}
	if d.Metrics != nil {
		metrics = d.Metrics
	}

	svc, err := routing.NewRoutingService(
		routing.RoutingConfig{Admission: mode, Clock: d.Clock},
		d.ProviderRegistry,
		d.Dispatcher,
		d.Logger,
		metrics,
	)
	if err != nil {
		return err
	}
	d.Routing = svc
	return nil
}

func (d *Dependencies) initAuth(cfg *config.Config) {
	if !cfg.AuthEnabled() {
		d.Logger.Warn("AUTH_JWT_SECRET not set, API endpoints are unauthenticated")
		return
	}
	d.TokenIssuer = middleware.NewHMACValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	d.AuthMiddleware = middleware.NewAuthMiddleware(d.TokenIssuer, d.Logger)
	d.Logger.Info("auth middleware initialized")
}

func (d *Dependencies) initHandlers() {
	d.LookupHandler = handlers.NewLookupHandler(d.Routing, d.Logger)
	d.HealthHandler = handlers.NewHealthHandler(d.Routing, d.ProviderRegistry.Count(), d.Logger)
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies",
		zap.Uint64("requests_handled", d.Routing.RequestCount()))

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	return nil
}
