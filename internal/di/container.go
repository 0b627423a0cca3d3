// Package di provides dependency injection for the Kamui CLI.
// It contains the service container and factory functions.
package di

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kamui-project/kamui-session/internal/api"
	"github.com/kamui-project/kamui-session/internal/auth"
	"github.com/kamui-project/kamui-session/internal/config"
	"github.com/kamui-project/kamui-session/internal/credstore"
	"github.com/kamui-project/kamui-session/internal/events"
	"github.com/kamui-project/kamui-session/internal/service"
	iface "github.com/kamui-project/kamui-session/internal/service/interface"
	"github.com/kamui-project/kamui-session/internal/session"
	"github.com/kamui-project/kamui-session/internal/session/metrics"
	"github.com/kamui-project/kamui-session/internal/telemetry"
)

var (
	_ session.CredentialStore = (*credstore.FileStore)(nil)
	_ session.CredentialStore = (*credstore.MemoryStore)(nil)
	_ session.MarkerStore     = (*config.Manager)(nil)
	_ session.LegacyImporter  = (*config.Manager)(nil)
	_ session.Publisher       = (*events.Bus)(nil)
	_ api.Authorizer          = (*session.Coordinator)(nil)
)

// Options controls how the container is built
type Options struct {
	// Verbose enables debug logging
	Verbose bool

	// LogOutput receives log lines. Defaults to stderr.
	LogOutput io.Writer

	// Version is reported as the service version on exported traces
	Version string
}

// Container holds all service dependencies for the CLI.
// Services are accessed via interfaces to enable mocking in tests.
type Container struct {
	configManager  *config.Manager
	logger         *slog.Logger
	registry       *prometheus.Registry
	coordinator    *session.Coordinator
	authService    iface.AuthService
	projectService iface.ProjectService
	shutdown       func(context.Context) error
}

// NewContainer creates a new dependency container with default implementations.
// Building the container runs the session's startup reconciliation.
func NewContainer(ctx context.Context, opts Options) (*Container, error) {
	configManager, err := config.NewManager()
	if err != nil {
		return nil, err
	}

	logger := newLogger(opts)

	apiURL, err := configManager.GetAPIURL()
	if err != nil {
		return nil, fmt.Errorf("failed to get API URL: %w", err)
	}

	credentialsDir, err := configManager.GetCredentialsDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get credentials directory: %w", err)
	}
	store, err := credstore.NewFileStore(credentialsDir)
	if err != nil {
		return nil, err
	}

	requireOnline, err := configManager.RequireOnlineValidation()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	authorizeOptions := session.DefaultAuthorizeOptions
	if requireOnline {
		authorizeOptions |= session.RequireOnlineValidation
	}

	shutdown, err := telemetry.Init(ctx, telemetry.ConfigFromEnv(opts.Version), logger)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	bus := events.NewBus()
	presenter := auth.TerminalPresenter()
	gateway := auth.NewGateway(apiURL, configManager, auth.WithGatewayLogger(logger))

	coordinator, err := session.New(ctx, store, gateway,
		session.WithMarkers(configManager),
		session.WithLegacyImporter(configManager),
		session.WithPublisher(bus),
		session.WithPresenter(presenter),
		session.WithLogger(logger),
		session.WithMetrics(metrics.New(registry)),
		session.WithAuthorizeOptions(authorizeOptions),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session: %w", err)
	}

	client, err := api.NewClient(apiURL, coordinator, api.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	bus.Subscribe(client.HandleEvent)

	return &Container{
		configManager:  configManager,
		logger:         logger,
		registry:       registry,
		coordinator:    coordinator,
		authService:    service.NewAuthService(coordinator, presenter),
		projectService: service.NewProjectService(client),
		shutdown:       shutdown,
	}, nil
}

// NewContainerWithServices creates a container with custom service implementations.
// This is useful for testing with mock services.
func NewContainerWithServices(
	authService iface.AuthService,
	projectService iface.ProjectService,
) *Container {
	return &Container{
		logger:         slog.New(slog.DiscardHandler),
		authService:    authService,
		projectService: projectService,
	}
}

func newLogger(opts Options) *slog.Logger {
	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}

// Close flushes telemetry. It is safe on test containers.
func (c *Container) Close(ctx context.Context) error {
	if c.shutdown == nil {
		return nil
	}
	return c.shutdown(ctx)
}

// AuthService returns the authentication service
func (c *Container) AuthService() iface.AuthService {
	return c.authService
}

// ProjectService returns the project service
func (c *Container) ProjectService() iface.ProjectService {
	return c.projectService
}

// ConfigManager returns the config manager
func (c *Container) ConfigManager() *config.Manager {
	return c.configManager
}

// Logger returns the CLI logger
func (c *Container) Logger() *slog.Logger {
	return c.logger
}

// Coordinator returns the session coordinator, or nil in test containers
func (c *Container) Coordinator() *session.Coordinator {
	return c.coordinator
}

// MetricsRegistry returns the registry holding session metrics, or nil in
// test containers
func (c *Container) MetricsRegistry() *prometheus.Registry {
	return c.registry
}
