package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/harun/jobats/internal/config"
	"github.com/harun/jobats/internal/logger"
	"github.com/harun/jobats/internal/observability"
	"github.com/harun/jobats/internal/tracing"
	"github.com/harun/jobats/pkg/dispatcher"
	"github.com/harun/jobats/pkg/gateway"
	"github.com/harun/jobats/pkg/journal"
	"github.com/harun/jobats/pkg/provider"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 10 * time.Second

// Daemon represents the jobats daemon service
type Daemon struct {
	config *config.Config
	loader *config.Loader
	logger *logger.Logger
	log    zerolog.Logger

	// Core modules
	dispatcher *dispatcher.Dispatcher[int]
	providers  *provider.Registry
	journal    *journal.Store
	recorder   *journalRecorder

	// Services
	gatewayServer *gateway.Server
	scheduler     *cron.Cron
	pruneEntry    cron.EntryID
	watcher       *config.Watcher

	// Internal
	eventLoop *EventLoop
	lifecycle *LifecycleManager

	providerFactory provider.Factory

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithConfigLoader enables hot reload of the file the loader reads.
func WithConfigLoader(loader *config.Loader) Option {
	return func(d *Daemon) {
		d.loader = loader
	}
}

// WithProviderFactory replaces the function that builds provider clients.
func WithProviderFactory(factory provider.Factory) Option {
	return func(d *Daemon) {
		d.providerFactory = factory
	}
}

// Status is a point-in-time view of the daemon.
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
	Addr      string
	Queue     dispatcher.Status[int]
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger, opts ...Option) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config: cfg,
		logger: log,
		log:    log.Component("daemon"),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(d)
	}

	observability.EnsureRegistered()
	d.initAudit()

	if cfg.Tracing.Enabled {
		err := tracing.InitOpenTelemetry(tracing.Config{
			Enabled:     true,
			ServiceName: cfg.Tracing.ServiceName,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			d.log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			d.log.Info().Msg("Tracing initialized")
		}
	}

	if err := d.initializeCoreModules(); err != nil {
		d.teardown()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	if err := d.initializeServices(); err != nil {
		d.teardown()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.subscribeEvents()
	d.eventLoop = NewEventLoop(d)
	d.lifecycle = NewLifecycleManager(cfg.DataDir, d.log)

	return d, nil
}

func (d *Daemon) initAudit() {
	path := d.config.Logging.AuditFile
	if path == "" {
		if d.config.DataDir == "" {
			return
		}
		path = filepath.Join(d.config.DataDir, "audit.log")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		d.log.Warn().Err(err).Msg("Failed to create audit log directory, auditing to stderr")
		return
	}
	if err := observability.InitAuditLogger(path); err != nil {
		d.log.Warn().Err(err).Str("path", path).Msg("Failed to open audit log, auditing to stderr")
	}
}

func (d *Daemon) initializeCoreModules() error {
	cfg := d.config

	d.dispatcher = dispatcher.New[int](
		dispatcher.WithDefaultMaxRetries(cfg.Dispatcher.DefaultMaxRetries),
		dispatcher.WithRetryPolicy(retryPolicy(cfg)),
		dispatcher.WithLogger(d.logger.Component("dispatcher")),
	)

	d.providers = provider.NewRegistry(d.providerFactory)
	d.providers.Reload(providerProfiles(cfg), cfg.DefaultProfileID())

	if cfg.Journal.Enabled {
		path := cfg.Journal.Path
		if path == "" {
			path = filepath.Join(cfg.DataDir, "requests.db")
		}
		store, err := journal.Open(path, d.logger.Component("journal"))
		if err != nil {
			return fmt.Errorf("failed to open request journal: %w", err)
		}
		d.journal = store
		d.recorder = newJournalRecorder(store, d.logger.Component("journal"))
	}

	return nil
}

func (d *Daemon) initializeServices() error {
	cfg := d.config

	gwCfg := gateway.Config{
		Host:              cfg.Gateway.Host,
		Port:              cfg.Gateway.Port,
		SharedSecret:      cfg.Gateway.SharedSecret,
		RequestsPerMinute: cfg.Gateway.RequestsPerMinute,
		MaxConcurrent:     cfg.Gateway.MaxConcurrent,
		AllowedOrigins:    cfg.Gateway.AllowedOrigins,
		Dispatcher:        d.dispatcher,
		Providers:         d.providers,
		Defaults:          requestDefaults(cfg),
		Logger:            d.logger.Zerolog(),
	}
	if d.journal != nil {
		gwCfg.History = d.journal
	}

	server, err := gateway.NewServer(gwCfg)
	if err != nil {
		return fmt.Errorf("failed to create gateway server: %w", err)
	}
	d.gatewayServer = server

	cronLog := cronLogger{logger: d.logger.Component("scheduler")}
	d.scheduler = cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	return d.schedulePrune(cfg)
}

// subscribeEvents fans dispatcher lifecycle events out to gateway clients
// and the journal.
func (d *Daemon) subscribeEvents() {
	for _, eventType := range []string{
		dispatcher.EventEnqueued,
		dispatcher.EventStarted,
		dispatcher.EventRetrying,
		dispatcher.EventSettled,
	} {
		d.dispatcher.On(eventType, d.gatewayServer.BroadcastDispatcherEvent)
	}

	if d.recorder != nil {
		d.dispatcher.On(dispatcher.EventSettled, d.recorder.handle)
	}
}

// Start starts the daemon service
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	log := d.log.With().Str("trace_id", traceID).Logger()
	log.Info().Msg("Starting jobats daemon")

	if err := d.lifecycle.Start(); err != nil {
		d.setStopped()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if err := d.gatewayServer.Start(); err != nil {
		_ = d.lifecycle.Stop()
		d.setStopped()
		return fmt.Errorf("failed to start gateway server: %w", err)
	}
	log.Info().Str("addr", d.gatewayServer.Addr()).Msg("Gateway server started")

	d.scheduler.Start()

	if d.loader != nil {
		watcher, err := config.NewWatcher(d.loader, d.logger.Zerolog(), d.applyConfig)
		if err != nil {
			log.Warn().Err(err).Msg("Config hot reload disabled")
		} else {
			d.watcher = watcher
		}
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.eventLoop.Run(d.ctx)
	}()

	log.Info().
		Int("profiles", len(d.GetConfig().AI.Profiles)).
		Bool("journal", d.journal != nil).
		Msg("Jobats daemon started")

	return nil
}

// Stop stops the daemon service. In-flight requests are aborted and queued
// ones cancelled before the gateway closes its connections.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.mu.Unlock()

	d.log.Info().Msg("Stopping jobats daemon")

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			d.log.Error().Err(err).Msg("Failed to stop config watcher")
		}
	}

	<-d.scheduler.Stop().Done()

	d.cancel()

	if err := d.dispatcher.Close(); err != nil {
		d.log.Error().Err(err).Msg("Failed to close dispatcher")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	if err := d.gatewayServer.Stop(shutdownCtx); err != nil {
		d.log.Error().Err(err).Msg("Failed to stop gateway server")
	}
	cancel()

	d.wg.Wait()

	if err := d.lifecycle.Stop(); err != nil {
		d.log.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	d.teardown()
	d.setStopped()

	d.log.Info().Msg("Daemon stopped successfully")
	return nil
}

// teardown releases what New acquired.
func (d *Daemon) teardown() {
	d.cancel()

	if d.recorder != nil {
		d.recorder.close()
		d.recorder = nil
	}
	if d.journal != nil {
		if err := d.journal.Close(); err != nil {
			d.log.Error().Err(err).Msg("Failed to close request journal")
		}
		d.journal = nil
	}

	if d.tracingEnabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
			d.log.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}

	if err := observability.GetAuditLogger().Close(); err != nil {
		d.log.Error().Err(err).Msg("Failed to close audit logger")
	}
}

func (d *Daemon) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	status := Status{Running: d.running}
	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}
	d.mu.RUnlock()

	status.Addr = d.gatewayServer.Addr()
	status.Queue = d.dispatcher.Status()
	return status
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon.
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	d.log.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.log.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the active configuration.
func (d *Daemon) GetConfig() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// GetLogger returns the daemon logger.
func (d *Daemon) GetLogger() *logger.Logger {
	return d.logger
}

// GetDispatcher returns the request dispatcher.
func (d *Daemon) GetDispatcher() *dispatcher.Dispatcher[int] {
	return d.dispatcher
}

// GetGateway returns the gateway server.
func (d *Daemon) GetGateway() *gateway.Server {
	return d.gatewayServer
}

// GetProviders returns the provider registry.
func (d *Daemon) GetProviders() *provider.Registry {
	return d.providers
}

func retryPolicy(cfg *config.Config) dispatcher.RetryPolicy {
	p := dispatcher.DefaultRetryPolicy()
	if cfg.Dispatcher.BaseDelayMs > 0 {
		p.BaseDelay = time.Duration(cfg.Dispatcher.BaseDelayMs) * time.Millisecond
	}
	if cfg.Dispatcher.MaxDelayMs > 0 {
		p.MaxDelay = time.Duration(cfg.Dispatcher.MaxDelayMs) * time.Millisecond
	}
	return p
}

func providerProfiles(cfg *config.Config) []provider.Profile {
	profiles := make([]provider.Profile, 0, len(cfg.AI.Profiles))
	for _, p := range cfg.AI.Profiles {
		profiles = append(profiles, provider.Profile{
			ID:       p.ID,
			Provider: p.Provider,
			APIKey:   p.APIKey,
			Model:    p.Model,
			BaseURL:  p.BaseURL,
		})
	}
	return profiles
}

func requestDefaults(cfg *config.Config) gateway.RequestDefaults {
	return gateway.RequestDefaults{
		Temperature:  cfg.AI.Temperature,
		MaxTokens:    cfg.AI.MaxTokens,
		SystemPrompt: cfg.AI.SystemPrompt,
		WarnAfter:    time.Duration(cfg.Dispatcher.WarnAfterMs) * time.Millisecond,
	}
}
