// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/UltimaRobotics/ur-mavdiscovery/internal/broker"
	"github.com/UltimaRobotics/ur-mavdiscovery/internal/config"
	"github.com/UltimaRobotics/ur-mavdiscovery/internal/discovery"
	"github.com/UltimaRobotics/ur-mavdiscovery/internal/handler"
	"github.com/UltimaRobotics/ur-mavdiscovery/internal/handshake"
	"github.com/UltimaRobotics/ur-mavdiscovery/internal/identity"
	"github.com/UltimaRobotics/ur-mavdiscovery/internal/registry"
	"github.com/UltimaRobotics/ur-mavdiscovery/internal/routes"
	"github.com/UltimaRobotics/ur-mavdiscovery/internal/serial"
	"github.com/UltimaRobotics/ur-mavdiscovery/internal/supervisor"
	"github.com/UltimaRobotics/ur-mavdiscovery/internal/utils"
)

const eventBufferSize = 1000

// Application represents the main application
type Application struct {
	config *config.Config
	logger *zap.Logger
	server *http.Server

	bus        *serial.Bus
	registry   *registry.Registry
	templates  *discovery.Templates
	broker     *broker.Client
	supervisor *supervisor.Supervisor
	driver     *discovery.Driver
	watcher    *discovery.Watcher
	events     *handler.EventBus
	wsHandler  *handler.WebSocketHandler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	var configFile string

	cmd := &cobra.Command{
		Use:   "ur-discovery [templates.json base.json custom.json]",
		Short: "Discover MAVLink flight controllers on serial ports",
		Long: `ur-discovery watches the device directory for serial ports matching the
allowed templates, checks each one for a MAVLink autopilot and publishes the
identity of every flight controller it finds to the message bus.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 3 {
				return fmt.Errorf("expected 0 or 3 arguments, got %d", len(args))
			}
			return nil
		},
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile != "" {
				v.SetConfigFile(configFile)
			}
			if len(args) == 3 {
				v.Set("discovery.templates_file", args[0])
				v.Set("broker.base_config_file", args[1])
				v.Set("broker.custom_config_file", args[2])
			}

			app, err := NewApplication(v)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			return app.Start()
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configFile, "config", "c", "", "service config file (default ./config.yaml)")
	flags.String("templates", "", "device template file")
	flags.String("base", "", "message bus base config file")
	flags.String("custom", "", "message bus custom topics file")
	_ = v.BindPFlag("discovery.templates_file", flags.Lookup("templates"))
	_ = v.BindPFlag("broker.base_config_file", flags.Lookup("base"))
	_ = v.BindPFlag("broker.custom_config_file", flags.Lookup("custom"))

	return cmd
}

// NewApplication creates a new application instance
func NewApplication(v *viper.Viper) (_ *Application, err error) {
	// Load configuration
	cfg, err := config.Load(v)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize logger
	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceLogger := utils.NewServiceLogger(logger, cfg.App.Name)
	serviceLogger.LogServiceStart(cfg.App.Version, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	app := &Application{
		config: cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	defer func() {
		if err != nil {
			app.release()
		}
	}()

	if err := app.initializeBus(); err != nil {
		return nil, fmt.Errorf("failed to initialize serial bus: %w", err)
	}

	app.registry = registry.New(cfg.Discovery.MaxDevices, logger)

	if err := app.initializeBroker(); err != nil {
		return nil, fmt.Errorf("failed to initialize message bus: %w", err)
	}

	if err := app.initializeDiscovery(); err != nil {
		return nil, fmt.Errorf("failed to initialize discovery: %w", err)
	}

	if err := app.initializeServer(); err != nil {
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}

	return app, nil
}

// initializeBus opens the shared serial dispatcher. Nothing works without it.
func (app *Application) initializeBus() error {
	bus, err := serial.NewBus(app.logger,
		serial.WithSweepInterval(app.config.Serial.SweepInterval),
		serial.WithMaxPorts(app.config.Serial.MaxPorts),
	)
	if err != nil {
		return err
	}
	if err := bus.Start(); err != nil {
		return err
	}
	app.bus = bus
	return nil
}

// initializeBroker creates the message bus client and its supervisor
func (app *Application) initializeBroker() error {
	if !app.config.Broker.Enabled {
		app.logger.Warn("Message bus disabled, identities will not be published")
		return nil
	}

	base, err := config.LoadBrokerBase(app.config.Broker.BaseConfigFile)
	if err != nil {
		return err
	}

	opts := broker.DefaultOptions()
	opts.ConnectTimeout = app.config.Broker.ConnectTimeout
	opts.ReconnectWait = app.config.Broker.ReconnectWait

	app.broker = broker.NewClient(base, app.config.Broker.CustomConfigFile, opts, app.logger)
	app.supervisor = supervisor.New(app.broker, supervisor.Config{
		InitialDelay: app.config.Supervisor.InitialDelay,
		Interval:     app.config.Supervisor.Interval,
		Staleness:    app.config.Supervisor.Staleness,
	}, app.logger)

	app.logger.Info("Message bus client initialized",
		zap.String("process_id", base.ProcessID),
		zap.String("url", base.URL()),
	)
	return nil
}

// initializeDiscovery wires templates, scanner, driver and watcher
func (app *Application) initializeDiscovery() error {
	templates, err := discovery.LoadTemplates(app.config.Discovery.TemplatesFile, app.logger)
	if err != nil {
		return err
	}
	app.templates = templates

	hsConfig, err := handshakeConfig(app.config)
	if err != nil {
		return err
	}

	// A nil *broker.Client must not reach the workers as a non-nil interface.
	var publisher handshake.Publisher
	if app.broker != nil {
		publisher = app.broker
	}

	app.driver = discovery.NewDriver(discovery.DriverDeps{
		Bus:       app.bus,
		Registry:  app.registry,
		Publisher: publisher,
		Database:  identity.NewDeviceDatabase(),
		Scanner:   discovery.NewScanner(app.config.Discovery.DevDir, templates, app.logger),
	}, hsConfig, app.logger)

	app.events = handler.NewEventBus(eventBufferSize, app.logger)
	app.driver.AddListener(app.events.Publish)

	if app.config.Discovery.Watch {
		watcher, err := discovery.NewWatcher(app.config.Discovery.DevDir, templates, app.logger)
		if err != nil {
			return err
		}
		app.watcher = watcher
	}

	app.logger.Info("Discovery initialized",
		zap.String("dev_dir", app.config.Discovery.DevDir),
		zap.Strings("templates", templates.Patterns()),
		zap.Int("max_devices", app.config.Discovery.MaxDevices),
	)
	return nil
}

func handshakeConfig(cfg *config.Config) (handshake.Config, error) {
	parity, err := serial.ParseParity(cfg.Serial.Parity)
	if err != nil {
		return handshake.Config{}, err
	}

	hs := handshake.DefaultConfig()
	hs.HeartbeatInterval = cfg.Handshake.HeartbeatInterval
	hs.HeartbeatTimeout = cfg.Handshake.HeartbeatTimeout
	hs.VersionTimeout = cfg.Handshake.VersionTimeout
	hs.HeartbeatPoll = cfg.Handshake.HeartbeatPoll
	hs.VersionPoll = cfg.Handshake.VersionPoll
	hs.TargetSystem = cfg.Handshake.TargetSystem
	hs.TargetComponent = cfg.Handshake.TargetComponent
	hs.Line = serial.LineConfig{
		BaudRate: cfg.Serial.BaudRate,
		DataBits: cfg.Serial.DataBits,
		Parity:   parity,
		StopBits: cfg.Serial.StopBits,
	}
	return hs, nil
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() error {
	if !app.config.Server.Enabled {
		app.logger.Info("HTTP server disabled")
		return nil
	}

	healthDeps := handler.HealthDeps{
		Bus:     app.bus,
		Devices: app.registry,
	}
	if app.broker != nil {
		healthDeps.Broker = app.broker
		healthDeps.Supervisor = app.supervisor
	}

	app.wsHandler = handler.NewWebSocketHandler(app.driver, app.logger)
	app.events.Subscribe(app.wsHandler.BroadcastDeviceEvent)

	routerManager := routes.NewRouter(app.config, app.logger, routes.Handlers{
		Health:    handler.NewHealthHandler(healthDeps, app.config, app.logger),
		Device:    handler.NewDeviceHandler(app.driver, app.logger),
		Discovery: handler.NewDiscoveryHandler(app.driver, app.templates.Patterns(), app.logger),
		WebSocket: app.wsHandler,
	})

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      routerManager.SetupRouter(),
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized", zap.String("address", app.config.GetServerAddr()))
	return nil
}

// Start runs the application until a shutdown signal arrives
func (app *Application) Start() error {
	serveErr := make(chan error, 1)

	app.startBackgroundServices()

	if app.config.Discovery.InitialScan {
		started, err := app.driver.ScanExisting(app.ctx)
		if err != nil {
			utils.LogError(app.logger, "Initial device scan failed", err, zap.String("dev_dir", app.config.Discovery.DevDir))
		} else {
			app.logger.Info("Initial device scan completed", zap.Int("started", started))
		}
	}

	if app.server != nil {
		go func() {
			app.logger.Info("Starting HTTP server", zap.String("address", app.server.Addr))
			if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		app.logger.Warn("Failed to notify systemd", zap.Error(err))
	} else if ok {
		app.logger.Debug("Notified systemd of readiness")
	}

	err := app.waitForShutdown(serveErr)
	app.shutdown()
	return err
}

// startBackgroundServices launches the supervised and long-running goroutines
func (app *Application) startBackgroundServices() {
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.events.Start()
	}()

	if app.supervisor != nil {
		app.supervisor.Start(app.ctx)
	}

	if app.watcher != nil {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			app.watcher.Run(app.ctx, app.driver.HandleHotplug)
		}()
	}

	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			app.runWatchdog(interval / 2)
		}()
	}

	app.logger.Info("Background services started")
}

// runWatchdog pings the systemd watchdog while the serial bus is alive
func (app *Application) runWatchdog(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-app.ctx.Done():
			return
		case <-ticker.C:
			if app.bus.Started() {
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}
}

// waitForShutdown waits for a shutdown signal or a fatal server error
func (app *Application) waitForShutdown(serveErr <-chan error) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		return nil
	case err := <-serveErr:
		app.logger.Error("HTTP server failed", zap.Error(err))
		return err
	}
}

// shutdown performs graceful shutdown
func (app *Application) shutdown() {
	serviceLogger := utils.NewServiceLogger(app.logger, app.config.App.Name)
	serviceLogger.LogServiceStop("shutdown signal received")

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	app.release()

	if app.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := app.server.Shutdown(ctx); err != nil {
			app.logger.Error("HTTP server shutdown error", zap.Error(err))
		} else {
			app.logger.Info("HTTP server stopped")
		}
	}

	app.logger.Info("Application shutdown completed")

	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Fprintf(os.Stderr, "Logger close error: %v\n", err)
	}
}

// release stops every component that was initialized, in dependency order
func (app *Application) release() {
	app.cancel()

	if app.watcher != nil {
		if err := app.watcher.Close(); err != nil {
			app.logger.Warn("Failed to close device watcher", zap.Error(err))
		}
	}
	if app.driver != nil {
		app.driver.Stop()
	}
	if app.supervisor != nil {
		app.supervisor.Stop()
	}
	if app.bus != nil {
		if err := app.bus.Stop(); err != nil {
			app.logger.Error("Serial bus stop error", zap.Error(err))
		}
	}
	if app.events != nil {
		app.events.Stop()
	}
	if app.wsHandler != nil {
		app.wsHandler.Close()
	}

	app.wg.Wait()
}
