package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/park-link/pkg/config"
	"github.com/park-link/pkg/logging"
	"github.com/park-link/pkg/metrics"
	"github.com/park-link/pkg/probe"
	"github.com/park-link/pkg/redirect"
	"github.com/park-link/pkg/relay"
	"github.com/park-link/pkg/session"
	"github.com/park-link/pkg/trust"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/alecthomas/kingpin.v2"
)

var (
	configFile    = kingpin.Flag("config.file", "Path to configuration file.").Default("config.yaml").String()
	listenAddress = kingpin.Flag("web.listen-address", "Address to listen on for web interface and telemetry.").Default(":9090").String()
	telemetryPath = kingpin.Flag("web.telemetry-path", "Path under which to expose metrics.").Default("/metrics").String()
	connectAddr   = kingpin.Flag("connect", "Server address to connect to (host or host:port).").String()
	username      = kingpin.Flag("username", "Account name to authenticate with after connecting.").String()
	password      = kingpin.Flag("password", "Account password for --username.").String()

	// Global config
	appConfig *config.Config
)

func main() {
	kingpin.Parse()

	// Load configuration
	var err error
	appConfig, err = config.LoadConfig(*configFile)
	if err != nil {
		// If config file doesn't exist, continue with defaults
		logging.Logf("Warning: Failed to load config file: %v, using defaults", err)
		appConfig = &config.Config{}
		appConfig.SetDefaults()
		appConfig.ApplyEnvOverrides()
	}

	clientID := logging.GetClientID()
	logging.Logf("Client initialized with ID: %s", clientID)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logging.Log("Received shutdown signal, shutting down gracefully...")
		cancel()
	}()

	if err := run(ctx); err != nil {
		logging.Fatalf("Client error: %v", err)
	}
	logging.Flush()
}

func run(ctx context.Context) error {
	// Assemble the redirection components
	store := trust.NewStore(appConfig.Trust.StorePath)
	prober := probe.New(appConfig)
	installer := redirect.NewHostsInstaller(
		appConfig.Redirect.HostsFile,
		appConfig.Redirect.VendorHost,
		appConfig.Redirect.RelayBindIP,
	)
	lock := redirect.NewLock(appConfig.Redirect.LockFile)
	localRelay := relay.New(appConfig.Redirect.RelayBindIP, appConfig.Redirect.VendorPort, appConfig.Probe.SkipTLSVerify)
	engine := redirect.NewEngine(installer, localRelay, lock)

	collector := metrics.NewCollector(
		func() string { return string(engine.Current().State) },
		func() int { return store.Len() },
	)
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)

	coordinator := session.New(appConfig, prober, store, engine, collector)
	if err := coordinator.Start(); err != nil {
		return err
	}

	// Log progress notifications for the user
	events := coordinator.Subscribe()
	defer coordinator.Unsubscribe(events)
	go func() {
		for event := range events {
			logging.Logf("[%s] %s", event.Stage, event.Message)
		}
	}()

	// Get metrics config from command line or config file
	metricsPath := *telemetryPath
	metricsAddr := *listenAddress
	if appConfig.Redirect.TelemetryPath != "" {
		metricsPath = appConfig.Redirect.TelemetryPath
	}
	if appConfig.Redirect.ListenAddress != "" {
		metricsAddr = appConfig.Redirect.ListenAddress
	}

	// Start metrics server
	go func() {
		if err := metrics.StartMetricsServer(registry, metricsAddr, metricsPath); err != nil {
			logging.Logf("Metrics server error: %v", err)
		}
	}()

	// Connect if a target was given on the command line
	if *connectAddr != "" {
		record, err := coordinator.Connect(ctx, *connectAddr)
		if err != nil {
			return err
		}
		logging.Logf("Connected to %s (%s, protocol v%d)", record.Endpoint, record.DisplayName, record.ProtocolVersion)

		if *username != "" {
			if err := coordinator.Authenticate(ctx, *username, *password); err != nil {
				logging.Logf("Warning: authentication failed: %v", err)
			}
		}
	}

	// Block until shutdown, then restore the host state
	<-ctx.Done()
	if err := coordinator.Disconnect(); err != nil {
		logging.Logf("Warning: failed to restore redirect on shutdown: %v", err)
		return err
	}
	return nil
}
