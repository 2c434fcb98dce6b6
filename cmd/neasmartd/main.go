// neasmartd serves the register bank of a REHAU NEA SMART 2.0 heating
// controller to the field bus (Modbus TCP or RTU), an HTTP/WebSocket API
// and, optionally, MQTT and InfluxDB.
//
// Usage:
//
//	neasmartd                                  run the gateway
//	neasmartd token -subject ha -role operator issue an API bearer token
//
// The configuration file is read from NEASMART_CONFIG, default
// configs/config.yaml.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/neasmart-gateway/internal/addrmap"
	"github.com/nerrad567/neasmart-gateway/internal/api"
	"github.com/nerrad567/neasmart-gateway/internal/auth"
	"github.com/nerrad567/neasmart-gateway/internal/bridge"
	"github.com/nerrad567/neasmart-gateway/internal/fieldbus"
	"github.com/nerrad567/neasmart-gateway/internal/gateway"
	"github.com/nerrad567/neasmart-gateway/internal/infrastructure/config"
	"github.com/nerrad567/neasmart-gateway/internal/infrastructure/database"
	"github.com/nerrad567/neasmart-gateway/internal/infrastructure/influxdb"
	"github.com/nerrad567/neasmart-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/neasmart-gateway/internal/infrastructure/metrics"
	"github.com/nerrad567/neasmart-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/neasmart-gateway/internal/registers"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) > 0 && args[0] == "token" {
		return runToken(args[1:], stdout)
	}

	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting neasmartd",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	if err := addrmap.Validate(); err != nil {
		return fmt.Errorf("address map: %w", err)
	}

	recorder := metrics.New()

	// Open the register bank
	store, err := registers.OpenSQLite(ctx, database.Config{
		Path:        cfg.Registers.Path,
		WALMode:     cfg.Registers.WALMode,
		BusyTimeout: cfg.Registers.BusyTimeout,
		Synchronous: cfg.Registers.Synchronous,
	}, registers.WithLogger(log), registers.WithRecorder(recorder))
	if err != nil {
		return fmt.Errorf("opening register store: %w", err)
	}
	defer func() {
		log.Info("closing register store")
		if closeErr := store.Close(); closeErr != nil {
			log.Error("error closing register store", "error", closeErr)
		}
	}()
	log.Info("register store opened", "path", cfg.Registers.Path)

	gw, err := gateway.New(store)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	fieldbusServer, err := fieldbus.New(cfg.Modbus, store, log, recorder,
		fieldbus.WithIdentity(fieldbus.DefaultIdentity(version)))
	if err != nil {
		return fmt.Errorf("creating modbus server: %w", err)
	}

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, mqtt.WithLogger(log))
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", mqttClient.ClientID(),
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, influxdb.WithLogger(log))
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	deps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Metrics:  cfg.Metrics,
		Logger:   log,
		Gateway:  gw,
		Store:    store,
		Recorder: recorder,
		Version:  version,
	}
	if mqttClient != nil {
		deps.MQTT = mqttClient
	}
	if influxClient != nil {
		deps.InfluxDB = influxClient
	}
	apiServer, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	stateBridge, err := newBridge(cfg, gw, store, mqttClient, influxClient, recorder, log)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	// Front ends share one errgroup: the first to fail stops the rest.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serve(gctx, "modbus", fieldbusServer.Start, fieldbusServer.Close)
	})
	g.Go(func() error {
		return serve(gctx, "api", apiServer.Start, apiServer.Close)
	})
	if stateBridge != nil {
		g.Go(func() error {
			return serve(gctx, "bridge", stateBridge.Start, func() error {
				stateBridge.Stop()
				return nil
			})
		})
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	err = g.Wait()
	if err != nil {
		log.Error("front end failed", "error", err)
	}

	// Deferred Close() calls run in reverse order: InfluxDB, MQTT, store.
	log.Info("neasmartd stopped")
	return err
}

// serve starts one front end, blocks until ctx is done, then stops it.
func serve(ctx context.Context, name string, start func(context.Context) error, stop func() error) error {
	if err := start(ctx); err != nil {
		return fmt.Errorf("starting %s: %w", name, err)
	}
	<-ctx.Done()
	if err := stop(); err != nil {
		return fmt.Errorf("stopping %s: %w", name, err)
	}
	return nil
}

// newBridge wires the MQTT/InfluxDB publisher. It returns nil when neither
// sink is enabled.
func newBridge(cfg *config.Config, gw *gateway.Service, store *registers.Store, mqttClient *mqtt.Client,
	influxClient *influxdb.Client, recorder *metrics.Metrics, log *logging.Logger) (*bridge.Bridge, error) {
	if mqttClient == nil && influxClient == nil {
		return nil, nil
	}

	opts := bridge.Options{
		Config:   cfg.Bridge,
		QoS:      byte(cfg.MQTT.QoS), // #nosec G115 -- validated to 0..2
		Gateway:  gw,
		Changes:  store,
		Recorder: recorder,
		Logger:   log,
	}
	// Leave unset sinks as nil interfaces, not typed nils.
	if mqttClient != nil {
		opts.MQTT = mqttClient
	}
	if influxClient != nil {
		opts.Telemetry = influxClient
	}

	b, err := bridge.New(opts)
	if err != nil {
		return nil, err
	}
	if mqttClient != nil {
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected, republishing state")
			b.Resync()
		})
	}
	return b, nil
}

// runToken issues a bearer token signed with the configured JWT secret.
func runToken(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	subject := fs.String("subject", "", "token subject (required)")
	role := fs.String("role", string(auth.RoleViewer), "viewer or operator")
	ttl := fs.Duration("ttl", auth.DefaultTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("token: %w", err)
	}
	if *subject == "" {
		return errors.New("token: -subject is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Security.JWT.Secret == "" {
		return errors.New("token: security.jwt.secret is not configured")
	}

	token, err := auth.GenerateToken(*subject, auth.Role(*role), cfg.Security.JWT.Secret, cfg.Security.JWT.Issuer, *ttl)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	fmt.Fprintln(stdout, token)
	return nil
}

// getConfigPath returns the configuration file path.
// Uses NEASMART_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("NEASMART_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
