// Gray Logic Cover - Modbus cover bridge
//
// This is the main entry point for the cover bridge. It drives window covers
// (blinds, shutters, awnings) behind Modbus gateways and exposes them on the
// Gray Logic MQTT bus, over a local REST/WebSocket API and as Prometheus
// metrics.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/gray-logic-cover/migrations"

	"github.com/nerrad567/gray-logic-cover/internal/api"
	modbusbridge "github.com/nerrad567/gray-logic-cover/internal/bridges/modbus"
	"github.com/nerrad567/gray-logic-cover/internal/coverstore"
	"github.com/nerrad567/gray-logic-cover/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-cover/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-cover/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-cover/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-cover/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-cover/internal/infrastructure/modbus"
	"github.com/nerrad567/gray-logic-cover/internal/infrastructure/mqtt"
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
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // startup sequence: each step is linear
	log := logging.Default()
	log.Info("starting Gray Logic Cover",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath, "hubs", len(cfg.Hubs), "covers", len(cfg.Covers))

	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // best-effort log file close
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Database
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	store := coverstore.New(db.DB)

	// MQTT, with a last will marking the bridge offline
	lwt, err := modbusbridge.LWTPayload(cfg.Bridge.ID)
	if err != nil {
		return fmt.Errorf("building LWT payload: %w", err)
	}
	mqttClient, err := mqtt.Connect(cfg.MQTT, &mqtt.Will{
		Topic:    modbusbridge.HealthTopic(),
		Payload:  lwt,
		QoS:      1,
		Retained: true,
	})
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// InfluxDB (optional)
	var telemetry modbusbridge.Telemetry
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		telemetry = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Modbus hubs
	hubs, err := modbus.NewRegistry(cfg.Hubs, log)
	if err != nil {
		return fmt.Errorf("creating hub registry: %w", err)
	}
	defer func() {
		log.Info("closing Modbus hubs")
		if closeErr := hubs.Close(); closeErr != nil {
			log.Error("error closing Modbus hubs", "error", closeErr)
		}
	}()

	// Prometheus metrics (optional)
	var (
		bridgeMetrics modbusbridge.Metrics
		promMetrics   *metrics.Metrics
	)
	if cfg.Metrics.Enabled {
		promMetrics = metrics.New()
		hubs.SetObserver(promMetrics)
		bridgeMetrics = promMetrics
	}

	// Bridge
	bridge, err := modbusbridge.NewBridge(modbusbridge.BridgeOptions{
		Config:     cfg,
		Version:    version,
		MQTTClient: mqttClient,
		Resolver:   hubs,
		Store:      store,
		Telemetry:  telemetry,
		Metrics:    bridgeMetrics,
		Hubs:       hubStatusFunc(cfg, hubs),
		Logger:     log,
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	// API server (optional)
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:      cfg.API,
			WS:          cfg.WebSocket,
			Logger:      log,
			Covers:      bridge,
			History:     store,
			MQTT:        mqttClient,
			MetricsPath: cfg.Metrics.Path,
			Version:     version,
		}
		if promMetrics != nil {
			deps.Metrics = promMetrics.Handler()
		}
		server, srvErr := api.New(deps)
		if srvErr != nil {
			return fmt.Errorf("creating API server: %w", srvErr)
		}
		bridge.AddStateListener(server.BroadcastState)
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	if startErr := bridge.Start(ctx); startErr != nil {
		return fmt.Errorf("starting bridge: %w", startErr)
	}
	defer func() {
		log.Info("stopping bridge")
		bridge.Stop()
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	// Deferred calls run in reverse order: bridge, API, hubs, InfluxDB,
	// MQTT, database.
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// hubStatusFunc reports link counters for the health message.
func hubStatusFunc(cfg *config.Config, hubs *modbus.Registry) func() []modbusbridge.HubStatus {
	addresses := make(map[string]string, len(cfg.Hubs))
	for _, h := range cfg.Hubs {
		addresses[h.Name] = h.Address()
	}

	return func() []modbusbridge.HubStatus {
		all := hubs.Hubs()
		result := make([]modbusbridge.HubStatus, 0, len(all))
		for _, h := range all {
			stats := h.Stats()
			result = append(result, modbusbridge.HubStatus{
				Name:      h.Name(),
				Address:   addresses[h.Name()],
				Connected: h.IsConnected(),
				Reads:     stats.Reads,
				Writes:    stats.Writes,
				Errors:    stats.Errors,
			})
		}
		return result
	}
}

// healthCheck verifies the infrastructure connections.
//
// Parameters:
//   - influxClient: may be nil when InfluxDB is disabled
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// Hub links are not checked: covers wait for their hub in the acquirer.
	return nil
}
