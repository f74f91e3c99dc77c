package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/m307-core/internal/bridges/m307"
	"github.com/nerrad567/m307-core/internal/infrastructure/database"
	"github.com/nerrad567/m307-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/m307-core/internal/infrastructure/logging"
	"github.com/nerrad567/m307-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/m307-core/internal/recordstore"
	"github.com/nerrad567/m307-core/migrations"
)

func newBridgeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "bridge",
		Short: "Run the MQTT bridge service until interrupted",
		Long: `Run the MQTT bridge service.

The bridge polls the device status, publishes it retained on
m307/state/{device}, reports health on m307/health/{device} and accepts
read_status, sync_clock, drain_log and backup_records commands on
m307/command/{device}. Status and log entries are written to InfluxDB
when influxdb.enabled is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBridge(cmd.Context(), a)
		},
	}
}

// runBridge wires the infrastructure and runs the bridge until ctx ends.
//
// Parameters:
//   - ctx: Context cancelled on shutdown signals
//   - a: Application state with configuration and logger loaded
//
// Returns:
//   - error: nil on clean shutdown, or error describing the startup failure
func runBridge(ctx context.Context, a *app) error {
	cfg := a.cfg
	log := a.log
	if cfg.Device.Host == "" {
		return fmt.Errorf("%w: device host is required (--host or device.host)", m307.ErrValidation)
	}
	// The bridge logs at the configured level even without a config file.
	if a.configPath == "" && !a.verbose {
		cfg.Logging.Level = "info"
		log = logging.NewWithWriter(cfg.Logging, version, a.errOut)
	}
	log.Info("starting M307 bridge",
		"version", version,
		"commit", commit,
		"device", cfg.Device.ID,
		"address", cfg.Device.Address(),
	)

	// Open database
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Connect to MQTT broker with the offline health message as will
	lwt, err := m307.LWTPayload(cfg.Device.ID)
	if err != nil {
		return fmt.Errorf("building LWT payload: %w", err)
	}
	mqttClient, err := mqtt.Connect(cfg.MQTT, mqtt.WithWill(m307.HealthTopic(cfg.Device.ID), lwt))
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

	// Connect to InfluxDB (optional)
	var telemetry m307.Telemetry
	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(cfg.InfluxDB)
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
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled, drain_log will be rejected")
	}

	bridge, err := m307.NewBridge(m307.BridgeOptions{
		Config:     cfg.BridgeConfig(log),
		Version:    version,
		MQTTClient: &mqttBridgeAdapter{client: mqttClient},
		Telemetry:  telemetry,
		Store:      recordstore.NewSQLiteRepository(db.DB),
		Logger:     log,
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	log.Info("bridge started, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, stopping bridge")
	bridge.Stop()
	log.Info("M307 bridge stopped")
	return nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The difference is the Subscribe handler signature:
//   - Infrastructure mqtt: func(topic, payload []byte) error
//   - Bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements m307.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements m307.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements m307.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// Disconnect implements m307.MQTTClient.
// The client is closed by runBridge's defer chain, so this is a no-op.
func (a *mqttBridgeAdapter) Disconnect(_ uint) {}
