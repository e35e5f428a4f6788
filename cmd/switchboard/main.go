// Switchboard - household device state service
//
// This is the main entry point. It serves the household HTTP API backed by
// the device store, and optionally mirrors state over MQTT and into InfluxDB.
//
// Usage:
//
//	switchboard                          run the service
//	switchboard hash-password <password> print an Argon2id hash for security.password_hash
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nerrad567/switchboard/internal/api"
	"github.com/nerrad567/switchboard/internal/auth"
	"github.com/nerrad567/switchboard/internal/bridges/controller"
	"github.com/nerrad567/switchboard/internal/device"
	"github.com/nerrad567/switchboard/internal/infrastructure/config"
	"github.com/nerrad567/switchboard/internal/infrastructure/database"
	"github.com/nerrad567/switchboard/internal/infrastructure/influxdb"
	"github.com/nerrad567/switchboard/internal/infrastructure/logging"
	"github.com/nerrad567/switchboard/internal/infrastructure/metrics"
	"github.com/nerrad567/switchboard/internal/infrastructure/mqtt"
	"github.com/nerrad567/switchboard/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// historyPruneInterval is how often expired state history is deleted.
const historyPruneInterval = time.Hour

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-password" {
		if err := hashPassword(os.Args[2:], os.Stdin, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It blocks until ctx is cancelled, then closes everything in reverse order.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Switchboard",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	st, err := openStorage(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing device store", "driver", cfg.Database.Driver)
		if closeErr := st.close(); closeErr != nil {
			log.Error("error closing device store", "error", closeErr)
		}
	}()
	log.Info("device store opened", "driver", cfg.Database.Driver, "path", st.path)

	registry := device.NewRegistry(st.store)
	registry.SetLogger(log.Component("device"))

	names := cfg.Devices.Registry
	if len(names) == 0 {
		names = device.DefaultNames()
	}
	if initErr := registry.Initialize(ctx, names); initErr != nil {
		return fmt.Errorf("initialising device registry: %w", initErr)
	}
	log.Info("device registry initialised", "devices", len(names))

	if st.history != nil {
		registry.AddObserver(st.history)
		if retention := cfg.GetHistoryRetention(); retention > 0 {
			go pruneHistoryLoop(ctx, st.history, retention, log)
		}
	}

	password, err := auth.NewChecker(cfg.Security.PasswordHash)
	if err != nil {
		return fmt.Errorf("loading password hash: %w", err)
	}
	if cfg.Security.PasswordHash == "" {
		log.Warn("security.password_hash is not set; POST /password will reject every attempt")
	}

	deps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Logger:   log.Component("api"),
		Registry: registry,
		Password: password,
		Metrics:  metrics.New(),
		DB:       st.db,
		Version:  version,
	}
	if st.history != nil {
		deps.History = st.history
	}

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
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

		bridge, bridgeErr := startControllerBridge(ctx, mqttClient, registry, log)
		if bridgeErr != nil {
			return fmt.Errorf("starting controller bridge: %w", bridgeErr)
		}
		defer func() {
			log.Info("stopping controller bridge")
			bridge.Stop()
		}()

		deps.MQTT = mqttClient
		deps.Bridge = bridge
	} else {
		log.Info("MQTT disabled")
	}

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
		registry.AddObserver(influxClient)
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, st, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal", "address", server.Addr())

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns SWITCHBOARD_CONFIG or the default path.
func getConfigPath() string {
	if path := os.Getenv("SWITCHBOARD_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// storage is the opened device store for the configured driver.
type storage struct {
	store device.Store
	path  string

	// Set for the sqlite driver only.
	db      *database.DB
	history *device.SQLiteHistory

	close func() error
}

func openStorage(ctx context.Context, cfg config.DatabaseConfig) (*storage, error) {
	switch cfg.Driver {
	case config.DriverBolt:
		timeout := time.Duration(cfg.BusyTimeout) * time.Second
		if timeout <= 0 {
			timeout = time.Second
		}
		bs, err := device.OpenBoltStore(cfg.Path, timeout)
		if err != nil {
			return nil, fmt.Errorf("opening bolt store: %w", err)
		}
		return &storage{store: bs, path: bs.Path(), close: bs.Close}, nil

	case config.DriverSQLite:
		db, err := database.Open(ctx, database.Config{
			Path:        cfg.Path,
			WALMode:     cfg.WALMode,
			BusyTimeout: cfg.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: opening database: %w", device.ErrStorageUnavailable, err)
		}
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			db.Close() //nolint:errcheck // Best effort cleanup on error path
			return nil, fmt.Errorf("%w: running migrations: %w", device.ErrStorageUnavailable, err)
		}
		return &storage{
			store:   device.NewSQLiteStore(db.DB),
			path:    db.Path(),
			db:      db,
			history: device.NewSQLiteHistory(db.DB),
			close:   db.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func startControllerBridge(ctx context.Context, client *mqtt.Client, registry *device.Registry, log *logging.Logger) (*controller.Bridge, error) {
	bridge, err := controller.NewBridge(controller.Options{
		MQTT:     client,
		Registry: registry,
		Topics:   client.Topics(),
		QoS:      client.QoS(),
		Logger:   log.Component("controller"),
	})
	if err != nil {
		return nil, err
	}
	registry.AddObserver(bridge)

	if err := bridge.Start(ctx); err != nil {
		bridge.Stop()
		return nil, err
	}
	return bridge, nil
}

// pruneHistoryLoop deletes history older than retention now and then hourly.
func pruneHistoryLoop(ctx context.Context, h *device.SQLiteHistory, retention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(historyPruneInterval)
	defer ticker.Stop()

	for {
		n, err := h.PruneHistory(ctx, retention)
		switch {
		case err != nil && !errors.Is(err, context.Canceled):
			log.Warn("state history prune failed", "error", err)
		case n > 0:
			log.Info("state history pruned", "deleted", n, "retention", retention.String())
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func healthCheck(ctx context.Context, st *storage, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if st.db != nil {
		if err := st.db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// hashPassword prints the Argon2id PHC string for the password given as the
// only argument, or read from the first line of in.
func hashPassword(args []string, in io.Reader, out io.Writer) error {
	var password string
	switch len(args) {
	case 0:
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("reading password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	case 1:
		password = args[0]
	default:
		return fmt.Errorf("usage: switchboard hash-password [password]")
	}
	if password == "" {
		return fmt.Errorf("password must not be empty")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, hash)
	return err
}
