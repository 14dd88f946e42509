package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"georisk/internal/alerts"
	"georisk/internal/api"
	"georisk/internal/config"
	"georisk/internal/engine"
	"georisk/internal/geofence"
	"georisk/internal/ingest"
	"georisk/internal/logging"
	"georisk/internal/model"
	"georisk/internal/notify"
	"georisk/internal/status"
	"georisk/internal/storage"
	"georisk/internal/zones"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "georisk.yaml", "path to the YAML or JSON config file")
	flag.Parse()

	if err := run(config.ResolvePath(*configPath)); err != nil {
		fmt.Fprintln(os.Stderr, "georisk:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	manager, err := loadManager(configPath)
	if err != nil {
		return err
	}
	cfg := manager.Get()
	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting georisk", "version", version, "config", manager.Path())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if store != nil {
		defer store.Close()
		if err := store.Init(ctx); err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		logger.Info("storage enabled", "driver", cfg.Storage.Driver)
	}

	var (
		client   *zones.Client
		source   zones.Source
		notifier = notify.Fanout{}
	)
	if cfg.Zones.URL != "" {
		client = zones.NewClient(cfg.Zones.URL, cfg.Zones.Timeout, cfg.Zones.UserAge, logger)
		source = client
		if err := client.Health(ctx); err != nil {
			logger.Warn("risk service health check failed", "url", cfg.Zones.URL, "error", err)
		}
	}
	provider := zones.NewProvider(source, zones.FilterFromConfig(cfg.Zones), cfg.Zones.RefreshInterval, logger)

	if cfg.Notify.Log {
		notifier = append(notifier, notify.NewLogNotifier(logger))
	}
	if cfg.Notify.Kafka.Enabled {
		kn := notify.NewKafkaNotifier(cfg.Notify.Kafka, logger)
		defer kn.Close()
		notifier = append(notifier, kn)
		logger.Info("kafka notifier enabled", "brokers", cfg.Notify.Kafka.Brokers, "topic", cfg.Notify.Kafka.Topic)
	}

	gate := notify.NewLevelGate(notify.ParseMinLevel(cfg.Notify.MinLevel), notifierOrNil(notifier))

	alertsStore := alerts.NewStore(cfg.Alerts.StoreLimit)
	statusStore := status.NewStore(cfg.Status.StoreLimit)
	hub := api.NewStatusHub(logger)

	eng := engine.NewEngine(cfg, logger, engine.Deps{
		Alerts:      alertsStore,
		Status:      statusStore,
		Store:       store,
		Zones:       provider,
		Notifier:    gate,
		Broadcaster: hub,
		Fallback:    fallbackZones(cfg.Zones, logger),
	})

	samples := make(chan model.PositionSample, cfg.Ingest.ChannelBuffer)
	eng.Start(ctx, samples)
	engine.NewPoller(eng).Start(ctx)

	ingest.StartREST(ctx, manager, samples, logger)
	ingest.StartTCPStream(ctx, manager, samples, logger)
	ingest.StartFileTail(ctx, manager, samples, logger)
	ingest.StartKafka(ctx, manager, samples, logger)

	apiDeps := api.Deps{
		Alerts: alertsStore,
		Status: statusStore,
		Store:  store,
		Engine: eng,
		Zones:  provider,
		Hub:    hub,
	}
	if client != nil {
		apiDeps.Predictor = client
	}
	api.Start(ctx, manager, apiDeps, logger, version)

	go manager.Watch(ctx, 3*time.Second, func(next *config.Config) {
		logger.Info("config reloaded", "path", manager.Path())
		eng.UpdateConfig(next)
		gate.SetMinLevel(notify.ParseMinLevel(next.Notify.MinLevel))
		eng.SetFallbackZones(fallbackZones(next.Zones, logger))
		provider.Invalidate()
	}, func(err error) {
		logger.Warn("config reload failed", "error", err)
	})

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// loadManager falls back to the built-in defaults when the config file does not exist.
func loadManager(path string) (*config.Manager, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.NewStaticManager(config.DefaultConfig()), nil
	}
	manager, err := config.NewManager(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return manager, nil
}

func fallbackZones(cfg config.ZonesConfig, logger *slog.Logger) []model.RiskZone {
	list, err := zones.FallbackZones(cfg.FallbackFile, cfg.DemoZones)
	if err != nil {
		logger.Error("fallback zones unavailable, using demo zones", "file", cfg.FallbackFile, "error", err)
		return zones.DemoZones()
	}
	return list
}

func notifierOrNil(f notify.Fanout) geofence.Notifier {
	if len(f) == 0 {
		return nil
	}
	return f
}
