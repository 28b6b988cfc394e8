package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/chrissnell/meterexporter/internal/health"
	"github.com/chrissnell/meterexporter/internal/log"
	"github.com/chrissnell/meterexporter/internal/meter"
	"github.com/chrissnell/meterexporter/internal/metrics"
	"github.com/chrissnell/meterexporter/internal/server"
	"github.com/chrissnell/meterexporter/internal/validate"
	"github.com/chrissnell/meterexporter/pkg/config"
	"go.uber.org/zap"
)

// App represents the main application
type App struct {
	cfg    *config.ConfigData
	logger *zap.SugaredLogger

	engine  *validate.Engine
	metrics *metrics.Metrics
	health  *health.Manager
	driver  *meter.Driver
	server  *server.Server
}

// New prepares the configuration and builds every component. Nothing talks
// to the meter or the network until Run.
func New(cfg *config.ConfigData, logger *zap.SugaredLogger) (*App, error) {
	if err := config.Prepare(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &App{cfg: cfg, logger: logger}

	channels, err := cfg.EngineChannels()
	if err != nil {
		return nil, err
	}
	a.engine, err = validate.NewEngine(channels, cfg.Validation.SpikeParams())
	if err != nil {
		return nil, fmt.Errorf("could not build validation engine: %w", err)
	}

	gauges := make([]metrics.ChannelGauge, 0, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		gauges = append(gauges, metrics.ChannelGauge{Channel: ch.Name, Name: ch.Metric, Help: ch.Help})
	}
	a.metrics, err = metrics.New(gauges)
	if err != nil {
		return nil, fmt.Errorf("could not register metrics: %w", err)
	}

	a.health = health.NewManager()

	meterCfg, err := meter.ConfigFromData(cfg)
	if err != nil {
		return nil, err
	}
	a.driver, err = meter.New(meterCfg, a.engine, a.metrics, a.health, logger)
	if err != nil {
		return nil, fmt.Errorf("could not create meter driver: %w", err)
	}

	a.server = server.New(cfg.Server, cfg.Channels, a.engine, a.driver, a.health, a.metrics, logger)

	return a, nil
}

// Server returns the HTTP/gRPC server.
func (a *App) Server() *server.Server {
	return a.server
}

// Run starts the application and blocks until shutdown
func (a *App) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.server.Start(ctx, &wg); err != nil {
		return err
	}

	a.driver.Start(ctx, &wg)

	if a.cfg.Meter.SerialDevice != "" {
		log.Infof("polling %s on %s every %s", a.cfg.Meter.Name, a.cfg.Meter.SerialDevice, a.cfg.Meter.PollInterval)
	} else {
		log.Infof("polling %s at %s every %s", a.cfg.Meter.Name, a.cfg.Meter.Address(), a.cfg.Meter.PollInterval)
	}

	// Set up signal handling
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	select {
	case <-sigs:
		log.Info("shutdown signal received, initiating graceful shutdown...")
	case <-ctx.Done():
		log.Info("context cancelled, shutting down...")
	}

	cancel()

	log.Info("waiting for all workers to terminate...")
	wg.Wait()
	log.Info("shutdown complete")

	return nil
}
