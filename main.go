package main

import (
	"fmt"
	"os"

	"companion-agent/agent"
	"companion-agent/db"
	"companion-agent/events"
	"companion-agent/llm"
	"companion-agent/notify"
	"companion-agent/utils"
)

var (
	version = "0.1.0"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds everything a command needs, opened from one config file.
type app struct {
	config *utils.Config
	logger *utils.Logger
	store  *db.Store
	bus    *events.Bus
	svc    *agent.Service
}

// openApp loads configuration, then opens the logger, the store and the service.
func openApp(configPath string) (*app, error) {
	var err error
	if configPath == "" {
		// Ensure default config exists
		configPath, err = utils.EnsureDefaultConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}
	config, err := utils.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := utils.NewLogger(config.Log.Path, config.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Info("Starting companion-agent v%s (config=%s)", version, configPath)

	store, err := db.Open(config.Data.Driver, config.Data.Dir)
	if err != nil {
		logger.Close()
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	logger.Info("Store opened: %s (driver=%s)", config.Data.Dir, config.Data.Driver)

	var notifier notify.Notifier = notify.Nop{}
	if config.Notify.Enabled {
		notifier = notify.Desktop{}
	}

	bus := events.New()
	svc := agent.New(agent.Options{
		Store:       store,
		Logger:      logger,
		Bus:         bus,
		Notifier:    notifier,
		NewProvider: llm.NewProvider,
		TimeoutSecs: int(config.Provider.Timeout().Seconds()),
	})

	return &app{config: config, logger: logger, store: store, bus: bus, svc: svc}, nil
}

// Close stops background work and releases the store and log file.
func (a *app) Close() {
	a.svc.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Error("Failed to close store: %v", err)
	}
	a.logger.Info("Application stopped")
	a.logger.Close()
}
