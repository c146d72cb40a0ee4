package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/altiplay/altiplay/internal/game/engine"
)

// Config is the node configuration: identity, coordinator status, transports
// and game tuning. Values come from the YAML file with environment
// overrides for deployment-specific settings.
type Config struct {
	Node struct {
		ID string `yaml:"id"`
		// Coordinator status is assigned explicitly per deployment
		// instance; at most one node may carry it.
		Coordinator bool `yaml:"coordinator"`
	} `yaml:"node"`

	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Storage struct {
		// Driver is "postgres" or "memory". Memory mode is for dev and
		// tests only: no history API, no audit journal, single node.
		Driver string `yaml:"driver"`
	} `yaml:"storage"`

	NATS struct {
		Enabled bool   `yaml:"enabled"`
		URL     string `yaml:"url"`
		Subject string `yaml:"subject"`
	} `yaml:"nats"`

	Auth struct {
		// Secret signs client tokens. Empty selects the guest
		// authenticator (dev only).
		Secret string `yaml:"secret"`
	} `yaml:"auth"`

	Game struct {
		WaitingDelayMs   int   `yaml:"waiting_delay_ms"`
		BettingWindowMs  int   `yaml:"betting_window_ms"`
		PreFlightDelayMs int   `yaml:"pre_flight_delay_ms"`
		CrashHoldMs      int   `yaml:"crash_hold_ms"`
		TickPeriodMs     int   `yaml:"tick_period_ms"`
		TickStep         int64 `yaml:"tick_step"`
		CrashMin         int64 `yaml:"crash_min"`
		CrashMax         int64 `yaml:"crash_max"`
	} `yaml:"game"`
}

func loadConfig(path string) (*Config, error) {
	var config Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// Environment overrides for deployment values.
	config.Node.ID = getEnv("NODE_ID", config.Node.ID)
	if config.Node.ID == "" {
		host, _ := os.Hostname()
		config.Node.ID = host
	}
	config.Node.Coordinator = getEnvAsBool("COORDINATOR", config.Node.Coordinator)
	config.Server.Port = getEnv("PORT", config.Server.Port)
	if config.Server.Port == "" {
		config.Server.Port = "8080"
	}
	config.Storage.Driver = getEnv("STORAGE_DRIVER", config.Storage.Driver)
	if config.Storage.Driver == "" {
		config.Storage.Driver = "postgres"
	}
	config.NATS.URL = getEnv("NATS_URL", config.NATS.URL)
	config.Auth.Secret = getEnv("AUTH_SECRET", config.Auth.Secret)

	return &config, nil
}

// gameConfig merges the YAML tuning over the stock round timing.
func (c *Config) gameConfig() engine.Config {
	cfg := engine.DefaultConfig()
	if c.Game.WaitingDelayMs > 0 {
		cfg.WaitingDelay = time.Duration(c.Game.WaitingDelayMs) * time.Millisecond
	}
	if c.Game.BettingWindowMs > 0 {
		cfg.BettingWindow = time.Duration(c.Game.BettingWindowMs) * time.Millisecond
	}
	if c.Game.PreFlightDelayMs > 0 {
		cfg.PreFlightDelay = time.Duration(c.Game.PreFlightDelayMs) * time.Millisecond
	}
	if c.Game.CrashHoldMs > 0 {
		cfg.CrashHold = time.Duration(c.Game.CrashHoldMs) * time.Millisecond
	}
	if c.Game.TickPeriodMs > 0 {
		cfg.TickPeriod = time.Duration(c.Game.TickPeriodMs) * time.Millisecond
	}
	if c.Game.TickStep > 0 {
		cfg.TickStep = c.Game.TickStep
	}
	if c.Game.CrashMin > 0 {
		cfg.CrashMin = c.Game.CrashMin
	}
	if c.Game.CrashMax > 0 {
		cfg.CrashMax = c.Game.CrashMax
	}
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
