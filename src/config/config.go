package config

import (
	"fmt"
	"os"
	"strings"

	"telemetry-backbone/src/models"

	"gopkg.in/yaml.v3"
)

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// NewConfig creates a new Config instance from YAML file
func NewConfig(configPath string) (*Config, error) {
	// 1. Read the YAML file content
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	return Parse(data)
}

// -----------------------------------------------------------------------------

// Parse builds a validated Config from raw YAML.
func Parse(data []byte) (*Config, error) {
	var modelConfig models.MConfig
	if err := yaml.Unmarshal(data, &modelConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
	}

	config := &Config{MConfig: &modelConfig}
	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// -----------------------------------------------------------------------------

// Default returns a config populated only with defaults.
func Default() *Config {
	c := &Config{MConfig: &models.MConfig{Name: "telemetry-backbone", Host: "127.0.0.1", Port: 8000}}
	c.ApplyDefaults()
	return c
}

// -----------------------------------------------------------------------------

// ApplyDefaults fills zero values with the documented defaults.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "INFO"
	}
	if c.GrpcHost == "" {
		c.GrpcHost = c.Host
	}

	s := &c.Storage
	if s.DBType == "" {
		s.DBType = "sqlite"
	}
	if s.DBType == "sqlite" && s.DBPath == "" {
		s.DBPath = "telemetry.db"
	}
	if s.Schema == "" {
		s.Schema = "telemetry"
	}
	setDefault(&s.RetentionDays, 7)
	setDefault(&s.BatchSize, 500)
	setDefault(&s.FlushIntervalMs, 2000)
	setDefault(&s.MaxBufferedRecords, 50000)

	setDefault(&c.Network.RequestTimeout, 5)
	if c.Network.UserAgent == "" {
		c.Network.UserAgent = "telemetry-backbone/1.0"
	}

	co := &c.Coordinator
	setDefault(&co.PollIntervalMs, 100)
	setDefault(&co.SnapshotTimeoutMs, 50)
	setDefault(&co.StopGraceMs, 5000)
	setDefault(&co.CleanupIntervalMinutes, 60)

	ws := &c.WebSocket
	setDefault(&ws.MaxConnections, 100)
	setDefault(&ws.QueueSize, 1000)
	setDefault(&ws.HeartbeatIntervalSeconds, 15)
	setDefault(&ws.LivenessTimeoutSeconds, 30)
	setDefault(&ws.SendTimeoutMs, 2000)
	setDefault(&ws.UpdateFrequencyHz, 10)

	md := &c.Collectors.MarketData
	setDefault(&md.TickIntervalMs, 250)
	setDefault(&md.HistorySize, 600)

	setDefault(&c.Collectors.System.SampleIntervalMs, 5000)
	if c.Collectors.System.DiskPath == "" {
		c.Collectors.System.DiskPath = "/"
	}

	bridgeDefaults(&c.Collectors.Execution.Bridge)
	bridgeDefaults(&c.Collectors.System.Bridge)
}

func bridgeDefaults(b *models.MBridgeConfig) {
	setDefault(&b.ScrapeIntervalMs, 5000)
	setDefault(&b.TimeoutMs, 2000)
}

func setDefault(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG", "INFO", "WARNING", "ERROR":
	default:
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	if c.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Port <= 1024 || c.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d (must be between 1025 and 65535)", c.Port)
	}
	if c.GrpcPort != 0 && (c.GrpcPort <= 1024 || c.GrpcPort > 65535) {
		return fmt.Errorf("invalid grpc port number: %d", c.GrpcPort)
	}

	// Validate Storage configuration
	switch c.Storage.DBType {
	case "sqlite":
		if c.Storage.DBPath == "" {
			return fmt.Errorf("database path cannot be empty for sqlite")
		}
	case "postgres":
		if c.Storage.DBConnectionString == "" {
			return fmt.Errorf("database connection string cannot be empty for postgres")
		}
	case "none":
	default:
		return fmt.Errorf("unsupported database type: %s", c.Storage.DBType)
	}

	if c.Network.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}

	if c.Coordinator.SnapshotTimeoutMs >= c.Coordinator.PollIntervalMs {
		return fmt.Errorf("snapshot timeout (%dms) must be shorter than poll interval (%dms)",
			c.Coordinator.SnapshotTimeoutMs, c.Coordinator.PollIntervalMs)
	}

	if c.WebSocket.LivenessTimeoutSeconds < c.WebSocket.HeartbeatIntervalSeconds {
		return fmt.Errorf("liveness timeout must not be shorter than heartbeat interval")
	}

	cols := c.Collectors
	if !cols.MarketData.Enabled && !cols.Strategy.Enabled && !cols.Execution.Enabled && !cols.System.Enabled {
		return fmt.Errorf("at least one collector must be enabled")
	}
	if cols.MarketData.Enabled && len(cols.MarketData.Symbols) == 0 {
		return fmt.Errorf("market_data collector must have at least one symbol")
	}

	for name, b := range map[string]models.MBridgeConfig{"execution": cols.Execution.Bridge, "system": cols.System.Bridge} {
		for i, ep := range b.Endpoints {
			if ep.URL == "" {
				return fmt.Errorf("%s bridge endpoint %d must have a url", name, i)
			}
		}
		if b.Required && !b.Enabled() {
			return fmt.Errorf("%s bridge is required but has no endpoints", name)
		}
	}

	return nil
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	// 1. Marshal the struct to YAML
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// 2. Write to file (0644 permissions)
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}

	return nil
}
