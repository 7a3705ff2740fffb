package models

// MConfig Structure
type MConfig struct {
	Name        string             `yaml:"name"`
	Host        string             `yaml:"host"`
	Port        int                `yaml:"port"`
	LogLevel    string             `yaml:"log_level"`
	GrpcHost    string             `yaml:"grpc_host"`
	GrpcPort    int                `yaml:"grpc_port"`
	Storage     MStorageConfig     `yaml:"storage"`
	Network     MNetworkConfig     `yaml:"network"`
	Coordinator MCoordinatorConfig `yaml:"coordinator"`
	WebSocket   MWebSocketConfig   `yaml:"websocket"`
	Collectors  MCollectorsConfig  `yaml:"collectors"`
}

type MStorageConfig struct {
	DBType             string `yaml:"db_type"`
	DBPath             string `yaml:"db_path"`
	DBConnectionString string `yaml:"db_connection_string"`
	Schema             string `yaml:"schema"` // postgres only
	RetentionDays      int    `yaml:"retention_days"`
	BatchSize          int    `yaml:"batch_size"`
	FlushIntervalMs    int    `yaml:"flush_interval_ms"`
	MaxBufferedRecords int    `yaml:"max_buffered_records"`
}

type MNetworkConfig struct {
	RequestTimeout int    `yaml:"timeout"` // seconds
	MaxRetries     int    `yaml:"retries"`
	UserAgent      string `yaml:"user_agent"`
}

type MCoordinatorConfig struct {
	PollIntervalMs         int `yaml:"poll_interval_ms"`
	SnapshotTimeoutMs      int `yaml:"snapshot_timeout_ms"`
	StopGraceMs            int `yaml:"stop_grace_ms"`
	CleanupIntervalMinutes int `yaml:"cleanup_interval_minutes"`
}

type MWebSocketConfig struct {
	MaxConnections           int `yaml:"max_connections"`
	QueueSize                int `yaml:"queue_size"`
	HeartbeatIntervalSeconds int `yaml:"heartbeat_interval_seconds"`
	LivenessTimeoutSeconds   int `yaml:"liveness_timeout_seconds"`
	SendTimeoutMs            int `yaml:"send_timeout_ms"`
	UpdateFrequencyHz        int `yaml:"update_frequency_hz"`
}

type MCollectorsConfig struct {
	MarketData MMarketDataConfig `yaml:"market_data"`
	Strategy   MStrategyConfig   `yaml:"strategy"`
	Execution  MExecutionConfig  `yaml:"execution"`
	System     MSystemConfig     `yaml:"system"`
}

type MMarketDataConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Symbols        []string `yaml:"symbols"`
	TickIntervalMs int      `yaml:"tick_interval_ms"`
	HistorySize    int      `yaml:"history_size"`
	Simulate       bool     `yaml:"simulate"`
	Seed           int64    `yaml:"seed"`
}

type MStrategyConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Strategies []string `yaml:"strategies"`
}

type MExecutionConfig struct {
	Enabled bool          `yaml:"enabled"`
	Venues  []string      `yaml:"venues"`
	Bridge  MBridgeConfig `yaml:"bridge"`
}

type MSystemConfig struct {
	Enabled          bool          `yaml:"enabled"`
	SampleIntervalMs int           `yaml:"sample_interval_ms"`
	DiskPath         string        `yaml:"disk_path"`
	Bridge           MBridgeConfig `yaml:"bridge"`
}

// MBridgeConfig attaches scrape endpoints to a collector.
type MBridgeConfig struct {
	Endpoints        []MEndpointConfig `yaml:"endpoints"`
	ScrapeIntervalMs int               `yaml:"scrape_interval_ms"`
	TimeoutMs        int               `yaml:"timeout_ms"`
	Required         bool              `yaml:"required"`
	FallbackLocal    bool              `yaml:"fallback_local"`
}

type MEndpointConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Enabled reports whether any endpoint is configured.
func (b MBridgeConfig) Enabled() bool {
	return len(b.Endpoints) > 0
}
