package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config holds the complete Fraudasaurus configuration.
type Config struct {
	Server ServerConfig `json:"server"`

	// Edition determines which backing services are wired.
	Edition Edition `json:"edition"`

	// Thresholds parameterize every detector rule.
	Thresholds Thresholds `json:"thresholds"`

	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
}

// Edition represents the product edition.
type Edition string

const (
	// EditionCommunity runs on SQLite + channels + in-memory LRU.
	EditionCommunity Edition = "community"

	// EditionPro runs on PostgreSQL + NATS + Redis.
	EditionPro Edition = "pro"
)

// Thresholds holds every detector constant. Each field maps to one literal
// in the detection rules; changing a value never requires touching detector
// logic. Durations expressed in days use 24h multiples.
type Thresholds struct {
	// Structuring.
	ReportingThreshold   decimal.Decimal `json:"reportingThreshold"` // CTR threshold T
	RepeatAmountFloor    decimal.Decimal `json:"repeatAmountFloor"`  // lower bound of the repeat-amount band
	DailyAmountFloor     decimal.Decimal `json:"dailyAmountFloor"`   // lower bound of the daily-aggregation band
	RepeatMinCount       int             `json:"repeatMinCount"`     // repeats in RepeatWindow for HIGH
	RepeatWindow         time.Duration   `json:"repeatWindow"`
	RepeatEscalateCount  int             `json:"repeatEscalateCount"` // repeats in RepeatEscalateWindow for CRITICAL
	RepeatEscalateWindow time.Duration   `json:"repeatEscalateWindow"`
	WeeklySumMultiple    decimal.Decimal `json:"weeklySumMultiple"` // rolling weekly sum over T*multiple for CRITICAL

	// Account takeover.
	BurstWindow           time.Duration `json:"burstWindow"`
	BurstFailures         int           `json:"burstFailures"`
	SustainedWindow       time.Duration `json:"sustainedWindow"`
	SustainedMinAttempts  int           `json:"sustainedMinAttempts"`
	SustainedFailRate     float64       `json:"sustainedFailRate"`
	IPVelocityShortWindow time.Duration `json:"ipVelocityShortWindow"`
	IPVelocityShortCount  int           `json:"ipVelocityShortCount"`
	IPVelocityLongWindow  time.Duration `json:"ipVelocityLongWindow"`
	IPVelocityLongCount   int           `json:"ipVelocityLongCount"`
	PostLoginWindow       time.Duration `json:"postLoginWindow"`

	// Dormant abuse.
	DormancyHigh          time.Duration   `json:"dormancyHigh"`
	DormancyCritical      time.Duration   `json:"dormancyCritical"`
	DormantRecentWindow   time.Duration   `json:"dormantRecentWindow"`
	DormantCriticalVolume decimal.Decimal `json:"dormantCriticalVolume"`
	ReactivationQuiet     time.Duration   `json:"reactivationQuiet"`
	ReactivationWindow    time.Duration   `json:"reactivationWindow"`
	ReactivationCount     int             `json:"reactivationCount"`

	// Multi-identity.
	ClusterNameThreshold   int           `json:"clusterNameThreshold"` // distinct display names > this for HIGH
	ClusterSizeCritical    int           `json:"clusterSizeCritical"`  // cluster size > this for CRITICAL
	ClusterCreationCount   int           `json:"clusterCreationCount"` // identities created in window for HIGH
	ClusterCreationWindow  time.Duration `json:"clusterCreationWindow"`
	SharedIPWindow         time.Duration `json:"sharedIpWindow"`
	SelfDealingMatchWindow time.Duration `json:"selfDealingMatchWindow"`
}

const day = 24 * time.Hour

// DefaultThresholds returns the standard rule constants.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ReportingThreshold:   decimal.NewFromInt(10_000),
		RepeatAmountFloor:    decimal.NewFromInt(3_000),
		DailyAmountFloor:     decimal.NewFromInt(2_000),
		RepeatMinCount:       3,
		RepeatWindow:         7 * day,
		RepeatEscalateCount:  10,
		RepeatEscalateWindow: 30 * day,
		WeeklySumMultiple:    decimal.NewFromFloat(2.5),

		BurstWindow:           5 * time.Minute,
		BurstFailures:         5,
		SustainedWindow:       24 * time.Hour,
		SustainedMinAttempts:  5,
		SustainedFailRate:     0.5,
		IPVelocityShortWindow: 7 * day,
		IPVelocityShortCount:  3,
		IPVelocityLongWindow:  30 * day,
		IPVelocityLongCount:   10,
		PostLoginWindow:       60 * time.Minute,

		DormancyHigh:          365 * day,
		DormancyCritical:      5 * 365 * day,
		DormantRecentWindow:   90 * day,
		DormantCriticalVolume: decimal.NewFromInt(1_000),
		ReactivationQuiet:     182 * day,
		ReactivationWindow:    7 * day,
		ReactivationCount:     5,

		ClusterNameThreshold:   2,
		ClusterSizeCritical:    5,
		ClusterCreationCount:   3,
		ClusterCreationWindow:  365 * day,
		SharedIPWindow:         30 * time.Minute,
		SelfDealingMatchWindow: 72 * time.Hour,
	}
}

// DefaultConfig returns a default configuration for the Community edition.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Edition:    EditionCommunity,
		Thresholds: DefaultThresholds(),
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./fraudasaurus.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "fraudasaurus",
		},
	}
}

// ProConfig returns a configuration for the Pro edition.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Edition = EditionPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "fraudasaurus",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
