// Package config loads the settings shared by the worker, courier, server
// and starter binaries: defaults, then an optional YAML file, then SAGA_
// environment variables.
package config

import "time"

type Config struct {
	Temporal  TemporalConfig  `koanf:"temporal"`
	Log       LogConfig       `koanf:"log"`
	Ledger    LedgerConfig    `koanf:"ledger"`
	Queue     QueueConfig     `koanf:"queue"`
	Saga      SagaConfig      `koanf:"saga"`
	Courier   CourierConfig   `koanf:"courier"`
	Bridge    BridgeConfig    `koanf:"bridge"`
	Server    ServerConfig    `koanf:"server"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Seed      SeedConfig      `koanf:"seed"`
}

type TemporalConfig struct {
	Address   string `koanf:"address"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
	BuildID   string `koanf:"build_id"`
	// EncryptionKey is a hex AES key shared by every client of the task queue.
	EncryptionKey string `koanf:"encryption_key"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// LedgerConfig selects the store holding products and accounts.
type LedgerConfig struct {
	Backend     string `koanf:"backend"`
	RedisAddr   string `koanf:"redis_addr"`
	PostgresDSN string `koanf:"postgres_dsn"`
}

type QueueConfig struct {
	Backend       string   `koanf:"backend"`
	RedisAddr     string   `koanf:"redis_addr"`
	KafkaBrokers  []string `koanf:"kafka_brokers"`
	GroupID       string   `koanf:"group_id"`
	DispatchTopic string   `koanf:"dispatch_topic"`
	OutcomeTopic  string   `koanf:"outcome_topic"`
}

type SagaConfig struct {
	DispatchTimeout      time.Duration `koanf:"dispatch_timeout"`
	CompensationAttempts int           `koanf:"compensation_attempts"`
}

type CourierConfig struct {
	// Mode is "static" (always Address) or "http" (ask BaseURL).
	Mode    string        `koanf:"mode"`
	Address string        `koanf:"address"`
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout"`
	// Embedded runs the dispatcher inside the worker process.
	Embedded       bool                 `koanf:"embedded"`
	CircuitBreaker CircuitBreakerConfig `koanf:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	MaxFailures   int           `koanf:"max_failures"`
	Timeout       time.Duration `koanf:"timeout"`
	HalfOpenLimit int           `koanf:"half_open_limit"`
}

type BridgeConfig struct {
	Registry string        `koanf:"registry"`
	TokenTTL time.Duration `koanf:"token_ttl"`
}

type ServerConfig struct {
	Host         string        `koanf:"host"`
	Port         int           `koanf:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	IdleTimeout  time.Duration `koanf:"idle_timeout"`
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

// SeedConfig holds records loaded into the ledger at worker start.
type SeedConfig struct {
	Products []SeedProduct `koanf:"products"`
	Accounts []SeedAccount `koanf:"accounts"`
}

type SeedProduct struct {
	ID           string `koanf:"id"`
	AvailableQty int64  `koanf:"available_qty"`
	Price        int64  `koanf:"price"`
}

type SeedAccount struct {
	ID      string `koanf:"id"`
	Coupon  int64  `koanf:"coupon"`
	Deposit int64  `koanf:"deposit"`
}
