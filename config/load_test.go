package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost:7233", cfg.Temporal.Address)
	assert.Equal(t, "order-saga-queue", cfg.Temporal.TaskQueue)
	assert.Equal(t, "memory", cfg.Ledger.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Saga.DispatchTimeout)
	assert.Equal(t, 5, cfg.Saga.CompensationAttempts)
	assert.Equal(t, "courier mail address", cfg.Courier.Address)
	assert.True(t, cfg.Courier.Embedded)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Queue.KafkaBrokers)
	assert.Equal(t, 168*time.Hour, cfg.Bridge.TokenTTL)
}

func TestLoad_SampleFile(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "configs", "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "text", cfg.Log.Format)
	require.Len(t, cfg.Seed.Products, 1)
	assert.Equal(t, SeedProduct{ID: "P1", AvailableQty: 5, Price: 100}, cfg.Seed.Products[0])
	require.Len(t, cfg.Seed.Accounts, 1)
	assert.Equal(t, SeedAccount{ID: "U1", Coupon: 20, Deposit: 500}, cfg.Seed.Accounts[0])
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "ledger:\n  backend: memory\n")
	t.Setenv("SAGA_LEDGER_BACKEND", "redis")
	t.Setenv("SAGA_LEDGER_REDIS_ADDR", "redis:6379")
	t.Setenv("SAGA_SAGA_DISPATCH_TIMEOUT", "90s")
	t.Setenv("SAGA_QUEUE_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("SAGA_SERVER_PORT", "9090")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Ledger.Backend)
	assert.Equal(t, "redis:6379", cfg.Ledger.RedisAddr)
	assert.Equal(t, 90*time.Second, cfg.Saga.DispatchTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Queue.KafkaBrokers)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "unknown ledger backend",
			body:    "ledger:\n  backend: mongo\n",
			wantErr: "ledger.backend",
		},
		{
			name:    "postgres without dsn",
			body:    "ledger:\n  backend: postgres\n",
			wantErr: "ledger.postgres_dsn",
		},
		{
			name:    "same topics",
			body:    "queue:\n  dispatch_topic: t\n  outcome_topic: t\n",
			wantErr: "must differ",
		},
		{
			name:    "no compensation attempts",
			body:    "saga:\n  compensation_attempts: 0\n",
			wantErr: "saga.compensation_attempts",
		},
		{
			name:    "http courier without breaker",
			body:    "courier:\n  mode: http\n  circuit_breaker:\n    max_failures: 0\n",
			wantErr: "courier.circuit_breaker.max_failures",
		},
		{
			name:    "seed product without id",
			body:    "seed:\n  products:\n    - available_qty: 1\n",
			wantErr: "seed.products[0]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
