package config

import (
	"log/slog"
	"testing"
	"time"

	"lv-tradecore/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DB_DSN", "postgres://localhost/tradecore")
	t.Setenv("JWT_ISSUER", "tradecore")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("INTERNAL_API_TOKEN_HASH", "$2a$10$abcdefghijklmnopqrstuv")
	t.Setenv("QUOTE_ASSET_ID", "9E8D7C6B-5A4F-4E3D-8C2B-1A0F9E8D7C6B")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", c.HTTPAddr)
	assert.Equal(t, DriverPostgres, c.StorageDriver)
	assert.Equal(t, time.Hour, c.JWTTTL)
	assert.Equal(t, "9e8d7c6b-5a4f-4e3d-8c2b-1a0f9e8d7c6b", c.QuoteAssetID)
	assert.Equal(t, types.TierBasic, c.MinOrderTier)
	assert.True(t, c.MaxOrderQuantity.IsZero())
	assert.Equal(t, 3, c.MaxConflictRetries)
	assert.Equal(t, 200, c.MatchSnapshotLimit)
	assert.False(t, c.AllowSelfMatch)
	assert.False(t, c.CancelUnfilledMarket)
	assert.Equal(t, 30*time.Second, c.ExpiryInterval)
	assert.Empty(t, c.KafkaBrokers)
	assert.Equal(t, "trade-executions", c.KafkaTopic)
	assert.Equal(t, slog.LevelInfo, c.LogLevel)
	assert.Equal(t, 15*time.Second, c.ShutdownTimeout)
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("STORAGE_DRIVER", "Memory")
	t.Setenv("MIN_ORDER_TIER", "pro")
	t.Setenv("MAX_ORDER_QUANTITY", "5000")
	t.Setenv("ALLOW_SELF_MATCH", "true")
	t.Setenv("UNFILLED_MARKET_POLICY", "cancel")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("MAX_CONFLICT_RETRIES", "5")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, c.StorageDriver)
	assert.Equal(t, types.TierPro, c.MinOrderTier)
	assert.Equal(t, "5000", c.MaxOrderQuantity.String())
	assert.True(t, c.AllowSelfMatch)
	assert.True(t, c.CancelUnfilledMarket)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.KafkaBrokers)
	assert.Equal(t, slog.LevelDebug, c.LogLevel)
	assert.Equal(t, 5, c.MaxConflictRetries)
}

func TestLoad_MemoryDriverNeedsNoDSN(t *testing.T) {
	setRequired(t)
	t.Setenv("DB_DSN", "")
	t.Setenv("STORAGE_DRIVER", "memory")
	_, err := Load()
	assert.NoError(t, err)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name, key, value, want string
	}{
		{"missing secret", "JWT_SECRET", "", "missing required env: JWT_SECRET"},
		{"missing dsn", "DB_DSN", "", "DB_DSN"},
		{"bad driver", "STORAGE_DRIVER", "sqlite", "invalid STORAGE_DRIVER"},
		{"bad tier", "MIN_ORDER_TIER", "gold", "invalid MIN_ORDER_TIER"},
		{"bad retries", "MAX_CONFLICT_RETRIES", "0", "invalid MAX_CONFLICT_RETRIES"},
		{"bad bool", "ALLOW_SELF_MATCH", "maybe", "invalid ALLOW_SELF_MATCH"},
		{"bad policy", "UNFILLED_MARKET_POLICY", "drop", "invalid UNFILLED_MARKET_POLICY"},
		{"bad duration", "EXPIRY_INTERVAL", "soon", "invalid EXPIRY_INTERVAL"},
		{"bad decimal", "MAX_ORDER_PRICE", "-1", "invalid MAX_ORDER_PRICE"},
		{"price above bound", "MAX_ORDER_PRICE", "1000000.01", "must be at most 1000000"},
		{"quantity above bound", "MAX_ORDER_QUANTITY", "5000000", "must be at most 1000000"},
		{"bad level", "LOG_LEVEL", "loud", "invalid LOG_LEVEL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MemorySeed(t *testing.T) {
	setRequired(t)
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("MEMORY_ASSETS", "a1=ACME, a2=USD")
	t.Setenv("MEMORY_TIERS", "alice=pro,bob=basic")
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a1": "ACME", "a2": "USD"}, c.MemoryAssets)
	assert.Equal(t, types.TierPro, c.MemoryTiers["alice"])

	t.Setenv("MEMORY_TIERS", "carol=platinum")
	_, err = Load()
	assert.ErrorContains(t, err, "MEMORY_TIERS")
}
