package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"lv-tradecore/internal/types"
	"lv-tradecore/internal/validation"

	"github.com/shopspring/decimal"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	HTTPAddr          string
	StorageDriver     string
	DBDSN             string
	JWTIssuer         string
	JWTSecret         string
	JWTTTL            time.Duration
	InternalTokenHash string
	WebSocketOrigin   string

	QuoteAssetID         string
	MinOrderTier         types.Tier
	MaxOrderQuantity     decimal.Decimal
	MaxOrderPrice        decimal.Decimal
	MaxConflictRetries   int
	MatchSnapshotLimit   int
	AllowSelfMatch       bool
	CancelUnfilledMarket bool
	ExpiryInterval       time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	// Seed data for the memory driver, id=SYMBOL and user=tier pairs.
	MemoryAssets map[string]string
	MemoryTiers  map[string]types.Tier

	RateLimitPerSecond float64
	RateLimitBurst     float64
	LogLevel           slog.Level
	ShutdownTimeout    time.Duration
}

func Load() (Config, error) {
	var c Config
	var missing []string
	var errs []error

	c.HTTPAddr = os.Getenv("HTTP_ADDR")
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	c.StorageDriver = strings.ToLower(strings.TrimSpace(os.Getenv("STORAGE_DRIVER")))
	if c.StorageDriver == "" {
		c.StorageDriver = DriverPostgres
	}
	switch c.StorageDriver {
	case DriverPostgres:
		c.DBDSN = os.Getenv("DB_DSN")
		if c.DBDSN == "" {
			missing = append(missing, "DB_DSN")
		}
	case DriverMemory:
	default:
		errs = append(errs, errors.New("invalid STORAGE_DRIVER: use postgres or memory"))
	}
	c.JWTIssuer = os.Getenv("JWT_ISSUER")
	if c.JWTIssuer == "" {
		missing = append(missing, "JWT_ISSUER")
	}
	c.JWTSecret = os.Getenv("JWT_SECRET")
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	c.JWTTTL = duration("JWT_TTL", time.Hour, &errs)
	c.InternalTokenHash = os.Getenv("INTERNAL_API_TOKEN_HASH")
	if c.InternalTokenHash == "" {
		missing = append(missing, "INTERNAL_API_TOKEN_HASH")
	}
	c.WebSocketOrigin = os.Getenv("WS_ORIGIN")

	c.QuoteAssetID = strings.ToLower(strings.TrimSpace(os.Getenv("QUOTE_ASSET_ID")))
	if c.QuoteAssetID == "" {
		missing = append(missing, "QUOTE_ASSET_ID")
	}
	c.MinOrderTier = types.TierBasic
	if raw := strings.TrimSpace(os.Getenv("MIN_ORDER_TIER")); raw != "" {
		t, ok := types.ParseTier(raw)
		if !ok {
			errs = append(errs, fmt.Errorf("invalid MIN_ORDER_TIER %q", raw))
		}
		c.MinOrderTier = t
	}
	c.MaxOrderQuantity = boundEnv("MAX_ORDER_QUANTITY", &errs)
	c.MaxOrderPrice = boundEnv("MAX_ORDER_PRICE", &errs)
	c.MaxConflictRetries = integer("MAX_CONFLICT_RETRIES", 3, &errs)
	c.MatchSnapshotLimit = integer("MATCH_SNAPSHOT_LIMIT", 200, &errs)
	c.AllowSelfMatch = boolean("ALLOW_SELF_MATCH", false, &errs)
	switch policy := strings.ToLower(strings.TrimSpace(os.Getenv("UNFILLED_MARKET_POLICY"))); policy {
	case "", "rest":
	case "cancel":
		c.CancelUnfilledMarket = true
	default:
		errs = append(errs, fmt.Errorf("invalid UNFILLED_MARKET_POLICY %q: use rest or cancel", policy))
	}
	c.ExpiryInterval = duration("EXPIRY_INTERVAL", 30*time.Second, &errs)

	if raw := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); raw != "" {
		for _, b := range strings.Split(raw, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.KafkaBrokers = append(c.KafkaBrokers, b)
			}
		}
	}
	c.KafkaTopic = os.Getenv("KAFKA_TOPIC")
	if c.KafkaTopic == "" {
		c.KafkaTopic = "trade-executions"
	}

	if c.StorageDriver == DriverMemory {
		c.MemoryAssets = pairs("MEMORY_ASSETS", &errs)
		c.MemoryTiers = make(map[string]types.Tier)
		for user, raw := range pairs("MEMORY_TIERS", &errs) {
			t, ok := types.ParseTier(raw)
			if !ok {
				errs = append(errs, fmt.Errorf("invalid tier %q for %s in MEMORY_TIERS", raw, user))
				continue
			}
			c.MemoryTiers[user] = t
		}
	}

	c.RateLimitPerSecond = float64(integer("RATE_LIMIT_PER_SECOND", 10, &errs))
	c.RateLimitBurst = float64(integer("RATE_LIMIT_BURST", 30, &errs))
	if raw := strings.TrimSpace(os.Getenv("LOG_LEVEL")); raw != "" {
		if err := c.LogLevel.UnmarshalText([]byte(raw)); err != nil {
			errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q", raw))
		}
	}
	c.ShutdownTimeout = duration("SHUTDOWN_TIMEOUT", 15*time.Second, &errs)

	if len(missing) > 0 {
		errs = append([]error{errors.New("missing required env: " + strings.Join(missing, ","))}, errs...)
	}
	return c, errors.Join(errs...)
}

func duration(key string, def time.Duration, errs *[]error) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		*errs = append(*errs, fmt.Errorf("invalid %s %q", key, raw))
		return def
	}
	return d
}

func integer(key string, def int, errs *[]error) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		*errs = append(*errs, fmt.Errorf("invalid %s %q", key, raw))
		return def
	}
	return n
}

func boolean(key string, def bool, errs *[]error) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s %q", key, raw))
		return def
	}
	return b
}

// boundEnv returns zero when unset, leaving the validator's default. Values
// above validation.MaxBound are rejected.
func boundEnv(key string, errs *[]error) decimal.Decimal {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || !d.IsPositive() {
		*errs = append(*errs, fmt.Errorf("invalid %s %q", key, raw))
		return decimal.Zero
	}
	if d.GreaterThan(validation.MaxBound) {
		*errs = append(*errs, fmt.Errorf("invalid %s %q: must be at most %s", key, raw, validation.MaxBound))
		return decimal.Zero
	}
	return d
}

// pairs parses "k1=v1,k2=v2".
func pairs(key string, errs *[]error) map[string]string {
	out := make(map[string]string)
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return out
	}
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		k, v, ok := strings.Cut(item, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			*errs = append(*errs, fmt.Errorf("invalid %s entry %q", key, item))
			continue
		}
		out[k] = v
	}
	return out
}
